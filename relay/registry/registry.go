package registry

import (
	"errors"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wricardo/wsnexus/relay/protocol"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is no longer registered")
)

// Socket is the transport end of a host or client. The registry only stores it.
type Socket interface {
	ID() string
	Send(m protocol.Message) error
	Close(code int, reason string) error
}

// Registry holds the live hosting sessions in registration order
type Registry struct {
	mu         sync.RWMutex
	sessions   *orderedmap.OrderedMap[int, *Session]
	nextHostID int
}

// New creates an empty registry. Host ids start at 1.
func New() *Registry {
	return &Registry{
		sessions:   orderedmap.New[int, *Session](),
		nextHostID: 1,
	}
}

// Register creates a session for sock advertising descriptor and appends it
func (r *Registry) Register(sock Socket, descriptor protocol.Fields) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextHostID
	r.nextHostID++

	public := descriptor.Without("type")
	public["id"] = id
	public["name"] = descriptor.Name()

	s := &Session{
		id:           id,
		socket:       sock,
		public:       public,
		clients:      orderedmap.New[int, *ClientHandle](),
		nextClientID: 1,
	}
	r.sessions.Set(id, s)
	return s
}

// Deregister removes the session. It reports false if it was already gone.
func (r *Registry) Deregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions.Get(s.id)
	if !ok || current != s {
		return false
	}
	r.sessions.Delete(s.id)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return true
}

// Contains reports whether s is still registered
func (r *Registry) Contains(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.sessions.Get(s.id)
	return ok && current == s
}

// FindHost returns the first session, in registration order, whose public descriptor
// agrees with every criteria key it also has and that still has room for a client.
func (r *Registry) FindHost(criteria protocol.Fields) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.accepts(criteria) {
			return pair.Value
		}
	}
	return nil
}

// ListPublic returns the public descriptors of all sessions in registration order
func (r *Registry) ListPublic() []protocol.Fields {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Fields, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Public())
	}
	return out
}

// Get looks up a session by host id
func (r *Registry) Get(id int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Describe returns a snapshot of a session for status reporting
func (r *Registry) Describe(id int) (Info, error) {
	s, err := r.Get(id)
	if err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions.Len()
}
