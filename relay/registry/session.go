package registry

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/wricardo/wsnexus/relay/protocol"
)

// Session is one hosting peer and the clients that joined it
type Session struct {
	id     int
	socket Socket

	mu           sync.RWMutex
	public       protocol.Fields
	clients      *orderedmap.OrderedMap[int, *ClientHandle]
	nextClientID int
	closed       bool
}

// ClientHandle is a joined peer. Its id only means something inside its session.
type ClientHandle struct {
	id      int
	socket  Socket
	session *Session
}

// Info is a point-in-time view of a session
type Info struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Public    protocol.Fields `json:"publicData"`
	ClientIDs []int           `json:"clientIDs"`
}

func (s *Session) ID() int        { return s.id }
func (s *Session) Socket() Socket { return s.socket }

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.public.Name()
}

// Public returns a copy of the public descriptor
func (s *Session) Public() protocol.Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.public.Clone()
}

// Update merges fields into the public descriptor. The id cannot change.
func (s *Session) Update(fields protocol.Fields) protocol.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range fields {
		if k == "id" || k == "type" {
			continue
		}
		s.public[k] = v
	}
	return s.public.Clone()
}

// AddClient appends a client with the next client id
func (s *Session) AddClient(sock Socket) (*ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	h := &ClientHandle{id: s.nextClientID, socket: sock, session: s}
	s.nextClientID++
	s.clients.Set(h.id, h)
	return h, nil
}

// RemoveClient drops h from the roster. It reports false if h was already gone.
func (s *Session) RemoveClient(h *ClientHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.clients.Get(h.id)
	if !ok || current != h {
		return false
	}
	s.clients.Delete(h.id)
	return true
}

// Client looks up a live client by id
func (s *Session) Client(id int) (*ClientHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients.Get(id)
}

// Clients returns the roster in join order
func (s *Session) Clients() []*ClientHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ClientHandle, 0, s.clients.Len())
	for pair := s.clients.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ClientIDs returns the ids of the roster in join order
func (s *Session) ClientIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int, 0, s.clients.Len())
	for pair := s.clients.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients.Len()
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, s.clients.Len())
	for pair := s.clients.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return Info{
		ID:        s.id,
		Name:      s.public.Name(),
		Public:    s.public.Clone(),
		ClientIDs: ids,
	}
}

// accepts reports whether criteria select this session and it has room for one more client.
// Criteria keys the descriptor lacks are ignored.
func (s *Session) accepts(criteria protocol.Fields) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, want := range criteria {
		if k == "type" {
			continue
		}
		have, ok := s.public[k]
		if !ok {
			continue
		}
		if !protocol.ValueEqual(have, want) {
			return false
		}
	}

	if limit, ok := s.public.MaxClients(); ok && s.clients.Len() >= limit {
		return false
	}
	return true
}

func (h *ClientHandle) ID() int           { return h.id }
func (h *ClientHandle) Socket() Socket    { return h.socket }
func (h *ClientHandle) Session() *Session { return h.session }
