package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/wricardo/wsnexus/config"
	"github.com/wricardo/wsnexus/nexus/awaitable"
	"github.com/wricardo/wsnexus/relay/protocol"
)

const (
	// APIVersion is the protocol version this library speaks.
	APIVersion = protocol.APIVersion

	DefaultCloseReason = "You closed your connection"
	DefaultCloseCode   = websocket.CloseNormalClosure

	writeWait        = 10 * time.Second
	closeGracePeriod = time.Second
)

// DefaultURL points at a relay running with default settings on this machine.
var DefaultURL = "ws://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(config.DefaultPort))

var (
	ErrWrongRole        = errors.New("operation not allowed in the current role")
	ErrDead             = errors.New("connection is dead")
	ErrClosed           = errors.New("connection closed")
	ErrNoSuchHost       = errors.New("cannot connect to host")
	ErrConnectionFailed = errors.New("server connection failed")
)

// Option configures a Nexus.
type Option func(*Nexus)

// WithLogger sets the entry diagnostics are written to.
func WithLogger(entry *log.Entry) Option {
	return func(n *Nexus) { n.log = entry }
}

// WithIgnoreWarnings silences the warnings for events and states nobody listens to.
func WithIgnoreWarnings() Option {
	return func(n *Nexus) { n.ignoreWarnings = true }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(n *Nexus) { n.dialer = d }
}

// WithAPIVersion overrides the version compared against the server's SERVER_INFO.
func WithAPIVersion(v string) Option {
	return func(n *Nexus) { n.apiVersion = v }
}

// Nexus is one connection to a relay. It starts as a User and turns into a
// Host or a Client; the operations available depend on the current role.
type Nexus struct {
	url            string
	log            *log.Entry
	dialer         *websocket.Dialer
	apiVersion     string
	ignoreWarnings bool
	cancel         context.CancelFunc

	mu        sync.Mutex
	role      role
	ws        *websocket.Conn
	closed    bool
	closeInfo *CloseInfo
	pending   []func(error)

	writeMu sync.Mutex

	whenServerConnected *awaitable.State[struct{}]
	whenHosting         *awaitable.State[protocol.Fields]
	whenJoined          *awaitable.State[protocol.Fields]
	whenJoinedOrHosting *awaitable.State[protocol.Fields]
	whenClosed          *awaitable.State[CloseInfo]

	onMessage    *awaitable.Event[Message]
	onNewClient  *awaitable.Event[NewClient]
	onLostClient *awaitable.Event[int]
	onClose      *awaitable.Event[CloseInfo]
	onList       *awaitable.Event[[]protocol.Fields]
	onServerInfo *awaitable.Event[protocol.ServerInfo]
	onUpdate     *awaitable.Event[protocol.Fields]
}

// New connects to the relay at url in the background and returns the
// connection in the User role. An empty url means DefaultURL.
func New(url string, opts ...Option) *Nexus {
	n := newNexus(url, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.run(ctx)
	return n
}

func newNexus(url string, opts ...Option) *Nexus {
	if url == "" {
		url = DefaultURL
	}
	n := &Nexus{
		url:        url,
		dialer:     websocket.DefaultDialer,
		apiVersion: APIVersion,
		role:       userRole{},
		cancel:     func() {},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = log.WithField("server", url)
	}

	n.whenServerConnected = awaitable.NewState(
		missed[struct{}](n, ".whenServerConnected.then"),
		missed[error](n, ".whenServerConnected.onError"),
	)
	n.whenHosting = awaitable.NewState(
		missed[protocol.Fields](n, ".whenHosting.then"),
		missed[error](n, ".whenHosting.onError"),
	)
	n.whenJoined = n.newJoinedState()
	n.whenJoinedOrHosting = awaitable.NewState[protocol.Fields](nil, nil)
	n.whenClosed = awaitable.NewState[CloseInfo](nil, nil)

	n.onMessage = awaitable.NewEvent(missed[Message](n, ".onMessage.then"))
	n.onNewClient = awaitable.NewEvent(missed[NewClient](n, "<Host>.onNewClient.then"))
	n.onLostClient = awaitable.NewEvent(missed[int](n, "<Host>.onLostClient.then"))
	n.onClose = awaitable.NewEvent(missed[CloseInfo](n, ".onClose.then"))
	n.onList = awaitable.NewEvent(missed[[]protocol.Fields](n, ".onList.then"))
	n.onServerInfo = awaitable.NewEvent(missed[protocol.ServerInfo](n, ".onServerInfo.then"))
	n.onUpdate = awaitable.NewEvent[protocol.Fields](nil)

	n.onServerInfo.On(n.checkVersion)
	return n
}

func (n *Nexus) newJoinedState() *awaitable.State[protocol.Fields] {
	return awaitable.NewState(
		missed[protocol.Fields](n, ".whenJoined.then"),
		missed[error](n, ".whenJoined.onError"),
	)
}

func missed[T any](n *Nexus, name string) func(T) {
	return func(v T) {
		if n.ignoreWarnings {
			return
		}
		n.log.Warnf("unhandled awaitable event %q: %v", name, v)
	}
}

func (n *Nexus) run(ctx context.Context) {
	ws, _, err := n.dialer.DialContext(ctx, n.url, nil)
	if err != nil {
		n.connectFailed(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		return
	}

	n.mu.Lock()
	n.ws = ws
	n.mu.Unlock()
	n.log.Debug("connected")
	n.whenServerConnected.Succeed(struct{}{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			n.finish(closeInfoFrom(err))
			return
		}
		n.log.Tracef("server frame: %s", data)
		n.dispatch(data)
	}
}

func closeInfoFrom(err error) CloseInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: ce.Code, Reason: ce.Text}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

func (n *Nexus) dispatch(data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		n.log.Warnf("unreadable server frame: %s", err)
		return
	}

	n.mu.Lock()
	r := n.role
	n.mu.Unlock()

	if r.handle(n, m) {
		return
	}
	switch v := m.(type) {
	case *protocol.List:
		n.onList.Trigger(v.Payload)
	case *protocol.ServerInfo:
		n.onServerInfo.Trigger(*v)
	default:
		n.log.Debugf("unhandled server message %s in role %s", m.MessageType(), r.kind())
	}
}

// connectFailed handles a dial that never produced a socket.
func (n *Nexus) connectFailed(err error) {
	n.mu.Lock()
	n.closed = true
	n.become(deadRole{})
	info := CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	if n.closeInfo != nil {
		info = *n.closeInfo
	}
	n.mu.Unlock()

	n.log.Debug(err)
	n.whenServerConnected.Fail(err)
	n.failPending(err)
	n.whenClosed.Succeed(info)
	n.onClose.Trigger(info)
}

// finish handles the end of an established socket. A role that had not
// settled becomes Dead.
func (n *Nexus) finish(info CloseInfo) {
	n.mu.Lock()
	n.closed = true
	if n.closeInfo != nil {
		info = *n.closeInfo
	}
	if !n.role.settled() {
		n.become(deadRole{})
	}
	ws := n.ws
	n.mu.Unlock()

	_ = ws.Close()
	n.log.Debugf("closed: %d %s", info.Code, info.Reason)
	n.failPending(ErrClosed)
	n.whenClosed.Succeed(info)
	n.onClose.Trigger(info)
}

func (n *Nexus) failPending(err error) {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, fail := range pending {
		fail(err)
	}
}

// become installs the next role. Callers hold n.mu.
func (n *Nexus) become(next role) {
	if n.role.kind() != next.kind() {
		n.log.Debugf("role %s -> %s", n.role.kind(), next.kind())
	}
	n.role = next
}

// expect checks the current role. Callers hold n.mu.
func (n *Nexus) expect(kinds ...Role) error {
	current := n.role.kind()
	if current == RoleDead {
		return ErrDead
	}
	if n.closed {
		return ErrClosed
	}
	for _, k := range kinds {
		if current == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongRole, current)
}

func (n *Nexus) write(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return n.writeRaw(data)
}

func (n *Nexus) writeRaw(data []byte) error {
	n.mu.Lock()
	ws, closed := n.ws, n.closed
	n.mu.Unlock()
	if ws == nil || closed {
		return ErrClosed
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// sendWhen writes m once s has succeeded.
func sendWhen[T any](n *Nexus, s *awaitable.State[T], m protocol.Message) {
	s.Then(func(T) {
		if err := n.write(m); err != nil {
			n.log.Debugf("send %s: %s", m.MessageType(), err)
		}
	})
}

// Host registers this connection as a session described by d. The returned
// State succeeds with the public descriptor the relay assigned.
func (n *Nexus) Host(d Descriptor) (*awaitable.State[protocol.Fields], error) {
	n.mu.Lock()
	if err := n.expect(RoleUser); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	n.become(&hostRole{})
	n.pending = append(n.pending, func(err error) { n.whenHosting.Fail(err) })
	n.mu.Unlock()

	n.dieOnConnectFailure()
	sendWhen(n, n.whenServerConnected, protocol.NewRequest(protocol.TypeHost, d.fields()))
	return n.whenHosting, nil
}

// Join joins the first session matching d. The returned State succeeds with
// the host's public descriptor. When nothing matches it fails with
// ErrNoSuchHost and the connection is a User again.
func (n *Nexus) Join(d Descriptor) (*awaitable.State[protocol.Fields], error) {
	joined, err := n.becomeClient(false)
	if err != nil {
		return nil, err
	}

	n.dieOnConnectFailure()
	sendWhen(n, n.whenServerConnected, protocol.NewRequest(protocol.TypeJoin, d.fields()))
	return joined, nil
}

// JoinOrHost joins the first session matching d, or hosts d when nothing
// matches. The returned State succeeds with the descriptor of the session
// joined or hosted.
func (n *Nexus) JoinOrHost(d Descriptor) (*awaitable.State[protocol.Fields], error) {
	joined, err := n.becomeClient(true)
	if err != nil {
		return nil, err
	}

	either := n.whenJoinedOrHosting
	joined.Then(func(host protocol.Fields) { either.Succeed(host) })
	// hosting takes over on failure
	joined.OnError(func(error) {})
	n.whenHosting.Then(func(public protocol.Fields) { either.Succeed(public) })

	n.mu.Lock()
	n.pending = append(n.pending,
		func(err error) { n.whenHosting.Fail(err) },
		func(err error) { either.Fail(err) },
	)
	n.mu.Unlock()

	n.dieOnConnectFailure()
	sendWhen(n, n.whenServerConnected, protocol.NewRequest(protocol.TypeJoinOrHost, d.fields()))
	return either, nil
}

func (n *Nexus) becomeClient(orHost bool) (*awaitable.State[protocol.Fields], error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.expect(RoleUser); err != nil {
		return nil, err
	}
	joined := n.newJoinedState()
	n.whenJoined = joined
	n.become(&clientRole{orHost: orHost})
	n.pending = append(n.pending, func(err error) { joined.Fail(err) })
	return joined, nil
}

// dieOnConnectFailure turns the connection Dead if the relay is never reached.
func (n *Nexus) dieOnConnectFailure() {
	n.whenServerConnected.OnError(func(error) {
		n.mu.Lock()
		n.become(deadRole{})
		n.mu.Unlock()
	})
}

// Send relays message. A host sends to every client, or only to clientIDs
// when given; a client sends to its host. Messages wait for the host or join
// acknowledgement.
func (n *Nexus) Send(message any, clientIDs ...int) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	n.mu.Lock()
	if err := n.expect(RoleHost, RoleClient); err != nil {
		n.mu.Unlock()
		return err
	}
	kind, joined := n.role.kind(), n.whenJoined
	n.mu.Unlock()

	if kind == RoleHost {
		sendWhen(n, n.whenHosting, protocol.NewSend(data, clientIDs...))
		return nil
	}
	if len(clientIDs) > 0 {
		return fmt.Errorf("%w: clients can only send to their host", ErrWrongRole)
	}
	joined.Then(func(protocol.Fields) {
		if err := n.writeRaw(data); err != nil {
			n.log.Debugf("send to host: %s", err)
		}
	})
	return nil
}

// Update merges d into the public descriptor of the hosted session. The
// returned event fires with the new descriptor.
func (n *Nexus) Update(d Descriptor) (*awaitable.Event[protocol.Fields], error) {
	n.mu.Lock()
	err := n.expect(RoleHost)
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sendWhen(n, n.whenHosting, protocol.NewRequest(protocol.TypeUpdate, d.fields()))
	return n.onUpdate, nil
}

// GetHosts asks for the public descriptors of every hosted session. The
// answer arrives on the returned event.
func (n *Nexus) GetHosts() (*awaitable.Event[[]protocol.Fields], error) {
	n.mu.Lock()
	err := n.expect(RoleUser, RoleHost)
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sendWhen(n, n.whenServerConnected, protocol.NewRequest(protocol.TypeList, nil))
	return n.onList, nil
}

// ListHosts is GetHosts waiting for its answer.
func (n *Nexus) ListHosts(ctx context.Context) ([]protocol.Fields, error) {
	ch := make(chan []protocol.Fields, 1)
	remove := n.onList.Once(func(hosts []protocol.Fields) {
		select {
		case ch <- hosts:
		default:
		}
	})
	defer remove()

	if _, err := n.GetHosts(); err != nil {
		return nil, err
	}

	select {
	case hosts := <-ch:
		return hosts, nil
	case <-n.whenClosed.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection with reason and code; the zero values mean
// DefaultCloseReason and DefaultCloseCode. OnClose reports the same reason
// and code.
func (n *Nexus) Close(reason string, code int) *awaitable.Event[CloseInfo] {
	if reason == "" {
		reason = DefaultCloseReason
	}
	if code == 0 {
		code = DefaultCloseCode
	}

	n.mu.Lock()
	if n.closed || n.closeInfo != nil {
		n.mu.Unlock()
		return n.onClose
	}
	n.closeInfo = &CloseInfo{Code: code, Reason: reason}
	dialing := n.ws == nil
	n.mu.Unlock()

	n.onClose.Once(func(CloseInfo) {})
	n.whenServerConnected.Then(func(struct{}) { n.writeClose(code, reason) })
	if dialing {
		n.cancel()
	}
	return n.onClose
}

func (n *Nexus) writeClose(code int, reason string) {
	n.mu.Lock()
	ws := n.ws
	n.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		n.log.Debugf("write close: %s", err)
		_ = ws.Close()
		return
	}
	// the read loop ends when the relay answers, or when this fires
	time.AfterFunc(closeGracePeriod, func() { _ = ws.Close() })
}

// Role returns the current role.
func (n *Nexus) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role.kind()
}

// URL returns the relay address.
func (n *Nexus) URL() string { return n.url }

// ClientIDs returns the ids of the clients joined to the hosted session, in
// join order. It is nil unless the connection is a Host.
func (n *Nexus) ClientIDs() []int {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.role.(*hostRole)
	if !ok {
		return nil
	}
	return append([]int{}, h.clientIDs...)
}

// PublicData returns the public descriptor of the hosted session.
func (n *Nexus) PublicData() protocol.Fields {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.role.(*hostRole)
	if !ok {
		return nil
	}
	return h.public.Clone()
}

// JoinedHost returns the public descriptor of the joined session.
func (n *Nexus) JoinedHost() protocol.Fields {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.role.(*clientRole)
	if !ok {
		return nil
	}
	return c.host.Clone()
}

func (n *Nexus) WhenServerConnected() *awaitable.State[struct{}]        { return n.whenServerConnected }
func (n *Nexus) WhenHosting() *awaitable.State[protocol.Fields]         { return n.whenHosting }
func (n *Nexus) WhenJoinedOrHosting() *awaitable.State[protocol.Fields] { return n.whenJoinedOrHosting }
func (n *Nexus) WhenClosed() *awaitable.State[CloseInfo]                { return n.whenClosed }

// WhenJoined returns the state of the latest join.
func (n *Nexus) WhenJoined() *awaitable.State[protocol.Fields] {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.whenJoined
}

func (n *Nexus) OnMessage() *awaitable.Event[Message]                { return n.onMessage }
func (n *Nexus) OnNewClient() *awaitable.Event[NewClient]            { return n.onNewClient }
func (n *Nexus) OnLostClient() *awaitable.Event[int]                 { return n.onLostClient }
func (n *Nexus) OnClose() *awaitable.Event[CloseInfo]                { return n.onClose }
func (n *Nexus) OnList() *awaitable.Event[[]protocol.Fields]         { return n.onList }
func (n *Nexus) OnServerInfo() *awaitable.Event[protocol.ServerInfo] { return n.onServerInfo }
func (n *Nexus) OnUpdate() *awaitable.Event[protocol.Fields]         { return n.onUpdate }
