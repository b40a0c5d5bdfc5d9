package router

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/wricardo/wsnexus/metrics"
	"github.com/wricardo/wsnexus/relay/protocol"
	"github.com/wricardo/wsnexus/relay/registry"
)

type closeCall struct {
	code   int
	reason string
}

type fakeSocket struct {
	id string

	mu     sync.Mutex
	sent   []protocol.Message
	closes []closeCall
}

func (f *fakeSocket) ID() string { return f.id }

func (f *fakeSocket) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeCall{code, reason})
	return nil
}

// drain returns and forgets everything sent so far
func (f *fakeSocket) drain() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type peer struct {
	sock *fakeSocket
	conn *Connection
}

func (p *peer) frame(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	p.conn.HandleFrame(data)
}

func newRouter(t *testing.T) (*Router, *registry.Registry) {
	t.Helper()
	m, err := metrics.NewRelay(otel.Meter(""))
	require.NoError(t, err)
	reg := registry.New()
	return New(reg, m), reg
}

var peerCount int

func connect(t *testing.T, r *Router) *peer {
	t.Helper()
	peerCount++
	sock := &fakeSocket{id: fmt.Sprintf("peer-%d", peerCount)}
	conn := r.Accept(sock)

	greeting := sock.drain()
	require.Len(t, greeting, 1)
	assert.Equal(t, protocol.NewServerInfo(protocol.APIVersion), greeting[0])
	return &peer{sock: sock, conn: conn}
}

func hostAs(t *testing.T, r *Router, fields map[string]any) *peer {
	t.Helper()
	p := connect(t, r)
	fields["type"] = "HOST"
	p.frame(t, fields)

	sent := p.sock.drain()
	require.Len(t, sent, 1)
	require.IsType(t, &protocol.Hosting{}, sent[0])
	require.Equal(t, RoleHost, p.conn.Role())
	return p
}

func joinAs(t *testing.T, r *Router, host *peer, fields map[string]any) *peer {
	t.Helper()
	p := connect(t, r)
	fields["type"] = "JOIN"
	p.frame(t, fields)

	sent := p.sock.drain()
	require.Len(t, sent, 1)
	require.IsType(t, &protocol.Joined{}, sent[0])
	require.Equal(t, RoleClient, p.conn.Role())

	notice := host.sock.drain()
	require.Len(t, notice, 1)
	require.IsType(t, &protocol.NewClient{}, notice[0])
	return p
}

func TestHostRegistersAndAcks(t *testing.T) {
	r, reg := newRouter(t)
	p := connect(t, r)
	assert.Equal(t, RoleVisitor, p.conn.Role())

	p.frame(t, map[string]any{"type": "HOST", "name": "Pac-Man", "maxClients": 4})

	sent := p.sock.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.NewHosting(1, "Pac-Man", protocol.Fields{
		"id": 1, "name": "Pac-Man", "maxClients": float64(4),
	}), sent[0])
	assert.Equal(t, RoleHost, p.conn.Role())
	assert.Equal(t, 1, reg.Len())
}

func TestListHosts(t *testing.T) {
	r, _ := newRouter(t)
	hostAs(t, r, map[string]any{"name": "Pac-Man"})
	hostAs(t, r, map[string]any{"name": "Donkey Kong"})

	visitor := connect(t, r)
	visitor.frame(t, map[string]any{"type": "LIST"})

	sent := visitor.sock.drain()
	require.Len(t, sent, 1)
	list := sent[0].(*protocol.List)
	require.Len(t, list.Payload, 2)
	assert.Equal(t, "Pac-Man", list.Payload[0].Name())
	assert.Equal(t, "Donkey Kong", list.Payload[1].Name())
	assert.Equal(t, RoleVisitor, visitor.conn.Role())
}

func TestJoinByName(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})

	client := connect(t, r)
	client.frame(t, map[string]any{"type": "JOIN", "name": "Pac-Man"})

	assert.Equal(t, []protocol.Message{
		protocol.NewJoined(protocol.Fields{"id": 1, "name": "Pac-Man"}),
	}, client.sock.drain())
	assert.Equal(t, []protocol.Message{
		protocol.NewNewClient(1, protocol.Fields{"type": "JOIN", "name": "Pac-Man"}),
	}, host.sock.drain())
}

func TestJoinWithoutMatch(t *testing.T) {
	r, _ := newRouter(t)
	hostAs(t, r, map[string]any{"name": "Pac-Man"})

	client := connect(t, r)
	client.frame(t, map[string]any{"type": "JOIN", "id": -18237867})

	assert.Equal(t, []protocol.Message{
		protocol.NewNoSuchHost(protocol.Fields{"type": "JOIN", "id": float64(-18237867)}),
	}, client.sock.drain())
	assert.Equal(t, RoleVisitor, client.conn.Role(), "a failed join can be retried")

	client.frame(t, map[string]any{"type": "JOIN", "name": "Pac-Man"})
	assert.Equal(t, RoleClient, client.conn.Role())
}

func TestSequentialJoinsGetIncreasingClientIDs(t *testing.T) {
	r, reg := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})

	for want := 1; want <= 2; want++ {
		client := connect(t, r)
		client.frame(t, map[string]any{"type": "JOIN", "name": "Pac-Man"})
		sent := host.sock.drain()
		require.Len(t, sent, 1)
		assert.Equal(t, want, sent[0].(*protocol.NewClient).ClientID)
	}

	session, err := reg.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, session.ClientIDs())
}

func TestJoinOrHost(t *testing.T) {
	r, reg := newRouter(t)

	first := connect(t, r)
	first.frame(t, map[string]any{"type": "JOIN_OR_HOST", "name": "Frogger"})
	sent := first.sock.drain()
	require.Len(t, sent, 1, "no NO_SUCH_HOST before the fallback HOSTING")
	assert.IsType(t, &protocol.Hosting{}, sent[0])
	assert.Equal(t, RoleHost, first.conn.Role())

	second := connect(t, r)
	second.frame(t, map[string]any{"type": "JOIN_OR_HOST", "name": "Frogger"})
	sent = second.sock.drain()
	require.Len(t, sent, 1)
	assert.IsType(t, &protocol.Joined{}, sent[0])
	assert.Equal(t, RoleClient, second.conn.Role())
	assert.Equal(t, 1, reg.Len())

	notice := first.sock.drain()
	require.Len(t, notice, 1)
	assert.Equal(t, protocol.Fields{"type": "JOIN_OR_HOST", "name": "Frogger"}, notice[0].(*protocol.NewClient).Request)
}

func TestTargetedSends(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	clients := []*peer{
		joinAs(t, r, host, map[string]any{"name": "Pac-Man"}),
		joinAs(t, r, host, map[string]any{"name": "Pac-Man"}),
		joinAs(t, r, host, map[string]any{"name": "Pac-Man"}),
	}

	host.frame(t, map[string]any{"type": "SEND", "message": "one", "clientIDs": 1})
	host.frame(t, map[string]any{"type": "SEND", "message": "two", "clientIDs": []int{2}})
	host.frame(t, map[string]any{"type": "SEND", "message": "three", "clientIDs": []int{3, 42}})

	for i, word := range []string{"one", "two", "three"} {
		assert.Equal(t, []protocol.Message{
			protocol.NewPayload(json.RawMessage(fmt.Sprintf("%q", word))),
		}, clients[i].sock.drain(), "client %d", i+1)
	}
}

func TestLooselyTypedClientIDs(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	first := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})
	second := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})

	host.frame(t, map[string]any{"type": "SEND", "message": "a", "clientIDs": "2"})
	host.frame(t, map[string]any{"type": "SEND", "message": "b", "clientIDs": []any{1.0, "nobody"}})
	host.frame(t, map[string]any{"type": "SEND", "message": "c", "clientIDs": "nobody"})

	assert.Equal(t, []protocol.Message{
		protocol.NewPayload(json.RawMessage(`"b"`)),
	}, first.sock.drain())
	assert.Equal(t, []protocol.Message{
		protocol.NewPayload(json.RawMessage(`"a"`)),
	}, second.sock.drain())
}

func TestBroadcastSend(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	a := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})
	b := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})

	host.frame(t, map[string]any{"type": "SEND", "message": map[string]any{"tick": 1}})

	want := []protocol.Message{protocol.NewPayload(json.RawMessage(`{"tick":1}`))}
	assert.Equal(t, want, a.sock.drain())
	assert.Equal(t, want, b.sock.drain())
}

func TestClientFramesAreWrapped(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	joinAs(t, r, host, map[string]any{"name": "Pac-Man"})
	client := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})

	client.conn.HandleFrame([]byte(`{"type":"HOST","name":"not interpreted"}`))
	client.conn.HandleFrame([]byte(`just text`))

	assert.Equal(t, []protocol.Message{
		protocol.NewFromClient(2, json.RawMessage(`{"type":"HOST","name":"not interpreted"}`)),
		protocol.NewFromClient(2, json.RawMessage(`"just text"`)),
	}, host.sock.drain())
	assert.Equal(t, RoleClient, client.conn.Role())
}

func TestHostUpdate(t *testing.T) {
	r, reg := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	client := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})

	host.frame(t, map[string]any{"type": "UPDATE", "id": 7, "level": 2})

	assert.Equal(t, []protocol.Message{
		protocol.NewUpdated(protocol.Fields{"id": 1, "name": "Pac-Man", "level": float64(2)}),
	}, host.sock.drain())
	assert.Empty(t, client.sock.drain(), "UPDATED goes to the host only")
	assert.Equal(t, float64(2), reg.ListPublic()[0]["level"])
}

func TestHostCloseCascades(t *testing.T) {
	r, reg := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	clients := []*peer{
		joinAs(t, r, host, map[string]any{"name": "Pac-Man"}),
		joinAs(t, r, host, map[string]any{"name": "Pac-Man"}),
		joinAs(t, r, host, map[string]any{"name": "Pac-Man"}),
	}

	// the first client is already gone when the host leaves
	clients[0].conn.HandleClose()
	assert.Equal(t, []protocol.Message{protocol.NewLostClient(1)}, host.sock.drain())

	host.conn.HandleClose()
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, clients[0].sock.closes)
	for _, c := range clients[1:] {
		assert.Equal(t, []closeCall{{CloseGoingAway, ReasonHostClosed}}, c.sock.closes)
	}

	// the cascaded clients close afterwards; the host hears nothing more
	for _, c := range clients[1:] {
		c.conn.HandleClose()
	}
	assert.Empty(t, host.sock.drain())

	host.conn.HandleClose()
	for _, c := range clients[1:] {
		assert.Len(t, c.sock.closes, 1, "closing twice does not cascade twice")
	}
}

func TestClientsOfGoneHostAreNotForwarded(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	client := joinAs(t, r, host, map[string]any{"name": "Pac-Man"})

	host.conn.HandleClose()
	client.conn.HandleFrame([]byte(`"late"`))
	assert.Empty(t, host.sock.drain())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	r, reg := newRouter(t)
	visitor := connect(t, r)

	for _, frame := range []string{
		`not json`,
		`{"name":"no type"}`,
		`{"type":"CONNECT","hostName":"legacy"}`,
		`{"type":"SEND","message":"visitors cannot send"}`,
		`{"type":"UPDATE","name":"visitors cannot update"}`,
	} {
		visitor.conn.HandleFrame([]byte(frame))
	}
	assert.Empty(t, visitor.sock.drain())
	assert.Empty(t, visitor.sock.closes)
	assert.Equal(t, RoleVisitor, visitor.conn.Role())

	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})
	host.frame(t, map[string]any{"type": "JOIN", "name": "Pac-Man"})
	host.frame(t, map[string]any{"type": "HOST", "name": "again"})
	assert.Empty(t, host.sock.drain())
	assert.Equal(t, 1, reg.Len())
}

func TestHostCanList(t *testing.T) {
	r, _ := newRouter(t)
	host := hostAs(t, r, map[string]any{"name": "Pac-Man"})

	host.frame(t, map[string]any{"type": "LIST"})
	sent := host.sock.drain()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].(*protocol.List).Payload, 1)
}

func TestFramesAfterCloseAreIgnored(t *testing.T) {
	r, reg := newRouter(t)
	p := connect(t, r)
	p.conn.HandleClose()
	p.frame(t, map[string]any{"type": "HOST", "name": "ghost"})
	assert.Equal(t, 0, reg.Len())
}
