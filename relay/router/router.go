package router

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/wricardo/wsnexus/metrics"
	"github.com/wricardo/wsnexus/relay/protocol"
	"github.com/wricardo/wsnexus/relay/registry"
)

const (
	// CloseGoingAway is sent to every client of a host that went away.
	CloseGoingAway = 1001

	ReasonHostClosed = "Host was closed"
)

var ErrUnexpectedFrame = errors.New("frame not valid for the connection's role")

// Role is the server-side role of a connection
type Role int

const (
	RoleVisitor Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleVisitor:
		return "Visitor"
	case RoleHost:
		return "Host"
	case RoleClient:
		return "Client"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Router turns peer frames into registry changes and forwarded frames
type Router struct {
	registry *registry.Registry
	metrics  *metrics.Relay
	version  string
}

func New(reg *registry.Registry, m *metrics.Relay) *Router {
	if m == nil {
		m = metrics.Noop()
	}
	return &Router{
		registry: reg,
		metrics:  m,
		version:  protocol.APIVersion,
	}
}

// Accept greets sock with SERVER_INFO and returns its connection in the Visitor role
func (r *Router) Accept(sock registry.Socket) *Connection {
	c := &Connection{
		router: r,
		sock:   sock,
		role:   visitorRole{},
		log:    log.WithField("conn_id", sock.ID()),
	}
	c.send(sock, protocol.NewServerInfo(r.version))
	return c
}

// Connection is the per-socket state machine. It is not safe for concurrent use;
// the hub drives every connection from its event loop.
type Connection struct {
	router *Router
	sock   registry.Socket
	role   role
	log    *log.Entry
	closed bool
}

func (c *Connection) Role() Role {
	return c.role.kind()
}

// HandleFrame processes one inbound frame. Frames that cannot be understood are
// logged and counted; the connection stays open and nothing is sent back.
func (c *Connection) HandleFrame(data []byte) {
	if c.closed {
		return
	}
	c.log.Tracef("frame in: %s", data)

	if err := c.role.handle(c, data); err != nil {
		c.router.metrics.MalformedFrame()
		c.log.Warnf("dropping frame in role %s: %s", c.role.kind(), err)
	}
}

// HandleClose runs the cleanup of the current role. Later calls do nothing.
func (c *Connection) HandleClose() {
	if c.closed {
		return
	}
	c.closed = true
	c.role.closed(c)
}

func (c *Connection) become(next role) {
	c.log.Infof("role %s -> %s", c.role.kind(), next.kind())
	c.role = next
}

func (c *Connection) send(to registry.Socket, m protocol.Message) {
	if err := to.Send(m); err != nil {
		c.log.Debugf("send %s to %s: %s", m.MessageType(), to.ID(), err)
	}
}
