package router

import (
	"fmt"

	"github.com/wricardo/wsnexus/relay/protocol"
	"github.com/wricardo/wsnexus/relay/registry"
)

type role interface {
	kind() Role
	handle(c *Connection, data []byte) error
	closed(c *Connection)
}

func decodeRequest(data []byte) (*protocol.Request, *protocol.Send, error) {
	m, err := protocol.DecodeRequest(data)
	if err != nil {
		return nil, nil, err
	}
	switch v := m.(type) {
	case *protocol.Request:
		return v, nil, nil
	case *protocol.Send:
		return nil, v, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, m.MessageType())
}

type visitorRole struct{}

func (visitorRole) kind() Role { return RoleVisitor }

func (visitorRole) closed(*Connection) {}

func (v visitorRole) handle(c *Connection, data []byte) error {
	req, _, err := decodeRequest(data)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedFrame, protocol.TypeSend)
	}

	switch req.Type {
	case protocol.TypeList:
		c.send(c.sock, protocol.NewList(c.router.registry.ListPublic()))
	case protocol.TypeHost:
		v.host(c, req)
	case protocol.TypeJoin:
		if !v.join(c, req) {
			c.send(c.sock, protocol.NewNoSuchHost(req.All()))
		}
	case protocol.TypeJoinOrHost:
		if !v.join(c, req) {
			v.host(c, req)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedFrame, req.Type)
	}
	return nil
}

func (visitorRole) host(c *Connection, req *protocol.Request) {
	session := c.router.registry.Register(c.sock, req.Fields)
	c.router.metrics.HostRegistered()
	c.log = c.log.WithField("host_id", session.ID())
	c.become(&hostRole{session: session})

	c.send(c.sock, protocol.NewHosting(session.ID(), session.Name(), session.Public()))
}

func (visitorRole) join(c *Connection, req *protocol.Request) bool {
	session := c.router.registry.FindHost(req.Fields)
	if session == nil {
		return false
	}

	handle, err := session.AddClient(c.sock)
	if err != nil {
		c.log.Debugf("join host %d: %s", session.ID(), err)
		return false
	}
	c.router.metrics.ClientJoined()
	c.log = c.log.WithField("host_id", session.ID()).WithField("client_id", handle.ID())
	c.become(&clientRole{client: handle})

	c.send(session.Socket(), protocol.NewNewClient(handle.ID(), req.All()))
	c.send(c.sock, protocol.NewJoined(session.Public()))
	return true
}

type hostRole struct {
	session *registry.Session
}

func (*hostRole) kind() Role { return RoleHost }

func (h *hostRole) handle(c *Connection, data []byte) error {
	req, send, err := decodeRequest(data)
	if err != nil {
		return err
	}

	if send != nil {
		h.forward(c, send)
		return nil
	}

	switch req.Type {
	case protocol.TypeUpdate:
		public := h.session.Update(req.Fields)
		c.send(c.sock, protocol.NewUpdated(public))
	case protocol.TypeList:
		c.send(c.sock, protocol.NewList(c.router.registry.ListPublic()))
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedFrame, req.Type)
	}
	return nil
}

func (h *hostRole) forward(c *Connection, send *protocol.Send) {
	var targets []*registry.ClientHandle
	if send.ClientIDs == nil {
		targets = h.session.Clients()
	} else {
		for _, id := range send.ClientIDs {
			if handle, ok := h.session.Client(id); ok {
				targets = append(targets, handle)
			}
		}
	}

	msg := protocol.NewPayload(send.Message)
	for _, handle := range targets {
		c.send(handle.Socket(), msg)
		c.router.metrics.FrameRelayed("to_client")
	}
}

func (h *hostRole) closed(c *Connection) {
	if !c.router.registry.Deregister(h.session) {
		return
	}
	c.router.metrics.HostClosed()

	for _, handle := range h.session.Clients() {
		if err := handle.Socket().Close(CloseGoingAway, ReasonHostClosed); err != nil {
			c.log.Debugf("close client %d: %s", handle.ID(), err)
		}
	}
	c.log.Info("host closed, session removed")
}

type clientRole struct {
	client *registry.ClientHandle
}

func (*clientRole) kind() Role { return RoleClient }

// Client frames are never interpreted, only wrapped and handed to the host.
func (cl *clientRole) handle(c *Connection, data []byte) error {
	session := cl.client.Session()
	if !c.router.registry.Contains(session) {
		return nil
	}
	c.send(session.Socket(), protocol.NewFromClient(cl.client.ID(), protocol.WrapPayload(data)))
	c.router.metrics.FrameRelayed("to_host")
	return nil
}

func (cl *clientRole) closed(c *Connection) {
	session := cl.client.Session()
	if !session.RemoveClient(cl.client) {
		return
	}
	c.router.metrics.ClientLeft()

	if c.router.registry.Contains(session) {
		c.send(session.Socket(), protocol.NewLostClient(cl.client.ID()))
	}
}
