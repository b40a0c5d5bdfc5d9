package nexus

import (
	"fmt"

	"github.com/wricardo/wsnexus/relay/protocol"
)

// Role is the client-side role of a connection.
type Role int

const (
	RoleUser Role = iota
	RoleHost
	RoleClient
	RoleDead
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleHost:
		return "Host"
	case RoleClient:
		return "Client"
	case RoleDead:
		return "Dead"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

type role interface {
	kind() Role
	// settled reports whether the relay acknowledged the role.
	settled() bool
	// handle consumes a role-specific server frame and reports whether it did.
	handle(n *Nexus, m protocol.Message) bool
}

type userRole struct{}

func (userRole) kind() Role                           { return RoleUser }
func (userRole) settled() bool                        { return false }
func (userRole) handle(*Nexus, protocol.Message) bool { return false }

type deadRole struct{}

func (deadRole) kind() Role                           { return RoleDead }
func (deadRole) settled() bool                        { return true }
func (deadRole) handle(*Nexus, protocol.Message) bool { return false }

// hostRole fields are guarded by Nexus.mu.
type hostRole struct {
	id        int
	name      string
	public    protocol.Fields
	clientIDs []int
	hosting   bool
}

func (*hostRole) kind() Role { return RoleHost }

func (h *hostRole) settled() bool { return h.hosting }

func (h *hostRole) handle(n *Nexus, m protocol.Message) bool {
	switch v := m.(type) {
	case *protocol.Hosting:
		n.mu.Lock()
		h.id, h.name, h.public, h.hosting = v.ID, v.Name, v.PublicData, true
		n.mu.Unlock()
		n.log.Infof("hosting %q as #%d", v.Name, v.ID)
		n.whenHosting.Succeed(v.PublicData)

	case *protocol.Updated:
		n.mu.Lock()
		h.public = v.PublicData
		if id, ok := v.PublicData.ID(); ok {
			h.id = id
		}
		h.name = v.PublicData.Name()
		n.mu.Unlock()
		n.onUpdate.Trigger(v.PublicData)

	case *protocol.NewClient:
		n.mu.Lock()
		h.clientIDs = append(h.clientIDs, v.ClientID)
		n.mu.Unlock()
		n.onNewClient.Trigger(NewClient{ID: v.ClientID, Request: v.Request})

	case *protocol.LostClient:
		n.mu.Lock()
		for i, id := range h.clientIDs {
			if id == v.ClientID {
				h.clientIDs = append(h.clientIDs[:i:i], h.clientIDs[i+1:]...)
				break
			}
		}
		n.mu.Unlock()
		n.onLostClient.Trigger(v.ClientID)

	case *protocol.FromClient:
		n.onMessage.Trigger(Message{ClientID: v.ClientID, Data: v.Message})

	default:
		return false
	}
	return true
}

// clientRole fields are guarded by Nexus.mu. With orHost set the relay may
// answer with HOSTING instead of JOINED.
type clientRole struct {
	host   protocol.Fields
	joined bool
	orHost bool
}

func (*clientRole) kind() Role { return RoleClient }

func (c *clientRole) settled() bool { return c.joined }

func (c *clientRole) handle(n *Nexus, m protocol.Message) bool {
	switch v := m.(type) {
	case *protocol.Joined:
		n.mu.Lock()
		c.host, c.joined = v.Host, true
		joined := n.whenJoined
		n.mu.Unlock()
		n.log.Infof("joined %q", v.Host.Name())
		joined.Succeed(v.Host)

	case *protocol.NoSuchHost:
		n.mu.Lock()
		joined := n.whenJoined
		if c.orHost {
			n.become(&hostRole{})
		} else {
			n.become(userRole{})
		}
		n.mu.Unlock()
		joined.Fail(fmt.Errorf("%w: %v", ErrNoSuchHost, map[string]any(v.Request)))

	case *protocol.Hosting:
		if !c.orHost {
			return false
		}
		h := &hostRole{}
		n.mu.Lock()
		n.become(h)
		n.mu.Unlock()
		return h.handle(n, m)

	case *protocol.Payload:
		n.onMessage.Trigger(Message{Data: v.Message})

	default:
		return false
	}
	return true
}
