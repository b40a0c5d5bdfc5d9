package nexus

import (
	"encoding/json"

	"github.com/wricardo/wsnexus/relay/protocol"
)

// Descriptor describes a session to host or the criteria of a join:
// a Name, an ID or arbitrary Fields.
type Descriptor interface {
	fields() protocol.Fields
}

// Name matches or advertises a session by name.
type Name string

func (n Name) fields() protocol.Fields { return protocol.Fields{"name": string(n)} }

// ID matches a session by the id the relay gave it.
type ID int

func (id ID) fields() protocol.Fields { return protocol.Fields{"id": int(id)} }

// Fields is a free-form descriptor. "maxClients" caps the number of clients
// of a hosted session; every other key is public and can be matched on.
type Fields map[string]any

func (f Fields) fields() protocol.Fields { return protocol.Fields(f).Clone() }

// Message is a payload relayed to this peer. ClientID is the sender when the
// peer is a host and zero when it is a client.
type Message struct {
	ClientID int
	Data     json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Text returns a string payload unquoted and anything else as raw JSON.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

// NewClient is reported to a host when a client joins.
type NewClient struct {
	ID      int
	Request protocol.Fields
}

// CloseInfo is the close code and reason of a finished connection.
type CloseInfo struct {
	Code   int
	Reason string
}
