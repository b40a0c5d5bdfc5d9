package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// APIVersion is announced to every peer in SERVER_INFO.
const APIVersion = "1.2.0"

// Type is the value of the required "type" key of every frame.
type Type string

// Server to peer
const (
	TypeServerInfo Type = "SERVER_INFO"
	TypeHosting    Type = "HOSTING"
	TypeUpdated    Type = "UPDATED"
	TypeNewClient  Type = "NEW_CLIENT"
	TypeLostClient Type = "LOST_CLIENT"
	TypeFromClient Type = "FROM_CLIENT"
	TypeJoined     Type = "JOINED"
	TypeNoSuchHost Type = "NO_SUCH_HOST"
	TypeMessage    Type = "MESSAGE"
)

// Peer to server
const (
	TypeHost       Type = "HOST"
	TypeJoin       Type = "JOIN"
	TypeJoinOrHost Type = "JOIN_OR_HOST"
	TypeSend       Type = "SEND"
	TypeUpdate     Type = "UPDATE"
)

// TypeList travels both ways: an empty request from a peer, a payload from the server.
const TypeList Type = "LIST"

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrMissingType = errors.New("frame has no type")
	ErrUnknownType = errors.New("unknown frame type")
)

// Message is any frame of the protocol.
type Message interface {
	MessageType() Type
}

// Header carries the type key; embedding it promotes "type" into each frame's JSON.
type Header struct {
	Type Type `json:"type"`
}

// MessageType returns the frame type.
func (h Header) MessageType() Type { return h.Type }

// ServerInfo is sent once, right after a socket is accepted.
type ServerInfo struct {
	Header
	APIVersion string `json:"apiVersion"`
}

// Hosting acknowledges a HOST request.
type Hosting struct {
	Header
	ID         int    `json:"id"`
	Name       string `json:"name"`
	PublicData Fields `json:"publicData"`
}

// Updated acknowledges an UPDATE request.
type Updated struct {
	Header
	PublicData Fields `json:"publicData"`
}

// NewClient tells a host that a client joined its session.
type NewClient struct {
	Header
	ClientID int    `json:"clientID"`
	Request  Fields `json:"request"`
}

// LostClient tells a host that a client left its session.
type LostClient struct {
	Header
	ClientID int `json:"clientID"`
}

// FromClient wraps whatever a client sent so its host knows who sent it.
type FromClient struct {
	Header
	ClientID int             `json:"clientID"`
	Message  json.RawMessage `json:"message"`
}

// List is the answer to a LIST request.
type List struct {
	Header
	Payload []Fields `json:"payload"`
}

// Joined acknowledges a JOIN request with the public descriptor of the host.
type Joined struct {
	Header
	Host Fields `json:"host"`
}

// NoSuchHost is the reply to a JOIN nothing matched.
type NoSuchHost struct {
	Header
	Request Fields `json:"request"`
}

// Payload is a host message delivered to a client.
type Payload struct {
	Header
	Message json.RawMessage `json:"message"`
}

// Send is a host message to some or all of its clients. A nil ClientIDs means everyone.
type Send struct {
	Header
	Message   json.RawMessage `json:"message"`
	ClientIDs ClientIDs       `json:"clientIDs,omitempty"`
}

// Request is a descriptor-carrying peer frame: HOST, JOIN, JOIN_OR_HOST, LIST or UPDATE.
// Its fields sit next to "type" on the wire.
type Request struct {
	Header
	Fields Fields
}

// MarshalJSON flattens the descriptor next to the type key.
func (r Request) MarshalJSON() ([]byte, error) {
	out := r.All()
	return json.Marshal(out)
}

// UnmarshalJSON splits the type key from the descriptor fields.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw Fields
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, _ := raw["type"].(string)
	delete(raw, "type")
	r.Type = Type(t)
	r.Fields = raw
	return nil
}

// All returns the request as it appeared on the wire, type key included.
func (r Request) All() Fields {
	out := r.Fields.Clone()
	out["type"] = string(r.Type)
	return out
}

// ClientIDs accepts either a single id or an array of ids.
type ClientIDs []int

// UnmarshalJSON accepts a number, an array or null. Integral floats such as 2.0
// and decimal strings such as "2" name client 2; any other value names no client
// and is dropped, so a SEND is never rejected for its ids.
func (c *ClientIDs) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*c = nil
	case []any:
		ids := ClientIDs{}
		for _, item := range v {
			if id, ok := clientID(item); ok {
				ids = append(ids, id)
			}
		}
		*c = ids
	default:
		*c = ClientIDs{}
		if id, ok := clientID(v); ok {
			*c = ClientIDs{id}
		}
	}
	return nil
}

// maxExactID is the largest integer a JSON number holds exactly
const maxExactID = 1 << 53

func clientID(v any) (int, bool) {
	switch v := v.(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > maxExactID {
			return 0, false
		}
		return int(v), true
	case string:
		id, err := strconv.Atoi(v)
		if err != nil || strconv.Itoa(id) != v {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

// NewServerInfo builds the greeting frame.
func NewServerInfo(version string) *ServerInfo {
	return &ServerInfo{Header: Header{TypeServerInfo}, APIVersion: version}
}

func NewHosting(id int, name string, public Fields) *Hosting {
	return &Hosting{Header: Header{TypeHosting}, ID: id, Name: name, PublicData: public}
}

func NewUpdated(public Fields) *Updated {
	return &Updated{Header: Header{TypeUpdated}, PublicData: public}
}

func NewNewClient(clientID int, request Fields) *NewClient {
	return &NewClient{Header: Header{TypeNewClient}, ClientID: clientID, Request: request}
}

func NewLostClient(clientID int) *LostClient {
	return &LostClient{Header: Header{TypeLostClient}, ClientID: clientID}
}

func NewFromClient(clientID int, message json.RawMessage) *FromClient {
	return &FromClient{Header: Header{TypeFromClient}, ClientID: clientID, Message: message}
}

func NewList(payload []Fields) *List {
	if payload == nil {
		payload = []Fields{}
	}
	return &List{Header: Header{TypeList}, Payload: payload}
}

func NewJoined(host Fields) *Joined {
	return &Joined{Header: Header{TypeJoined}, Host: host}
}

func NewNoSuchHost(request Fields) *NoSuchHost {
	return &NoSuchHost{Header: Header{TypeNoSuchHost}, Request: request}
}

func NewPayload(message json.RawMessage) *Payload {
	return &Payload{Header: Header{TypeMessage}, Message: message}
}

func NewSend(message json.RawMessage, clientIDs ...int) *Send {
	s := &Send{Header: Header{TypeSend}, Message: message}
	if len(clientIDs) > 0 {
		s.ClientIDs = clientIDs
	}
	return s
}

// NewRequest builds a HOST, JOIN, JOIN_OR_HOST, LIST or UPDATE frame.
func NewRequest(t Type, fields Fields) *Request {
	if fields == nil {
		fields = Fields{}
	}
	return &Request{Header: Header{t}, Fields: fields}
}

// Encode serializes a frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return data, nil
}

// Decode parses a frame sent by the server.
func Decode(data []byte) (Message, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}

	var m Message
	switch t {
	case TypeServerInfo:
		m = &ServerInfo{}
	case TypeHosting:
		m = &Hosting{}
	case TypeUpdated:
		m = &Updated{}
	case TypeNewClient:
		m = &NewClient{}
	case TypeLostClient:
		m = &LostClient{}
	case TypeFromClient:
		m = &FromClient{}
	case TypeList:
		m = &List{}
	case TypeJoined:
		m = &Joined{}
	case TypeNoSuchHost:
		m = &NoSuchHost{}
	case TypeMessage:
		m = &Payload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err := unmarshal(data, t, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeRequest parses a frame sent by a peer. The result is a *Request or a *Send.
func DecodeRequest(data []byte) (Message, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}

	var m Message
	switch t {
	case TypeHost, TypeJoin, TypeJoinOrHost, TypeList, TypeUpdate:
		m = &Request{}
	case TypeSend:
		m = &Send{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err := unmarshal(data, t, m); err != nil {
		return nil, err
	}
	return m, nil
}

func peekType(data []byte) (Type, error) {
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.Type == nil || *probe.Type == "" {
		return "", ErrMissingType
	}
	return Type(*probe.Type), nil
}

func unmarshal(data []byte, t Type, m Message) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return nil
}

// WrapPayload turns an arbitrary client frame into a JSON value. Valid JSON is kept
// byte-for-byte, anything else becomes a JSON string.
func WrapPayload(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
