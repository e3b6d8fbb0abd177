package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message is the envelope every client/server exchange travels in.
// Type is never empty. Sender carries the client id of the originator,
// SystemSender for messages the server originates itself. Payload is the
// tagged variant for the given type; game messages keep it opaque.
type Message struct {
	Type    string          `json:"type"`
	Sender  int             `json:"sender"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SystemSender marks messages originated by the server rather than a client.
const SystemSender = 0

// System message types handled by the built-in dispatchers. Anything outside
// this vocabulary is a game message and is forwarded to the application.
const (
	TypeChat               = "CHAT"
	TypeDisconnect         = "SYSTEM_DISCONNECT"
	TypeAssignClientID     = "SYSTEM_ASSIGN_CLIENT_ID"
	TypeRegisterName       = "SYSTEM_REGISTER_NAME"
	TypeRegisterColor      = "SYSTEM_REGISTER_COLOR"
	TypeClientList         = "SYSTEM_CLIENT_LIST"
	TypeConnectionLimit    = "SYSTEM_CONNECTION_LIMIT"
	TypeAvailableColors    = "SYSTEM_AVAILABLE_COLORS"
	TypeRegisterNameError  = "SYSTEM_REGISTER_NAME_ERROR"
	TypeRegisterColorError = "SYSTEM_REGISTER_COLOR_ERROR"
)

// Message-type prefixes used to route unconsumed messages to observers.
const (
	PrefixChat   = "CHAT"
	PrefixSystem = "SYSTEM"
)

var ErrEmptyType = errors.New("message type is empty")

// ClientInfo is one roster entry: the public view of a connected client.
type ClientInfo struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color Color  `json:"color"`
}

// Roster is the serializable snapshot of connected clients that the server
// broadcasts so every client can mirror who is online.
type Roster []ClientInfo

// Get returns the entry with the given id, or false when absent.
func (r Roster) Get(id int) (ClientInfo, bool) {
	for _, ci := range r {
		if ci.ID == id {
			return ci, true
		}
	}
	return ClientInfo{}, false
}

// GetByName returns the first entry with the given name, or false when absent.
func (r Roster) GetByName(name string) (ClientInfo, bool) {
	for _, ci := range r {
		if ci.Name == name {
			return ci, true
		}
	}
	return ClientInfo{}, false
}

// IsSystem reports whether the message belongs to the built-in vocabulary
// rather than the application.
func (m Message) IsSystem() bool {
	return strings.HasPrefix(m.Type, PrefixSystem)
}

// IsChat reports whether the message carries chat traffic.
func (m Message) IsChat() bool {
	return strings.HasPrefix(m.Type, PrefixChat)
}

func mustPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload variants are plain data types; marshalling them
		// cannot fail at runtime.
		panic(fmt.Sprintf("proto: marshal payload: %v", err))
	}
	return data
}

// NewChat builds a chat message from the given sender.
func NewChat(text string, sender int) Message {
	return Message{Type: TypeChat, Sender: sender, Payload: mustPayload(text)}
}

// NewDisconnect announces that the sender is leaving.
func NewDisconnect(sender int) Message {
	return Message{Type: TypeDisconnect, Sender: sender}
}

// NewAssignClientID tells a client what its server-assigned id is.
func NewAssignClientID(id int) Message {
	return Message{Type: TypeAssignClientID, Sender: id, Payload: mustPayload(id)}
}

// NewRegisterName asks the server to record the sender's display name.
func NewRegisterName(name string, sender int) Message {
	return Message{Type: TypeRegisterName, Sender: sender, Payload: mustPayload(name)}
}

// NewRegisterColor asks the server to claim a color for the sender.
func NewRegisterColor(c Color, sender int) Message {
	return Message{Type: TypeRegisterColor, Sender: sender, Payload: mustPayload(c)}
}

// NewClientList wraps a roster snapshot for broadcast.
func NewClientList(r Roster) Message {
	return Message{Type: TypeClientList, Sender: SystemSender, Payload: mustPayload(r)}
}

// NewAvailableColors wraps the unclaimed color pool for broadcast.
func NewAvailableColors(colors []Color) Message {
	return Message{Type: TypeAvailableColors, Sender: SystemSender, Payload: mustPayload(colors)}
}

// NewConnectionLimit sets or announces the server's connection bound.
func NewConnectionLimit(limit, sender int) Message {
	return Message{Type: TypeConnectionLimit, Sender: sender, Payload: mustPayload(limit)}
}

// NewRegisterColorError reports a failed color claim back to the requester.
func NewRegisterColorError(reason string) Message {
	return Message{Type: TypeRegisterColorError, Sender: SystemSender, Payload: mustPayload(reason)}
}

// NewGame builds an application-defined message. The payload may be any
// JSON-marshallable value; the system dispatchers forward it untouched.
func NewGame(msgType string, payload any, sender int) (Message, error) {
	if msgType == "" {
		return Message{}, ErrEmptyType
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal game payload: %w", err)
	}
	return Message{Type: msgType, Sender: sender, Payload: data}, nil
}

// Text decodes a string payload.
func (m Message) Text() (string, error) {
	var s string
	if err := json.Unmarshal(m.Payload, &s); err != nil {
		return "", fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return s, nil
}

// Int decodes an integer payload.
func (m Message) Int() (int, error) {
	var n int
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		return 0, fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return n, nil
}

// Color decodes a color payload.
func (m Message) Color() (Color, error) {
	var c Color
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return "", fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return c, nil
}

// Roster decodes a roster payload.
func (m Message) Roster() (Roster, error) {
	var r Roster
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return nil, fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return r, nil
}

// Colors decodes a color-list payload.
func (m Message) Colors() ([]Color, error) {
	var cs []Color
	if err := json.Unmarshal(m.Payload, &cs); err != nil {
		return nil, fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return cs, nil
}

// WithText returns a copy of the message carrying a new string payload.
// Used by the chat relay to prepend the sender's display name.
func (m Message) WithText(text string) Message {
	m.Payload = mustPayload(text)
	return m
}
