// Package protocol defines the WebSocket event types and structures exchanged
// between clients and the relay server. All events are serialized as JSON and
// follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> Server event types.
const (
	TypeJoin           = "join"
	TypePrivateMessage = "privateMessage"
	TypeGroupMessage   = "groupMessage"
)

// Server -> Client event types. TypePrivateMessage and TypeGroupMessage are
// shared with the client direction; the payload shapes differ.
const (
	TypeModeration = "moderation"
)

// Media kinds accepted on outgoing messages. KindText means the message
// carries no media at all.
const (
	KindText  = "text"
	KindImage = "image"
	KindAudio = "audio"
	KindVideo = "video"
	KindFile  = "file"
)

// ValidKind reports whether kind names a known media kind. The empty string
// is treated as KindText.
func ValidKind(kind string) bool {
	switch kind {
	case "", KindText, KindImage, KindAudio, KindVideo, KindFile:
		return true
	}
	return false
}

// ErrUnknownType is returned by ParseClientEvent for type discriminators the
// relay does not recognize. Callers drop such events without replying.
var ErrUnknownType = errors.New("protocol: unknown event type")

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server events
// ---------------------------------------------------------------------------

// JoinEvent authenticates a connection with a session token issued by the
// credential service.
type JoinEvent struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PrivateMessageEvent asks the relay to deliver a message to a single handle.
// Text and media are both optional, but at least one must be present.
type PrivateMessageEvent struct {
	Type         string `json:"type"`
	To           string `json:"to"`
	Text         string `json:"text,omitempty"`
	MediaKind    string `json:"mediaKind,omitempty"`
	MediaPayload []byte `json:"mediaPayload,omitempty"` // base64 in JSON
}

// GroupMessageEvent asks the relay to fan a message out to a group.
type GroupMessageEvent struct {
	Type         string `json:"type"`
	GroupID      int64  `json:"groupId"`
	Text         string `json:"text,omitempty"`
	MediaKind    string `json:"mediaKind,omitempty"`
	MediaPayload []byte `json:"mediaPayload,omitempty"`
}

// ---------------------------------------------------------------------------
// Server -> Client events
// ---------------------------------------------------------------------------

// PrivateDelivery is the server-side privateMessage event, sent both to the
// recipient and back to the sender as the authoritative echo.
type PrivateDelivery struct {
	Type         string `json:"type"`
	SenderHandle string `json:"senderHandle"`
	SenderName   string `json:"senderName"`
	Text         string `json:"text,omitempty"`
	MediaKind    string `json:"mediaKind,omitempty"`
	MediaRef     string `json:"mediaRef,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// GroupDelivery is the server-side groupMessage event fanned out to every
// connected member of the group, the sender included.
type GroupDelivery struct {
	Type         string `json:"type"`
	GroupID      int64  `json:"groupId"`
	SenderHandle string `json:"senderHandle"`
	SenderName   string `json:"senderName"`
	Text         string `json:"text,omitempty"`
	MediaKind    string `json:"mediaKind,omitempty"`
	MediaRef     string `json:"mediaRef,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// Notice carries moderation rejections, suspension notices, and
// authorization denials. It is the only negative feedback a client receives;
// the connection itself stays open.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. ErrUnknownType is returned for types the relay
// does not handle, including server-only types echoed back by a confused
// client.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var e JoinEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypePrivateMessage:
		var e PrivateMessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeGroupMessage:
		var e GroupMessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event. The
// eventType is injected into the payload under the "type" key.
func NewServerEvent(eventType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = eventType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}

// NewNotice is shorthand for building a moderation notice event.
func NewNotice(message string) []byte {
	data, err := NewServerEvent(TypeModeration, Notice{Message: message})
	if err != nil {
		// Notice has no fields that can fail to marshal.
		panic(err)
	}
	return data
}
