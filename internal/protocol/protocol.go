// Package protocol defines the wire envelope shared by agents and viewers
// and the validated, strongly-typed form of every inbound message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

// Inbound message types.
const (
	MsgAnnounceAgent MessageType = "announce_agent"
	MsgViewerJoin    MessageType = "viewer_join"
	MsgFrame         MessageType = "frame"
	MsgInputEvent    MessageType = "input_event"
	MsgChatMessage   MessageType = "chat_message"
	MsgFileOffer     MessageType = "file_offer"
	MsgFileChunk     MessageType = "file_chunk"
	MsgHeartbeat     MessageType = "heartbeat"
)

// Outbound message types.
const (
	MsgSessionReady    MessageType = "session_ready"
	MsgSessionAccept   MessageType = "session_accept"
	MsgSessionRejected MessageType = "session_rejected"
	MsgViewerJoined    MessageType = "viewer_joined"
	MsgViewerLeft      MessageType = "viewer_left"
	MsgViewerHeartbeat MessageType = "viewer_heartbeat"
	MsgError           MessageType = "error"
)

var (
	// ErrUnknownType marks an envelope whose type has no handler.
	ErrUnknownType = errors.New("unknown message type")

	// ErrInvalidPayload marks a payload that failed schema validation.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope is the uniform wrapper for every message in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// Message is the tagged union of validated inbound payloads. Exactly one
// concrete payload type stands behind each inbound MessageType.
type Message interface {
	isMessage()
}

// Inbound is one decoded and validated envelope. Raw keeps the original
// payload bytes so handlers that forward a message verbatim need not
// re-marshal it.
type Inbound struct {
	Type MessageType
	Ref  string
	Raw  json.RawMessage
	Msg  Message
}

// Decode parses an envelope and validates its payload into the tagged
// union. It never panics on malformed input: syntax errors, unknown types,
// and schema violations all come back as wrapped sentinel errors. When the
// envelope itself parsed but the payload failed, the returned Inbound still
// carries the message type (with a nil Msg) so the caller can decide
// whether that type warrants an error reply.
func Decode(raw []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}

	var msg Message
	switch env.Type {
	case MsgAnnounceAgent:
		msg = &AnnounceAgent{}
	case MsgViewerJoin:
		msg = &ViewerJoin{}
	case MsgFrame:
		msg = &Frame{}
	case MsgInputEvent:
		msg = &InputEvent{}
	case MsgChatMessage:
		msg = &Chat{}
	case MsgFileOffer:
		msg = &FileOffer{}
	case MsgFileChunk:
		msg = &FileChunk{}
	case MsgHeartbeat:
		msg = &Heartbeat{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	payload := env.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	partial := &Inbound{Type: env.Type, Ref: env.Ref, Raw: env.Payload}
	if err := json.Unmarshal(payload, msg); err != nil {
		return partial, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if v, ok := msg.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return partial, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	return &Inbound{Type: env.Type, Ref: env.Ref, Raw: env.Payload, Msg: msg}, nil
}

// MarshalEnvelope wraps payload in an envelope of the given type.
func MarshalEnvelope(t MessageType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: body})
}

// MarshalRaw wraps already-encoded payload bytes, used when forwarding a
// validated payload unchanged.
func MarshalRaw(t MessageType, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Type: t, Payload: payload})
}

// ErrorEnvelope builds the error reply sent for state errors. The message
// rides at the top level of the envelope, not inside a payload.
func ErrorEnvelope(message string) []byte {
	data, _ := json.Marshal(struct {
		Type    MessageType `json:"type"`
		Message string      `json:"message"`
	}{MsgError, message})
	return data
}
