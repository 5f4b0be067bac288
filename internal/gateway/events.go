package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/duet/internal/state"
)

// Inbound event names.
const (
	EventMessageNew     = "message:new"
	EventMessageUpdated = "message:updated"
	EventUserOnline     = "user:online"
	EventUserOffline    = "user:offline"
	EventUserTyping     = "user:typing"
)

// Outbound event names. user:typing is shared with the inbound direction.
const (
	EventMessageSend = "message:send"
	EventMessageRead = "message:read"
	EventSubscribe   = "subscribe"
)

// Envelope is a single websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for an outbound event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("decode frame: missing event name")
	}
	return env, nil
}

// MessageUpdated is the payload of message:updated.
type MessageUpdated struct {
	ConversationID int64              `json:"conversationId"`
	MessageID      int64              `json:"messageId"`
	Updates        state.MessagePatch `json:"updates"`
}

// UserPresence is the payload of user:online and user:offline. The gateway sends
// either a bare user id or an object with a camelCase or snake_case user id key.
type UserPresence struct {
	UserID int64 `json:"userId"`
}

func (p *UserPresence) UnmarshalJSON(b []byte) error {
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] != '{' {
		var id int64
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return fmt.Errorf("presence payload: %w", err)
		}
		if id <= 0 {
			return errors.New("presence payload without user id")
		}
		p.UserID = id
		return nil
	}
	var raw struct {
		UserID    *int64 `json:"userId"`
		SnakeUser *int64 `json:"user_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.UserID != nil:
		p.UserID = *raw.UserID
	case raw.SnakeUser != nil:
		p.UserID = *raw.SnakeUser
	default:
		return errors.New("presence payload without user id")
	}
	return nil
}

// UserTyping is the payload of an inbound user:typing.
type UserTyping struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
}

// SendMessage is the payload of message:send. ClientID is echoed back by the
// server on the resulting message:new.
type SendMessage struct {
	ConversationID int64   `json:"conversationId"`
	Content        string  `json:"content"`
	Attachments    []int64 `json:"attachments"`
	ClientID       string  `json:"clientId"`
}

// TypingSignal is the payload of an outbound user:typing.
type TypingSignal struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

// ReadReceipt is the payload of message:read.
type ReadReceipt struct {
	ConversationID int64 `json:"conversationId"`
	MessageID      int64 `json:"messageId"`
}

// Subscription is the payload of subscribe.
type Subscription struct {
	Channel string `json:"channel"`
}
