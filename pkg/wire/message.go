// Package wire defines the envelope exchanged between the bridge and backend
// peers. Every frame on the relay channel is exactly one JSON-encoded Envelope,
// in both directions.
package wire

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MessageType is the closed set of envelope kinds.
type MessageType string

const (
	TypeText         MessageType = "text"
	TypeImage        MessageType = "image"
	TypeVoice        MessageType = "voice"
	TypeMarkdown     MessageType = "markdown"
	TypeNotification MessageType = "notification"
	TypeClear        MessageType = "clear"
	TypeEnd          MessageType = "end"
	TypeSetTZOffset  MessageType = "set_ts_offset"
)

// IsValid reports whether t is one of the known message types.
func (t MessageType) IsValid() bool {
	switch t {
	case TypeText, TypeImage, TypeVoice, TypeMarkdown,
		TypeNotification, TypeClear, TypeEnd, TypeSetTZOffset:
		return true
	}
	return false
}

// User identifies the human participant.
type User struct {
	ID string `json:"id"`
}

// Chat identifies the conversational context (channel, DM, or session).
type Chat struct {
	ID string `json:"id"`
}

// Message carries the typed payload. Content holds plain or markdown text for
// the text-like types and a base64 payload for image/voice; it is empty for
// clear and end.
type Message struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// Options carries request-direction preferences. Voice asks the front-end to
// prefer voice-rendered replies for this chat.
type Options struct {
	Voice bool `json:"voice"`
}

// Envelope is the complete structured payload exchanged across the bridge.
type Envelope struct {
	User    User     `json:"user"`
	Chat    Chat     `json:"chat"`
	Message Message  `json:"message"`
	Options *Options `json:"options,omitempty"`
}

// NewRequest builds a text request envelope with a fresh message id.
func NewRequest(userID, chatID, content string, voice bool) Envelope {
	env := Envelope{
		User:    User{ID: userID},
		Chat:    Chat{ID: chatID},
		Message: Message{ID: uuid.New().String(), Type: TypeText, Content: content},
	}
	if voice {
		env.Options = &Options{Voice: true}
	}
	return env
}

// NewClear builds a clear request envelope. Clear is fire-and-forget: it
// carries a fresh id but no reply is expected for it.
func NewClear(userID, chatID string) Envelope {
	return Envelope{
		User:    User{ID: userID},
		Chat:    Chat{ID: chatID},
		Message: Message{ID: uuid.New().String(), Type: TypeClear},
	}
}

// NewReply builds a reply envelope for a previously received request id.
func NewReply(req Envelope, typ MessageType, content string) Envelope {
	return Envelope{
		User:    req.User,
		Chat:    req.Chat,
		Message: Message{ID: req.Message.ID, Type: typ, Content: content},
	}
}

// ParseEnvelope decodes and validates a wire frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to decode envelope")
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the structural invariants of an envelope.
func (e Envelope) Validate() error {
	if e.Message.ID == "" {
		return errors.New("envelope missing message id")
	}
	if !e.Message.Type.IsValid() {
		return errors.Errorf("unknown message type %q", e.Message.Type)
	}
	return nil
}

// Encode serializes the envelope for the relay channel.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return data, nil
}

// EncodePayload encodes binary content for transport. The wire format must
// not assume a binary-safe transport, so image and voice payloads travel as
// base64 text.
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePayload decodes a base64 payload back into bytes. Encoded strings
// must not propagate past the transport-decoding boundary; callers decode
// immediately on receipt.
func DecodePayload(content string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode payload")
	}
	return data, nil
}
