package entities

import (
	"encoding/json"
	"time"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindDocument, KindLocation, KindContact:
		return true
	}
	return false
}

// IsMedia reports whether the kind carries a media reference rather than text.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument:
		return true
	}
	return false
}

// Delivery status values. Only the delivery pipeline moves a message
// out of pending.
const (
	MessagePending  = "pending"
	MessageSent     = "sent"
	MessageFailed   = "failed"
	MessageReceived = "received"
)

// SystemSender is the from_number of user-initiated sends.
const SystemSender = "system"

// Message is one inbound or outbound WhatsApp message record.
type Message struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connection_id"`
	FromNumber   string          `json:"from_number"`
	ToNumber     string          `json:"to_number"`
	Kind         MessageKind     `json:"message_type"`
	Content      string          `json:"content,omitempty"`
	MediaURL     string          `json:"media_url,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ExternalID   string          `json:"external_id,omitempty"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Validate enforces the fields required before a message is stored.
func (m *Message) Validate() error {
	if m.ConnectionID == "" {
		return NewValidationError("connection_id", "is required")
	}
	if m.ToNumber == "" {
		return NewValidationError("to_number", "is required")
	}
	if !m.Kind.Valid() {
		return NewValidationError("message_type", "unknown message type "+string(m.Kind))
	}
	if m.Kind.IsMedia() {
		if m.Content == "" && m.MediaURL == "" {
			return NewValidationError("media_url", "is required for "+string(m.Kind)+" messages")
		}
	} else if m.Content == "" {
		return NewValidationError("content", "is required")
	}
	return nil
}
