package entities

import "time"

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusConnected, StatusError:
		return true
	}
	return false
}

// Connection is one WhatsApp account binding owned by a user.
type Connection struct {
	ID              string           `json:"id"`
	UserID          int              `json:"user_id"`
	Name            string           `json:"name"`
	PhoneNumber     string           `json:"phone_number,omitempty"`
	Status          ConnectionStatus `json:"status"`
	WebhookURL      string           `json:"webhook_url,omitempty"`
	N8NWebhookURL   string           `json:"n8n_webhook_url,omitempty"`
	QRCode          string           `json:"-"`
	LastConnectedAt *time.Time       `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Validate checks the user-editable fields.
func (c *Connection) Validate() error {
	if c.Name == "" {
		return NewValidationError("name", "is required")
	}
	if !c.Status.Valid() {
		return NewValidationError("status", "unknown connection status "+string(c.Status))
	}
	return nil
}
