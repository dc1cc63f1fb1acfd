package interfaces

import (
	"context"

	"wa_automation/internal/entities"
)

// TriggerStore is what the trigger engine needs from persistence.
// ClaimDispatch reserves the (trigger, message) pair and reports false when
// it was already claimed; RecordOutcome finalizes the claimed row.
type TriggerStore interface {
	ListActiveTriggers(ctx context.Context, connectionID string) ([]entities.Trigger, error)
	ClaimDispatch(ctx context.Context, triggerID, messageID string) (bool, error)
	RecordOutcome(ctx context.Context, outcome entities.Outcome) error
}

// MessageStore persists message records.
type MessageStore interface {
	Create(ctx context.Context, msg *entities.Message) error
	UpdateStatus(ctx context.Context, id, status string) error
}

// InboundStore persists inbound messages. A message whose external id was
// already stored on the same connection is not inserted again: created is
// false and msg is filled from the existing row.
type InboundStore interface {
	CreateInbound(ctx context.Context, msg *entities.Message) (created bool, err error)
}

// ConnectionLookup resolves a connection without user scoping (engine side).
type ConnectionLookup interface {
	GetByID(ctx context.Context, id string) (*entities.Connection, error)
}

// Messenger delivers a text to a WhatsApp number over a live connection.
type Messenger interface {
	SendMessage(ctx context.Context, to, content string) error
}

// MessengerResolver returns the live messenger of a connection, or nil.
type MessengerResolver interface {
	Messenger(connectionID string) Messenger
}

// WebhookPoster POSTs a JSON body and fails on non-2xx responses.
type WebhookPoster interface {
	PostJSON(ctx context.Context, url string, body any) error
}
