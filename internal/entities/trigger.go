package entities

import (
	"encoding/json"
	"strings"
	"time"
)

type ConditionKind string

const (
	ConditionMessageReceived ConditionKind = "message_received"
	ConditionKeyword         ConditionKind = "keyword"
	ConditionSpecificSender  ConditionKind = "specific_sender"
)

func (k ConditionKind) Valid() bool {
	switch k {
	case ConditionMessageReceived, ConditionKeyword, ConditionSpecificSender:
		return true
	}
	return false
}

// NeedsValue reports whether the condition compares against a value.
func (k ConditionKind) NeedsValue() bool {
	return k == ConditionKeyword || k == ConditionSpecificSender
}

// Trigger is an automation rule bound to one connection.
type Trigger struct {
	ID             string          `json:"id"`
	ConnectionID   string          `json:"connection_id"`
	Name           string          `json:"name"`
	ConditionKind  ConditionKind   `json:"trigger_type"`
	ConditionValue string          `json:"trigger_value,omitempty"`
	ActionKind     ActionKind      `json:"action_type"`
	ActionData     json.RawMessage `json:"action_data"`
	Action         ActionSpec      `json:"-"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the trigger invariants and decodes ActionData into Action.
// A message_received trigger has its condition value cleared.
func (t *Trigger) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return NewValidationError("name", "is required")
	}
	if t.ConnectionID == "" {
		return NewValidationError("connection_id", "is required")
	}
	if !t.ConditionKind.Valid() {
		return NewValidationError("trigger_type", "unknown trigger type "+string(t.ConditionKind))
	}
	t.ConditionValue = strings.TrimSpace(t.ConditionValue)
	if t.ConditionKind.NeedsValue() && t.ConditionValue == "" {
		return NewValidationError("trigger_value", "is required for "+string(t.ConditionKind))
	}
	if !t.ConditionKind.NeedsValue() {
		t.ConditionValue = ""
	}

	data, err := NormalizeActionData(t.ActionData)
	if err != nil {
		return err
	}
	spec, err := DecodeAction(t.ActionKind, data)
	if err != nil {
		return err
	}
	t.ActionData = data
	t.Action = spec
	return nil
}

type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the recorded result of dispatching one trigger for one message.
// At most one exists per (TriggerID, MessageID).
type Outcome struct {
	TriggerID         string        `json:"trigger_id"`
	MessageID         string        `json:"message_id"`
	Status            OutcomeStatus `json:"status"`
	Error             string        `json:"error,omitempty"`
	OutboundMessageID string        `json:"outbound_message_id,omitempty"`
	Attempts          int           `json:"attempts"`
	BestEffort        bool          `json:"best_effort"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// RetryCandidate is a failed outcome together with what is needed to replay it.
type RetryCandidate struct {
	Trigger Trigger
	Message Message
	Outcome Outcome
}
