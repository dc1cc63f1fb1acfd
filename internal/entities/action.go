package entities

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

type ActionKind string

const (
	ActionN8NWebhook ActionKind = "n8n_webhook"
	ActionAutoReply  ActionKind = "auto_reply"
	ActionForward    ActionKind = "forward"
)

// ActionSpec is the decoded, kind-specific action payload of a trigger.
// Implemented by WebhookAction, AutoReplyAction and ForwardAction.
type ActionSpec interface {
	Kind() ActionKind
}

// WebhookAction posts the message to URL, or to the connection's
// automation webhook when URL is empty.
type WebhookAction struct {
	URL string `json:"webhook_url,omitempty"`
}

func (WebhookAction) Kind() ActionKind { return ActionN8NWebhook }

// AutoReplyAction answers the sender with Text.
type AutoReplyAction struct {
	Text string `json:"text"`
}

func (AutoReplyAction) Kind() ActionKind { return ActionAutoReply }

// ForwardAction copies the message to To.
type ForwardAction struct {
	To string `json:"to"`
}

func (ForwardAction) Kind() ActionKind { return ActionForward }

// NormalizeActionData turns user input into a JSON object. Empty input
// becomes {}, a JSON string or non-JSON text becomes {"data": text}.
func NormalizeActionData(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	if trimmed[0] == '{' && json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	text := string(trimmed)
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		text = s
	}
	wrapped, err := json.Marshal(map[string]string{"data": text})
	if err != nil {
		return nil, NewValidationError("action_data", err.Error())
	}
	return wrapped, nil
}

// DecodeAction validates data against the shape required by kind.
func DecodeAction(kind ActionKind, data json.RawMessage) (ActionSpec, error) {
	fields := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, NewValidationError("action_data", "must be a JSON object: "+err.Error())
		}
	}

	switch kind {
	case ActionN8NWebhook:
		target := stringField(fields, "webhook_url", "url")
		if target != "" && !ValidWebhookURL(target) {
			return nil, NewValidationError("action_data.webhook_url", "must be an absolute http(s) URL")
		}
		return WebhookAction{URL: target}, nil
	case ActionAutoReply:
		text := stringField(fields, "text", "data")
		if strings.TrimSpace(text) == "" {
			return nil, NewValidationError("action_data.text", "is required for auto_reply")
		}
		return AutoReplyAction{Text: text}, nil
	case ActionForward:
		to := stringField(fields, "to", "to_number", "data")
		if strings.TrimSpace(to) == "" {
			return nil, NewValidationError("action_data.to", "is required for forward")
		}
		return ForwardAction{To: strings.TrimSpace(to)}, nil
	}
	return nil, NewValidationError("action_type", "unknown action type "+string(kind))
}

// ValidWebhookURL accepts absolute http and https URLs with a host.
func ValidWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// stringField returns the first non-empty string value among keys.
func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
