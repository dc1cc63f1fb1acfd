package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cast"

	"wa_automation/internal/entities"
	"wa_automation/internal/interfaces"
)

// DefaultDispatchTimeout bounds one action when none is configured.
const DefaultDispatchTimeout = 5 * time.Second

var errNoWebhookURL = errors.New("no webhook url configured")

// OutboundSender delivers a trigger-produced message through the shared send path.
type OutboundSender interface {
	SendOutbound(ctx context.Context, conn *entities.Connection, msg *entities.Message) error
}

// WebhookPayload is the JSON body posted by n8n_webhook actions.
type WebhookPayload struct {
	Message NormalizedMessage `json:"message"`
	Action  json.RawMessage   `json:"action"`
}

// Dispatcher executes the action of one matched trigger.
type Dispatcher struct {
	webhooks interfaces.WebhookPoster
	sender   OutboundSender
	timeout  time.Duration
}

func NewDispatcher(webhooks interfaces.WebhookPoster, sender OutboundSender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{webhooks: webhooks, sender: sender, timeout: timeout}
}

// Dispatch runs t's action for msg within the per-action timeout. It returns
// the id of the outbound message, if one was created, and a *DispatchError
// on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *entities.Connection, t entities.Trigger, msg NormalizedMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var outboundID string
	var err error
	switch action := t.Action.(type) {
	case entities.WebhookAction:
		err = d.postWebhook(ctx, conn, action, t, msg)
	case entities.AutoReplyAction:
		outboundID, err = d.send(ctx, conn, &entities.Message{
			FromNumber: senderOf(conn, msg),
			ToNumber:   msg.Sender,
			Kind:       entities.KindText,
			Content:    action.Text,
		})
	case entities.ForwardAction:
		outboundID, err = d.send(ctx, conn, &entities.Message{
			FromNumber: senderOf(conn, msg),
			ToNumber:   NormalizeNumber(action.To),
			Kind:       msg.Kind,
			Content:    forwardContent(msg),
			MediaURL:   msg.MediaURL,
		})
	default:
		err = entities.NewValidationError("action_data", "undecodable payload for "+string(t.ActionKind))
	}

	if err == nil {
		return outboundID, nil
	}
	dispatchErr := &entities.DispatchError{TriggerID: t.ID, Err: err}
	var statusErr *entities.HTTPStatusError
	if errors.As(err, &statusErr) {
		dispatchErr.StatusCode = statusErr.StatusCode
	}
	return outboundID, dispatchErr
}

func (d *Dispatcher) postWebhook(ctx context.Context, conn *entities.Connection, action entities.WebhookAction, t entities.Trigger, msg NormalizedMessage) error {
	url := action.URL
	if url == "" {
		url = conn.N8NWebhookURL
	}
	if url == "" {
		return errNoWebhookURL
	}
	return d.webhooks.PostJSON(ctx, url, WebhookPayload{Message: msg, Action: t.ActionData})
}

func (d *Dispatcher) send(ctx context.Context, conn *entities.Connection, out *entities.Message) (string, error) {
	err := d.sender.SendOutbound(ctx, conn, out)
	return out.ID, err
}

// forwardContent is the text of a forwarded message. Locations and contacts
// keep their coordinates or vcard in metadata, not in the body.
func forwardContent(msg NormalizedMessage) string {
	switch msg.Kind {
	case entities.KindLocation:
		lat, long := cast.ToString(msg.Metadata["latitude"]), cast.ToString(msg.Metadata["longitude"])
		if lat == "" || long == "" {
			return msg.Body
		}
		return strings.TrimSpace(msg.Body + "\n" + lat + "," + long)
	case entities.KindContact:
		if vcard := strings.TrimSpace(cast.ToString(msg.Metadata["vcard"])); vcard != "" {
			return vcard
		}
	}
	return msg.Body
}

// senderOf is the from_number of replies sent on conn.
func senderOf(conn *entities.Connection, msg NormalizedMessage) string {
	if conn.PhoneNumber != "" {
		return NormalizeNumber(conn.PhoneNumber)
	}
	if msg.Recipient != "" {
		return msg.Recipient
	}
	return entities.SystemSender
}
