package usecases

import (
	"strings"
	"sync/atomic"
	"time"

	"wa_automation/internal/entities"
)

// NormalizedMessage is the canonical form of an inbound message used for
// matching and sent to webhooks.
type NormalizedMessage struct {
	ID           string               `json:"id"`
	ConnectionID string               `json:"connection_id"`
	Sender       string               `json:"from"`
	Recipient    string               `json:"to,omitempty"`
	Body         string               `json:"content"`
	MatchText    string               `json:"-"`
	Kind         entities.MessageKind `json:"message_type"`
	MediaURL     string               `json:"media_url,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
	Sequence     uint64               `json:"sequence"`
	ExternalID   string               `json:"external_id,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
}

// Normalizer converts raw inbound events. Sequence numbers are unique and
// increase in call order.
type Normalizer struct {
	seq atomic.Uint64
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

var numberFormatting = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizeNumber canonicalizes a phone number or WhatsApp JID so that
// "+62 812-3456", "628123456@s.whatsapp.net" and "628123456" compare equal.
func NormalizeNumber(raw string) string {
	n := strings.ToLower(strings.TrimSpace(raw))
	if at := strings.IndexByte(n, '@'); at >= 0 {
		n = n[:at]
	}
	// device suffix of a JID user part, e.g. 628123456:12
	if colon := strings.IndexByte(n, ':'); colon >= 0 {
		n = n[:colon]
	}
	n = numberFormatting.Replace(n)
	return strings.TrimPrefix(n, "+")
}

func (n *Normalizer) Normalize(evt entities.InboundEvent) (NormalizedMessage, error) {
	if strings.TrimSpace(evt.ConnectionID) == "" {
		return NormalizedMessage{}, entities.InvalidEvent("connection id is required")
	}
	sender := NormalizeNumber(evt.From)
	if sender == "" {
		return NormalizedMessage{}, entities.InvalidEvent("sender is required")
	}

	body := strings.TrimSpace(evt.Body)
	mediaURL := strings.TrimSpace(evt.MediaURL)
	kind := evt.Kind
	switch {
	case kind == "" && body == "" && mediaURL != "":
		kind = entities.KindDocument
	case kind == "":
		kind = entities.KindText
	case !kind.Valid():
		return NormalizedMessage{}, entities.InvalidEvent("unknown message type " + string(kind))
	}

	ts := evt.ReceivedAt
	if ts.IsZero() {
		ts = n.now()
	}

	return NormalizedMessage{
		ConnectionID: strings.TrimSpace(evt.ConnectionID),
		Sender:       sender,
		Recipient:    NormalizeNumber(evt.To),
		Body:         body,
		MatchText:    strings.ToLower(body),
		Kind:         kind,
		MediaURL:     mediaURL,
		Timestamp:    ts.UTC(),
		Sequence:     n.seq.Add(1),
		ExternalID:   evt.ExternalID,
		Metadata:     evt.Metadata,
	}, nil
}
