package entities

import (
	"strconv"
	"time"
)

// InboundEvent is a raw inbound message as delivered by a transport, before
// normalization. Kind may be empty; the normalizer infers it.
type InboundEvent struct {
	ConnectionID string         `json:"connection_id"`
	ExternalID   string         `json:"external_id,omitempty"`
	From         string         `json:"from"`
	To           string         `json:"to,omitempty"`
	Body         string         `json:"body,omitempty"`
	MediaURL     string         `json:"media_url,omitempty"`
	Kind         MessageKind    `json:"message_type,omitempty"`
	ReceivedAt   time.Time      `json:"received_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// HTTPStatusError is a non-2xx answer from a remote HTTP endpoint.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.StatusCode) + " from " + e.URL
}
