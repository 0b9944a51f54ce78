// Package notify delivers incident notifications pulled from the queue.
// Delivery is at-least-once upstream; the dispatcher makes it
// exactly-once-effective with an idempotency record per delivery id.
package notify

import (
	"encoding/json"
	"time"

	"github.com/linnemanlabs/aegis/internal/fault"
)

// Type selects the delivery channel.
type Type string

const (
	TypeSlack Type = "SLACK"
	TypeEmail Type = "EMAIL"
	TypePage  Type = "PAGE"
	TypeSMS   Type = "SMS"
)

// Priority maps onto channel-specific urgency (Slack color, page severity).
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Request is one queued notification. DeliveryID is the idempotency key:
// two messages with the same DeliveryID produce one side effect.
type Request struct {
	DeliveryID string         `json:"delivery_id"`
	IncidentID string         `json:"incident_id"`
	Type       Type           `json:"type"`
	Priority   Priority       `json:"priority"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	Recipient  string         `json:"recipient"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is the recorded outcome of a delivery, cached by the idempotency
// layer and returned verbatim for duplicate messages.
type Result struct {
	DeliveryID string    `json:"delivery_id"`
	Status     string    `json:"status"`
	MessageID  string    `json:"message_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ParseRequest decodes and validates a queued message body.
func ParseRequest(body string) (*Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "decode notification request")
	}
	if req.DeliveryID == "" {
		return nil, fault.New(fault.KindValidation, "delivery_id required")
	}
	switch req.Type {
	case TypeSlack, TypeEmail, TypePage, TypeSMS:
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown notification type %q", req.Type)
	}
	switch req.Priority {
	case "":
		req.Priority = PriorityNormal
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return nil, fault.Newf(fault.KindValidation, "unknown priority %q", req.Priority)
	}
	return &req, nil
}
