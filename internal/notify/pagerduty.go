package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/aegis/internal/fault"
)

const (
	pagerdutyEventsURL = "https://events.pagerduty.com/v2/enqueue"
	pagerdutyTimeout   = 10 * time.Second
)

// PagerDutySender triggers pages through the Events v2 API.
type PagerDutySender struct {
	routingKey string
	endpoint   string
	client     *http.Client
}

// NewPagerDutySender creates a page sender for a service routing key.
func NewPagerDutySender(routingKey string) *PagerDutySender {
	return &PagerDutySender{
		routingKey: routingKey,
		endpoint:   pagerdutyEventsURL,
		client:     &http.Client{Timeout: pagerdutyTimeout},
	}
}

// pageSeverity maps priority onto the Events v2 severity scale.
func pageSeverity(p Priority) string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "error"
	case PriorityNormal:
		return "warning"
	default:
		return "info"
	}
}

// Send enqueues a trigger event keyed on the delivery id, so a replayed
// delivery dedupes on the PagerDuty side too.
func (s *PagerDutySender) Send(ctx context.Context, req *Request) (string, error) {
	payload := map[string]any{
		"routing_key":  s.routingKey,
		"event_action": "trigger",
		"dedup_key":    req.DeliveryID,
		"payload": map[string]any{
			"summary":  req.Subject,
			"source":   "aegis/" + req.IncidentID,
			"severity": pageSeverity(req.Priority),
			"custom_details": map[string]any{
				"body":        req.Body,
				"incident_id": req.IncidentID,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pagerduty: marshal event: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pagerduty: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.KindExternal, err, "pagerduty: post event")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusAccepted {
		return "", fault.Newf(fault.KindExternal, "pagerduty: events api returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		DedupKey string `json:"dedup_key"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fault.Wrap(fault.KindExternal, err, "pagerduty: unmarshal response")
	}
	return out.DedupKey, nil
}
