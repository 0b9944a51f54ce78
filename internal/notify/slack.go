package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aegis/internal/fault"
)

const slackTimeout = 10 * time.Second

// SlackSender posts attachment-style messages to an incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSender creates a Slack sender.
func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: slackTimeout},
	}
}

// slackColor maps priority to the attachment sidebar color.
func slackColor(p Priority) string {
	switch p {
	case PriorityCritical:
		return "#FF0000"
	case PriorityHigh:
		return "#FF9900"
	case PriorityNormal:
		return "#FFCC00"
	default:
		return "#00CC00"
	}
}

// Send posts the notification. Webhooks do not return message ids, so the
// sender mints one for the delivery record.
func (s *SlackSender) Send(ctx context.Context, req *Request) (string, error) {
	payload := map[string]any{
		"attachments": []map[string]any{{
			"color": slackColor(req.Priority),
			"title": req.Subject,
			"text":  req.Body,
			"footer": fmt.Sprintf("aegis • %s", req.IncidentID),
			"ts":     time.Now().Unix(),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("slack: marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("slack: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.KindExternal, err, "slack: post webhook")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fault.Newf(fault.KindExternal, "slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return "slack-" + ulid.Make().String(), nil
}
