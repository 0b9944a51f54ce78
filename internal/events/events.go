// Package events publishes domain events to a message bus. The store write
// is the source of truth and publish is best-effort notification: a rejected
// publish never unwinds a committed write, and batch failures surface as
// per-entry outcomes rather than exceptions.
package events

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Event sources.
const (
	SourceIncidents     = "aegis.incidents"
	SourceNotifications = "aegis.notifications"
	SourceWorkflow      = "aegis.workflow"
)

// Event detail types.
const (
	TypeIncidentDeclared   = "Incident Declared"
	TypeTimelineEventAdded = "Timeline Event Added"
	TypeAISummaryGenerated = "AI Summary Generated"
	TypeIncidentResolved   = "Incident Resolved"
	TypeStatusChanged      = "Incident Status Changed"
	TypeNotificationSent   = "Notification Sent"
	TypeNotificationFailed = "Notification Failed"
)

// maxEntriesPerCall is the transport's PutEvents entry limit; batches are
// chunked to it and each chunk submitted independently.
const maxEntriesPerCall = 10

// Event is the bus envelope. Detail is a flat JSON-serializable map.
type Event struct {
	Source     string         `json:"source"`
	DetailType string         `json:"detailType"`
	Detail     map[string]any `json:"detail"`
	Time       time.Time      `json:"timestamp"`
}

// EntryResult is the per-entry outcome of a batch publish.
type EntryResult struct {
	EventID string
	Err     error
}

// Bus is the transport. PutEvents accepts at most maxEntriesPerCall events
// and reports one result per entry; a non-nil error means the whole call
// failed before any entry was accepted.
type Bus interface {
	PutEvents(ctx context.Context, entries []Event) ([]EntryResult, error)
}

// Publisher wraps a Bus with chunking, stamping and failure accounting.
type Publisher struct {
	bus     Bus
	logger  log.Logger
	metrics *Metrics
}

// NewPublisher creates a Publisher. metrics may be nil.
func NewPublisher(bus Bus, logger log.Logger, metrics *Metrics) *Publisher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Publisher{bus: bus, logger: logger, metrics: metrics}
}

// Publish sends a single event and returns its bus-assigned id.
func (p *Publisher) Publish(ctx context.Context, source, detailType string, detail map[string]any) (string, error) {
	results, err := p.bus.PutEvents(ctx, []Event{{
		Source:     source,
		DetailType: detailType,
		Detail:     detail,
		Time:       time.Now().UTC(),
	}})
	if err != nil {
		p.countFailure(1)
		return "", err
	}
	if results[0].Err != nil {
		p.countFailure(1)
		return "", results[0].Err
	}
	p.countPublished(detailType, 1)
	return results[0].EventID, nil
}

// PublishBatch sends events in transport-sized chunks and returns one result
// per input event, in order. A chunk that fails outright marks all of its
// entries failed; remaining chunks are still submitted.
func (p *Publisher) PublishBatch(ctx context.Context, evs []Event) []EntryResult {
	out := make([]EntryResult, 0, len(evs))
	now := time.Now().UTC()

	for start := 0; start < len(evs); start += maxEntriesPerCall {
		end := min(start+maxEntriesPerCall, len(evs))
		chunk := make([]Event, end-start)
		copy(chunk, evs[start:end])
		for i := range chunk {
			if chunk[i].Time.IsZero() {
				chunk[i].Time = now
			}
		}

		results, err := p.bus.PutEvents(ctx, chunk)
		if err != nil {
			// hard transport error: fail the chunk, continue with the rest
			p.logger.Error(ctx, err, "event batch chunk failed", "chunk_size", len(chunk))
			p.countFailure(len(chunk))
			for range chunk {
				out = append(out, EntryResult{Err: err})
			}
			continue
		}
		failed := 0
		for i, res := range results {
			if res.Err != nil {
				failed++
				continue
			}
			p.countPublished(chunk[i].DetailType, 1)
		}
		if failed > 0 {
			p.logger.Warn(ctx, "event batch had rejected entries", "failed", failed, "chunk_size", len(chunk))
			p.countFailure(failed)
		}
		out = append(out, results...)
	}
	return out
}

// PublishIncidentEvent publishes an incident-scoped event with the standard
// incidentId/timestamp fields merged into detail.
func (p *Publisher) PublishIncidentEvent(ctx context.Context, incidentID, detailType string, detail map[string]any) (string, error) {
	merged := map[string]any{
		"incidentId": incidentID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range detail {
		merged[k] = v
	}
	return p.Publish(ctx, SourceIncidents, detailType, merged)
}

// PublishNotificationEvent publishes a notification outcome event.
func (p *Publisher) PublishNotificationEvent(ctx context.Context, incidentID, notificationType, status string, metadata map[string]any) (string, error) {
	detail := map[string]any{
		"incidentId":       incidentID,
		"notificationType": notificationType,
		"status":           status,
		"timestamp":        time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(metadata) > 0 {
		detail["metadata"] = metadata
	}
	return p.Publish(ctx, SourceNotifications, "Notification "+status, detail)
}

func (p *Publisher) countFailure(n int) {
	if p.metrics != nil {
		p.metrics.PublishFailures.Add(float64(n))
	}
}

func (p *Publisher) countPublished(detailType string, n int) {
	if p.metrics != nil {
		p.metrics.Published.WithLabelValues(detailType).Add(float64(n))
	}
}
