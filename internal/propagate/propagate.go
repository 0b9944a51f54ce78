// Package propagate turns store change-feed records into realtime client
// updates. The feed is at-least-once and ordered per partition; the gateway
// mutations are idempotent upserts, so replaying a record is harmless.
package propagate

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/incident"
	"github.com/linnemanlabs/aegis/internal/store"
)

// summaryNoticeLimit caps the synthesized timeline text pushed for a new AI
// summary; clients fetch the full text on demand.
const summaryNoticeLimit = 200

// Gateway is the realtime fanout surface. Every method is an upsert keyed
// on the entity's natural id.
type Gateway interface {
	UpdateIncident(ctx context.Context, inc *incident.Incident) error
	AddTimelineEvent(ctx context.Context, ev incident.TimelineEvent) error
	AddComment(ctx context.Context, c incident.Comment) error
	UpdateParticipant(ctx context.Context, p incident.Participant) error
}

// BatchResult summarizes one feed batch.
type BatchResult struct {
	Processed int
	Skipped   int
	Errored   int
}

// Propagator classifies feed records by key shape and forwards them through
// the gateway. A nil gateway turns it into a counting no-op.
type Propagator struct {
	gateway Gateway
	logger  log.Logger
	metrics *Metrics
}

// NewPropagator creates a Propagator. gateway and metrics may be nil.
func NewPropagator(gateway Gateway, logger log.Logger, metrics *Metrics) *Propagator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Propagator{gateway: gateway, logger: logger, metrics: metrics}
}

// ProcessBatch handles each record independently: one bad record is logged
// and counted, never allowed to block the ones behind it. The caller
// advances its cursor past the whole batch regardless.
func (p *Propagator) ProcessBatch(ctx context.Context, records []store.ChangeRecord) BatchResult {
	var res BatchResult
	for _, rec := range records {
		handled, err := p.processRecord(ctx, rec)
		switch {
		case err != nil:
			res.Errored++
			p.count("error")
			p.logger.Error(ctx, err, "feed record propagation failed",
				"pk", rec.PK, "sk", rec.SK, "op", string(rec.Op), "seq", rec.Seq)
		case !handled:
			res.Skipped++
			p.count("skipped")
		default:
			res.Processed++
			p.count("processed")
		}
	}
	return res
}

func (p *Propagator) processRecord(ctx context.Context, rec store.ChangeRecord) (bool, error) {
	// Only incident partitions fan out; idempotency rows and anything else
	// in the table are not client-visible.
	if incident.IDFromPK(rec.PK) == "" {
		return false, nil
	}
	if p.gateway == nil {
		return false, nil
	}

	switch {
	case rec.SK == incident.SKMetadata:
		// A removed incident has nothing to push; clients treat the record
		// as stale on their next read.
		if rec.Op == store.OpRemove {
			return false, nil
		}
		return true, p.gateway.UpdateIncident(ctx, incident.IncidentFromItem(rec.NewImage))

	case strings.HasPrefix(rec.SK, incident.PrefixEvent):
		if rec.Op != store.OpInsert {
			return false, nil
		}
		return true, p.gateway.AddTimelineEvent(ctx, incident.EventFromItem(rec.NewImage))

	case strings.HasPrefix(rec.SK, incident.PrefixComment):
		if rec.Op != store.OpInsert {
			return false, nil
		}
		return true, p.gateway.AddComment(ctx, incident.CommentFromItem(rec.NewImage))

	case strings.HasPrefix(rec.SK, incident.PrefixUser):
		if rec.Op == store.OpRemove {
			// Participant removal stays server-side; the roster converges on
			// the next full read.
			old := incident.ParticipantFromItem(rec.OldImage)
			p.logger.Info(ctx, "participant removed, not propagated",
				"incident_id", old.IncidentID, "user_id", old.UserID)
			return false, nil
		}
		return true, p.gateway.UpdateParticipant(ctx, incident.ParticipantFromItem(rec.NewImage))

	case strings.HasPrefix(rec.SK, incident.PrefixSummary):
		if rec.Op != store.OpInsert {
			return false, nil
		}
		sum := incident.SummaryFromItem(rec.NewImage)
		return true, p.gateway.AddTimelineEvent(ctx, summaryNotice(sum))
	}

	return false, nil
}

// summaryNotice converts an AI summary row into the truncated timeline
// notice clients see in the activity stream. Truncation counts runes so a
// multi-byte character is never split.
func summaryNotice(s incident.AISummary) incident.TimelineEvent {
	text := s.SummaryText
	if utf8.RuneCountInString(text) > summaryNoticeLimit {
		runes := []rune(text)
		text = string(runes[:summaryNoticeLimit]) + "..."
	}
	return incident.TimelineEvent{
		IncidentID:  s.IncidentID,
		EventID:     s.SummaryID,
		Timestamp:   s.Timestamp,
		Type:        "ai_summary",
		Description: text,
		Source:      "aegis.workflow",
	}
}

func (p *Propagator) count(outcome string) {
	if p.metrics != nil {
		p.metrics.Records.WithLabelValues(outcome).Inc()
	}
}
