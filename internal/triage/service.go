package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/incident"
)

// Service reacts to incident declarations: it scores the incident and
// appends the recommendation to the timeline. It never changes severity
// itself; the recommendation is advice for the responder.
type Service struct {
	engine  *Engine
	repo    *incident.Repository
	logger  log.Logger
	metrics *Metrics
}

// NewService wires the triage service. metrics may be nil.
func NewService(engine *Engine, repo *incident.Repository, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{engine: engine, repo: repo, logger: logger, metrics: metrics}
}

// HandleEvent is the bus subscriber hook; it only reacts to declarations.
func (s *Service) HandleEvent(ctx context.Context, ev events.Event) {
	if ev.Source != events.SourceIncidents || ev.DetailType != events.TypeIncidentDeclared {
		return
	}
	id, _ := ev.Detail["incidentId"].(string)
	if id == "" {
		return
	}
	if err := s.Evaluate(ctx, id); err != nil {
		s.logger.Error(ctx, err, "triage evaluation failed", "incident_id", id)
	}
}

// Evaluate scores one incident and records the recommendation.
func (s *Service) Evaluate(ctx context.Context, incidentID string) error {
	inc, err := s.repo.GetMetadata(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}

	rec := s.engine.Evaluate(InputFromIncident(inc))
	if rec == nil {
		s.count("no_match")
		s.logger.Info(ctx, "no triage rule matched", "incident_id", incidentID)
		return nil
	}
	s.count(string(rec.Severity))

	now := time.Now().UTC()
	event := &incident.TimelineEvent{
		IncidentID: incidentID,
		EventID:    ulid.Make().String(),
		Timestamp:  now,
		Type:       "triage_recommendation",
		Description: fmt.Sprintf("Triage rule %q recommends severity %s (confidence %.2f)",
			rec.Rule, rec.Severity, rec.Confidence),
		Source: "aegis.workflow",
		Metadata: map[string]any{
			"rule":                 rec.Rule,
			"recommended_severity": string(rec.Severity),
			"confidence":           rec.Confidence,
			"signals":              rec.Signals,
		},
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append recommendation: %w", err)
	}

	s.logger.Info(ctx, "triage recommendation recorded",
		"incident_id", incidentID,
		"rule", rec.Rule,
		"recommended_severity", string(rec.Severity),
		"confidence", rec.Confidence,
	)
	return nil
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Evaluations.WithLabelValues(outcome).Inc()
	}
}
