// Package scribe generates AI incident summaries from the composed incident
// view and records them as append-only summary rows.
package scribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/incident"
	"github.com/linnemanlabs/aegis/internal/llm/claude"
)

const (
	systemPrompt = "You are an incident scribe. Summarize the incident state for a responder " +
		"joining now: what happened, current status, actions taken, open questions. " +
		"Be factual and brief; do not speculate beyond the timeline."

	maxSummaryTokens = 1024
)

// Provider is the LLM surface the scribe needs.
type Provider interface {
	Send(ctx context.Context, req *claude.Request) (*claude.Response, error)
}

// Scribe turns incident views into stored summaries.
type Scribe struct {
	provider  Provider
	repo      *incident.Repository
	publisher *events.Publisher
	logger    log.Logger
	model     string
}

// New wires a scribe. publisher may be nil.
func New(provider Provider, repo *incident.Repository, publisher *events.Publisher, logger log.Logger, model string) *Scribe {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scribe{provider: provider, repo: repo, publisher: publisher, logger: logger, model: model}
}

// HandleEvent is the bus subscriber hook: summarize on resolution, when the
// timeline is complete enough to be worth writing up.
func (s *Scribe) HandleEvent(ctx context.Context, ev events.Event) {
	if ev.Source != events.SourceIncidents || ev.DetailType != events.TypeIncidentResolved {
		return
	}
	id, _ := ev.Detail["incidentId"].(string)
	if id == "" {
		return
	}
	if _, err := s.Summarize(ctx, id); err != nil {
		s.logger.Error(ctx, err, "incident summary failed", "incident_id", id)
	}
}

// Summarize generates and stores one summary for the incident.
func (s *Scribe) Summarize(ctx context.Context, incidentID string) (*incident.AISummary, error) {
	view, err := s.repo.Get(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("load incident: %w", err)
	}

	resp, err := s.provider.Send(ctx, &claude.Request{
		MaxTokens: maxSummaryTokens,
		System:    systemPrompt,
		Messages: []claude.Message{{
			Role:    "user",
			Content: buildPrompt(view),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("generate summary: empty response")
	}

	summary := &incident.AISummary{
		IncidentID:       incidentID,
		SummaryID:        ulid.Make().String(),
		Timestamp:        time.Now().UTC(),
		SummaryText:      text,
		ModelID:          resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	if summary.ModelID == "" {
		summary.ModelID = s.model
	}
	if err := s.repo.AppendSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("store summary: %w", err)
	}

	if s.publisher != nil {
		if _, err := s.publisher.PublishIncidentEvent(ctx, incidentID, events.TypeAISummaryGenerated, map[string]any{
			"summaryId": summary.SummaryID,
			"modelId":   summary.ModelID,
		}); err != nil {
			s.logger.Warn(ctx, "summary event not published", "incident_id", incidentID, "error", err.Error())
		}
	}
	s.logger.Info(ctx, "incident summary stored",
		"incident_id", incidentID, "summary_id", summary.SummaryID, "model", summary.ModelID)
	return summary, nil
}

// buildPrompt flattens the view into a plain-text briefing.
func buildPrompt(view *incident.View) string {
	var b strings.Builder
	meta := view.Metadata
	fmt.Fprintf(&b, "Incident %s: %s\n", meta.ID, meta.Title)
	fmt.Fprintf(&b, "Status: %s  Severity: %s  Declared: %s\n",
		meta.Status, meta.Severity, meta.CreatedAt.Format(time.RFC3339))
	if meta.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", meta.Description)
	}

	if len(view.Participants) > 0 {
		b.WriteString("\nResponders:\n")
		for _, p := range view.Participants {
			fmt.Fprintf(&b, "- %s (%s)\n", p.Name, p.Role)
		}
	}

	if len(view.Timeline) > 0 {
		b.WriteString("\nTimeline:\n")
		for _, ev := range view.Timeline {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Description)
		}
	}

	if len(view.Comments) > 0 {
		b.WriteString("\nDiscussion:\n")
		for _, c := range view.Comments {
			fmt.Fprintf(&b, "- %s: %s\n", c.AuthorName, c.Text)
		}
	}

	b.WriteString("\nWrite the summary now.")
	return b.String()
}

// MockProvider returns a canned summary without calling any API. Used when
// mock AI responses are enabled and in tests.
type MockProvider struct{}

// Send implements Provider.
func (MockProvider) Send(_ context.Context, req *claude.Request) (*claude.Response, error) {
	return &claude.Response{
		ID:    "mock-" + ulid.Make().String(),
		Model: "mock",
		Content: []claude.ContentBlock{{
			Type: "text",
			Text: "Mock summary: incident state captured from " +
				fmt.Sprintf("%d chars of context.", promptLen(req)),
		}},
		StopReason: "end_turn",
		Usage:      claude.Usage{InputTokens: promptLen(req) / 4, OutputTokens: 16},
	}, nil
}

func promptLen(req *claude.Request) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}
