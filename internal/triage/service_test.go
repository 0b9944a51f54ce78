package triage

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/incident"
	"github.com/linnemanlabs/aegis/internal/store/memstore"
)

func declareIncident(t *testing.T, repo *incident.Repository, id, title string, meta map[string]any) {
	t.Helper()
	now := time.Now().UTC()
	inc := &incident.Incident{
		ID:        id,
		Title:     title,
		Status:    incident.StatusOpen,
		Severity:  incident.SeverityP3,
		Source:    "test",
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  meta,
	}
	initial := &incident.TimelineEvent{
		IncidentID: id, EventID: "ev-0", Timestamp: now,
		Type: "declared", Description: "incident declared", Source: "test",
	}
	if err := repo.Create(context.Background(), inc, initial); err != nil {
		t.Fatalf("create incident: %v", err)
	}
}

func TestHandleEventRecordsRecommendation(t *testing.T) {
	t.Parallel()

	repo := incident.NewRepository(memstore.New())
	svc := NewService(NewEngine(nil), repo, nil, nil)

	declareIncident(t, repo, "INC-1", "Production outage: everything down", map[string]any{
		"service":    "api-gateway",
		"error_rate": 0.8,
	})

	svc.HandleEvent(context.Background(), events.Event{
		Source:     events.SourceIncidents,
		DetailType: events.TypeIncidentDeclared,
		Detail:     map[string]any{"incidentId": "INC-1"},
	})

	view, err := repo.Get(context.Background(), "INC-1")
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	var found *incident.TimelineEvent
	for i := range view.Timeline {
		if view.Timeline[i].Type == "triage_recommendation" {
			found = &view.Timeline[i]
		}
	}
	if found == nil {
		t.Fatal("recommendation row not appended")
	}
	if found.Metadata["recommended_severity"] != "P0" {
		t.Fatalf("recommendation metadata = %+v", found.Metadata)
	}
}

func TestHandleEventIgnoresOtherEventTypes(t *testing.T) {
	t.Parallel()

	repo := incident.NewRepository(memstore.New())
	svc := NewService(NewEngine(nil), repo, nil, nil)
	declareIncident(t, repo, "INC-2", "Production outage", nil)

	svc.HandleEvent(context.Background(), events.Event{
		Source:     events.SourceIncidents,
		DetailType: events.TypeStatusChanged,
		Detail:     map[string]any{"incidentId": "INC-2"},
	})

	view, _ := repo.Get(context.Background(), "INC-2")
	if len(view.Timeline) != 1 {
		t.Fatalf("timeline rows = %d, want 1 (initial only)", len(view.Timeline))
	}
}

func TestEvaluateNoMatchLeavesTimelineAlone(t *testing.T) {
	t.Parallel()

	repo := incident.NewRepository(memstore.New())
	svc := NewService(NewEngine(nil), repo, nil, nil)
	declareIncident(t, repo, "INC-3", "routine maintenance note", nil)

	if err := svc.Evaluate(context.Background(), "INC-3"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	view, _ := repo.Get(context.Background(), "INC-3")
	if len(view.Timeline) != 1 {
		t.Fatalf("timeline rows = %d, want 1", len(view.Timeline))
	}
}
