package incident

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store/memstore"
)

func newTestService(t *testing.T) (*Service, *events.MemBus) {
	t.Helper()
	bus := events.NewMemBus()
	repo := NewRepository(memstore.New())
	return NewService(repo, events.NewPublisher(bus, nil, nil), nil), bus
}

func TestDeclareWritesAndPublishes(t *testing.T) {
	t.Parallel()

	svc, bus := newTestService(t)
	inc, err := svc.Declare(context.Background(), Declaration{
		Title:    "checkout errors",
		Severity: SeverityP2,
		Source:   "monitor",
	})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if !strings.HasPrefix(inc.ID, "INC-") {
		t.Fatalf("id = %q", inc.ID)
	}
	if inc.Status != StatusOpen {
		t.Fatalf("status = %s, want OPEN", inc.Status)
	}

	view, err := svc.Get(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Timeline) != 1 || view.Timeline[0].Type != "declared" {
		t.Fatalf("timeline = %+v", view.Timeline)
	}

	var types []string
	for _, ev := range bus.Events() {
		types = append(types, ev.DetailType)
	}
	if len(types) != 2 || types[0] != events.TypeIncidentDeclared || types[1] != events.TypeTimelineEventAdded {
		t.Fatalf("published = %v", types)
	}
}

func TestDeclareValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	cases := map[string]Declaration{
		"empty title":      {Severity: SeverityP2},
		"long title":       {Title: strings.Repeat("x", 201), Severity: SeverityP2},
		"long description": {Title: "t", Description: strings.Repeat("x", 2001), Severity: SeverityP2},
		"bad severity":     {Title: "t", Severity: "P9"},
		"P0 no context":    {Title: "everything down", Severity: SeverityP0},
	}
	for name, d := range cases {
		if _, err := svc.Declare(context.Background(), d); !fault.IsValidation(err) {
			t.Errorf("%s: error kind = %v, want validation", name, fault.KindOf(err))
		}
	}

	// P0 with a description is fine
	if _, err := svc.Declare(context.Background(), Declaration{
		Title: "everything down", Description: "all regions dark", Severity: SeverityP0,
	}); err != nil {
		t.Fatalf("valid P0 rejected: %v", err)
	}
}

func TestDeclareToleratesPublishFailure(t *testing.T) {
	t.Parallel()

	repo := NewRepository(memstore.New())
	svc := NewService(repo, events.NewPublisher(failingBus{}, nil, nil), nil)

	inc, err := svc.Declare(context.Background(), Declaration{Title: "t", Severity: SeverityP3})
	if err != nil {
		t.Fatalf("declare failed on publish error: %v", err)
	}
	// the write survived
	if _, err := repo.GetMetadata(context.Background(), inc.ID); err != nil {
		t.Fatalf("metadata missing after publish failure: %v", err)
	}
}

type failingBus struct{}

func (failingBus) PutEvents(context.Context, []events.Event) ([]events.EntryResult, error) {
	return nil, errors.New("bus unavailable")
}

func TestChangeStatusLifecycle(t *testing.T) {
	t.Parallel()

	svc, bus := newTestService(t)
	inc, _ := svc.Declare(context.Background(), Declaration{Title: "t", Severity: SeverityP1})

	ack, err := svc.ChangeStatus(context.Background(), inc.ID, StatusAcknowledged, "u-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if ack.AcknowledgedAt == nil {
		t.Fatal("acknowledged_at not stamped")
	}

	res, err := svc.ChangeStatus(context.Background(), inc.ID, StatusResolved, "u-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ResolvedAt == nil {
		t.Fatal("resolved_at not stamped")
	}

	var resolved bool
	for _, ev := range bus.Events() {
		if ev.DetailType == events.TypeIncidentResolved {
			resolved = true
		}
	}
	if !resolved {
		t.Fatal("resolution event not published")
	}

	// invalid transition from RESOLVED
	if _, err := svc.ChangeStatus(context.Background(), inc.ID, StatusMitigating, "u-1"); !fault.IsInvalidTransition(err) {
		t.Fatalf("error kind = %v, want invalid transition", fault.KindOf(err))
	}
}

func TestChangeStatusUnknownIncident(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	if _, err := svc.ChangeStatus(context.Background(), "INC-missing", StatusAcknowledged, "u-1"); !fault.IsNotFound(err) {
		t.Fatalf("error kind = %v, want not found", fault.KindOf(err))
	}
}

func TestConcurrentStatusChangeOneWins(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	inc, _ := svc.Declare(context.Background(), Declaration{Title: "t", Severity: SeverityP1})

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ChangeStatus(context.Background(), inc.ID, StatusAcknowledged, "u-1")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case fault.IsConditionFailed(err) || fault.IsInvalidTransition(err):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != workers-1 {
		t.Fatalf("won = %d lost = %d, want 1 and %d", won, lost, workers-1)
	}
}

func TestAddCommentAndParticipant(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	inc, _ := svc.Declare(context.Background(), Declaration{Title: "t", Severity: SeverityP2})

	if _, err := svc.AddComment(context.Background(), inc.ID, "u-1", "Sam", "looking"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := svc.AddComment(context.Background(), inc.ID, "u-1", "Sam", strings.Repeat("x", 1001)); !fault.IsValidation(err) {
		t.Fatal("oversized comment accepted")
	}
	if _, err := svc.AddComment(context.Background(), "INC-missing", "u-1", "Sam", "hi"); !fault.IsNotFound(err) {
		t.Fatal("comment on missing incident accepted")
	}

	if _, err := svc.AddParticipant(context.Background(), inc.ID, "u-2", "Kim", "commander"); err != nil {
		t.Fatalf("participant: %v", err)
	}

	view, _ := svc.Get(context.Background(), inc.ID)
	if len(view.Comments) != 1 || len(view.Participants) != 1 {
		t.Fatalf("view = %d comments %d participants", len(view.Comments), len(view.Participants))
	}
}

func TestListByStatusAndUser(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Declare(ctx, Declaration{Title: "a", Severity: SeverityP2})
	b, _ := svc.Declare(ctx, Declaration{Title: "b", Severity: SeverityP0, Description: "bad"})
	svc.AddParticipant(ctx, a.ID, "u-9", "Sam", "responder")
	svc.AddParticipant(ctx, b.ID, "u-9", "Sam", "responder")

	open, _, err := svc.ListByStatus(ctx, StatusOpen, 10, "")
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open incidents = %d, want 2", len(open))
	}
	// severity orders the index: P0 first
	if open[0].Severity != SeverityP0 {
		t.Fatalf("first listed severity = %s, want P0", open[0].Severity)
	}

	ids, _, err := svc.ListByUser(ctx, "u-9", 10, "")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("user incidents = %d, want 2", len(ids))
	}
}

func TestTimelineOrderAcrossSecondBoundary(t *testing.T) {
	t.Parallel()

	repo := NewRepository(memstore.New())
	ctx := context.Background()
	// whole second first, fractional second after it
	base := time.Date(2026, 3, 1, 8, 0, 5, 0, time.UTC)

	inc := &Incident{
		ID: "INC-ord", Title: "t", Status: StatusOpen, Severity: SeverityP2,
		CreatedAt: base, UpdatedAt: base,
	}
	first := &TimelineEvent{
		IncidentID: "INC-ord", EventID: "ev-1", Timestamp: base,
		Type: "declared", Description: "first",
	}
	if err := repo.Create(ctx, inc, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.AppendEvent(ctx, &TimelineEvent{
		IncidentID: "INC-ord", EventID: "ev-2", Timestamp: base.Add(500 * time.Millisecond),
		Type: "status_change", Description: "second",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	view, err := repo.Get(ctx, "INC-ord")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Timeline) != 2 {
		t.Fatalf("timeline rows = %d, want 2", len(view.Timeline))
	}
	if view.Timeline[0].EventID != "ev-1" || view.Timeline[1].EventID != "ev-2" {
		t.Fatalf("timeline order = [%s %s], want [ev-1 ev-2]",
			view.Timeline[0].EventID, view.Timeline[1].EventID)
	}
}

func TestTimelineKeepsTimestampOrder(t *testing.T) {
	t.Parallel()

	repo := NewRepository(memstore.New())
	svc := NewService(repo, nil, nil)
	// Half-second steps cross an exact second boundary: sort keys must order
	// 08:00:01Z before 08:00:01.5Z, which only holds with fixed-width
	// fractional seconds in the key encoding.
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * 500 * time.Millisecond)
	}

	inc, err := svc.Declare(context.Background(), Declaration{Title: "t", Severity: SeverityP2})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if _, err := svc.ChangeStatus(context.Background(), inc.ID, StatusAcknowledged, "u-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := svc.ChangeStatus(context.Background(), inc.ID, StatusResolved, "u-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	view, _ := svc.Get(context.Background(), inc.ID)
	if len(view.Timeline) != 3 {
		t.Fatalf("timeline rows = %d, want 3", len(view.Timeline))
	}
	for i := 1; i < len(view.Timeline); i++ {
		if view.Timeline[i].Timestamp.Before(view.Timeline[i-1].Timestamp) {
			t.Fatalf("timeline out of order at %d", i)
		}
	}
	if view.Timeline[0].Type != "declared" || view.Timeline[2].Type != "status_change" {
		t.Fatalf("timeline types = %v, %v, %v",
			view.Timeline[0].Type, view.Timeline[1].Type, view.Timeline[2].Type)
	}
}
