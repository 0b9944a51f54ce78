package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/queue"
	"github.com/linnemanlabs/aegis/internal/store/memstore"
)

func requestBody(t *testing.T, req Request) string {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return string(b)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *MockSender, *events.MemBus) {
	t.Helper()
	sender := NewMockSender()
	bus := events.NewMemBus()
	d := NewDispatcher(
		Registry{TypeSlack: sender, TypeEmail: sender},
		NewIdempotencyStore(memstore.New()),
		events.NewPublisher(bus, nil, nil),
		nil, nil,
	)
	return d, sender, bus
}

func TestDuplicateDeliverySendsOnce(t *testing.T) {
	t.Parallel()

	d, sender, _ := newTestDispatcher(t)
	body := requestBody(t, Request{
		DeliveryID: "d-1",
		IncidentID: "INC-1",
		Type:       TypeSlack,
		Priority:   PriorityHigh,
		Subject:    "db down",
		Body:       "primary unreachable",
	})

	first, err := d.ProcessMessage(context.Background(), body)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := d.ProcessMessage(context.Background(), body)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	if got := len(sender.Sent()); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
	if second.MessageID != first.MessageID || second.Status != "Sent" {
		t.Fatalf("cached result diverged: first=%+v second=%+v", first, second)
	}
}

func TestFailedSendReleasesClaimForRetry(t *testing.T) {
	t.Parallel()

	d, sender, bus := newTestDispatcher(t)
	body := requestBody(t, Request{DeliveryID: "d-2", IncidentID: "INC-1", Type: TypeSlack, Subject: "s", Body: "b"})

	sender.FailWith(errors.New("webhook 500"))
	if _, err := d.ProcessMessage(context.Background(), body); !fault.IsExternal(err) {
		t.Fatalf("error kind = %v, want external", fault.KindOf(err))
	}

	// claim released: the retry goes through and actually sends
	sender.FailWith(nil)
	res, err := d.ProcessMessage(context.Background(), body)
	if err != nil {
		t.Fatalf("retry delivery: %v", err)
	}
	if res.Status != "Sent" || len(sender.Sent()) != 1 {
		t.Fatalf("retry did not send: %+v, sends = %d", res, len(sender.Sent()))
	}

	var failed, sent int
	for _, ev := range bus.Events() {
		switch ev.DetailType {
		case events.TypeNotificationFailed:
			failed++
		case events.TypeNotificationSent:
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Fatalf("outcome events: failed = %d sent = %d, want 1 each", failed, sent)
	}
}

func TestMalformedMessageIsRejected(t *testing.T) {
	t.Parallel()

	d, sender, _ := newTestDispatcher(t)
	if _, err := d.ProcessMessage(context.Background(), "{not json"); !fault.IsValidation(err) {
		t.Fatalf("error kind = %v, want validation", fault.KindOf(err))
	}
	if _, err := d.ProcessMessage(context.Background(), `{"delivery_id":"d-3","type":"CARRIER_PIGEON"}`); !fault.IsValidation(err) {
		t.Fatalf("unknown type not rejected")
	}
	if len(sender.Sent()) != 0 {
		t.Fatal("invalid request reached a sender")
	}
}

func TestUnregisteredTypeReleasesClaim(t *testing.T) {
	t.Parallel()

	sender := NewMockSender()
	idem := NewIdempotencyStore(memstore.New())
	d := NewDispatcher(Registry{TypeSlack: sender}, idem, nil, nil, nil)

	body := requestBody(t, Request{DeliveryID: "d-4", IncidentID: "INC-1", Type: TypeSMS, Subject: "s", Body: "b"})
	if _, err := d.ProcessMessage(context.Background(), body); !fault.IsValidation(err) {
		t.Fatalf("missing sender not rejected")
	}

	// the claim must not leak: a later Begin for the same id succeeds
	cached, err := idem.Begin(context.Background(), "d-4")
	if err != nil || cached != nil {
		t.Fatalf("claim leaked: cached=%+v err=%v", cached, err)
	}
}

func TestHandleBatchReportsOnlyFailedMessages(t *testing.T) {
	t.Parallel()

	d, sender, _ := newTestDispatcher(t)
	_ = sender

	msgs := []queue.Message{
		{ID: "m-1", Body: requestBody(t, Request{DeliveryID: "d-5", IncidentID: "INC-1", Type: TypeSlack, Subject: "s", Body: "b"})},
		{ID: "m-2", Body: "{broken"},
		{ID: "m-3", Body: requestBody(t, Request{DeliveryID: "d-6", IncidentID: "INC-1", Type: TypeEmail, Subject: "s", Body: "b", Recipient: "oncall@example.com"})},
	}

	failed := d.HandleBatch(context.Background(), msgs)
	if len(failed) != 1 || failed[0] != "m-2" {
		t.Fatalf("failed ids = %v, want [m-2]", failed)
	}
}

func TestIdempotencyClaimExpires(t *testing.T) {
	t.Parallel()

	idem := NewIdempotencyStore(memstore.New())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	idem.now = func() time.Time { return now }
	ctx := context.Background()

	if cached, err := idem.Begin(ctx, "d-7"); err != nil || cached != nil {
		t.Fatalf("initial claim: cached=%+v err=%v", cached, err)
	}
	// second consumer while the claim is live
	if _, err := idem.Begin(ctx, "d-7"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("live claim not enforced: %v", err)
	}

	// abandoned claim ages out and can be re-taken
	now = now.Add(2 * time.Hour)
	if cached, err := idem.Begin(ctx, "d-7"); err != nil || cached != nil {
		t.Fatalf("expired claim not reclaimed: cached=%+v err=%v", cached, err)
	}
}

func TestCompletedResultExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	idem := NewIdempotencyStore(memstore.New())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	idem.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := idem.Begin(ctx, "d-8"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	res := &Result{DeliveryID: "d-8", Status: "Sent", MessageID: "mid-1", Timestamp: now}
	if err := idem.Complete(ctx, res); err != nil {
		t.Fatalf("complete: %v", err)
	}

	cached, err := idem.Begin(ctx, "d-8")
	if err != nil {
		t.Fatalf("begin after complete: %v", err)
	}
	if cached == nil || cached.MessageID != "mid-1" {
		t.Fatalf("cached result = %+v", cached)
	}

	now = now.Add(2 * time.Hour)
	cached, err = idem.Begin(ctx, "d-8")
	if err != nil || cached != nil {
		t.Fatalf("aged-out result still cached: cached=%+v err=%v", cached, err)
	}
}

func TestStaleCompleteCannotOverwriteNewOwner(t *testing.T) {
	t.Parallel()

	idem := NewIdempotencyStore(memstore.New())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	idem.now = func() time.Time { return now }
	ctx := context.Background()

	// first consumer claims, then stalls past the TTL
	if _, err := idem.Begin(ctx, "d-9"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	now = now.Add(2 * time.Hour)

	// second consumer tears down the expired claim, re-claims, and completes
	if cached, err := idem.Begin(ctx, "d-9"); err != nil || cached != nil {
		t.Fatalf("re-claim: cached=%+v err=%v", cached, err)
	}
	if err := idem.Complete(ctx, &Result{DeliveryID: "d-9", Status: "Sent", MessageID: "mid-new", Timestamp: now}); err != nil {
		t.Fatalf("new owner complete: %v", err)
	}

	// the stalled consumer wakes up; its completion lost ownership long ago
	err := idem.Complete(ctx, &Result{DeliveryID: "d-9", Status: "Sent", MessageID: "mid-stale", Timestamp: now})
	if !fault.IsConditionFailed(err) {
		t.Fatalf("stale complete error kind = %v, want condition failed", fault.KindOf(err))
	}

	cached, err := idem.Begin(ctx, "d-9")
	if err != nil || cached == nil || cached.MessageID != "mid-new" {
		t.Fatalf("new owner's result clobbered: cached=%+v err=%v", cached, err)
	}
}
