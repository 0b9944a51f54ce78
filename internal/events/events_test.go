package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedBus records every PutEvents call and replays canned outcomes.
type scriptedBus struct {
	calls   [][]Event
	results []func(entries []Event) ([]EntryResult, error)
}

func (b *scriptedBus) PutEvents(_ context.Context, entries []Event) ([]EntryResult, error) {
	idx := len(b.calls)
	b.calls = append(b.calls, entries)
	if idx < len(b.results) {
		return b.results[idx](entries)
	}
	return acceptAll(entries)
}

func acceptAll(entries []Event) ([]EntryResult, error) {
	out := make([]EntryResult, len(entries))
	for i := range entries {
		out[i] = EntryResult{EventID: fmt.Sprintf("ev-%d", i)}
	}
	return out, nil
}

func makeEvents(n int) []Event {
	evs := make([]Event, n)
	for i := range evs {
		evs[i] = Event{
			Source:     SourceIncidents,
			DetailType: TypeTimelineEventAdded,
			Detail:     map[string]any{"seq": i},
		}
	}
	return evs
}

func TestPublishBatchChunksAtTransportLimit(t *testing.T) {
	t.Parallel()

	bus := &scriptedBus{}
	p := NewPublisher(bus, nil, nil)

	results := p.PublishBatch(context.Background(), makeEvents(15))

	if len(bus.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(bus.calls))
	}
	if len(bus.calls[0]) != 10 || len(bus.calls[1]) != 5 {
		t.Fatalf("chunk sizes = %d, %d, want 10, 5", len(bus.calls[0]), len(bus.calls[1]))
	}
	if len(results) != 15 {
		t.Fatalf("results = %d, want 15", len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("entry %d failed: %v", i, res.Err)
		}
	}
}

func TestPublishBatchReportsPerEntryFailures(t *testing.T) {
	t.Parallel()

	bus := &scriptedBus{
		results: []func([]Event) ([]EntryResult, error){
			func(entries []Event) ([]EntryResult, error) {
				out, _ := acceptAll(entries)
				out[2] = EntryResult{Err: errors.New("throttled")}
				out[7] = EntryResult{Err: errors.New("throttled")}
				return out, nil
			},
		},
	}
	p := NewPublisher(bus, nil, nil)

	results := p.PublishBatch(context.Background(), makeEvents(15))

	if len(results) != 15 {
		t.Fatalf("results = %d, want 15", len(results))
	}
	var failed, ok int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	if failed != 2 || ok != 13 {
		t.Fatalf("failed = %d, ok = %d, want 2 and 13", failed, ok)
	}
	if results[2].Err == nil || results[7].Err == nil {
		t.Fatal("failures not reported at their original positions")
	}
}

func TestPublishBatchContinuesPastHardChunkError(t *testing.T) {
	t.Parallel()

	bus := &scriptedBus{
		results: []func([]Event) ([]EntryResult, error){
			func([]Event) ([]EntryResult, error) {
				return nil, errors.New("transport down")
			},
		},
	}
	p := NewPublisher(bus, nil, nil)

	results := p.PublishBatch(context.Background(), makeEvents(15))

	if len(bus.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (second chunk still submitted)", len(bus.calls))
	}
	if len(results) != 15 {
		t.Fatalf("results = %d, want 15", len(results))
	}
	for i := 0; i < 10; i++ {
		if results[i].Err == nil {
			t.Fatalf("entry %d from failed chunk reported as published", i)
		}
	}
	for i := 10; i < 15; i++ {
		if results[i].Err != nil {
			t.Fatalf("entry %d from healthy chunk failed: %v", i, results[i].Err)
		}
	}
}

func TestPublishBatchStampsMissingTimestamps(t *testing.T) {
	t.Parallel()

	bus := &scriptedBus{}
	p := NewPublisher(bus, nil, nil)

	evs := makeEvents(2)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evs[1].Time = fixed

	p.PublishBatch(context.Background(), evs)

	sent := bus.calls[0]
	if sent[0].Time.IsZero() {
		t.Fatal("zero timestamp was not stamped")
	}
	if !sent[1].Time.Equal(fixed) {
		t.Fatalf("explicit timestamp rewritten to %v", sent[1].Time)
	}
}

func TestPublishSingleEvent(t *testing.T) {
	t.Parallel()

	bus := NewMemBus()
	p := NewPublisher(bus, nil, nil)

	id, err := p.PublishIncidentEvent(context.Background(), "INC-1", TypeIncidentDeclared, map[string]any{
		"severity": "P1",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("empty event id")
	}

	evs := bus.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].Source != SourceIncidents || evs[0].DetailType != TypeIncidentDeclared {
		t.Fatalf("unexpected envelope: %+v", evs[0])
	}
	if evs[0].Detail["incidentId"] != "INC-1" {
		t.Fatalf("incidentId not merged into detail: %+v", evs[0].Detail)
	}
}
