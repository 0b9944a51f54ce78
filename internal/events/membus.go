package events

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemBus is an in-memory Bus for local operation and tests. Subscribers run
// synchronously in PutEvents; a subscriber error does not reject the entry
// (matching the bus model, where delivery to targets is decoupled from
// acceptance).
type MemBus struct {
	mu          sync.Mutex
	events      []Event
	subscribers []func(context.Context, Event)
}

// NewMemBus initializes an empty MemBus.
func NewMemBus() *MemBus {
	return &MemBus{}
}

// Subscribe registers a handler invoked for every accepted event. Register
// before the first publish; used by local-mode wiring (triage, scribe).
func (b *MemBus) Subscribe(fn func(context.Context, Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// PutEvents accepts every entry and assigns ulid event ids.
func (b *MemBus) PutEvents(ctx context.Context, entries []Event) ([]EntryResult, error) {
	b.mu.Lock()
	b.events = append(b.events, entries...)
	subs := make([]func(context.Context, Event), len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	results := make([]EntryResult, len(entries))
	for i := range entries {
		results[i] = EntryResult{EventID: ulid.Make().String()}
	}
	for _, fn := range subs {
		for _, ev := range entries {
			fn(ctx, ev)
		}
	}
	return results, nil
}

// Events returns a copy of everything accepted so far.
func (b *MemBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
