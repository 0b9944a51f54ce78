// Package memqueue is an in-memory queue.Queue for local operation and
// tests. It models the redelivery behavior the dispatcher depends on:
// visibility timeouts, receive counting, and dead-lettering after too many
// failed deliveries.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/queue"
)

type entry struct {
	id            string
	body          string
	receiptHandle string
	receiveCount  int
	visibleAt     time.Time
}

// Queue is an in-memory queue with visibility-timeout redelivery.
type Queue struct {
	mu         sync.Mutex
	entries    []*entry
	dead       []queue.Message
	visibility time.Duration
	maxReceive int
	now        func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibility overrides the default 30s visibility window.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// WithMaxReceive sets how many deliveries a message gets before it is moved
// to the dead-letter list. Zero disables dead-lettering.
func WithMaxReceive(n int) Option {
	return func(q *Queue) { q.maxReceive = n }
}

// WithClock overrides the time source. Tests use this to advance visibility
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		visibility: 30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues a payload, immediately visible.
func (q *Queue) Send(_ context.Context, body string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := ulid.Make().String()
	q.entries = append(q.entries, &entry{id: id, body: body, visibleAt: q.now()})
	return id, nil
}

// Receive hands out up to max visible messages, hiding each for the
// visibility window. Messages past their receive limit are moved to the
// dead-letter list instead of being delivered again.
func (q *Queue) Receive(_ context.Context, max int) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []queue.Message
	kept := q.entries[:0]
	for _, e := range q.entries {
		if len(out) >= max || now.Before(e.visibleAt) {
			kept = append(kept, e)
			continue
		}
		if q.maxReceive > 0 && e.receiveCount >= q.maxReceive {
			q.dead = append(q.dead, queue.Message{
				ID:           e.id,
				Body:         e.body,
				ReceiveCount: e.receiveCount,
			})
			continue
		}
		e.receiveCount++
		e.receiptHandle = ulid.Make().String()
		e.visibleAt = now.Add(q.visibility)
		kept = append(kept, e)
		out = append(out, queue.Message{
			ID:            e.id,
			Body:          e.body,
			ReceiptHandle: e.receiptHandle,
			ReceiveCount:  e.receiveCount,
		})
	}
	q.entries = kept
	return out, nil
}

// Delete acknowledges a delivery by its receipt handle. A handle from a
// superseded delivery is rejected: the message has already been handed out
// again and that newer delivery owns it.
func (q *Queue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.receiptHandle == receiptHandle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return fault.New(fault.KindNotFound, "receipt handle not found")
}

// DeadLetters returns a copy of everything dead-lettered so far.
func (q *Queue) DeadLetters() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Len reports how many messages remain queued, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
