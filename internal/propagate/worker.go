package propagate

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/store"
)

// Worker polls the store change feed and drives the propagator. The cursor
// only advances past batches that have been handed to the propagator, so a
// crash replays records rather than dropping them.
type Worker struct {
	feed       store.FeedSource
	propagator *Propagator
	logger     log.Logger
	interval   time.Duration
	batchSize  int
	cursor     uint64
}

// NewWorker creates a feed poll worker.
func NewWorker(feed store.FeedSource, p *Propagator, logger log.Logger, interval time.Duration) *Worker {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{feed: feed, propagator: p, logger: logger, interval: interval, batchSize: 100}
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info(ctx, "feed worker started", "poll_interval", w.interval.String())
	for {
		n, err := w.poll(ctx)
		if err != nil {
			w.logger.Error(ctx, err, "feed poll failed", "cursor", w.cursor)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				w.logger.Info(context.Background(), "feed worker stopped")
				return
			case <-time.After(w.interval):
			}
			continue
		}
		if ctx.Err() != nil {
			w.logger.Info(context.Background(), "feed worker stopped")
			return
		}
	}
}

func (w *Worker) poll(ctx context.Context) (int, error) {
	records, next, err := w.feed.PollFeed(ctx, w.cursor, w.batchSize)
	if err != nil || len(records) == 0 {
		return 0, err
	}

	res := w.propagator.ProcessBatch(ctx, records)
	w.cursor = next
	if res.Errored > 0 {
		w.logger.Warn(ctx, "feed batch had errors",
			"processed", res.Processed, "skipped", res.Skipped, "errored", res.Errored, "cursor", w.cursor)
	}
	return len(records), nil
}
