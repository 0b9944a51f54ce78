package notify

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/queue"
)

// Worker polls the queue and drives the dispatcher. Successful messages are
// deleted; failures are left for the visibility timeout to redeliver.
type Worker struct {
	queue      queue.Queue
	dispatcher *Dispatcher
	logger     log.Logger
	interval   time.Duration
	batchSize  int
}

// NewWorker creates a poll worker. interval is the pause between empty
// polls.
func NewWorker(q queue.Queue, d *Dispatcher, logger log.Logger, interval time.Duration) *Worker {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{queue: q, dispatcher: d, logger: logger, interval: interval, batchSize: 10}
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info(ctx, "notification worker started", "poll_interval", w.interval.String())
	for {
		n, err := w.poll(ctx)
		if err != nil {
			w.logger.Error(ctx, err, "queue poll failed")
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				w.logger.Info(context.Background(), "notification worker stopped")
				return
			case <-time.After(w.interval):
			}
			continue
		}
		if ctx.Err() != nil {
			w.logger.Info(context.Background(), "notification worker stopped")
			return
		}
	}
}

func (w *Worker) poll(ctx context.Context) (int, error) {
	msgs, err := w.queue.Receive(ctx, w.batchSize)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}

	failed := w.dispatcher.HandleBatch(ctx, msgs)
	failedSet := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		failedSet[id] = struct{}{}
	}
	for _, msg := range msgs {
		if _, bad := failedSet[msg.ID]; bad {
			continue
		}
		if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
			w.logger.Error(ctx, err, "queue delete failed", "message_id", msg.ID)
		}
	}
	return len(msgs), nil
}
