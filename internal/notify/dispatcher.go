package notify

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aegis/internal/events"
	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/queue"
)

// Dispatcher consumes notification requests and delivers them exactly once
// effectively: the idempotency claim is taken before the send, the result is
// cached after it, and a duplicate message short-circuits to the cached
// result without touching the channel again.
type Dispatcher struct {
	senders   Registry
	idem      *IdempotencyStore
	publisher *events.Publisher
	logger    log.Logger
	metrics   *Metrics
}

// NewDispatcher wires the dispatcher. publisher and metrics may be nil.
func NewDispatcher(senders Registry, idem *IdempotencyStore, publisher *events.Publisher, logger log.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		senders:   senders,
		idem:      idem,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// ProcessMessage handles one queued request body. A returned error means the
// message must stay on the queue for redelivery; a nil error means it is
// safe to delete.
func (d *Dispatcher) ProcessMessage(ctx context.Context, body string) (*Result, error) {
	req, err := ParseRequest(body)
	if err != nil {
		// Malformed payloads never become deliverable; redelivery walks them
		// to the dead-letter queue.
		return nil, err
	}

	cached, err := d.idem.Begin(ctx, req.DeliveryID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		d.count(req.Type, "deduplicated")
		d.logger.Info(ctx, "duplicate delivery short-circuited",
			"delivery_id", req.DeliveryID, "incident_id", req.IncidentID, "type", string(req.Type))
		return cached, nil
	}

	sender, ok := d.senders[req.Type]
	if !ok {
		d.releaseClaim(ctx, req.DeliveryID)
		return nil, fault.Newf(fault.KindValidation, "no sender registered for type %q", req.Type)
	}

	messageID, sendErr := sender.Send(ctx, req)
	if sendErr != nil {
		d.count(req.Type, "failed")
		d.publishOutcome(ctx, req, "Failed", map[string]any{"error": sendErr.Error()})
		d.releaseClaim(ctx, req.DeliveryID)
		return nil, fault.Wrap(fault.KindExternal, sendErr, "deliver notification")
	}

	res := &Result{
		DeliveryID: req.DeliveryID,
		Status:     "Sent",
		MessageID:  messageID,
		Timestamp:  time.Now().UTC(),
	}
	d.count(req.Type, "sent")
	d.publishOutcome(ctx, req, "Sent", map[string]any{"message_id": messageID})

	if err := d.idem.Complete(ctx, res); err != nil {
		// The side effect happened but the cache write did not; a redelivery
		// would double-send. Log loudly and keep the message deletable: the
		// in-progress claim still blocks concurrent duplicates.
		d.logger.Error(ctx, err, "delivery result not cached",
			"delivery_id", req.DeliveryID, "incident_id", req.IncidentID)
	}
	return res, nil
}

// HandleBatch processes each message independently and returns the ids of
// messages that must be redelivered. The caller deletes everything else.
func (d *Dispatcher) HandleBatch(ctx context.Context, msgs []queue.Message) (failedIDs []string) {
	for _, msg := range msgs {
		if _, err := d.ProcessMessage(ctx, msg.Body); err != nil {
			failedIDs = append(failedIDs, msg.ID)
			if !errors.Is(err, ErrInFlight) {
				d.logger.Error(ctx, err, "notification delivery failed",
					"message_id", msg.ID, "receive_count", msg.ReceiveCount)
			}
		}
	}
	return failedIDs
}

func (d *Dispatcher) publishOutcome(ctx context.Context, req *Request, status string, metadata map[string]any) {
	if d.publisher == nil {
		return
	}
	// Outcome events are telemetry; a bus failure never fails the delivery.
	if _, err := d.publisher.PublishNotificationEvent(ctx, req.IncidentID, string(req.Type), status, metadata); err != nil {
		d.logger.Warn(ctx, "notification outcome event not published",
			"delivery_id", req.DeliveryID, "status", status, "error", err.Error())
	}
}

func (d *Dispatcher) releaseClaim(ctx context.Context, deliveryID string) {
	if err := d.idem.Clear(ctx, deliveryID); err != nil {
		d.logger.Error(ctx, err, "delivery claim not released", "delivery_id", deliveryID)
	}
}

func (d *Dispatcher) count(t Type, outcome string) {
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues(string(t), outcome).Inc()
	}
}
