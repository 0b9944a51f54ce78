// Package queue abstracts the at-least-once message queue the notification
// dispatcher consumes from. Delivery is redriven by visibility timeout:
// a received message that is not deleted becomes visible again and is
// redelivered, so consumers must be idempotent.
package queue

import "context"

// Message is a single queued payload. ReceiptHandle identifies this
// particular delivery and is what Delete consumes; ReceiveCount is how many
// times the message has been handed out.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is the transport contract.
type Queue interface {
	// Send enqueues a payload and returns the message id.
	Send(ctx context.Context, body string) (string, error)

	// Receive returns up to max messages, hiding them for the visibility
	// window. An empty slice means the queue had nothing visible.
	Receive(ctx context.Context, max int) ([]Message, error)

	// Delete acknowledges one delivery. Only a deleted message is gone for
	// good; everything else comes back.
	Delete(ctx context.Context, receiptHandle string) error
}
