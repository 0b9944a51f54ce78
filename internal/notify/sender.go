package notify

import "context"

// Sender delivers one notification over a single channel and returns the
// channel-assigned message id. Senders are stateless; retries belong to the
// queue, not the sender.
type Sender interface {
	Send(ctx context.Context, req *Request) (messageID string, err error)
}

// Registry maps channel types to their senders.
type Registry map[Type]Sender
