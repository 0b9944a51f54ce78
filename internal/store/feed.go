package store

import "context"

// Op is the mutation kind a change record describes.
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// ChangeRecord is one entry of the store's ordered, at-least-once change
// feed: the before/after images of a row mutation. Within one partition
// records arrive in commit order; across partitions there is no guarantee.
type ChangeRecord struct {
	Seq      uint64
	Op       Op
	PK       string
	SK       string
	OldImage Item
	NewImage Item
}

// FeedSource is implemented by backends that expose their change feed for
// in-process polling (memstore, pgstore). DynamoDB Streams batches are
// delivered by the hosting runtime instead and handed straight to the
// propagator.
type FeedSource interface {
	// PollFeed returns up to limit records with Seq > cursor, in commit
	// order, along with the new cursor. Re-polling an old cursor re-delivers
	// records; consumers must be idempotent.
	PollFeed(ctx context.Context, cursor uint64, limit int) ([]ChangeRecord, uint64, error)
}
