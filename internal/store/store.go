// Package store defines the partitioned entity store contract used by every
// component that reads or writes incident state. All entities live in one
// logical table keyed by a composite (PK, SK) pair with two secondary
// indexes; backends are selected at startup (in-memory, Postgres, DynamoDB).
package store

import "context"

// Well-known attribute names. Secondary-index attributes are denormalized
// copies of primary attributes and must be written in the same item as the
// primary write.
const (
	AttrPK = "PK"
	AttrSK = "SK"

	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	AttrGSI2PK = "GSI2PK"
	AttrGSI2SK = "GSI2SK"
)

// Index names for QueryIndex.
const (
	// IndexStatus projects STATUS#{status} -> SEVERITY#{sev}#INCIDENT#{id}.
	IndexStatus = "GSI1"
	// IndexUser projects USER#{userId} -> INCIDENT#{id}.
	IndexUser = "GSI2"
)

// Item is one row of the partitioned table. Values are JSON-serializable:
// strings, numbers, bools, nil, nested maps and slices.
type Item map[string]any

// PK returns the item's partition key, or "" if unset.
func (it Item) PK() string { s, _ := it[AttrPK].(string); return s }

// SK returns the item's sort key, or "" if unset.
func (it Item) SK() string { s, _ := it[AttrSK].(string); return s }

// String returns the named attribute as a string, or "" if absent or not a
// string.
func (it Item) String(attr string) string {
	s, _ := it[attr].(string)
	return s
}

// Clone returns a shallow-per-attribute copy safe to hand across goroutines
// as long as nested values are treated as read-only.
func (it Item) Clone() Item {
	cp := make(Item, len(it))
	for k, v := range it {
		cp[k] = v
	}
	return cp
}

// CondKind selects the precondition a conditional write carries.
type CondKind int

const (
	// CondNotExists requires that no item exists at (PK, SK).
	CondNotExists CondKind = iota
	// CondExists requires that an item exists at (PK, SK).
	CondExists
	// CondFieldEquals requires that the named attribute currently equals
	// the given value.
	CondFieldEquals
)

// Cond is a write precondition. Violation fails the write with
// fault.KindConditionFailed; the store never retries it, since retry safety
// is the caller's call.
type Cond struct {
	Kind  CondKind
	Field string
	Value any
}

// IfNotExists returns a create-if-absent precondition.
func IfNotExists() *Cond { return &Cond{Kind: CondNotExists} }

// IfExists returns a must-already-exist precondition.
func IfExists() *Cond { return &Cond{Kind: CondExists} }

// IfFieldEquals returns a compare-on-current-value precondition.
func IfFieldEquals(field string, value any) *Cond {
	return &Cond{Kind: CondFieldEquals, Field: field, Value: value}
}

// Query carries options for QueryByPartition. Results are always SK
// ascending; that ordering is load-bearing for timeline reconstruction.
type Query struct {
	SKPrefix string
	Limit    int
}

// IndexMatch selects how an index query matches the index sort key.
type IndexMatch int

const (
	// MatchAll ignores the index sort key.
	MatchAll IndexMatch = iota
	// MatchEquals requires the index sort key to equal SK.
	MatchEquals
	// MatchBeginsWith requires the index sort key to start with SK.
	MatchBeginsWith
)

// IndexQuery carries options for QueryIndex.
type IndexQuery struct {
	Match      IndexMatch
	SK         string
	Limit      int
	StartToken string
}

// Page is one page of index query results with an opaque continuation
// token ("" when exhausted).
type Page struct {
	Items     []Item
	NextToken string
}

// Store is the typed access contract over the partitioned table. Transient
// backend errors are wrapped (fault.KindUnknown) and propagated, never
// retried here: conditional writes are safe to retry, unconditioned ones may
// not be, so retry belongs to the caller.
type Store interface {
	// Put writes a full item, optionally guarded by cond.
	Put(ctx context.Context, item Item, cond *Cond) error

	// Get fetches a single item; ok is false when absent.
	Get(ctx context.Context, pk, sk string) (item Item, ok bool, err error)

	// QueryByPartition returns all items sharing pk, SK ascending,
	// optionally narrowed to an SK prefix and capped at q.Limit.
	QueryByPartition(ctx context.Context, pk string, q Query) ([]Item, error)

	// QueryIndex queries a secondary index by its partition value.
	QueryIndex(ctx context.Context, index, pk string, q IndexQuery) (Page, error)

	// Update applies field changes to an existing item and returns the new
	// image. Changes to secondary-index attributes land in the same write.
	Update(ctx context.Context, pk, sk string, changes map[string]any, cond *Cond) (Item, error)

	// BatchPut writes items without preconditions.
	BatchPut(ctx context.Context, items []Item) error

	// Delete removes an item, optionally guarded by cond.
	Delete(ctx context.Context, pk, sk string, cond *Cond) error
}
