// Package memstore provides an in-memory implementation of store.Store with
// a change feed. Suitable for dev, offline operation and tests.
package memstore

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store"
)

// Store holds items in memory, bucketed by partition key and kept in SK
// order. All mutations run under one mutex, so the feed log preserves
// per-partition commit order trivially.
type Store struct {
	mu         sync.RWMutex
	partitions map[string][]store.Item // PK -> rows, SK ascending
	feed       []store.ChangeRecord
	nextSeq    uint64
}

// New initializes an empty Store.
func New() *Store {
	return &Store{partitions: make(map[string][]store.Item)}
}

func (s *Store) find(pk, sk string) (int, bool) {
	rows := s.partitions[pk]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].SK() >= sk })
	if i < len(rows) && rows[i].SK() == sk {
		return i, true
	}
	return i, false
}

func checkCond(cond *store.Cond, existing store.Item, exists bool) error {
	if cond == nil {
		return nil
	}
	switch cond.Kind {
	case store.CondNotExists:
		if exists {
			return fault.New(fault.KindConditionFailed, "item already exists")
		}
	case store.CondExists:
		if !exists {
			return fault.New(fault.KindConditionFailed, "item does not exist")
		}
	case store.CondFieldEquals:
		if !exists || existing[cond.Field] != cond.Value {
			return fault.Newf(fault.KindConditionFailed, "attribute %s does not match expected value", cond.Field)
		}
	}
	return nil
}

func (s *Store) record(op store.Op, pk, sk string, oldImage, newImage store.Item) {
	s.nextSeq++
	s.feed = append(s.feed, store.ChangeRecord{
		Seq:      s.nextSeq,
		Op:       op,
		PK:       pk,
		SK:       sk,
		OldImage: oldImage,
		NewImage: newImage,
	})
}

// Put writes a full item, optionally guarded by cond.
func (s *Store) Put(_ context.Context, item store.Item, cond *store.Cond) error {
	pk, sk := item.PK(), item.SK()
	if pk == "" || sk == "" {
		return fault.New(fault.KindValidation, "item missing PK or SK")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.find(pk, sk)
	var old store.Item
	if exists {
		old = s.partitions[pk][i]
	}
	if err := checkCond(cond, old, exists); err != nil {
		return err
	}

	cp := item.Clone()
	if exists {
		s.partitions[pk][i] = cp
		s.record(store.OpModify, pk, sk, old, cp.Clone())
		return nil
	}
	rows := s.partitions[pk]
	rows = append(rows, nil)
	copy(rows[i+1:], rows[i:])
	rows[i] = cp
	s.partitions[pk] = rows
	s.record(store.OpInsert, pk, sk, nil, cp.Clone())
	return nil
}

// Get fetches a single item. Returns a copy.
func (s *Store) Get(_ context.Context, pk, sk string) (store.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.find(pk, sk)
	if !ok {
		return nil, false, nil
	}
	return s.partitions[pk][i].Clone(), true, nil
}

// QueryByPartition returns the partition's rows in SK ascending order.
func (s *Store) QueryByPartition(_ context.Context, pk string, q store.Query) ([]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Item
	for _, row := range s.partitions[pk] {
		if q.SKPrefix != "" && !strings.HasPrefix(row.SK(), q.SKPrefix) {
			continue
		}
		out = append(out, row.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func indexAttrs(index string) (pkAttr, skAttr string, err error) {
	switch index {
	case store.IndexStatus:
		return store.AttrGSI1PK, store.AttrGSI1SK, nil
	case store.IndexUser:
		return store.AttrGSI2PK, store.AttrGSI2SK, nil
	default:
		return "", "", fault.Newf(fault.KindValidation, "unknown index %q", index)
	}
}

// QueryIndex scans the secondary index projection. The continuation token is
// the encoded key of the last returned item.
func (s *Store) QueryIndex(_ context.Context, index, pk string, q store.IndexQuery) (store.Page, error) {
	pkAttr, skAttr, err := indexAttrs(index)
	if err != nil {
		return store.Page{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		key string // idxSK + \x00 + PK + \x00 + SK, for total order and token resume
		row store.Item
	}
	var matched []entry
	for _, rows := range s.partitions {
		for _, row := range rows {
			if row.String(pkAttr) != pk {
				continue
			}
			idxSK := row.String(skAttr)
			switch q.Match {
			case store.MatchEquals:
				if idxSK != q.SK {
					continue
				}
			case store.MatchBeginsWith:
				if !strings.HasPrefix(idxSK, q.SK) {
					continue
				}
			}
			matched = append(matched, entry{key: idxSK + "\x00" + row.PK() + "\x00" + row.SK(), row: row})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].key < matched[j].key })

	start := ""
	if q.StartToken != "" {
		raw, err := base64.StdEncoding.DecodeString(q.StartToken)
		if err != nil {
			return store.Page{}, fault.Wrap(fault.KindValidation, err, "bad continuation token")
		}
		start = string(raw)
	}

	var page store.Page
	for _, e := range matched {
		if start != "" && e.key <= start {
			continue
		}
		page.Items = append(page.Items, e.row.Clone())
		if q.Limit > 0 && len(page.Items) == q.Limit {
			page.NextToken = base64.StdEncoding.EncodeToString([]byte(e.key))
			break
		}
	}
	return page, nil
}

// Update merges changes into an existing item and returns the new image.
func (s *Store) Update(_ context.Context, pk, sk string, changes map[string]any, cond *store.Cond) (store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.find(pk, sk)
	if !exists {
		if cond != nil {
			return nil, fault.New(fault.KindConditionFailed, "item does not exist")
		}
		return nil, fault.Newf(fault.KindNotFound, "item %s/%s not found", pk, sk)
	}
	old := s.partitions[pk][i]
	if err := checkCond(cond, old, true); err != nil {
		return nil, err
	}

	next := old.Clone()
	for k, v := range changes {
		next[k] = v
	}
	s.partitions[pk][i] = next
	s.record(store.OpModify, pk, sk, old, next.Clone())
	return next.Clone(), nil
}

// BatchPut writes items without preconditions.
func (s *Store) BatchPut(ctx context.Context, items []store.Item) error {
	for _, item := range items {
		if err := s.Put(ctx, item, nil); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an item, optionally guarded by cond. Deleting an absent
// item without a condition is a no-op.
func (s *Store) Delete(_ context.Context, pk, sk string, cond *store.Cond) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.find(pk, sk)
	var old store.Item
	if exists {
		old = s.partitions[pk][i]
	}
	if err := checkCond(cond, old, exists); err != nil {
		return err
	}
	if !exists {
		return nil
	}
	s.partitions[pk] = append(s.partitions[pk][:i], s.partitions[pk][i+1:]...)
	s.record(store.OpRemove, pk, sk, old, nil)
	return nil
}

// PollFeed implements store.FeedSource over the in-memory feed log.
func (s *Store) PollFeed(_ context.Context, cursor uint64, limit int) ([]store.ChangeRecord, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.ChangeRecord
	next := cursor
	for _, rec := range s.feed {
		if rec.Seq <= cursor {
			continue
		}
		out = append(out, rec)
		next = rec.Seq
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, next, nil
}
