// Package pgstore provides a PostgreSQL implementation of store.Store with
// a transactional change feed: every item mutation appends a feed row in
// the same transaction, so feed order is commit order.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aegis/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists items in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool should come
// from postgres.NewPool so queries carry spans and log lines.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, external(err, "apply schema")
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// external tags a backend failure so callers can branch on fault.IsExternal
// the same way they do for the DynamoDB adapter.
func external(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(fault.KindExternal, err, msg)
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

// lockRow reads the current image of (pk, sk) under FOR UPDATE so condition
// evaluation and the subsequent write are atomic.
func lockRow(ctx context.Context, tx pgx.Tx, pk, sk string) (store.Item, bool, error) {
	var attrs []byte
	err := tx.QueryRow(ctx,
		`SELECT attrs FROM aegis_items WHERE pk = $1 AND sk = $2 FOR UPDATE`,
		pk, sk,
	).Scan(&attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, external(err, "lock row")
	}
	return decodeAttrs(attrs)
}

func decodeAttrs(raw []byte) (store.Item, bool, error) {
	var item store.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false, fmt.Errorf("decode attrs: %w", err)
	}
	return item, true, nil
}

func indexValue(item store.Item, attr string) any {
	if v := item.String(attr); v != "" {
		return v
	}
	return nil
}

func appendFeed(ctx context.Context, tx pgx.Tx, op store.Op, pk, sk string, oldImage, newImage store.Item) error {
	var oldJSON, newJSON []byte
	var err error
	if oldImage != nil {
		if oldJSON, err = json.Marshal(oldImage); err != nil {
			return fmt.Errorf("marshal old image: %w", err)
		}
	}
	if newImage != nil {
		if newJSON, err = json.Marshal(newImage); err != nil {
			return fmt.Errorf("marshal new image: %w", err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO aegis_feed (op, pk, sk, old_image, new_image) VALUES ($1, $2, $3, $4, $5)`,
		string(op), pk, sk, oldJSON, newJSON,
	); err != nil {
		return external(err, "append feed")
	}
	return nil
}

func upsertItem(ctx context.Context, tx pgx.Tx, item store.Item) error {
	attrs, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal attrs: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO aegis_items (pk, sk, gsi1_pk, gsi1_sk, gsi2_pk, gsi2_sk, attrs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (pk, sk) DO UPDATE SET
			gsi1_pk = EXCLUDED.gsi1_pk,
			gsi1_sk = EXCLUDED.gsi1_sk,
			gsi2_pk = EXCLUDED.gsi2_pk,
			gsi2_sk = EXCLUDED.gsi2_sk,
			attrs   = EXCLUDED.attrs`,
		item.PK(), item.SK(),
		indexValue(item, store.AttrGSI1PK), indexValue(item, store.AttrGSI1SK),
		indexValue(item, store.AttrGSI2PK), indexValue(item, store.AttrGSI2SK),
		attrs,
	)
	if err != nil {
		return external(err, "upsert item")
	}
	return nil
}

// Put writes a full item, optionally guarded by cond.
func (s *Store) Put(ctx context.Context, item store.Item, cond *store.Cond) error {
	pk, sk := item.PK(), item.SK()
	if pk == "" || sk == "" {
		return fault.New(fault.KindValidation, "item missing PK or SK")
	}

	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	return spanErr(span, s.inTx(ctx, func(tx pgx.Tx) error {
		old, exists, err := lockRow(ctx, tx, pk, sk)
		if err != nil {
			return err
		}
		if err := checkCond(cond, old, exists); err != nil {
			return err
		}
		if err := upsertItem(ctx, tx, item); err != nil {
			return err
		}
		op := store.OpInsert
		if exists {
			op = store.OpModify
		}
		return appendFeed(ctx, tx, op, pk, sk, old, item)
	}))
}

// Get fetches a single item.
func (s *Store) Get(ctx context.Context, pk, sk string) (store.Item, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	var attrs []byte
	err := s.pool.QueryRow(ctx,
		`SELECT attrs FROM aegis_items WHERE pk = $1 AND sk = $2`,
		pk, sk,
	).Scan(&attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, external(err, "get item"))
	}
	item, ok, err := decodeAttrs(attrs)
	return item, ok, spanErr(span, err)
}

// QueryByPartition returns the partition's rows in SK ascending order.
func (s *Store) QueryByPartition(ctx context.Context, pk string, q store.Query) ([]store.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.QueryByPartition", "SELECT")
	defer span.End()

	query := `SELECT attrs FROM aegis_items WHERE pk = $1`
	args := []any{pk}
	if q.SKPrefix != "" {
		query += ` AND sk LIKE $2`
		args = append(args, likePrefix(q.SKPrefix))
	}
	query += ` ORDER BY sk`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, external(err, "query partition"))
	}
	defer rows.Close()

	var out []store.Item
	for rows.Next() {
		var attrs []byte
		if err := rows.Scan(&attrs); err != nil {
			return nil, spanErr(span, external(err, "scan item"))
		}
		item, _, err := decodeAttrs(attrs)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, item)
	}
	return out, spanErr(span, external(rows.Err(), "query partition"))
}

func indexColumns(index string) (pkCol, skCol string, err error) {
	switch index {
	case store.IndexStatus:
		return "gsi1_pk", "gsi1_sk", nil
	case store.IndexUser:
		return "gsi2_pk", "gsi2_sk", nil
	default:
		return "", "", fault.Newf(fault.KindValidation, "unknown index %q", index)
	}
}

// likePrefix escapes LIKE metacharacters so a prefix match stays a prefix
// match.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// QueryIndex pages through a secondary index. The continuation token is the
// encoded composite key of the last returned row, matching the in-memory
// backend's encoding.
func (s *Store) QueryIndex(ctx context.Context, index, pk string, q store.IndexQuery) (store.Page, error) {
	pkCol, skCol, err := indexColumns(index)
	if err != nil {
		return store.Page{}, err
	}

	ctx, span := startSpan(ctx, "pgstore.QueryIndex", "SELECT")
	defer span.End()

	query := fmt.Sprintf(`SELECT %s, pk, sk, attrs FROM aegis_items WHERE %s = $1`, skCol, pkCol)
	args := []any{pk}

	switch q.Match {
	case store.MatchEquals:
		args = append(args, q.SK)
		query += fmt.Sprintf(` AND %s = $%d`, skCol, len(args))
	case store.MatchBeginsWith:
		args = append(args, likePrefix(q.SK))
		query += fmt.Sprintf(` AND %s LIKE $%d`, skCol, len(args))
	}

	if q.StartToken != "" {
		idxSK, lastPK, lastSK, err := decodeToken(q.StartToken)
		if err != nil {
			return store.Page{}, spanErr(span, err)
		}
		args = append(args, idxSK, lastPK, lastSK)
		query += fmt.Sprintf(` AND (%s, pk, sk) > ($%d, $%d, $%d)`, skCol, len(args)-2, len(args)-1, len(args))
	}

	query += fmt.Sprintf(` ORDER BY %s, pk, sk`, skCol)
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.Page{}, spanErr(span, external(err, "query index"))
	}
	defer rows.Close()

	var page store.Page
	var lastKey string
	for rows.Next() {
		var idxSK, rowPK, rowSK string
		var attrs []byte
		if err := rows.Scan(&idxSK, &rowPK, &rowSK, &attrs); err != nil {
			return store.Page{}, spanErr(span, external(err, "scan index row"))
		}
		item, _, err := decodeAttrs(attrs)
		if err != nil {
			return store.Page{}, spanErr(span, err)
		}
		page.Items = append(page.Items, item)
		lastKey = encodeToken(idxSK, rowPK, rowSK)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, spanErr(span, external(err, "query index"))
	}
	if q.Limit > 0 && len(page.Items) == q.Limit {
		page.NextToken = lastKey
	}
	return page, nil
}

func encodeToken(idxSK, pk, sk string) string {
	return base64.StdEncoding.EncodeToString([]byte(idxSK + "\x00" + pk + "\x00" + sk))
}

func decodeToken(token string) (idxSK, pk, sk string, err error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", "", fault.Wrap(fault.KindValidation, err, "bad continuation token")
	}
	parts := strings.SplitN(string(raw), "\x00", 3)
	if len(parts) != 3 {
		return "", "", "", fault.New(fault.KindValidation, "bad continuation token")
	}
	return parts[0], parts[1], parts[2], nil
}

// Update merges changes into an existing item and returns the new image.
func (s *Store) Update(ctx context.Context, pk, sk string, changes map[string]any, cond *store.Cond) (store.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer span.End()

	var next store.Item
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		old, exists, err := lockRow(ctx, tx, pk, sk)
		if err != nil {
			return err
		}
		if !exists {
			if cond != nil {
				return fault.New(fault.KindConditionFailed, "item does not exist")
			}
			return fault.Newf(fault.KindNotFound, "item %s/%s not found", pk, sk)
		}
		if err := checkCond(cond, old, true); err != nil {
			return err
		}

		next = old.Clone()
		for k, v := range changes {
			next[k] = v
		}
		if err := upsertItem(ctx, tx, next); err != nil {
			return err
		}
		return appendFeed(ctx, tx, store.OpModify, pk, sk, old, next)
	})
	if err != nil {
		return nil, spanErr(span, err)
	}
	return next, nil
}

// BatchPut writes items without preconditions, all in one transaction.
func (s *Store) BatchPut(ctx context.Context, items []store.Item) error {
	ctx, span := startSpan(ctx, "pgstore.BatchPut", "UPSERT")
	defer span.End()

	return spanErr(span, s.inTx(ctx, func(tx pgx.Tx) error {
		for _, item := range items {
			pk, sk := item.PK(), item.SK()
			if pk == "" || sk == "" {
				return fault.New(fault.KindValidation, "item missing PK or SK")
			}
			old, exists, err := lockRow(ctx, tx, pk, sk)
			if err != nil {
				return err
			}
			if err := upsertItem(ctx, tx, item); err != nil {
				return err
			}
			op := store.OpInsert
			if exists {
				op = store.OpModify
			}
			if err := appendFeed(ctx, tx, op, pk, sk, old, item); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Delete removes an item, optionally guarded by cond. Deleting an absent
// item without a condition is a no-op.
func (s *Store) Delete(ctx context.Context, pk, sk string, cond *store.Cond) error {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	return spanErr(span, s.inTx(ctx, func(tx pgx.Tx) error {
		old, exists, err := lockRow(ctx, tx, pk, sk)
		if err != nil {
			return err
		}
		if err := checkCond(cond, old, exists); err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM aegis_items WHERE pk = $1 AND sk = $2`, pk, sk); err != nil {
			return external(err, "delete item")
		}
		return appendFeed(ctx, tx, store.OpRemove, pk, sk, old, nil)
	}))
}

// PollFeed implements store.FeedSource by keyset pagination over the feed
// table.
func (s *Store) PollFeed(ctx context.Context, cursor uint64, limit int) ([]store.ChangeRecord, uint64, error) {
	ctx, span := startSpan(ctx, "pgstore.PollFeed", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, op, pk, sk, old_image, new_image FROM aegis_feed WHERE seq > $1 ORDER BY seq LIMIT $2`,
		cursor, limit,
	)
	if err != nil {
		return nil, cursor, spanErr(span, external(err, "poll feed"))
	}
	defer rows.Close()

	var out []store.ChangeRecord
	next := cursor
	for rows.Next() {
		var (
			rec      store.ChangeRecord
			op       string
			oldJSON  []byte
			newJSON  []byte
		)
		if err := rows.Scan(&rec.Seq, &op, &rec.PK, &rec.SK, &oldJSON, &newJSON); err != nil {
			return nil, cursor, spanErr(span, external(err, "scan feed row"))
		}
		rec.Op = store.Op(op)
		if len(oldJSON) > 0 {
			if rec.OldImage, _, err = decodeAttrs(oldJSON); err != nil {
				return nil, cursor, spanErr(span, err)
			}
		}
		if len(newJSON) > 0 {
			if rec.NewImage, _, err = decodeAttrs(newJSON); err != nil {
				return nil, cursor, spanErr(span, err)
			}
		}
		out = append(out, rec)
		next = rec.Seq
	}
	return out, next, spanErr(span, external(rows.Err(), "poll feed"))
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return external(err, "begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return external(err, "commit")
	}
	return nil
}
