package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/incident"
	"github.com/linnemanlabs/aegis/internal/store"
)

// idempotencyTTL is how long a completed delivery record shields against
// duplicates. Queue redrive windows are minutes; an hour is comfortably
// past them.
const idempotencyTTL = time.Hour

const idempotencySK = "RECORD"

const (
	idemStatusInProgress = "IN_PROGRESS"
	idemStatusCompleted  = "COMPLETED"
)

// ErrInFlight means another consumer currently owns this delivery. The
// message should go back on the queue and retry after the visibility window.
var ErrInFlight = errors.New("delivery already in progress")

// IdempotencyStore tracks delivery outcomes in a reserved partition
// namespace of the entity store.
type IdempotencyStore struct {
	store store.Store
	now   func() time.Time
}

// NewIdempotencyStore wraps a store backend.
func NewIdempotencyStore(s store.Store) *IdempotencyStore {
	return &IdempotencyStore{store: s, now: time.Now}
}

func idemPK(deliveryID string) string {
	return incident.PrefixIdempotencyPK + deliveryID
}

// Begin claims a delivery. Outcomes:
//   - (nil, nil): claim acquired, caller must deliver then Complete or Clear.
//   - (result, nil): a completed record is still fresh; return it, send nothing.
//   - (nil, ErrInFlight): someone else holds the claim.
//
// An expired record of either status is torn down and re-claimed.
func (s *IdempotencyStore) Begin(ctx context.Context, deliveryID string) (*Result, error) {
	for {
		now := s.now().UTC()
		marker := store.Item{
			store.AttrPK: idemPK(deliveryID),
			store.AttrSK: idempotencySK,
			"status":     idemStatusInProgress,
			"expires_at": now.Add(idempotencyTTL).Format(time.RFC3339Nano),
		}
		err := s.store.Put(ctx, marker, store.IfNotExists())
		if err == nil {
			return nil, nil
		}
		if !fault.IsConditionFailed(err) {
			return nil, fmt.Errorf("claim delivery: %w", err)
		}

		existing, ok, err := s.store.Get(ctx, idemPK(deliveryID), idempotencySK)
		if err != nil {
			return nil, fmt.Errorf("read delivery record: %w", err)
		}
		if !ok {
			// Claim lost to a Clear between our Put and Get; try again.
			continue
		}

		expires, _ := time.Parse(time.RFC3339Nano, existing.String("expires_at"))
		if !expires.IsZero() && now.After(expires) {
			// Stale record: either an abandoned claim or an aged-out result.
			if err := s.store.Delete(ctx, idemPK(deliveryID), idempotencySK,
				store.IfFieldEquals("expires_at", existing.String("expires_at"))); err != nil && !fault.IsConditionFailed(err) {
				return nil, fmt.Errorf("expire delivery record: %w", err)
			}
			continue
		}

		if existing.String("status") == idemStatusCompleted {
			ts, _ := time.Parse(time.RFC3339Nano, existing.String("completed_at"))
			return &Result{
				DeliveryID: deliveryID,
				Status:     existing.String("result_status"),
				MessageID:  existing.String("message_id"),
				Timestamp:  ts,
			}, nil
		}
		return nil, ErrInFlight
	}
}

// Complete caches the delivery outcome under the claim. The write is
// conditional on the record still being IN_PROGRESS: if the claim expired
// and another consumer re-claimed the delivery, this consumer lost
// ownership and must not overwrite the new owner's record.
func (s *IdempotencyStore) Complete(ctx context.Context, res *Result) error {
	now := s.now().UTC()
	changes := map[string]any{
		"status":        idemStatusCompleted,
		"result_status": res.Status,
		"message_id":    res.MessageID,
		"completed_at":  res.Timestamp.UTC().Format(time.RFC3339Nano),
		"expires_at":    now.Add(idempotencyTTL).Format(time.RFC3339Nano),
	}
	if _, err := s.store.Update(ctx, idemPK(res.DeliveryID), idempotencySK, changes,
		store.IfFieldEquals("status", idemStatusInProgress)); err != nil {
		if fault.IsConditionFailed(err) {
			return fmt.Errorf("delivery claim superseded: %w", err)
		}
		return fmt.Errorf("record delivery result: %w", err)
	}
	return nil
}

// Clear releases the claim after a failed delivery so queue redelivery can
// retry the send.
func (s *IdempotencyStore) Clear(ctx context.Context, deliveryID string) error {
	if err := s.store.Delete(ctx, idemPK(deliveryID), idempotencySK, nil); err != nil {
		return fmt.Errorf("release delivery claim: %w", err)
	}
	return nil
}
