package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store"
)

// Repository is the typed access layer over the partitioned store. It owns
// serialization, the key scheme and the conditional-write semantics; it
// performs no retries and publishes no events.
type Repository struct {
	store store.Store
}

// NewRepository wraps a store backend.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Create writes the METADATA row and the initial timeline event. The
// metadata write is conditional on the incident not existing, so a duplicate
// create loses with ConditionFailed instead of clobbering state.
func (r *Repository) Create(ctx context.Context, inc *Incident, initial *TimelineEvent) error {
	if err := r.store.Put(ctx, inc.Item(), store.IfNotExists()); err != nil {
		return fmt.Errorf("put incident metadata: %w", err)
	}
	if err := r.store.Put(ctx, initial.Item(), nil); err != nil {
		return fmt.Errorf("put initial timeline event: %w", err)
	}
	return nil
}

// Get is the canonical composed read path: fetch the full partition and
// bucket rows by SK prefix. Every component reads incidents through this to
// avoid divergent parsing.
func (r *Repository) Get(ctx context.Context, id string) (*View, error) {
	items, err := r.store.QueryByPartition(ctx, PK(id), store.Query{})
	if err != nil {
		return nil, fmt.Errorf("query incident partition: %w", err)
	}
	if len(items) == 0 {
		return nil, fault.Newf(fault.KindNotFound, "incident %s not found", id)
	}

	view := &View{}
	for _, it := range items {
		sk := it.SK()
		switch {
		case sk == SKMetadata:
			view.Metadata = IncidentFromItem(it)
		case strings.HasPrefix(sk, PrefixEvent):
			view.Timeline = append(view.Timeline, EventFromItem(it))
		case strings.HasPrefix(sk, PrefixComment):
			view.Comments = append(view.Comments, CommentFromItem(it))
		case strings.HasPrefix(sk, PrefixUser):
			view.Participants = append(view.Participants, ParticipantFromItem(it))
		case strings.HasPrefix(sk, PrefixSummary):
			view.Summaries = append(view.Summaries, SummaryFromItem(it))
		}
	}
	if view.Metadata == nil {
		return nil, fault.Newf(fault.KindNotFound, "incident %s metadata not found", id)
	}
	return view, nil
}

// GetMetadata fetches only the METADATA row.
func (r *Repository) GetMetadata(ctx context.Context, id string) (*Incident, error) {
	it, ok, err := r.store.Get(ctx, PK(id), SKMetadata)
	if err != nil {
		return nil, fmt.Errorf("get incident metadata: %w", err)
	}
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "incident %s not found", id)
	}
	return IncidentFromItem(it), nil
}

// UpdateStatus validates the transition, stamps lifecycle timestamps, and
// rewrites the GSI1 projection in the same conditional write. The condition
// status==current closes the race between two concurrent status changes:
// the loser gets ConditionFailed and must retry with fresh state.
func (r *Repository) UpdateStatus(ctx context.Context, id string, current, next Status, now time.Time) (*Incident, error) {
	if err := ValidateTransition(current, next); err != nil {
		return nil, err
	}

	changes := map[string]any{
		"status":           string(next),
		"updated_at":       fmtTime(now),
		store.AttrGSI1PK:   StatusIndexPK(next),
		// GSI1SK keeps the severity segment; severity is not changed here so
		// only the partition half of the projection moves.
	}
	switch next {
	case StatusAcknowledged:
		changes["acknowledged_at"] = fmtTime(now)
	case StatusResolved:
		changes["resolved_at"] = fmtTime(now)
	case StatusClosed:
		changes["closed_at"] = fmtTime(now)
	}

	it, err := r.store.Update(ctx, PK(id), SKMetadata, changes,
		store.IfFieldEquals("status", string(current)))
	if err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}
	return IncidentFromItem(it), nil
}

// AppendEvent writes an append-only timeline row.
func (r *Repository) AppendEvent(ctx context.Context, e *TimelineEvent) error {
	if err := r.store.Put(ctx, e.Item(), nil); err != nil {
		return fmt.Errorf("put timeline event: %w", err)
	}
	return nil
}

// AppendComment writes an append-only comment row.
func (r *Repository) AppendComment(ctx context.Context, c *Comment) error {
	if err := r.store.Put(ctx, c.Item(), nil); err != nil {
		return fmt.Errorf("put comment: %w", err)
	}
	return nil
}

// AddParticipant upserts the participant row together with its GSI2
// projection.
func (r *Repository) AddParticipant(ctx context.Context, p *Participant) error {
	if err := r.store.Put(ctx, p.Item(), nil); err != nil {
		return fmt.Errorf("put participant: %w", err)
	}
	return nil
}

// AppendSummary writes an append-only AI summary row.
func (r *Repository) AppendSummary(ctx context.Context, s *AISummary) error {
	if err := r.store.Put(ctx, s.Item(), nil); err != nil {
		return fmt.Errorf("put summary: %w", err)
	}
	return nil
}

// ListByStatus queries GSI1: incidents in a status, ordered by severity.
// token pages through large result sets.
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit int, token string) ([]*Incident, string, error) {
	page, err := r.store.QueryIndex(ctx, store.IndexStatus, StatusIndexPK(status), store.IndexQuery{
		Limit:      limit,
		StartToken: token,
	})
	if err != nil {
		return nil, "", fmt.Errorf("query status index: %w", err)
	}
	out := make([]*Incident, 0, len(page.Items))
	for _, it := range page.Items {
		out = append(out, IncidentFromItem(it))
	}
	return out, page.NextToken, nil
}

// ListByUser queries GSI2: incident ids a user participates in.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int, token string) ([]string, string, error) {
	page, err := r.store.QueryIndex(ctx, store.IndexUser, UserIndexPK(userID), store.IndexQuery{
		Match:      store.MatchBeginsWith,
		SK:         PrefixIncidentPK,
		Limit:      limit,
		StartToken: token,
	})
	if err != nil {
		return nil, "", fmt.Errorf("query user index: %w", err)
	}
	ids := make([]string, 0, len(page.Items))
	for _, it := range page.Items {
		ids = append(ids, it.String("incident_id"))
	}
	return ids, page.NextToken, nil
}
