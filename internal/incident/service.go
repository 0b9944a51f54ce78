package incident

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aegis/internal/events"
)

// Service is the write path for incidents. Ordering is always write first,
// notify second: the store is the source of truth and a failed publish never
// unwinds a committed write; it is logged and counted instead.
type Service struct {
	repo      *Repository
	publisher *events.Publisher
	logger    log.Logger
	now       func() time.Time
}

// NewService wires the incident service. publisher may be nil (writes only,
// no bus).
func NewService(repo *Repository, publisher *events.Publisher, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{repo: repo, publisher: publisher, logger: logger, now: time.Now}
}

// Declaration is the create input.
type Declaration struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Source      string         `json:"source"`
	Metadata    map[string]any `json:"metadata"`
}

// Declare creates an incident: METADATA row, initial timeline event, then
// best-effort declaration events.
func (s *Service) Declare(ctx context.Context, d Declaration) (*Incident, error) {
	if err := ValidateDeclaration(d.Title, d.Description, d.Severity); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inc := &Incident{
		ID:          "INC-" + ulid.Make().String(),
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Status:      StatusOpen,
		Severity:    d.Severity,
		Source:      d.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    d.Metadata,
	}
	initial := &TimelineEvent{
		IncidentID:  inc.ID,
		EventID:     ulid.Make().String(),
		Timestamp:   now,
		Type:        "declared",
		Description: fmt.Sprintf("Incident declared: %s (%s)", inc.Title, inc.Severity),
		Source:      inc.Source,
	}
	if err := s.repo.Create(ctx, inc, initial); err != nil {
		return nil, err
	}

	s.publish(ctx, inc.ID, events.TypeIncidentDeclared, map[string]any{
		"title":    inc.Title,
		"severity": string(inc.Severity),
		"source":   inc.Source,
	})
	s.publish(ctx, inc.ID, events.TypeTimelineEventAdded, map[string]any{
		"eventId": initial.EventID,
		"type":    initial.Type,
	})

	s.logger.Info(ctx, "incident declared",
		"incident_id", inc.ID, "severity", string(inc.Severity), "source", inc.Source)
	return inc, nil
}

// Get returns the composed incident view.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	return s.repo.Get(ctx, id)
}

// ChangeStatus moves the incident through its lifecycle. The transition is
// validated against the current stored status; a concurrent change makes
// the conditional write fail and surfaces as ConditionFailed.
func (s *Service) ChangeStatus(ctx context.Context, id string, next Status, actorID string) (*Incident, error) {
	if !ValidStatus(next) {
		return nil, validationErr("unknown status %q", string(next))
	}
	current, err := s.repo.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, next, now)
	if err != nil {
		return nil, err
	}

	event := &TimelineEvent{
		IncidentID:  id,
		EventID:     ulid.Make().String(),
		Timestamp:   now,
		Type:        "status_change",
		Description: fmt.Sprintf("Status changed from %s to %s", current.Status, next),
		Source:      "aegis.incidents",
		Metadata:    map[string]any{"from": string(current.Status), "to": string(next), "actor_id": actorID},
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		// The status change is committed; a missing timeline row is an
		// annotation gap, not a failed operation.
		s.logger.Error(ctx, err, "status change timeline row not written", "incident_id", id)
	}

	s.publish(ctx, id, events.TypeStatusChanged, map[string]any{
		"from":    string(current.Status),
		"to":      string(next),
		"actorId": actorID,
	})
	if next == StatusResolved {
		s.publish(ctx, id, events.TypeIncidentResolved, map[string]any{
			"severity": string(updated.Severity),
		})
	}

	s.logger.Info(ctx, "incident status changed",
		"incident_id", id, "from", string(current.Status), "to", string(next))
	return updated, nil
}

// AddComment appends a comment after verifying the incident exists.
func (s *Service) AddComment(ctx context.Context, id, authorID, authorName, text string) (*Comment, error) {
	if err := ValidateComment(authorID, text); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMetadata(ctx, id); err != nil {
		return nil, err
	}

	c := &Comment{
		IncidentID: id,
		CommentID:  ulid.Make().String(),
		Timestamp:  s.now().UTC(),
		AuthorID:   authorID,
		AuthorName: authorName,
		Text:       text,
	}
	if err := s.repo.AppendComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddParticipant attaches a responder after verifying the incident exists.
func (s *Service) AddParticipant(ctx context.Context, id, userID, name, role string) (*Participant, error) {
	if err := ValidateParticipant(userID, name); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMetadata(ctx, id); err != nil {
		return nil, err
	}

	p := &Participant{
		IncidentID: id,
		UserID:     userID,
		Name:       name,
		Role:       role,
		JoinedAt:   s.now().UTC(),
	}
	if err := s.repo.AddParticipant(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListByStatus pages incidents in a status, ordered by severity.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int, token string) ([]*Incident, string, error) {
	if !ValidStatus(status) {
		return nil, "", validationErr("unknown status %q", string(status))
	}
	return s.repo.ListByStatus(ctx, status, limit, token)
}

// ListByUser pages incident ids a user participates in.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int, token string) ([]string, string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, "", validationErr("user_id is required")
	}
	return s.repo.ListByUser(ctx, userID, limit, token)
}

func (s *Service) publish(ctx context.Context, incidentID, detailType string, detail map[string]any) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.PublishIncidentEvent(ctx, incidentID, detailType, detail); err != nil {
		s.logger.Error(ctx, err, "domain event not published",
			"incident_id", incidentID, "detail_type", detailType)
	}
}
