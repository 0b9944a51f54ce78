// Package incident holds the incident data model, the status state machine
// and the typed repository over the partitioned entity store.
package incident

import (
	"time"

	"github.com/linnemanlabs/aegis/internal/store"
)

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusMitigating   Status = "MITIGATING"
	StatusResolved     Status = "RESOLVED"
	StatusClosed       Status = "CLOSED"
)

// Severity is the incident priority band.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityP0, SeverityP1, SeverityP2, SeverityP3, SeverityP4:
		return true
	}
	return false
}

// Incident is the METADATA row: the only mutable item in an incident
// partition. Everything else is an append-only fact.
type Incident struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         Status         `json:"status"`
	Severity       Severity       `json:"severity"`
	Source         string         `json:"source"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TimelineEvent is an append-only timeline row.
type TimelineEvent struct {
	IncidentID  string         `json:"incident_id"`
	EventID     string         `json:"event_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Comment is an append-only discussion row.
type Comment struct {
	IncidentID string    `json:"incident_id"`
	CommentID  string    `json:"comment_id"`
	Timestamp  time.Time `json:"timestamp"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Text       string    `json:"text"`
}

// Participant is a responder attached to an incident.
type Participant struct {
	IncidentID string    `json:"incident_id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	JoinedAt   time.Time `json:"joined_at"`
}

// AISummary is a generated summary row.
type AISummary struct {
	IncidentID       string    `json:"incident_id"`
	SummaryID        string    `json:"summary_id"`
	Timestamp        time.Time `json:"timestamp"`
	SummaryText      string    `json:"summary_text"`
	ModelID          string    `json:"model_id"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
}

// View is the composed read of one incident partition, bucketed by SK
// prefix. Timeline, comments and summaries keep store order (SK ascending,
// i.e. timestamp ascending).
type View struct {
	Metadata     *Incident       `json:"metadata"`
	Timeline     []TimelineEvent `json:"timeline"`
	Comments     []Comment       `json:"comments"`
	Participants []Participant   `json:"participants"`
	Summaries    []AISummary     `json:"summaries"`
}

// All timestamps are stored as ISO-8601 UTC strings so sort keys and item
// attributes agree.
func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func parseMeta(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// Item converts the incident to its store row, including the denormalized
// GSI1 projection. The projection must always be derived here so primary
// attributes and index attributes land in the same write.
func (in *Incident) Item() store.Item {
	return store.Item{
		store.AttrPK:     PK(in.ID),
		store.AttrSK:     SKMetadata,
		store.AttrGSI1PK: StatusIndexPK(in.Status),
		store.AttrGSI1SK: StatusIndexSK(in.Severity, in.ID),
		"id":             in.ID,
		"title":          in.Title,
		"description":    in.Description,
		"status":         string(in.Status),
		"severity":       string(in.Severity),
		"source":         in.Source,
		"created_at":     fmtTime(in.CreatedAt),
		"updated_at":     fmtTime(in.UpdatedAt),
		"acknowledged_at": fmtTimePtr(in.AcknowledgedAt),
		"resolved_at":     fmtTimePtr(in.ResolvedAt),
		"closed_at":       fmtTimePtr(in.ClosedAt),
		"metadata":        in.Metadata,
	}
}

// IncidentFromItem decodes a METADATA row.
func IncidentFromItem(it store.Item) *Incident {
	return &Incident{
		ID:             it.String("id"),
		Title:          it.String("title"),
		Description:    it.String("description"),
		Status:         Status(it.String("status")),
		Severity:       Severity(it.String("severity")),
		Source:         it.String("source"),
		CreatedAt:      parseTime(it["created_at"]),
		UpdatedAt:      parseTime(it["updated_at"]),
		AcknowledgedAt: parseTimePtr(it["acknowledged_at"]),
		ResolvedAt:     parseTimePtr(it["resolved_at"]),
		ClosedAt:       parseTimePtr(it["closed_at"]),
		Metadata:       parseMeta(it["metadata"]),
	}
}

// Item converts the event to its store row.
func (e *TimelineEvent) Item() store.Item {
	return store.Item{
		store.AttrPK: PK(e.IncidentID),
		store.AttrSK: EventSK(e.Timestamp, e.EventID),
		"incident_id": e.IncidentID,
		"event_id":    e.EventID,
		"timestamp":   fmtTime(e.Timestamp),
		"type":        e.Type,
		"description": e.Description,
		"source":      e.Source,
		"metadata":    e.Metadata,
	}
}

// EventFromItem decodes an EVENT# row.
func EventFromItem(it store.Item) TimelineEvent {
	return TimelineEvent{
		IncidentID:  it.String("incident_id"),
		EventID:     it.String("event_id"),
		Timestamp:   parseTime(it["timestamp"]),
		Type:        it.String("type"),
		Description: it.String("description"),
		Source:      it.String("source"),
		Metadata:    parseMeta(it["metadata"]),
	}
}

// Item converts the comment to its store row.
func (c *Comment) Item() store.Item {
	return store.Item{
		store.AttrPK: PK(c.IncidentID),
		store.AttrSK: CommentSK(c.Timestamp),
		"incident_id": c.IncidentID,
		"comment_id":  c.CommentID,
		"timestamp":   fmtTime(c.Timestamp),
		"author_id":   c.AuthorID,
		"author_name": c.AuthorName,
		"text":        c.Text,
	}
}

// CommentFromItem decodes a COMMENT# row.
func CommentFromItem(it store.Item) Comment {
	return Comment{
		IncidentID: it.String("incident_id"),
		CommentID:  it.String("comment_id"),
		Timestamp:  parseTime(it["timestamp"]),
		AuthorID:   it.String("author_id"),
		AuthorName: it.String("author_name"),
		Text:       it.String("text"),
	}
}

// Item converts the participant to its store row, including the GSI2
// projection used to query incidents by user.
func (p *Participant) Item() store.Item {
	return store.Item{
		store.AttrPK:     PK(p.IncidentID),
		store.AttrSK:     UserSK(p.UserID),
		store.AttrGSI2PK: UserIndexPK(p.UserID),
		store.AttrGSI2SK: UserIndexSK(p.IncidentID),
		"incident_id":    p.IncidentID,
		"user_id":        p.UserID,
		"name":           p.Name,
		"role":           p.Role,
		"joined_at":      fmtTime(p.JoinedAt),
	}
}

// ParticipantFromItem decodes a USER# row.
func ParticipantFromItem(it store.Item) Participant {
	return Participant{
		IncidentID: it.String("incident_id"),
		UserID:     it.String("user_id"),
		Name:       it.String("name"),
		Role:       it.String("role"),
		JoinedAt:   parseTime(it["joined_at"]),
	}
}

// Item converts the summary to its store row.
func (s *AISummary) Item() store.Item {
	return store.Item{
		store.AttrPK: PK(s.IncidentID),
		store.AttrSK: SummarySK(s.Timestamp),
		"incident_id":       s.IncidentID,
		"summary_id":        s.SummaryID,
		"timestamp":         fmtTime(s.Timestamp),
		"summary_text":      s.SummaryText,
		"model_id":          s.ModelID,
		"prompt_tokens":     s.PromptTokens,
		"completion_tokens": s.CompletionTokens,
	}
}

// SummaryFromItem decodes a SUMMARY# row.
func SummaryFromItem(it store.Item) AISummary {
	return AISummary{
		IncidentID:       it.String("incident_id"),
		SummaryID:        it.String("summary_id"),
		Timestamp:        parseTime(it["timestamp"]),
		SummaryText:      it.String("summary_text"),
		ModelID:          it.String("model_id"),
		PromptTokens:     parseInt(it["prompt_tokens"]),
		CompletionTokens: parseInt(it["completion_tokens"]),
	}
}
