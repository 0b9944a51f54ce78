// Package appsync implements the realtime gateway over a GraphQL HTTP
// endpoint. Each propagated change becomes one named mutation; subscribed
// clients receive it through the endpoint's subscription fanout.
package appsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/incident"
)

const httpTimeout = 30 * time.Second

const (
	mutationUpdateIncident = `mutation UpdateIncident($input: UpdateIncidentInput!) {
  updateIncident(input: $input) { id status severity updatedAt }
}`
	mutationAddTimelineEvent = `mutation AddTimelineEvent($input: AddTimelineEventInput!) {
  addTimelineEvent(input: $input) { incidentId eventId }
}`
	mutationAddComment = `mutation AddComment($input: AddCommentInput!) {
  addComment(input: $input) { incidentId commentId }
}`
	mutationUpdateParticipant = `mutation UpdateParticipant($input: UpdateParticipantInput!) {
  updateParticipant(input: $input) { incidentId userId }
}`
)

// Client posts mutations to a GraphQL endpoint authenticated by API key.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates a gateway client.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) execute(ctx context.Context, query string, input map[string]any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: map[string]any{"input": input}})
	if err != nil {
		return fmt.Errorf("appsync: marshal mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("appsync: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindExternal, err, "appsync: post mutation")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fault.Wrap(fault.KindExternal, err, "appsync: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return fault.Newf(fault.KindExternal, "appsync: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out gqlResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fault.Wrap(fault.KindExternal, err, "appsync: unmarshal response")
	}
	if len(out.Errors) > 0 {
		return fault.Newf(fault.KindExternal, "appsync: mutation rejected: %s", out.Errors[0].Message)
	}
	return nil
}

// UpdateIncident pushes the current metadata state.
func (c *Client) UpdateIncident(ctx context.Context, inc *incident.Incident) error {
	input := map[string]any{
		"id":        inc.ID,
		"title":     inc.Title,
		"status":    string(inc.Status),
		"severity":  string(inc.Severity),
		"updatedAt": inc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if inc.ResolvedAt != nil {
		input["resolvedAt"] = inc.ResolvedAt.UTC().Format(time.RFC3339Nano)
	}
	return c.execute(ctx, mutationUpdateIncident, input)
}

// AddTimelineEvent pushes a new timeline row.
func (c *Client) AddTimelineEvent(ctx context.Context, ev incident.TimelineEvent) error {
	return c.execute(ctx, mutationAddTimelineEvent, map[string]any{
		"incidentId":  ev.IncidentID,
		"eventId":     ev.EventID,
		"timestamp":   ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":        ev.Type,
		"description": ev.Description,
		"source":      ev.Source,
	})
}

// AddComment pushes a new comment.
func (c *Client) AddComment(ctx context.Context, cm incident.Comment) error {
	return c.execute(ctx, mutationAddComment, map[string]any{
		"incidentId": cm.IncidentID,
		"commentId":  cm.CommentID,
		"timestamp":  cm.Timestamp.UTC().Format(time.RFC3339Nano),
		"authorId":   cm.AuthorID,
		"authorName": cm.AuthorName,
		"text":       cm.Text,
	})
}

// UpdateParticipant pushes a participant upsert.
func (c *Client) UpdateParticipant(ctx context.Context, p incident.Participant) error {
	return c.execute(ctx, mutationUpdateParticipant, map[string]any{
		"incidentId": p.IncidentID,
		"userId":     p.UserID,
		"name":       p.Name,
		"role":       p.Role,
		"joinedAt":   p.JoinedAt.UTC().Format(time.RFC3339Nano),
	})
}
