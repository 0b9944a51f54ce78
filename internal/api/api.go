// Package api exposes the incident engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/incident"
)

// IncidentService defines the business operations the API needs.
type IncidentService interface {
	Declare(ctx context.Context, d incident.Declaration) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.View, error)
	ChangeStatus(ctx context.Context, id string, next incident.Status, actorID string) (*incident.Incident, error)
	AddComment(ctx context.Context, id, authorID, authorName, text string) (*incident.Comment, error)
	AddParticipant(ctx context.Context, id, userID, name, role string) (*incident.Participant, error)
	ListByStatus(ctx context.Context, status incident.Status, limit int, token string) ([]*incident.Incident, string, error)
	ListByUser(ctx context.Context, userID string, limit int, token string) ([]string, string, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IncidentService
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", a.handleDeclare)
			r.Get("/", a.handleListByStatus)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGet)
				r.Patch("/status", a.handleChangeStatus)
				r.Post("/comments", a.handleAddComment)
				r.Post("/participants", a.handleAddParticipant)
			})
		})
		r.Get("/users/{id}/incidents", a.handleListByUser)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps fault kinds to HTTP statuses. Internal errors are logged and
// masked; client errors carry the message through.
func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	msg := err.Error()
	switch fault.KindOf(err) {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConditionFailed, fault.KindInvalidTransition:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		a.logger.Error(r.Context(), err, "request failed",
			"method", r.Method, "path", r.URL.Path)
		msg = "internal error"
	}
	a.writeJSON(w, status, map[string]string{"error": msg})
}
