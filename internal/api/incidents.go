package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/incident"
)

const defaultPageLimit = 50

func (a *API) handleDeclare(w http.ResponseWriter, r *http.Request) {
	var d incident.Declaration
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	inc, err := a.svc.Declare(r.Context(), d)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("aegis.incident.id", inc.ID),
		attribute.String("aegis.incident.severity", string(inc.Severity)),
	)

	a.writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.incident.id", id))

	view, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, view)
}

func (a *API) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status  incident.Status `json:"status"`
		ActorID string          `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("aegis.incident.id", id),
		attribute.String("aegis.incident.status", string(body.Status)),
	)

	inc, err := a.svc.ChangeStatus(r.Context(), id, body.Status, body.ActorID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		AuthorID   string `json:"authorId"`
		AuthorName string `json:"authorName"`
		Text       string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	c, err := a.svc.AddComment(r.Context(), id, body.AuthorID, body.AuthorName, body.Text)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	p, err := a.svc.AddParticipant(r.Context(), id, body.UserID, body.Name, body.Role)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleListByStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := incident.Status(q.Get("status"))
	if status == "" {
		a.writeErr(w, r, fault.New(fault.KindValidation, "status query parameter is required"))
		return
	}
	limit := defaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.writeErr(w, r, fault.New(fault.KindValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	incidents, next, err := a.svc.ListByStatus(r.Context(), status, limit, q.Get("token"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"nextToken": next,
	})
}

func (a *API) handleListByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	q := r.URL.Query()
	limit := defaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.writeErr(w, r, fault.New(fault.KindValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	ids, next, err := a.svc.ListByUser(r.Context(), userID, limit, q.Get("token"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"incidentIds": ids,
		"nextToken":   next,
	})
}
