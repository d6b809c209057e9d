package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"jelly/models"
	"jelly/services/requests"

	"github.com/gorilla/mux"
)

type requestService interface {
	Create(ctx context.Context, userID string, in models.MediaRequestInput) (models.MediaRequest, error)
	ListForUser(ctx context.Context, userID string) ([]models.MediaRequest, error)
	List(ctx context.Context, status string, limit, offset int) ([]models.MediaRequest, error)
	Transition(ctx context.Context, id string, t models.RequestTransition) (models.MediaRequest, error)
	Delete(ctx context.Context, id, actorID string, admin bool) error
}

var _ requestService = (*requests.Service)(nil)

type RequestsHandler struct {
	Service requestService
	Audit   auditRecorder
}

func NewRequestsHandler(service requestService, audit auditRecorder) *RequestsHandler {
	return &RequestsHandler{Service: service, Audit: audit}
}

func requestErrorStatus(err error) int {
	switch {
	case errors.Is(err, requests.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, requests.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, requests.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, requests.ErrDuplicate),
		errors.Is(err, requests.ErrAlreadyAvailable),
		errors.Is(err, requests.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Create files a request for the caller. POST /api/requests
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	var in models.MediaRequestInput
	if !decodeJSON(w, r, &in) {
		return
	}
	req, err := h.Service.Create(r.Context(), p.ID, in)
	if err != nil {
		writeJSONError(w, err.Error(), requestErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListMine returns the caller's requests. GET /api/requests
func (h *RequestsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	items, err := h.Service.ListForUser(r.Context(), p.ID)
	if err != nil {
		writeJSONError(w, err.Error(), requestErrorStatus(err))
		return
	}
	if items == nil {
		items = []models.MediaRequest{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Delete withdraws a request. Owners may only withdraw pending ones; admins any.
// DELETE /api/requests/{requestID}
func (h *RequestsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["requestID"])
	if err := h.Service.Delete(r.Context(), id, p.ID, p.IsAdmin()); err != nil {
		writeJSONError(w, err.Error(), requestErrorStatus(err))
		return
	}
	if p.IsAdmin() {
		recordAudit(r, h.Audit, "request.delete", "request", id, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns every request. GET /api/admin/requests?status=pending&limit=&offset=
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.List(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeJSONError(w, err.Error(), requestErrorStatus(err))
		return
	}
	if items == nil {
		items = []models.MediaRequest{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Transition moves a request to a new status. PUT /api/admin/requests/{requestID}/status
func (h *RequestsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["requestID"])
	var t models.RequestTransition
	if !decodeJSON(w, r, &t) {
		return
	}
	req, err := h.Service.Transition(r.Context(), id, t)
	if err != nil {
		writeJSONError(w, err.Error(), requestErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "request."+req.Status, "request", id, t)
	writeJSON(w, http.StatusOK, req)
}
