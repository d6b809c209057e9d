package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"jelly/models"
	"jelly/services/history"

	"github.com/gorilla/mux"
)

type historyService interface {
	RecordProgress(userID string, u models.PlaybackProgressUpdate) error
	RecordFinal(ctx context.Context, userID string, u models.PlaybackProgressUpdate) (models.PlaybackProgress, error)
	Flush(ctx context.Context) (int, error)
	FlushUser(ctx context.Context, userID string) (int, error)
	ListProgress(ctx context.Context, userID string) ([]models.PlaybackProgress, error)
	Hide(ctx context.Context, userID, key string) error
	ContinueWatching(ctx context.Context, userID string, limit int) ([]models.ContinueWatchingItem, error)
	NextUp(ctx context.Context, userID string) ([]models.NextUpItem, error)
}

var _ historyService = (*history.Service)(nil)

type HistoryHandler struct {
	Service historyService
}

func NewHistoryHandler(service historyService) *HistoryHandler {
	return &HistoryHandler{Service: service}
}

func historyErrorStatus(err error) int {
	switch {
	case errors.Is(err, history.ErrUserIDRequired),
		errors.Is(err, history.ErrInvalidProgress),
		errors.Is(err, history.ErrInvalidItemKey):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RecordProgress buffers a playback position. POST /api/progress
func (h *HistoryHandler) RecordProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	var update models.PlaybackProgressUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	if err := h.Service.RecordProgress(p.ID, update); err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Beacon stores the last position sent when a player closes. Browsers send it with
// navigator.sendBeacon, so the body is JSON labelled text/plain and the token comes
// from the query string. POST /api/playback/beacon?token=
func (h *HistoryHandler) Beacon(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var update models.PlaybackProgressUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		writeJSONError(w, "invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	progress, err := h.Service.RecordFinal(r.Context(), p.ID, update)
	if err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Flush writes the caller's buffered positions now. Admins flush every user.
// POST /api/progress/flush
func (h *HistoryHandler) Flush(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	var (
		n   int
		err error
	)
	if p.IsAdmin() {
		n, err = h.Service.Flush(r.Context())
	} else {
		n, err = h.Service.FlushUser(r.Context(), p.ID)
	}
	if err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flushed": n})
}

// ListProgress returns the caller's stored positions. GET /api/progress
func (h *HistoryHandler) ListProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	items, err := h.Service.ListProgress(r.Context(), p.ID)
	if err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	if items == nil {
		items = []models.PlaybackProgress{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Hide removes a movie, an episode or a whole series from continue watching.
// DELETE /api/progress/{key}
func (h *HistoryHandler) Hide(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(mux.Vars(r)["key"])
	if err := h.Service.Hide(r.Context(), p.ID, key); err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContinueWatching returns the ranked in-progress titles. GET /api/continue-watching?limit=
func (h *HistoryHandler) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	items, err := h.Service.ContinueWatching(r.Context(), p.ID, queryInt(r, "limit", 0))
	if err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	if items == nil {
		items = []models.ContinueWatchingItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// NextUp returns the next episode of every series the caller follows. GET /api/next-up
func (h *HistoryHandler) NextUp(w http.ResponseWriter, r *http.Request) {
	p, ok := requireProfile(w, r)
	if !ok {
		return
	}
	items, err := h.Service.NextUp(r.Context(), p.ID)
	if err != nil {
		writeJSONError(w, err.Error(), historyErrorStatus(err))
		return
	}
	if items == nil {
		items = []models.NextUpItem{}
	}
	writeJSON(w, http.StatusOK, items)
}
