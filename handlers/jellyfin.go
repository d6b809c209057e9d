package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"jelly/models"
	"jelly/services/jellyfin"

	"github.com/gorilla/mux"
)

type jellyfinService interface {
	Settings(ctx context.Context) (models.JellyfinSettings, error)
	UpdateSettings(ctx context.Context, in models.JellyfinSettings) (models.JellyfinSettings, error)
	TestConnection(ctx context.Context) (jellyfin.SystemInfo, error)
	Libraries(ctx context.Context) ([]models.JellyfinLibrary, error)
	Users(ctx context.Context) ([]models.JellyfinUser, error)
	ImportUsers(ctx context.Context, profiles jellyfin.ProfileStore) (models.JellyfinImportResult, error)
	ExportUsers(ctx context.Context, profiles jellyfin.ProfileStore) ([]models.JellyfinExportResult, error)
	StreamInfo(ctx context.Context, itemID string, startSeconds float64) (models.StreamInfo, error)
}

var _ jellyfinService = (*jellyfin.Service)(nil)

type JellyfinHandler struct {
	Service  jellyfinService
	Profiles jellyfin.ProfileStore
	Audit    auditRecorder
}

func NewJellyfinHandler(service jellyfinService, profiles jellyfin.ProfileStore, audit auditRecorder) *JellyfinHandler {
	return &JellyfinHandler{Service: service, Profiles: profiles, Audit: audit}
}

func jellyfinErrorStatus(err error) int {
	switch {
	case errors.Is(err, jellyfin.ErrInvalidURL), errors.Is(err, jellyfin.ErrItemIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, jellyfin.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jellyfin.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// GetSettings returns the connection settings with the API key masked.
// GET /api/admin/jellyfin/settings
func (h *JellyfinHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Service.Settings(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings.Masked())
}

// PutSettings stores new connection settings. PUT /api/admin/jellyfin/settings
func (h *JellyfinHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var in models.JellyfinSettings
	if !decodeJSON(w, r, &in) {
		return
	}
	settings, err := h.Service.UpdateSettings(r.Context(), in)
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "jellyfin.settings", "jellyfin", "", map[string]any{
		"serverUrl": settings.ServerURL,
		"enabled":   settings.Enabled,
	})
	writeJSON(w, http.StatusOK, settings.Masked())
}

// Test checks that the configured server answers. POST /api/admin/jellyfin/test
func (h *JellyfinHandler) Test(w http.ResponseWriter, r *http.Request) {
	info, err := h.Service.TestConnection(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Libraries lists the server libraries with their category. GET /api/admin/jellyfin/libraries
func (h *JellyfinHandler) Libraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.Service.Libraries(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, libs)
}

// Users lists the media server accounts. GET /api/admin/jellyfin/users
func (h *JellyfinHandler) Users(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Users(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ImportUsers creates local profiles for media server accounts.
// POST /api/admin/jellyfin/users/import
func (h *JellyfinHandler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.ImportUsers(r.Context(), h.Profiles)
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "jellyfin.import", "profile", "", map[string]int{
		"imported": len(result.Imported),
		"linked":   len(result.Linked),
	})
	writeJSON(w, http.StatusOK, result)
}

// ExportUsers creates media server accounts for local profiles. Generated passwords are
// only returned in this response. POST /api/admin/jellyfin/users/export
func (h *JellyfinHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	results, err := h.Service.ExportUsers(r.Context(), h.Profiles)
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "jellyfin.export", "profile", "", map[string]int{"exported": len(results)})
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, results)
}

// Stream returns the playback URLs of an item. GET /api/stream/{jellyfinID}?start=120
func (h *JellyfinHandler) Stream(w http.ResponseWriter, r *http.Request) {
	itemID := strings.TrimSpace(mux.Vars(r)["jellyfinID"])
	var start float64
	if raw := r.URL.Query().Get("start"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeJSONError(w, "start must be a non-negative number of seconds", http.StatusBadRequest)
			return
		}
		start = v
	}
	info, err := h.Service.StreamInfo(r.Context(), itemID, start)
	if err != nil {
		writeJSONError(w, err.Error(), jellyfinErrorStatus(err))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, info)
}
