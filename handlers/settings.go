package handlers

import (
	"log"
	"net/http"

	"jelly/config"
)

const maskedSecret = "********"

// metadataReloader is the part of the metadata service that caches file settings.
type metadataReloader interface {
	UpdateAPIKey(apiKey, language string)
	ClearCache() int
}

type SettingsHandler struct {
	Manager  *config.Manager
	Metadata metadataReloader
	Audit    auditRecorder
}

func NewSettingsHandler(m *config.Manager, meta metadataReloader, audit auditRecorder) *SettingsHandler {
	return &SettingsHandler{Manager: m, Metadata: meta, Audit: audit}
}

func maskSettings(s config.Settings) config.Settings {
	if s.Auth.JWTSecret != "" {
		s.Auth.JWTSecret = maskedSecret
	}
	if s.Metadata.TMDBAPIKey != "" {
		s.Metadata.TMDBAPIKey = maskedSecret
	}
	if s.Events.RedisPassword != "" {
		s.Events.RedisPassword = maskedSecret
	}
	return s
}

// GetSettings returns the settings file with secrets masked. GET /api/admin/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Manager.LoadFile()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, maskSettings(s))
}

// PutSettings replaces the settings file. Masked or empty secrets keep their stored value.
// Scheduled tasks are managed through their own endpoints and are left untouched.
// PUT /api/admin/settings
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var in config.Settings
	if !decodeJSON(w, r, &in) {
		return
	}

	var saved config.Settings
	err := h.Manager.Update(func(s *config.Settings) {
		keepSecret(&in.Auth.JWTSecret, s.Auth.JWTSecret)
		keepSecret(&in.Metadata.TMDBAPIKey, s.Metadata.TMDBAPIKey)
		keepSecret(&in.Events.RedisPassword, s.Events.RedisPassword)
		in.ScheduledTasks = s.ScheduledTasks
		*s = in
		saved = in
	})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.reloadServices()
	recordAudit(r, h.Audit, "settings.update", "settings", "", nil)
	writeJSON(w, http.StatusOK, maskSettings(saved))
}

func keepSecret(dst *string, stored string) {
	if *dst == "" || *dst == maskedSecret {
		*dst = stored
	}
}

// reloadServices pushes settings that services cache at startup. Environment
// overrides still apply, so the effective settings are reloaded.
func (h *SettingsHandler) reloadServices() {
	if h.Metadata == nil {
		return
	}
	effective, err := h.Manager.Load()
	if err != nil {
		log.Printf("[settings] failed to reload settings: %v", err)
		return
	}
	h.Metadata.UpdateAPIKey(effective.Metadata.TMDBAPIKey, effective.Metadata.Language)
	log.Printf("[settings] reloaded metadata service API key")
}

// ClearMetadataCache drops cached TMDB responses. POST /api/admin/metadata/cache/clear
func (h *SettingsHandler) ClearMetadataCache(w http.ResponseWriter, r *http.Request) {
	if h.Metadata == nil {
		writeJSONError(w, "metadata service not available", http.StatusServiceUnavailable)
		return
	}
	n := h.Metadata.ClearCache()
	log.Printf("[settings] metadata cache cleared by user request (%d entries)", n)
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
