package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"jelly/config"
	"jelly/handlers"
)

type fakeReloader struct {
	apiKey  string
	cleared int
}

func (f *fakeReloader) UpdateAPIKey(apiKey, language string) { f.apiKey = apiKey }

func (f *fakeReloader) ClearCache() int {
	f.cleared++
	return 7
}

func newSettingsManager(t *testing.T) *config.Manager {
	t.Helper()
	m := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	err := m.Update(func(s *config.Settings) {
		s.Auth.JWTSecret = "signing-secret"
		s.Metadata.TMDBAPIKey = "tmdb-key"
	})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	return m
}

func TestGetSettingsMasksSecrets(t *testing.T) {
	handler := handlers.NewSettingsHandler(newSettingsManager(t), nil, nil)

	rec := httptest.NewRecorder()
	handler.GetSettings(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/settings", nil), "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got config.Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Auth.JWTSecret != "********" || got.Metadata.TMDBAPIKey != "********" {
		t.Fatalf("secrets leaked: %+v %+v", got.Auth, got.Metadata)
	}
	if got.Events.RedisPassword != "" {
		t.Fatal("empty secrets should stay empty")
	}
}

func TestPutSettingsKeepsMaskedSecrets(t *testing.T) {
	manager := newSettingsManager(t)
	reloader := &fakeReloader{}
	audit := &fakeAudit{}
	handler := handlers.NewSettingsHandler(manager, reloader, audit)

	rec := httptest.NewRecorder()
	handler.GetSettings(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/settings", nil), "admin"))
	var current config.Settings
	if err := json.NewDecoder(rec.Body).Decode(&current); err != nil {
		t.Fatal(err)
	}
	current.Metadata.Language = "en-US"
	current.ScheduledTasks.Tasks = nil
	body, _ := json.Marshal(current)

	rec = httptest.NewRecorder()
	handler.PutSettings(rec, asAdmin(httptest.NewRequest(http.MethodPut, "/api/admin/settings", bytes.NewReader(body)), "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := manager.LoadFile()
	if err != nil {
		t.Fatal(err)
	}
	if stored.Auth.JWTSecret != "signing-secret" || stored.Metadata.TMDBAPIKey != "tmdb-key" {
		t.Fatalf("masked secrets overwrote stored values: %+v", stored.Auth)
	}
	if stored.Metadata.Language != "en-US" {
		t.Fatalf("language not saved: %q", stored.Metadata.Language)
	}
	if len(stored.ScheduledTasks.Tasks) == 0 {
		t.Fatal("scheduled tasks must be preserved")
	}
	if reloader.apiKey != "tmdb-key" {
		t.Fatalf("metadata service not reloaded, got key %q", reloader.apiKey)
	}
	if len(audit.actions) != 1 || audit.actions[0] != "settings.update" {
		t.Fatalf("unexpected audit: %v", audit.actions)
	}
}

func TestPutSettingsRejectsUnknownFields(t *testing.T) {
	handler := handlers.NewSettingsHandler(newSettingsManager(t), nil, nil)
	req := httptest.NewRequest(http.MethodPut, "/api/admin/settings", bytes.NewBufferString(`{"bogus":true}`))
	rec := httptest.NewRecorder()
	handler.PutSettings(rec, asAdmin(req, "admin"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestClearMetadataCache(t *testing.T) {
	reloader := &fakeReloader{}
	handler := handlers.NewSettingsHandler(newSettingsManager(t), reloader, nil)

	rec := httptest.NewRecorder()
	handler.ClearMetadataCache(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/api/admin/metadata/cache/clear", nil), "admin"))
	if rec.Code != http.StatusOK || reloader.cleared != 1 {
		t.Fatalf("cache not cleared: %d %d", rec.Code, reloader.cleared)
	}
	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["cleared"] != 7 {
		t.Fatalf("unexpected body %v", body)
	}

	rec = httptest.NewRecorder()
	handlers.NewSettingsHandler(newSettingsManager(t), nil, nil).ClearMetadataCache(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without metadata service, got %d", rec.Code)
	}
}
