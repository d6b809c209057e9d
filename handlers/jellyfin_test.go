package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"jelly/handlers"
	"jelly/models"
	"jelly/services/jellyfin"
)

type fakeJellyfin struct {
	settings  models.JellyfinSettings
	lastStart float64
	streamErr error
}

func (f *fakeJellyfin) Settings(ctx context.Context) (models.JellyfinSettings, error) {
	return f.settings, nil
}

func (f *fakeJellyfin) UpdateSettings(ctx context.Context, in models.JellyfinSettings) (models.JellyfinSettings, error) {
	if !strings.HasPrefix(in.ServerURL, "http") {
		return models.JellyfinSettings{}, jellyfin.ErrInvalidURL
	}
	f.settings = in
	return in, nil
}

func (f *fakeJellyfin) TestConnection(ctx context.Context) (jellyfin.SystemInfo, error) {
	return jellyfin.SystemInfo{}, jellyfin.ErrNotConfigured
}

func (f *fakeJellyfin) Libraries(ctx context.Context) ([]models.JellyfinLibrary, error) {
	return nil, nil
}

func (f *fakeJellyfin) Users(ctx context.Context) ([]models.JellyfinUser, error) {
	return nil, nil
}

func (f *fakeJellyfin) ImportUsers(ctx context.Context, profiles jellyfin.ProfileStore) (models.JellyfinImportResult, error) {
	return models.JellyfinImportResult{}, nil
}

func (f *fakeJellyfin) ExportUsers(ctx context.Context, profiles jellyfin.ProfileStore) ([]models.JellyfinExportResult, error) {
	return nil, nil
}

func (f *fakeJellyfin) StreamInfo(ctx context.Context, itemID string, startSeconds float64) (models.StreamInfo, error) {
	if f.streamErr != nil {
		return models.StreamInfo{}, f.streamErr
	}
	f.lastStart = startSeconds
	return models.StreamInfo{ItemID: itemID, DirectURL: "http://jf/Videos/" + itemID + "/stream"}, nil
}

func TestJellyfinSettingsMasked(t *testing.T) {
	svc := &fakeJellyfin{settings: models.JellyfinSettings{ServerURL: "http://jf:8096", APIKey: "secret", Enabled: true}}
	audit := &fakeAudit{}
	handler := handlers.NewJellyfinHandler(svc, nil, audit)

	rec := httptest.NewRecorder()
	handler.GetSettings(rec, asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/jellyfin/settings", nil), "admin"))
	var got models.JellyfinSettings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.APIKey != "********" || got.ServerURL != "http://jf:8096" {
		t.Fatalf("unexpected settings %+v", got)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/admin/jellyfin/settings", strings.NewReader(`{"serverUrl":"jf:8096","apiKey":"k","enabled":true}`))
	rec = httptest.NewRecorder()
	handler.PutSettings(rec, asAdmin(req, "admin"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", rec.Code)
	}
	if len(audit.actions) != 0 {
		t.Fatal("failed update must not be audited")
	}

	req = httptest.NewRequest(http.MethodPut, "/api/admin/jellyfin/settings", strings.NewReader(`{"serverUrl":"https://jf.example","apiKey":"k2","enabled":true}`))
	rec = httptest.NewRecorder()
	handler.PutSettings(rec, asAdmin(req, "admin"))
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "k2") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(audit.actions) != 1 || audit.actions[0] != "jellyfin.settings" {
		t.Fatalf("unexpected audit %v", audit.actions)
	}
}

func TestJellyfinTestNotConfigured(t *testing.T) {
	handler := handlers.NewJellyfinHandler(&fakeJellyfin{}, nil, nil)
	rec := httptest.NewRecorder()
	handler.Test(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/api/admin/jellyfin/test", nil), "admin"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStream(t *testing.T) {
	svc := &fakeJellyfin{}
	handler := handlers.NewJellyfinHandler(svc, nil, nil)

	stream := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req = mux.SetURLVars(asUser(req, "alice"), map[string]string{"jellyfinID": "abc123"})
		rec := httptest.NewRecorder()
		handler.Stream(rec, req)
		return rec
	}

	rec := stream("/api/stream/abc123?start=90.5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastStart != 90.5 {
		t.Fatalf("start not forwarded: %v", svc.lastStart)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("stream urls must not be cached")
	}

	if rec := stream("/api/stream/abc123?start=-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative start, got %d", rec.Code)
	}

	svc.streamErr = jellyfin.ErrNotFound
	if rec := stream("/api/stream/abc123"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
