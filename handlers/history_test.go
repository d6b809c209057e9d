package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"jelly/handlers"
	"jelly/models"
	"jelly/services/history"
)

type fakeHistoryService struct {
	recorded  []models.PlaybackProgressUpdate
	final     *models.PlaybackProgressUpdate
	hidden    string
	lastLimit int
	items     []models.ContinueWatchingItem
	err       error

	flushedAll  bool
	flushedUser string
}

func (f *fakeHistoryService) RecordProgress(userID string, u models.PlaybackProgressUpdate) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, u)
	return nil
}

func (f *fakeHistoryService) RecordFinal(ctx context.Context, userID string, u models.PlaybackProgressUpdate) (models.PlaybackProgress, error) {
	if f.err != nil {
		return models.PlaybackProgress{}, f.err
	}
	f.final = &u
	return models.PlaybackProgress{UserID: userID, TMDBID: u.TMDBID, MediaType: u.MediaType, Position: u.Position}, nil
}

func (f *fakeHistoryService) Flush(ctx context.Context) (int, error) {
	f.flushedAll = true
	return len(f.recorded), f.err
}

func (f *fakeHistoryService) FlushUser(ctx context.Context, userID string) (int, error) {
	f.flushedUser = userID
	return 1, f.err
}

func (f *fakeHistoryService) ListProgress(ctx context.Context, userID string) ([]models.PlaybackProgress, error) {
	return nil, f.err
}

func (f *fakeHistoryService) Hide(ctx context.Context, userID, key string) error {
	f.hidden = key
	return f.err
}

func (f *fakeHistoryService) ContinueWatching(ctx context.Context, userID string, limit int) ([]models.ContinueWatchingItem, error) {
	f.lastLimit = limit
	return f.items, f.err
}

func (f *fakeHistoryService) NextUp(ctx context.Context, userID string) ([]models.NextUpItem, error) {
	return nil, f.err
}

func asUser(req *http.Request, id string) *http.Request {
	return req.WithContext(handlers.WithProfile(req.Context(), models.Profile{ID: id, Role: models.RoleUser}))
}

func asAdmin(req *http.Request, id string) *http.Request {
	return req.WithContext(handlers.WithProfile(req.Context(), models.Profile{ID: id, Role: models.RoleAdmin}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestRecordProgressRequiresProfile(t *testing.T) {
	svc := &fakeHistoryService{}
	handler := handlers.NewHistoryHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/progress", strings.NewReader(`{"tmdbId":603,"mediaType":"movie","position":10,"duration":100}`))
	rec := httptest.NewRecorder()
	handler.RecordProgress(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(svc.recorded) != 0 {
		t.Fatal("progress recorded without a profile")
	}
}

func TestRecordProgressAccepted(t *testing.T) {
	svc := &fakeHistoryService{}
	handler := handlers.NewHistoryHandler(svc)

	body := `{"tmdbId":1399,"mediaType":"tv","seasonNumber":1,"episodeNumber":2,"position":300,"duration":3000}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/progress", strings.NewReader(body)), "alice")
	rec := httptest.NewRecorder()
	handler.RecordProgress(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.recorded) != 1 || svc.recorded[0].EpisodeNumber != 2 {
		t.Fatalf("unexpected recorded updates: %+v", svc.recorded)
	}
}

func TestRecordProgressRejectsUnknownFields(t *testing.T) {
	handler := handlers.NewHistoryHandler(&fakeHistoryService{})
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/progress", strings.NewReader(`{"tmdbId":1,"bogus":true}`)), "alice")
	rec := httptest.NewRecorder()
	handler.RecordProgress(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRecordProgressValidationError(t *testing.T) {
	svc := &fakeHistoryService{err: history.ErrInvalidProgress}
	handler := handlers.NewHistoryHandler(svc)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/progress", strings.NewReader(`{"tmdbId":0}`)), "alice")
	rec := httptest.NewRecorder()
	handler.RecordProgress(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != history.ErrInvalidProgress.Error() {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestBeaconAcceptsTextPlainJSON(t *testing.T) {
	svc := &fakeHistoryService{}
	handler := handlers.NewHistoryHandler(svc)

	payload := []byte(`{"tmdbId":603,"mediaType":"movie","position":5400,"duration":8160}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/playback/beacon?token=x", bytes.NewReader(payload)), "alice")
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	rec := httptest.NewRecorder()
	handler.Beacon(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.final == nil || svc.final.Position != 5400 {
		t.Fatalf("beacon not written through: %+v", svc.final)
	}
}

func TestHideMapsNotFound(t *testing.T) {
	svc := &fakeHistoryService{err: history.ErrNotFound}
	handler := handlers.NewHistoryHandler(svc)

	req := asUser(httptest.NewRequest(http.MethodDelete, "/api/progress/tv:1399", nil), "alice")
	req = mux.SetURLVars(req, map[string]string{"key": "tv:1399"})
	rec := httptest.NewRecorder()
	handler.Hide(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if svc.hidden != "tv:1399" {
		t.Fatalf("expected key to be forwarded, got %q", svc.hidden)
	}
}

func TestContinueWatchingReturnsItems(t *testing.T) {
	svc := &fakeHistoryService{items: []models.ContinueWatchingItem{
		{ID: "movie:603", TMDBID: 603, MediaType: "movie", Title: "The Matrix", UpdatedAt: time.Now()},
	}}
	handler := handlers.NewHistoryHandler(svc)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/continue-watching?limit=5", nil), "alice")
	rec := httptest.NewRecorder()
	handler.ContinueWatching(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastLimit != 5 {
		t.Fatalf("expected limit 5, got %d", svc.lastLimit)
	}
	var items []models.ContinueWatchingItem
	if err := json.NewDecoder(rec.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Title != "The Matrix" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestNextUpEmptyListIsArray(t *testing.T) {
	handler := handlers.NewHistoryHandler(&fakeHistoryService{})
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/next-up", nil), "alice")
	rec := httptest.NewRecorder()
	handler.NextUp(rec, req)

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty JSON array, got %s", got)
	}
}

func TestFlushIsScopedToCallerUnlessAdmin(t *testing.T) {
	svc := &fakeHistoryService{recorded: make([]models.PlaybackProgressUpdate, 3)}
	handler := handlers.NewHistoryHandler(svc)

	rec := httptest.NewRecorder()
	handler.Flush(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/progress/flush", nil), "alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.flushedAll || svc.flushedUser != "alice" {
		t.Fatalf("regular user must only flush their own positions: all=%v user=%q", svc.flushedAll, svc.flushedUser)
	}
	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["flushed"] != 1 {
		t.Fatalf("unexpected body %v", body)
	}

	svc.flushedUser = ""
	rec = httptest.NewRecorder()
	handler.Flush(rec, asAdmin(httptest.NewRequest(http.MethodPost, "/api/progress/flush", nil), "root"))
	if !svc.flushedAll || svc.flushedUser != "" {
		t.Fatalf("admin should flush everything: all=%v user=%q", svc.flushedAll, svc.flushedUser)
	}

	rec = httptest.NewRecorder()
	handler.Flush(rec, httptest.NewRequest(http.MethodPost, "/api/progress/flush", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a profile, got %d", rec.Code)
	}
}
