package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"jelly/models"
	"jelly/services/catalog"
	"jelly/services/jellyfin"
	"jelly/services/metadata"

	"github.com/gorilla/mux"
)

type metadataService interface {
	Search(ctx context.Context, query string, page int) (models.Page, error)
	Discover(ctx context.Context, q models.DiscoverQuery) (models.Page, error)
	Featured(ctx context.Context, mediaType string) ([]models.Title, error)
	Details(ctx context.Context, mediaType string, id int64) (models.Title, error)
	Season(ctx context.Context, tvID int64, season int) (models.Season, error)
	Credits(ctx context.Context, mediaType string, id int64) (models.Credits, error)
	Videos(ctx context.Context, mediaType string, id int64) ([]models.Trailer, error)
	AiringSchedule(ctx context.Context, tvIDs []int64) ([]models.AiringEntry, error)
}

type catalogService interface {
	Get(ctx context.Context, mediaType string, tmdbID int64) (models.CatalogItem, error)
	List(ctx context.Context, category string, limit, offset int) ([]models.CatalogItem, error)
	SeriesIDs(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context) (models.LibraryStats, error)
	Sync(ctx context.Context) (models.CatalogSyncResult, error)
}

type episodeChecker interface {
	EpisodeExists(ctx context.Context, seriesItemID string, season, episode int) (bool, error)
}

var (
	_ metadataService = (*metadata.Service)(nil)
	_ catalogService  = (*catalog.Service)(nil)
	_ episodeChecker  = (*jellyfin.Service)(nil)
)

type CatalogHandler struct {
	Metadata metadataService
	Catalog  catalogService
	Episodes episodeChecker
	Audit    auditRecorder
}

func NewCatalogHandler(meta metadataService, cat catalogService, episodes episodeChecker, audit auditRecorder) *CatalogHandler {
	return &CatalogHandler{Metadata: meta, Catalog: cat, Episodes: episodes, Audit: audit}
}

func catalogErrorStatus(err error) int {
	switch {
	case errors.Is(err, metadata.ErrInvalidMediaType), errors.Is(err, metadata.ErrQueryRequired):
		return http.StatusBadRequest
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, metadata.ErrNotConfigured), errors.Is(err, jellyfin.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

// Search queries movies and series. GET /api/catalog/search?q=&page=
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	page, err := h.Metadata.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "page", 1))
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Discover lists popular titles. GET /api/catalog/discover?type=movie|tv|anime&page=&genre=&year=&sort=
func (h *CatalogHandler) Discover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.Metadata.Discover(r.Context(), models.DiscoverQuery{
		MediaType: q.Get("type"),
		Page:      queryInt(r, "page", 1),
		GenreID:   queryInt(r, "genre", 0),
		Year:      queryInt(r, "year", 0),
		SortBy:    q.Get("sort"),
	})
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Featured returns the trending titles of the week. GET /api/catalog/featured?type=
func (h *CatalogHandler) Featured(w http.ResponseWriter, r *http.Request) {
	items, err := h.Metadata.Featured(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Details returns a movie or a series. GET /api/catalog/{type}/{id}
func (h *CatalogHandler) Details(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := pathInt64(w, vars["id"], "id")
	if !ok {
		return
	}
	title, err := h.Metadata.Details(r.Context(), vars["type"], id)
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, title)
}

// Season returns the episodes of a season. GET /api/catalog/tv/{id}/season/{season}
func (h *CatalogHandler) Season(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := pathInt64(w, vars["id"], "id")
	if !ok {
		return
	}
	number, err := strconv.Atoi(vars["season"])
	if err != nil || number < 0 {
		writeJSONError(w, "season must be a non-negative integer", http.StatusBadRequest)
		return
	}
	season, err := h.Metadata.Season(r.Context(), id, number)
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, season)
}

// Credits returns cast and crew. GET /api/catalog/{type}/{id}/credits
func (h *CatalogHandler) Credits(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := pathInt64(w, vars["id"], "id")
	if !ok {
		return
	}
	credits, err := h.Metadata.Credits(r.Context(), vars["type"], id)
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// Videos returns trailers. GET /api/catalog/{type}/{id}/videos
func (h *CatalogHandler) Videos(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := pathInt64(w, vars["id"], "id")
	if !ok {
		return
	}
	videos, err := h.Metadata.Videos(r.Context(), vars["type"], id)
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	if videos == nil {
		videos = []models.Trailer{}
	}
	writeJSON(w, http.StatusOK, videos)
}

// Airing returns upcoming episodes. Without ?ids= it covers every series in the library.
// GET /api/catalog/airing?ids=1399,1402
func (h *CatalogHandler) Airing(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	if raw := strings.TrimSpace(r.URL.Query().Get("ids")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				writeJSONError(w, "ids must be a comma separated list of TMDB ids", http.StatusBadRequest)
				return
			}
			ids = append(ids, id)
		}
	} else {
		var err error
		if ids, err = h.Catalog.SeriesIDs(r.Context()); err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	entries, err := h.Metadata.AiringSchedule(r.Context(), ids)
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	if entries == nil {
		entries = []models.AiringEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type episodeExistsResponse struct {
	InLibrary      bool   `json:"inLibrary"`
	Exists         bool   `json:"exists"`
	JellyfinItemID string `json:"jellyfinItemId,omitempty"`
}

// EpisodeExists reports whether the media server has an episode of a series.
// GET /api/catalog/episode-exists?tmdbId=1399&season=1&episode=2
func (h *CatalogHandler) EpisodeExists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tmdbID, ok := pathInt64(w, q.Get("tmdbId"), "tmdbId")
	if !ok {
		return
	}
	season, err1 := strconv.Atoi(q.Get("season"))
	episode, err2 := strconv.Atoi(q.Get("episode"))
	if err1 != nil || err2 != nil || season < 0 || episode < 1 {
		writeJSONError(w, "season and episode are required", http.StatusBadRequest)
		return
	}

	item, err := h.Catalog.Get(r.Context(), models.MediaTypeTV, tmdbID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeJSON(w, http.StatusOK, episodeExistsResponse{})
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	exists, err := h.Episodes.EpisodeExists(r.Context(), item.JellyfinItemID, season, episode)
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, episodeExistsResponse{InLibrary: true, Exists: exists, JellyfinItemID: item.JellyfinItemID})
}

// Library lists catalog items, optionally filtered by ?category=.
// GET /api/catalog/library?category=films&limit=&offset=
func (h *CatalogHandler) Library(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.List(r.Context(), r.URL.Query().Get("category"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Stats returns per-category item counts. GET /api/catalog/stats
func (h *CatalogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Catalog.Stats(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sync mirrors the media server libraries now. POST /api/admin/jellyfin/sync
func (h *CatalogHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.Catalog.Sync(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), catalogErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "catalog.sync", "catalog", "", map[string]int{
		"upserted": result.Upserted,
		"pruned":   result.Pruned,
	})
	writeJSON(w, http.StatusOK, result)
}
