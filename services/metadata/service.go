package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"jelly/models"
)

var (
	ErrInvalidMediaType = errors.New("invalid media type")
	ErrQueryRequired    = errors.New("search query required")
)

// CatalogLookup resolves which TMDB ids are present on the media server.
type CatalogLookup interface {
	Lookup(ctx context.Context, mediaType string, tmdbIDs []int64) (map[int64]models.CatalogItem, error)
}

// Service exposes TMDB metadata annotated with catalog availability.
type Service struct {
	mu      sync.RWMutex
	client  *tmdbClient
	cache   *memoryCache
	catalog CatalogLookup

	airingConcurrency int
}

// NewService builds a metadata service. cacheTTL <= 0 disables caching.
func NewService(tmdbAPIKey, language string, cacheTTL time.Duration, httpc *http.Client) *Service {
	return &Service{
		client:            newTMDBClient(tmdbAPIKey, language, httpc),
		cache:             newMemoryCache(cacheTTL),
		airingConcurrency: 4,
	}
}

// SetCatalog wires availability reconciliation.
func (s *Service) SetCatalog(c CatalogLookup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

// SetBaseURL points the TMDB client at another host. Used by tests and proxies.
func (s *Service) SetBaseURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.baseURL = strings.TrimRight(u, "/")
}

// UpdateAPIKey swaps credentials and drops everything cached with the old ones.
func (s *Service) UpdateAPIKey(apiKey, language string) {
	s.mu.Lock()
	base := s.client.baseURL
	httpc := s.client.httpc
	s.client = newTMDBClient(apiKey, language, httpc)
	s.client.baseURL = base
	s.mu.Unlock()
	s.cache.clear()
	log.Printf("[metadata] cleared metadata cache due to API key change")
}

// ClearCache drops every cached response and returns how many entries were removed.
func (s *Service) ClearCache() int {
	n := s.cache.len()
	s.cache.clear()
	return n
}

func (s *Service) tmdb() *tmdbClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Service) lookup() CatalogLookup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

func normalizeMediaType(mediaType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case models.MediaTypeMovie, "movies":
		return models.MediaTypeMovie, nil
	case models.MediaTypeTV, "series", "show":
		return models.MediaTypeTV, nil
	case models.MediaTypeAnime:
		return models.MediaTypeAnime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMediaType, mediaType)
}

// detailType maps anime onto TMDB's tv endpoints.
func detailType(mediaType string) (string, error) {
	mt, err := normalizeMediaType(mediaType)
	if err != nil {
		return "", err
	}
	if mt == models.MediaTypeAnime {
		return models.MediaTypeTV, nil
	}
	return mt, nil
}

func (s *Service) Search(ctx context.Context, query string, page int) (models.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.Page{}, ErrQueryRequired
	}
	key := cacheKey("tmdb", "search", query, strconv.Itoa(page))
	if cached, ok := s.cache.get(key); ok {
		return s.reconcilePage(ctx, cached.(models.Page)), nil
	}
	result, err := s.tmdb().searchMulti(ctx, query, page)
	if err != nil {
		return models.Page{}, err
	}
	s.cache.set(key, result)
	return s.reconcilePage(ctx, result), nil
}

func (s *Service) Discover(ctx context.Context, q models.DiscoverQuery) (models.Page, error) {
	if q.MediaType == "" {
		q.MediaType = models.MediaTypeMovie
	}
	mt, err := normalizeMediaType(q.MediaType)
	if err != nil {
		return models.Page{}, err
	}
	q.MediaType = mt
	key := cacheKey("tmdb", "discover", q.MediaType, strconv.Itoa(q.Page), strconv.Itoa(q.GenreID), strconv.Itoa(q.Year), q.SortBy)
	if cached, ok := s.cache.get(key); ok {
		return s.reconcilePage(ctx, cached.(models.Page)), nil
	}
	result, err := s.tmdb().discover(ctx, q)
	if err != nil {
		return models.Page{}, err
	}
	s.cache.set(key, result)
	return s.reconcilePage(ctx, result), nil
}

// Featured returns this week's trending titles. An empty media type means movies and series.
func (s *Service) Featured(ctx context.Context, mediaType string) ([]models.Title, error) {
	apiType := "all"
	if mediaType != "" {
		mt, err := detailType(mediaType)
		if err != nil {
			return nil, err
		}
		apiType = mt
	}
	key := cacheKey("tmdb", "trending", apiType)
	if cached, ok := s.cache.get(key); ok {
		return s.reconcile(ctx, cached.([]models.Title)), nil
	}
	items, err := s.tmdb().trending(ctx, apiType)
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(t models.Title) bool {
		return t.MediaType != models.MediaTypeMovie && t.MediaType != models.MediaTypeTV
	})
	s.cache.set(key, items)
	return s.reconcile(ctx, items), nil
}

// Details returns a movie or series with its trailers.
func (s *Service) Details(ctx context.Context, mediaType string, id int64) (models.Title, error) {
	mt, err := detailType(mediaType)
	if err != nil {
		return models.Title{}, err
	}
	key := cacheKey("tmdb", "details", mt, strconv.FormatInt(id, 10))
	if cached, ok := s.cache.get(key); ok {
		return s.reconcileOne(ctx, cached.(models.Title)), nil
	}
	title, err := s.tmdb().details(ctx, mt, id)
	if err != nil {
		return models.Title{}, err
	}
	// Trailers are optional.
	if trailers, err := s.tmdb().videos(ctx, mt, id); err != nil {
		log.Printf("[metadata] trailers for %s %d failed: %v", mt, id, err)
	} else {
		title.Trailers = trailers
	}
	s.cache.set(key, title)
	return s.reconcileOne(ctx, title), nil
}

func (s *Service) MovieDetails(ctx context.Context, id int64) (models.Title, error) {
	return s.Details(ctx, models.MediaTypeMovie, id)
}

func (s *Service) TVDetails(ctx context.Context, id int64) (models.Title, error) {
	return s.Details(ctx, models.MediaTypeTV, id)
}

func (s *Service) Season(ctx context.Context, tvID int64, season int) (models.Season, error) {
	key := cacheKey("tmdb", "season", strconv.FormatInt(tvID, 10), strconv.Itoa(season))
	if cached, ok := s.cache.get(key); ok {
		return cached.(models.Season), nil
	}
	result, err := s.tmdb().season(ctx, tvID, season)
	if err != nil {
		return models.Season{}, err
	}
	s.cache.set(key, result)
	return result, nil
}

func (s *Service) Credits(ctx context.Context, mediaType string, id int64) (models.Credits, error) {
	mt, err := detailType(mediaType)
	if err != nil {
		return models.Credits{}, err
	}
	key := cacheKey("tmdb", "credits", mt, strconv.FormatInt(id, 10))
	if cached, ok := s.cache.get(key); ok {
		return cached.(models.Credits), nil
	}
	result, err := s.tmdb().credits(ctx, mt, id)
	if err != nil {
		return models.Credits{}, err
	}
	s.cache.set(key, result)
	return result, nil
}

func (s *Service) Videos(ctx context.Context, mediaType string, id int64) ([]models.Trailer, error) {
	mt, err := detailType(mediaType)
	if err != nil {
		return nil, err
	}
	key := cacheKey("tmdb", "videos", mt, strconv.FormatInt(id, 10))
	if cached, ok := s.cache.get(key); ok {
		return cached.([]models.Trailer), nil
	}
	result, err := s.tmdb().videos(ctx, mt, id)
	if err != nil {
		return nil, err
	}
	s.cache.set(key, result)
	return result, nil
}

// AiringSchedule returns the next episode to air for each series, sorted by air date.
// Series without a scheduled episode, or whose lookup fails, are left out.
func (s *Service) AiringSchedule(ctx context.Context, tvIDs []int64) ([]models.AiringEntry, error) {
	ids := slices.Clone(tvIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	p := pool.NewWithResults[*models.AiringEntry]().WithContext(ctx).WithMaxGoroutines(s.airingConcurrency)
	for _, id := range ids {
		p.Go(func(ctx context.Context) (*models.AiringEntry, error) {
			title, err := s.Details(ctx, models.MediaTypeTV, id)
			if err != nil {
				if errors.Is(err, ErrNotConfigured) {
					return nil, err
				}
				log.Printf("[metadata] airing lookup for tv %d failed: %v", id, err)
				return nil, nil
			}
			if title.NextEpisode == nil {
				return nil, nil
			}
			airDate, err := time.Parse("2006-01-02", title.NextEpisode.AirDate)
			if err != nil {
				return nil, nil
			}
			return &models.AiringEntry{
				SeriesTMDBID:  title.TMDBID,
				SeriesName:    title.Name,
				Poster:        title.Poster,
				SeasonNumber:  title.NextEpisode.SeasonNumber,
				EpisodeNumber: title.NextEpisode.EpisodeNumber,
				EpisodeName:   title.NextEpisode.Name,
				AirDate:       airDate,
			}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	entries := make([]models.AiringEntry, 0, len(results))
	for _, r := range results {
		if r != nil {
			entries = append(entries, *r)
		}
	}
	slices.SortStableFunc(entries, func(a, b models.AiringEntry) int {
		if c := a.AirDate.Compare(b.AirDate); c != 0 {
			return c
		}
		return strings.Compare(a.SeriesName, b.SeriesName)
	})
	return entries, nil
}

func (s *Service) reconcilePage(ctx context.Context, page models.Page) models.Page {
	page.Results = s.reconcile(ctx, page.Results)
	return page
}

func (s *Service) reconcileOne(ctx context.Context, title models.Title) models.Title {
	out := s.reconcile(ctx, []models.Title{title})
	return out[0]
}

// reconcile copies titles and flags the ones present in the catalog.
func (s *Service) reconcile(ctx context.Context, titles []models.Title) []models.Title {
	out := slices.Clone(titles)
	catalog := s.lookup()
	if catalog == nil || len(out) == 0 {
		return out
	}
	byType := map[string][]int64{}
	for _, t := range out {
		byType[t.MediaType] = append(byType[t.MediaType], t.TMDBID)
	}
	for mediaType, ids := range byType {
		found, err := catalog.Lookup(ctx, mediaType, ids)
		if err != nil {
			log.Printf("[metadata] availability lookup failed: %v", err)
			continue
		}
		for i := range out {
			if out[i].MediaType != mediaType {
				continue
			}
			if item, ok := found[out[i].TMDBID]; ok {
				out[i].Available = true
				out[i].JellyfinItemID = item.JellyfinItemID
			}
		}
	}
	return out
}
