package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"jelly/models"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p"
	// Posters: w500 is plenty for cards. Backdrops: w1280 for 1080p backgrounds.
	tmdbPosterSize   = "w500"
	tmdbBackdropSize = "w1280"
	tmdbStillSize    = "w300"
	tmdbProfileSize  = "w185"

	// Animation genre, used together with a Japanese origin to discover anime.
	tmdbGenreAnimation = 16
)

var (
	ErrNotConfigured = errors.New("tmdb api key not configured")
	ErrNotFound      = errors.New("tmdb resource not found")
)

type httpStatusError struct {
	code   int
	status string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("tmdb request failed: %s", e.status)
}

type tmdbClient struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client
	limiter  *rate.Limiter
}

func newTMDBClient(apiKey, language string, httpc *http.Client) *tmdbClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &tmdbClient{
		apiKey:   strings.TrimSpace(apiKey),
		language: language,
		baseURL:  tmdbBaseURL,
		httpc:    httpc,
		// TMDB allows roughly 50 requests per second.
		limiter: rate.NewLimiter(rate.Limit(40), 10),
	}
}

func (c *tmdbClient) isConfigured() bool {
	return c != nil && c.apiKey != ""
}

// doGET performs a rate limited GET and retries 429 and 5xx responses with exponential backoff.
func (c *tmdbClient) doGET(ctx context.Context, query url.Values, v any, segments ...string) error {
	if !c.isConfigured() {
		return ErrNotConfigured
	}
	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	if query.Get("language") == "" {
		query.Set("language", normalizeLanguage(c.language))
	}
	endpoint += "?" + query.Encode()

	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(ErrNotFound)
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return &httpStatusError{code: resp.StatusCode, status: resp.Status}
			case resp.StatusCode >= 400:
				return retry.Unrecoverable(&httpStatusError{code: resp.StatusCode, status: resp.Status})
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode tmdb response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[tmdb] %s failed (attempt %d/3): %v", path.Join(segments...), n+1, err)
		}),
	)
}

type tmdbListResult struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Title            string  `json:"title"`
	OriginalName     string  `json:"original_name"`
	OriginalTitle    string  `json:"original_title"`
	Overview         string  `json:"overview"`
	OriginalLanguage string  `json:"original_language"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	Popularity       float64 `json:"popularity"`
	VoteAverage      float64 `json:"vote_average"`
	FirstAirDate     string  `json:"first_air_date"`
	ReleaseDate      string  `json:"release_date"`
	MediaType        string  `json:"media_type"`
	GenreIDs         []int   `json:"genre_ids"`
}

type tmdbListResponse struct {
	Page         int              `json:"page"`
	TotalPages   int              `json:"total_pages"`
	TotalResults int              `json:"total_results"`
	Results      []tmdbListResult `json:"results"`
}

type tmdbEpisode struct {
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	Name          string `json:"name"`
	Overview      string `json:"overview"`
	AirDate       string `json:"air_date"`
	Runtime       int    `json:"runtime"`
	StillPath     string `json:"still_path"`
}

type tmdbSeason struct {
	SeasonNumber int           `json:"season_number"`
	Name         string        `json:"name"`
	Overview     string        `json:"overview"`
	AirDate      string        `json:"air_date"`
	EpisodeCount int           `json:"episode_count"`
	PosterPath   string        `json:"poster_path"`
	Episodes     []tmdbEpisode `json:"episodes"`
}

type tmdbDetails struct {
	tmdbListResult
	Runtime          int          `json:"runtime"`
	EpisodeRunTime   []int        `json:"episode_run_time"`
	Status           string       `json:"status"`
	NumberOfSeasons  int          `json:"number_of_seasons"`
	Seasons          []tmdbSeason `json:"seasons"`
	NextEpisodeToAir *tmdbEpisode `json:"next_episode_to_air"`
	Genres           []struct {
		ID int `json:"id"`
	} `json:"genres"`
}

type tmdbCreditsResponse struct {
	Cast []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Character   string `json:"character"`
		Order       int    `json:"order"`
		ProfilePath string `json:"profile_path"`
	} `json:"cast"`
	Crew []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Job         string `json:"job"`
		Department  string `json:"department"`
		ProfilePath string `json:"profile_path"`
	} `json:"crew"`
}

type tmdbVideosResponse struct {
	Results []struct {
		Name        string `json:"name"`
		Key         string `json:"key"`
		Site        string `json:"site"`
		Type        string `json:"type"`
		Official    bool   `json:"official"`
		PublishedAt string `json:"published_at"`
	} `json:"results"`
}

func (c *tmdbClient) searchMulti(ctx context.Context, query string, page int) (models.Page, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(max(page, 1)))
	q.Set("include_adult", "false")
	var payload tmdbListResponse
	if err := c.doGET(ctx, q, &payload, "search", "multi"); err != nil {
		return models.Page{}, err
	}
	out := toPage(payload, "")
	// Multi search also returns people.
	filtered := out.Results[:0]
	for _, t := range out.Results {
		if t.MediaType == models.MediaTypeMovie || t.MediaType == models.MediaTypeTV {
			filtered = append(filtered, t)
		}
	}
	out.Results = filtered
	return out, nil
}

func (c *tmdbClient) discover(ctx context.Context, dq models.DiscoverQuery) (models.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(dq.Page, 1)))
	sortBy := dq.SortBy
	if sortBy == "" {
		sortBy = "popularity.desc"
	}
	q.Set("sort_by", sortBy)

	apiType := models.MediaTypeMovie
	switch dq.MediaType {
	case models.MediaTypeTV:
		apiType = models.MediaTypeTV
	case models.MediaTypeAnime:
		apiType = models.MediaTypeTV
		q.Set("with_genres", strconv.Itoa(tmdbGenreAnimation))
		q.Set("with_origin_country", "JP")
	}
	if dq.GenreID > 0 && dq.MediaType != models.MediaTypeAnime {
		q.Set("with_genres", strconv.Itoa(dq.GenreID))
	}
	if dq.Year > 0 {
		if apiType == models.MediaTypeMovie {
			q.Set("primary_release_year", strconv.Itoa(dq.Year))
		} else {
			q.Set("first_air_date_year", strconv.Itoa(dq.Year))
		}
	}

	var payload tmdbListResponse
	if err := c.doGET(ctx, q, &payload, "discover", apiType); err != nil {
		return models.Page{}, err
	}
	return toPage(payload, apiType), nil
}

func (c *tmdbClient) trending(ctx context.Context, mediaType string) ([]models.Title, error) {
	var payload tmdbListResponse
	if err := c.doGET(ctx, nil, &payload, "trending", mediaType, "week"); err != nil {
		return nil, err
	}
	fallback := ""
	if mediaType != "all" {
		fallback = mediaType
	}
	return toPage(payload, fallback).Results, nil
}

func (c *tmdbClient) details(ctx context.Context, mediaType string, id int64) (models.Title, error) {
	var payload tmdbDetails
	if err := c.doGET(ctx, nil, &payload, mediaType, strconv.FormatInt(id, 10)); err != nil {
		return models.Title{}, err
	}
	title := toTitle(payload.tmdbListResult, mediaType)
	title.Status = payload.Status
	title.RuntimeMinutes = payload.Runtime
	if title.RuntimeMinutes == 0 && len(payload.EpisodeRunTime) > 0 {
		title.RuntimeMinutes = payload.EpisodeRunTime[0]
	}
	for _, g := range payload.Genres {
		title.GenreIDs = append(title.GenreIDs, g.ID)
	}
	title.SeasonCount = payload.NumberOfSeasons
	for _, s := range payload.Seasons {
		title.Seasons = append(title.Seasons, toSeason(s))
	}
	if payload.NextEpisodeToAir != nil {
		ep := toEpisode(*payload.NextEpisodeToAir)
		title.NextEpisode = &ep
	}
	return title, nil
}

func (c *tmdbClient) season(ctx context.Context, tvID int64, season int) (models.Season, error) {
	var payload tmdbSeason
	if err := c.doGET(ctx, nil, &payload, "tv", strconv.FormatInt(tvID, 10), "season", strconv.Itoa(season)); err != nil {
		return models.Season{}, err
	}
	s := toSeason(payload)
	if s.EpisodeCount == 0 {
		s.EpisodeCount = len(s.Episodes)
	}
	return s, nil
}

func (c *tmdbClient) credits(ctx context.Context, mediaType string, id int64) (models.Credits, error) {
	var payload tmdbCreditsResponse
	if err := c.doGET(ctx, nil, &payload, mediaType, strconv.FormatInt(id, 10), "credits"); err != nil {
		return models.Credits{}, err
	}
	out := models.Credits{Cast: []models.CastMember{}, Crew: []models.CrewMember{}}
	for _, p := range payload.Cast {
		out.Cast = append(out.Cast, models.CastMember{
			ID: p.ID, Name: p.Name, Character: p.Character, Order: p.Order,
			ProfileURL: imageURL(p.ProfilePath, tmdbProfileSize),
		})
	}
	for _, p := range payload.Crew {
		out.Crew = append(out.Crew, models.CrewMember{
			ID: p.ID, Name: p.Name, Job: p.Job, Department: p.Department,
			ProfileURL: imageURL(p.ProfilePath, tmdbProfileSize),
		})
	}
	return out, nil
}

func (c *tmdbClient) videos(ctx context.Context, mediaType string, id int64) ([]models.Trailer, error) {
	var payload tmdbVideosResponse
	// Videos are often only published in English; include them as a fallback.
	q := url.Values{}
	q.Set("include_video_language", strings.ToLower(normalizeLanguage(c.language)[:2])+",en,null")
	if err := c.doGET(ctx, q, &payload, mediaType, strconv.FormatInt(id, 10), "videos"); err != nil {
		return nil, err
	}
	trailers := make([]models.Trailer, 0, len(payload.Results))
	for _, v := range payload.Results {
		key := strings.TrimSpace(v.Key)
		if key == "" {
			continue
		}
		t := models.Trailer{
			Name:        strings.TrimSpace(v.Name),
			Site:        strings.TrimSpace(v.Site),
			Type:        strings.TrimSpace(v.Type),
			Key:         key,
			Official:    v.Official,
			PublishedAt: strings.TrimSpace(v.PublishedAt),
		}
		switch strings.ToLower(t.Site) {
		case "youtube":
			t.URL = "https://www.youtube.com/watch?v=" + key
			t.EmbedURL = "https://www.youtube.com/embed/" + key
		case "vimeo":
			t.URL = "https://vimeo.com/" + key
			t.EmbedURL = "https://player.vimeo.com/video/" + key
		default:
			continue
		}
		trailers = append(trailers, t)
	}
	return trailers, nil
}

func toPage(payload tmdbListResponse, fallbackType string) models.Page {
	page := models.Page{
		Page:         payload.Page,
		TotalPages:   payload.TotalPages,
		TotalResults: payload.TotalResults,
		Results:      make([]models.Title, 0, len(payload.Results)),
	}
	for _, r := range payload.Results {
		mediaType := r.MediaType
		if mediaType == "" {
			mediaType = fallbackType
		}
		page.Results = append(page.Results, toTitle(r, mediaType))
	}
	return page
}

func toTitle(r tmdbListResult, mediaType string) models.Title {
	date := r.ReleaseDate
	if mediaType != models.MediaTypeMovie || date == "" {
		date = firstNonEmpty(r.FirstAirDate, r.ReleaseDate)
	}
	return models.Title{
		TMDBID:       r.ID,
		MediaType:    mediaType,
		Name:         pickName(mediaType, r.Name, r.Title),
		OriginalName: pickName(mediaType, r.OriginalName, r.OriginalTitle),
		Overview:     r.Overview,
		ReleaseDate:  date,
		Year:         parseYear(date),
		Language:     r.OriginalLanguage,
		Poster:       buildImage(r.PosterPath, tmdbPosterSize, "poster"),
		Backdrop:     buildImage(r.BackdropPath, tmdbBackdropSize, "backdrop"),
		Popularity:   r.Popularity,
		VoteAverage:  r.VoteAverage,
		GenreIDs:     r.GenreIDs,
	}
}

func toSeason(s tmdbSeason) models.Season {
	season := models.Season{
		SeasonNumber: s.SeasonNumber,
		Name:         s.Name,
		Overview:     s.Overview,
		AirDate:      s.AirDate,
		EpisodeCount: s.EpisodeCount,
		Poster:       buildImage(s.PosterPath, tmdbPosterSize, "poster"),
	}
	for _, ep := range s.Episodes {
		season.Episodes = append(season.Episodes, toEpisode(ep))
	}
	return season
}

func toEpisode(ep tmdbEpisode) models.Episode {
	return models.Episode{
		SeasonNumber:   ep.SeasonNumber,
		EpisodeNumber:  ep.EpisodeNumber,
		Name:           ep.Name,
		Overview:       ep.Overview,
		AirDate:        ep.AirDate,
		RuntimeMinutes: ep.Runtime,
		Still:          buildImage(ep.StillPath, tmdbStillSize, "still"),
	}
}

func pickName(mediaType, seriesName, movieTitle string) string {
	if mediaType == models.MediaTypeMovie && movieTitle != "" {
		return movieTitle
	}
	return firstNonEmpty(seriesName, movieTitle)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseYear(date string) int {
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.Year()
	}
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			return y
		}
	}
	return 0
}

func imageURL(imagePath, size string) string {
	trimmed := strings.TrimSpace(imagePath)
	if trimmed == "" {
		return ""
	}
	return tmdbImageBaseURL + "/" + path.Join(size, strings.TrimPrefix(trimmed, "/"))
}

func buildImage(imagePath, size, imageType string) *models.Image {
	u := imageURL(imagePath, size)
	if u == "" {
		return nil
	}
	return &models.Image{URL: u, Type: imageType}
}

func normalizeLanguage(lang string) string {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	switch {
	case len(lang) == 2:
		return strings.ToLower(lang) + "-" + strings.ToUpper(lang)
	case len(lang) >= 5:
		return strings.ToLower(lang[:2]) + "-" + strings.ToUpper(lang[3:5])
	}
	return "en-US"
}
