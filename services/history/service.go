// Package history stores playback progress and derives the continue watching and next up rows.
package history

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"jelly/internal/events"
	"jelly/internal/ranking"
	"jelly/models"
	"jelly/services/jellyfin"
	"jelly/services/metadata"
)

var (
	ErrUserIDRequired  = errors.New("user id is required")
	ErrInvalidProgress = errors.New("invalid playback progress")
	ErrInvalidItemKey  = errors.New("invalid item key")
	ErrNotFound        = errors.New("playback progress not found")
)

const (
	// JustFinishedWindow keeps a finished item in continue watching for a short while,
	// so the row does not jump while the credits roll.
	JustFinishedWindow = 2 * time.Minute

	defaultContinueWatchingLimit = 20
	enrichConcurrency            = 4
)

// MetadataSource resolves titles and seasons for projections.
type MetadataSource interface {
	Details(ctx context.Context, mediaType string, id int64) (models.Title, error)
	Season(ctx context.Context, tvID int64, season int) (models.Season, error)
}

// EpisodeChecker confirms that an episode exists on the media server.
type EpisodeChecker interface {
	EpisodeExists(ctx context.Context, seriesItemID string, season, episode int) (bool, error)
}

// SessionHints supplies the now playing and last watched items of a user.
type SessionHints interface {
	Hints(ctx context.Context, userID string) ranking.Hints
}

var (
	_ MetadataSource = (*metadata.Service)(nil)
	_ EpisodeChecker = (*jellyfin.Service)(nil)
)

// Service persists playback progress and builds the projections that depend on it.
type Service struct {
	db       *sql.DB
	writer   *ProgressWriter
	metadata MetadataSource
	episodes EpisodeChecker
	sessions SessionHints
	bus      events.Bus
	now      func() time.Time
}

func NewService(db *sql.DB, meta MetadataSource, flushInterval time.Duration) *Service {
	s := &Service{db: db, metadata: meta, now: time.Now}
	s.writer = NewProgressWriter(flushInterval, func(ctx context.Context, userID string, u models.PlaybackProgressUpdate) (models.PlaybackProgress, error) {
		return s.persist(ctx, userID, u, events.PlaybackProgressSaved)
	})
	return s
}

// SetEpisodeChecker filters next up against the media server library.
func (s *Service) SetEpisodeChecker(c EpisodeChecker) {
	s.episodes = c
}

func (s *Service) SetSessionHints(h SessionHints) {
	s.sessions = h
}

// SetEventBus publishes an event for every persisted write.
func (s *Service) SetEventBus(bus events.Bus) {
	s.bus = bus
}

// Writer exposes the coalescing writer so that its lifecycle can be managed by the caller.
func (s *Service) Writer() *ProgressWriter {
	return s.writer
}

func (s *Service) persist(ctx context.Context, userID string, u models.PlaybackProgressUpdate, kind events.Kind) (models.PlaybackProgress, error) {
	p, err := s.upsertProgress(ctx, userID, u)
	if err != nil {
		return p, err
	}
	s.publish(ctx, kind, p)
	return p, nil
}

func (s *Service) publish(ctx context.Context, kind events.Kind, p models.PlaybackProgress) {
	if s.bus == nil {
		return
	}
	ev, err := events.New(kind, p.UserID, events.ProgressSaved{
		ItemKey:   p.ItemKey(),
		TMDBID:    p.TMDBID,
		MediaType: p.MediaType,
		Season:    p.SeasonNumber,
		Episode:   p.EpisodeNumber,
		Ratio:     ratioOf(p.Position, p.Duration),
		Finished:  p.FinishedAt != nil,
	})
	if err == nil {
		err = s.bus.Publish(ctx, ev)
	}
	if err != nil {
		log.Printf("[history] failed to publish %s for %s: %v", kind, p.UserID, err)
	}
}

// RecordProgress validates an update and queues it for the next flush.
func (s *Service) RecordProgress(userID string, u models.PlaybackProgressUpdate) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	u, err := normalizeUpdate(u)
	if err != nil {
		return err
	}
	s.writer.Enqueue(userID, u)
	return nil
}

// RecordFinal writes an update immediately. It is used when the player goes away
// and there may be no later chance to flush.
func (s *Service) RecordFinal(ctx context.Context, userID string, u models.PlaybackProgressUpdate) (models.PlaybackProgress, error) {
	if userID == "" {
		return models.PlaybackProgress{}, ErrUserIDRequired
	}
	u, err := normalizeUpdate(u)
	if err != nil {
		return models.PlaybackProgress{}, err
	}
	// A queued update for the same item is older than this one.
	if _, err := s.writer.FlushUser(ctx, userID); err != nil {
		log.Printf("[history] flush before final write failed for %s: %v", userID, err)
	}
	return s.persist(ctx, userID, u, events.PlaybackStopped)
}

// Flush writes every queued update now.
func (s *Service) Flush(ctx context.Context) (int, error) {
	return s.writer.Flush(ctx)
}

// FlushUser writes the buffered positions of one user now.
func (s *Service) FlushUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}
	return s.writer.FlushUser(ctx, userID)
}

// ListProgress returns the stored progress of a user, most recent first.
func (s *Service) ListProgress(ctx context.Context, userID string) ([]models.PlaybackProgress, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if _, err := s.writer.FlushUser(ctx, userID); err != nil {
		log.Printf("[history] flush before listing failed for %s: %v", userID, err)
	}
	return s.listProgress(ctx, userID, "")
}

// Hide removes an item from continue watching by deleting its progress.
// "tv:<id>" hides every episode of the series.
func (s *Service) Hide(ctx context.Context, userID, key string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	k, err := parseItemKey(key)
	if err != nil {
		return err
	}
	if _, err := s.writer.FlushUser(ctx, userID); err != nil {
		log.Printf("[history] flush before hide failed for %s: %v", userID, err)
	}
	n, err := s.deleteProgress(ctx, userID, k)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	log.Printf("[history] hid %s for %s (%d rows)", key, userID, n)
	return nil
}

// ContinueWatching returns the in-progress titles of a user, one entry per series, ranked.
func (s *Service) ContinueWatching(ctx context.Context, userID string, limit int) ([]models.ContinueWatchingItem, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = defaultContinueWatchingLimit
	}
	progress, err := s.ListProgress(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	seenSeries := make(map[int64]bool)
	candidates := make([]models.PlaybackProgress, 0, len(progress))
	for _, p := range progress {
		// Rows are newest first, so the first row of a series is its latest episode.
		if p.MediaType == models.MediaTypeTV {
			if seenSeries[p.TMDBID] {
				continue
			}
			seenSeries[p.TMDBID] = true
		}
		if p.FinishedAt != nil && !finishedWithin(p, now, JustFinishedWindow) {
			continue
		}
		candidates = append(candidates, p)
	}

	items := s.enrich(ctx, candidates, now)

	var hints ranking.Hints
	if s.sessions != nil {
		hints = s.sessions.Hints(ctx, userID)
	}
	ranked := ranking.Rank(items, hints)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (s *Service) enrich(ctx context.Context, progress []models.PlaybackProgress, now time.Time) []models.ContinueWatchingItem {
	p := pool.NewWithResults[models.ContinueWatchingItem]().WithMaxGoroutines(enrichConcurrency)
	for _, entry := range progress {
		p.Go(func() models.ContinueWatchingItem {
			return s.continueWatchingItem(ctx, entry, now)
		})
	}
	items := p.Wait()

	// Restore recency order, which the pool does not preserve.
	order := make(map[string]int, len(progress))
	for i, entry := range progress {
		order[entry.ItemKey()] = i
	}
	sort.SliceStable(items, func(i, j int) bool { return order[items[i].ID] < order[items[j].ID] })
	return items
}

func (s *Service) continueWatchingItem(ctx context.Context, p models.PlaybackProgress, now time.Time) models.ContinueWatchingItem {
	item := models.ContinueWatchingItem{
		ID:            p.ItemKey(),
		TMDBID:        p.TMDBID,
		MediaType:     p.MediaType,
		SeasonNumber:  p.SeasonNumber,
		EpisodeNumber: p.EpisodeNumber,
		Position:      p.Position,
		Runtime:       p.Duration,
		UpdatedAt:     p.UpdatedAt,
		JustFinished:  p.FinishedAt != nil && finishedWithin(p, now, JustFinishedWindow),
	}
	if p.Duration > 0 {
		pct := p.PercentWatched()
		item.Progress = &pct
	}
	if s.metadata == nil {
		return item
	}
	title, err := s.metadata.Details(ctx, p.MediaType, p.TMDBID)
	if err != nil {
		if !errors.Is(err, metadata.ErrNotConfigured) {
			log.Printf("[history] metadata lookup failed for %s: %v", item.ID, err)
		}
		return item
	}
	item.Title = title.Name
	if title.Poster != nil {
		item.PosterURL = title.Poster.URL
	}
	if title.Backdrop != nil {
		item.BackdropURL = title.Backdrop.URL
	}
	if item.Runtime <= 0 && title.RuntimeMinutes > 0 {
		item.Runtime = float64(title.RuntimeMinutes * 60)
	}
	item.Available = title.Available
	item.JellyfinItemID = title.JellyfinItemID
	return item
}

type seriesProgress struct {
	latest  models.PlaybackProgress
	watched map[[2]int]bool
}

// NextUp returns, per series, the episode after the most recently finished one.
// Series whose next episode is unaired, already started or missing from the library are skipped.
func (s *Service) NextUp(ctx context.Context, userID string) ([]models.NextUpItem, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if s.metadata == nil {
		return []models.NextUpItem{}, nil
	}
	if _, err := s.writer.FlushUser(ctx, userID); err != nil {
		log.Printf("[history] flush before next up failed for %s: %v", userID, err)
	}
	rows, err := s.listProgress(ctx, userID, models.MediaTypeTV)
	if err != nil {
		return nil, err
	}

	bySeries := make(map[int64]*seriesProgress)
	order := []int64{}
	for _, p := range rows {
		sp, ok := bySeries[p.TMDBID]
		if !ok {
			sp = &seriesProgress{watched: make(map[[2]int]bool)}
			bySeries[p.TMDBID] = sp
			order = append(order, p.TMDBID)
		}
		sp.watched[[2]int{p.SeasonNumber, p.EpisodeNumber}] = true
		if p.FinishedAt == nil {
			continue
		}
		if sp.latest.FinishedAt == nil || p.FinishedAt.After(*sp.latest.FinishedAt) ||
			(p.FinishedAt.Equal(*sp.latest.FinishedAt) && laterEpisode(p, sp.latest)) {
			sp.latest = p
		}
	}

	type result struct {
		item models.NextUpItem
		ok   bool
	}
	p := pool.NewWithResults[result]().WithContext(ctx).WithMaxGoroutines(enrichConcurrency)
	for _, id := range order {
		sp := bySeries[id]
		if sp.latest.FinishedAt == nil {
			continue
		}
		p.Go(func(ctx context.Context) (result, error) {
			item, ok, err := s.nextUpFor(ctx, sp)
			if errors.Is(err, metadata.ErrNotConfigured) {
				return result{}, err
			}
			if err != nil {
				log.Printf("[history] next up failed for series %d: %v", sp.latest.TMDBID, err)
				return result{}, nil
			}
			return result{item: item, ok: ok}, nil
		})
	}
	results, err := p.Wait()
	if errors.Is(err, metadata.ErrNotConfigured) {
		return []models.NextUpItem{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]models.NextUpItem, 0, len(results))
	for _, r := range results {
		if r.ok {
			out = append(out, r.item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastWatchedAt.Equal(out[j].LastWatchedAt) {
			return out[i].LastWatchedAt.After(out[j].LastWatchedAt)
		}
		return out[i].SeriesTMDBID < out[j].SeriesTMDBID
	})
	return out, nil
}

func laterEpisode(a, b models.PlaybackProgress) bool {
	if a.SeasonNumber != b.SeasonNumber {
		return a.SeasonNumber > b.SeasonNumber
	}
	return a.EpisodeNumber > b.EpisodeNumber
}

func (s *Service) nextUpFor(ctx context.Context, sp *seriesProgress) (models.NextUpItem, bool, error) {
	last := sp.latest
	next, found, err := s.nextEpisode(ctx, last.TMDBID, last.SeasonNumber, last.EpisodeNumber)
	if err != nil || !found {
		return models.NextUpItem{}, false, err
	}
	if sp.watched[[2]int{next.SeasonNumber, next.EpisodeNumber}] {
		return models.NextUpItem{}, false, nil
	}
	if !aired(next.AirDate, s.now()) {
		return models.NextUpItem{}, false, nil
	}

	title, err := s.metadata.Details(ctx, models.MediaTypeTV, last.TMDBID)
	if err != nil {
		return models.NextUpItem{}, false, err
	}
	item := models.NextUpItem{
		SeriesTMDBID:   last.TMDBID,
		SeriesTitle:    title.Name,
		SeasonNumber:   next.SeasonNumber,
		EpisodeNumber:  next.EpisodeNumber,
		EpisodeTitle:   next.Name,
		AirDate:        next.AirDate,
		Available:      title.Available,
		JellyfinItemID: title.JellyfinItemID,
		LastWatchedAt:  *last.FinishedAt,
	}
	if title.Poster != nil {
		item.PosterURL = title.Poster.URL
	}
	if next.Still != nil {
		item.StillURL = next.Still.URL
	}

	if s.episodes != nil && title.JellyfinItemID != "" {
		exists, err := s.episodes.EpisodeExists(ctx, title.JellyfinItemID, next.SeasonNumber, next.EpisodeNumber)
		switch {
		case errors.Is(err, jellyfin.ErrNotConfigured):
		case err != nil:
			log.Printf("[history] episode check failed for series %d: %v", last.TMDBID, err)
		case !exists:
			return models.NextUpItem{}, false, nil
		}
	}
	return item, true, nil
}

// nextEpisode finds the episode after season/episode: the next one in the same season,
// else the first episode of the following season.
func (s *Service) nextEpisode(ctx context.Context, tvID int64, season, episode int) (models.Episode, bool, error) {
	current, err := s.metadata.Season(ctx, tvID, season)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return models.Episode{}, false, err
	}
	if err == nil {
		if ep, ok := episodeAfter(current, episode); ok {
			return ep, true, nil
		}
	}

	following, err := s.metadata.Season(ctx, tvID, season+1)
	if errors.Is(err, metadata.ErrNotFound) {
		return models.Episode{}, false, nil
	}
	if err != nil {
		return models.Episode{}, false, err
	}
	ep, ok := episodeAfter(following, 0)
	return ep, ok, nil
}

// episodeAfter returns the lowest numbered episode of season greater than episode.
func episodeAfter(season models.Season, episode int) (models.Episode, bool) {
	var (
		best  models.Episode
		found bool
	)
	for _, ep := range season.Episodes {
		if ep.EpisodeNumber <= episode {
			continue
		}
		if !found || ep.EpisodeNumber < best.EpisodeNumber {
			best, found = ep, true
		}
	}
	if found && best.SeasonNumber == 0 {
		best.SeasonNumber = season.SeasonNumber
	}
	return best, found
}

// aired reports whether an episode with the given air date (YYYY-MM-DD) is out by now.
// Episodes without a date are treated as unaired.
func aired(airDate string, now time.Time) bool {
	if airDate == "" {
		return false
	}
	day, err := time.Parse("2006-01-02", airDate)
	if err != nil {
		return false
	}
	return !day.After(now.UTC())
}
