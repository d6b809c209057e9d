// Package catalog mirrors the media server's movie and series libraries so that
// TMDB results and requests can be matched against what is actually available.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"jelly/internal/database"
	"jelly/models"
	"jelly/services/jellyfin"
)

var (
	ErrNotFound       = errors.New("catalog item not found")
	ErrSyncInProgress = errors.New("catalog sync already running")
)

// Source is the media server side of a sync.
type Source interface {
	Libraries(ctx context.Context) ([]models.JellyfinLibrary, error)
	LibraryItems(ctx context.Context, libraryID string) ([]jellyfin.Item, error)
	PosterURL(ctx context.Context, item jellyfin.Item) string
	MarkSynced(ctx context.Context, at time.Time) error
	LastSyncAt(ctx context.Context) (*time.Time, error)
}

// AvailabilityMarker flips open requests to available once their title is in the catalog.
// untagged holds library items without a TMDB id, for title based matching.
type AvailabilityMarker interface {
	MarkAvailableFromCatalog(ctx context.Context, untagged []models.CatalogItem) (int, error)
}

var _ Source = (*jellyfin.Service)(nil)

// Service owns the catalog_items table.
type Service struct {
	db       *sql.DB
	source   Source
	requests AvailabilityMarker
	syncMu   sync.Mutex
	now      func() time.Time
}

func NewService(db *sql.DB, source Source) *Service {
	return &Service{db: db, source: source, now: time.Now}
}

// SetRequestMarker enables request auto-availability after each sync.
func (s *Service) SetRequestMarker(m AvailabilityMarker) {
	s.requests = m
}

// catalogType maps request and TMDB media types onto catalog rows. Anime is stored as tv.
func catalogType(mediaType string) string {
	if mediaType == models.MediaTypeAnime {
		return models.MediaTypeTV
	}
	return mediaType
}

func itemMediaType(jellyfinType string) string {
	switch strings.ToLower(jellyfinType) {
	case "movie":
		return models.MediaTypeMovie
	case "series":
		return models.MediaTypeTV
	}
	return ""
}

// Sync rebuilds the catalog from the media server. Rows that were not seen are pruned,
// unless a library listing failed, in which case nothing is written.
func (s *Service) Sync(ctx context.Context) (models.CatalogSyncResult, error) {
	if !s.syncMu.TryLock() {
		return models.CatalogSyncResult{}, ErrSyncInProgress
	}
	defer s.syncMu.Unlock()

	result := models.CatalogSyncResult{StartedAt: s.now().UTC(), PerCategory: map[string]int{}}
	libs, err := s.source.Libraries(ctx)
	if err != nil {
		return result, err
	}

	seen := map[string]bool{}
	var rows, untagged []models.CatalogItem
	for _, lib := range libs {
		if lib.Category == "" {
			result.Uncategorized = append(result.Uncategorized, lib.Name)
			continue
		}
		result.Libraries++
		items, err := s.source.LibraryItems(ctx, lib.ID)
		if err != nil {
			return result, fmt.Errorf("list items of %q: %w", lib.Name, err)
		}
		for _, item := range items {
			mediaType := itemMediaType(item.Type)
			if mediaType == "" {
				continue
			}
			row := models.CatalogItem{
				TMDBID:         item.TMDBID(),
				MediaType:      mediaType,
				Title:          item.Name,
				Year:           item.ProductionYear,
				Category:       lib.Category,
				JellyfinItemID: item.ID,
				LibraryID:      lib.ID,
				AddedAt:        result.StartedAt,
			}
			if item.DateCreated != nil && !item.DateCreated.IsZero() {
				row.AddedAt = item.DateCreated.UTC()
			}
			if row.TMDBID == 0 {
				result.Skipped++
				untagged = append(untagged, row)
				continue
			}
			key := models.ProgressItemKey(mediaType, row.TMDBID, 0, 0)
			if seen[key] {
				continue
			}
			seen[key] = true
			row.PosterURL = s.source.PosterURL(ctx, item)
			rows = append(rows, row)
			result.PerCategory[lib.Category]++
		}
	}

	if err := s.replace(ctx, rows, result.StartedAt, &result); err != nil {
		return result, err
	}
	if err := s.source.MarkSynced(ctx, result.StartedAt); err != nil {
		log.Printf("[catalog] failed to record sync time: %v", err)
	}
	if s.requests != nil {
		n, err := s.requests.MarkAvailableFromCatalog(ctx, untagged)
		if err != nil {
			log.Printf("[catalog] request auto-availability failed: %v", err)
		}
		result.RequestsAvailable = n
	}
	result.FinishedAt = s.now().UTC()

	log.Printf("[catalog] sync done: %d libraries, %d upserted, %d pruned, %d without tmdb id, %d requests available",
		result.Libraries, result.Upserted, result.Pruned, result.Skipped, result.RequestsAvailable)
	return result, nil
}

func (s *Service) replace(ctx context.Context, rows []models.CatalogItem, syncedAt time.Time, result *models.CatalogSyncResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_items (tmdb_id, media_type, title, year, category, jellyfin_item_id, library_id, poster_url, added_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tmdb_id, media_type) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			category = excluded.category,
			jellyfin_item_id = excluded.jellyfin_item_id,
			library_id = excluded.library_id,
			poster_url = excluded.poster_url,
			synced_at = excluded.synced_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	stamp := database.FormatTime(syncedAt)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.TMDBID, r.MediaType, r.Title, r.Year, r.Category,
			r.JellyfinItemID, r.LibraryID, r.PosterURL, database.FormatTime(r.AddedAt), stamp); err != nil {
			return fmt.Errorf("upsert catalog item %d: %w", r.TMDBID, err)
		}
		result.Upserted++
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM catalog_items WHERE synced_at < ?`, stamp)
	if err != nil {
		return fmt.Errorf("prune catalog: %w", err)
	}
	pruned, _ := res.RowsAffected()
	result.Pruned = int(pruned)
	return tx.Commit()
}

const itemColumns = `tmdb_id, media_type, title, year, category, jellyfin_item_id, library_id, poster_url, added_at`

func scanItem(row interface{ Scan(...any) error }) (models.CatalogItem, error) {
	var (
		item    models.CatalogItem
		addedAt string
	)
	if err := row.Scan(&item.TMDBID, &item.MediaType, &item.Title, &item.Year, &item.Category,
		&item.JellyfinItemID, &item.LibraryID, &item.PosterURL, &addedAt); err != nil {
		return item, err
	}
	item.AddedAt = database.ParseTime(addedAt)
	return item, nil
}

// Get returns a single catalog row.
func (s *Service) Get(ctx context.Context, mediaType string, tmdbID int64) (models.CatalogItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE tmdb_id = ? AND media_type = ?`,
		tmdbID, catalogType(mediaType))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item, ErrNotFound
	}
	return item, err
}

// Lookup returns the catalog rows among tmdbIDs, keyed by TMDB id.
func (s *Service) Lookup(ctx context.Context, mediaType string, tmdbIDs []int64) (map[int64]models.CatalogItem, error) {
	out := make(map[int64]models.CatalogItem, len(tmdbIDs))
	if len(tmdbIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(tmdbIDs)+1)
	args = append(args, catalogType(mediaType))
	for _, id := range tmdbIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tmdbIDs)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE media_type = ? AND tmdb_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.TMDBID] = item
	}
	return out, rows.Err()
}

// List pages through the catalog, newest first. An empty category lists everything.
func (s *Service) List(ctx context.Context, category string, limit, offset int) ([]models.CatalogItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + itemColumns + ` FROM catalog_items`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY added_at DESC, tmdb_id LIMIT ? OFFSET ?`
	args = append(args, limit, max(offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []models.CatalogItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SeriesIDs returns the TMDB ids of every series in the catalog.
func (s *Service) SeriesIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tmdb_id FROM catalog_items WHERE media_type = ? ORDER BY tmdb_id`, models.MediaTypeTV)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats counts catalog items per category. Every known category is present.
func (s *Service) Stats(ctx context.Context) (models.LibraryStats, error) {
	stats := models.LibraryStats{PerCategory: map[string]int{}}
	for _, c := range models.Categories {
		stats.PerCategory[c] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM catalog_items GROUP BY category`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			count    int
		)
		if err := rows.Scan(&category, &count); err != nil {
			return stats, err
		}
		stats.PerCategory[category] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if s.source != nil {
		last, err := s.source.LastSyncAt(ctx)
		if err != nil {
			log.Printf("[catalog] last sync lookup failed: %v", err)
		}
		stats.LastSyncAt = last
	}
	return stats, nil
}
