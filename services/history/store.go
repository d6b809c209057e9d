package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jelly/internal/database"
	"jelly/models"
)

// FinishedRatio is the completion ratio from which an item counts as watched.
const FinishedRatio = 0.9

const progressColumns = `id, user_id, tmdb_id, media_type, season_number, episode_number, position, duration, updated_at, finished_at`

func scanProgress(row interface{ Scan(...any) error }) (models.PlaybackProgress, error) {
	var (
		p         models.PlaybackProgress
		updatedAt string
		finished  sql.NullString
	)
	err := row.Scan(&p.ID, &p.UserID, &p.TMDBID, &p.MediaType, &p.SeasonNumber, &p.EpisodeNumber,
		&p.Position, &p.Duration, &updatedAt, &finished)
	if err != nil {
		return p, err
	}
	p.UpdatedAt = database.ParseTime(updatedAt)
	p.FinishedAt = database.NullTime(finished)
	return p, nil
}

func ratioOf(position, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return math.Min(position/duration, 1)
}

// normalizeUpdate validates an update and maps anime onto tv.
func normalizeUpdate(u models.PlaybackProgressUpdate) (models.PlaybackProgressUpdate, error) {
	u.MediaType = strings.ToLower(strings.TrimSpace(u.MediaType))
	if u.MediaType == models.MediaTypeAnime {
		u.MediaType = models.MediaTypeTV
	}
	switch {
	case u.TMDBID <= 0:
		return u, fmt.Errorf("%w: tmdb id is required", ErrInvalidProgress)
	case u.MediaType != models.MediaTypeMovie && u.MediaType != models.MediaTypeTV:
		return u, fmt.Errorf("%w: unsupported media type %q", ErrInvalidProgress, u.MediaType)
	case math.IsNaN(u.Position) || math.IsNaN(u.Duration) || u.Position < 0 || u.Duration < 0:
		return u, fmt.Errorf("%w: position and duration must be positive", ErrInvalidProgress)
	}
	if u.MediaType == models.MediaTypeTV {
		if u.SeasonNumber < 0 || u.EpisodeNumber < 1 {
			return u, fmt.Errorf("%w: season and episode are required for series", ErrInvalidProgress)
		}
	} else {
		u.SeasonNumber, u.EpisodeNumber = 0, 0
	}
	if u.Duration > 0 && u.Position > u.Duration {
		u.Position = u.Duration
	}
	return u, nil
}

// upsertProgress stores the position of an item. Crossing FinishedRatio stamps finished_at once;
// rewinding below it clears the stamp.
func (s *Service) upsertProgress(ctx context.Context, userID string, u models.PlaybackProgressUpdate) (models.PlaybackProgress, error) {
	now := s.now().UTC()
	var finished any
	if ratioOf(u.Position, u.Duration) >= FinishedRatio {
		finished = database.FormatTime(now)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_progress (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, tmdb_id, media_type, season_number, episode_number) DO UPDATE SET
			position = excluded.position,
			duration = excluded.duration,
			updated_at = excluded.updated_at,
			finished_at = CASE WHEN excluded.finished_at IS NULL THEN NULL
				ELSE COALESCE(playback_progress.finished_at, excluded.finished_at) END`,
		uuid.NewString(), userID, u.TMDBID, u.MediaType, u.SeasonNumber, u.EpisodeNumber,
		u.Position, u.Duration, database.FormatTime(now), finished)
	if err != nil {
		return models.PlaybackProgress{}, fmt.Errorf("save progress: %w", err)
	}
	return scanProgress(s.db.QueryRowContext(ctx, `
		SELECT `+progressColumns+` FROM playback_progress
		WHERE user_id = ? AND tmdb_id = ? AND media_type = ? AND season_number = ? AND episode_number = ?`,
		userID, u.TMDBID, u.MediaType, u.SeasonNumber, u.EpisodeNumber))
}

func (s *Service) listProgress(ctx context.Context, userID, mediaType string) ([]models.PlaybackProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM playback_progress WHERE user_id = ?`
	args := []any{userID}
	if mediaType != "" {
		query += ` AND media_type = ?`
		args = append(args, mediaType)
	}
	query += ` ORDER BY updated_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.PlaybackProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// itemKey is a parsed progress key. A tv key without season and episode selects the whole series.
type itemKey struct {
	mediaType string
	tmdbID    int64
	season    int
	episode   int
	episodic  bool
}

// parseItemKey accepts "movie:603", "tv:1399" and "tv:1399:s1e2".
func parseItemKey(raw string) (itemKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return itemKey{}, fmt.Errorf("%w: %q", ErrInvalidItemKey, raw)
	}
	k := itemKey{mediaType: strings.ToLower(parts[0])}
	if k.mediaType == models.MediaTypeAnime {
		k.mediaType = models.MediaTypeTV
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return itemKey{}, fmt.Errorf("%w: %q", ErrInvalidItemKey, raw)
	}
	k.tmdbID = id
	switch {
	case len(parts) == 2 && (k.mediaType == models.MediaTypeMovie || k.mediaType == models.MediaTypeTV):
		return k, nil
	case k.mediaType == models.MediaTypeTV:
		if _, err := fmt.Sscanf(strings.ToLower(parts[2]), "s%de%d", &k.season, &k.episode); err != nil {
			return itemKey{}, fmt.Errorf("%w: %q", ErrInvalidItemKey, raw)
		}
		k.episodic = true
		return k, nil
	}
	return itemKey{}, fmt.Errorf("%w: %q", ErrInvalidItemKey, raw)
}

func (s *Service) deleteProgress(ctx context.Context, userID string, k itemKey) (int, error) {
	query := `DELETE FROM playback_progress WHERE user_id = ? AND media_type = ? AND tmdb_id = ?`
	args := []any{userID, k.mediaType, k.tmdbID}
	if k.episodic {
		query += ` AND season_number = ? AND episode_number = ?`
		args = append(args, k.season, k.episode)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// finishedWithin reports whether p was finished no longer than window before now.
func finishedWithin(p models.PlaybackProgress, now time.Time, window time.Duration) bool {
	return p.FinishedAt != nil && now.Sub(*p.FinishedAt) <= window
}
