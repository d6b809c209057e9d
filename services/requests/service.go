// Package requests manages users' requests for titles missing from the media server.
package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"jelly/internal/database"
	"jelly/models"
	"jelly/utils/similarity"
)

var (
	ErrNotFound          = errors.New("request not found")
	ErrDuplicate         = errors.New("an open request already exists for this title")
	ErrAlreadyAvailable  = errors.New("title is already available")
	ErrInvalidTransition = errors.New("invalid request status transition")
	ErrInvalidInput      = errors.New("invalid request")
	ErrForbidden         = errors.New("not allowed to modify this request")
)

// titleMatchThreshold is the minimum similarity for matching an untagged library item to a request.
const titleMatchThreshold = 0.9

// transitions lists the allowed status changes.
var transitions = map[string][]string{
	models.RequestPending:  {models.RequestApproved, models.RequestRejected, models.RequestAvailable},
	models.RequestApproved: {models.RequestAvailable},
	models.RequestRejected: {models.RequestPending},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CatalogLookup reports which TMDB ids the media server already has.
type CatalogLookup interface {
	Lookup(ctx context.Context, mediaType string, tmdbIDs []int64) (map[int64]models.CatalogItem, error)
}

type Service struct {
	db      *sql.DB
	catalog CatalogLookup
	now     func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// SetCatalog makes Create refuse titles that are already available.
func (s *Service) SetCatalog(c CatalogLookup) {
	s.catalog = c
}

func validMediaType(mt string) bool {
	switch mt {
	case models.MediaTypeMovie, models.MediaTypeTV, models.MediaTypeAnime:
		return true
	}
	return false
}

// sameTypes returns the media types that collide with mt. Anime requests are tv shows on TMDB.
func sameTypes(mt string) []string {
	if mt == models.MediaTypeMovie {
		return []string{models.MediaTypeMovie}
	}
	return []string{models.MediaTypeTV, models.MediaTypeAnime}
}

// Create files a new pending request.
func (s *Service) Create(ctx context.Context, userID string, in models.MediaRequestInput) (models.MediaRequest, error) {
	in.MediaType = strings.ToLower(strings.TrimSpace(in.MediaType))
	in.Title = strings.TrimSpace(in.Title)
	if in.TMDBID <= 0 || in.Title == "" || !validMediaType(in.MediaType) {
		return models.MediaRequest{}, ErrInvalidInput
	}

	if s.catalog != nil {
		lookupType := in.MediaType
		if lookupType == models.MediaTypeAnime {
			lookupType = models.MediaTypeTV
		}
		found, err := s.catalog.Lookup(ctx, lookupType, []int64{in.TMDBID})
		if err != nil {
			return models.MediaRequest{}, err
		}
		if len(found) > 0 {
			return models.MediaRequest{}, ErrAlreadyAvailable
		}
	}

	types := sameTypes(in.MediaType)
	var open int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM media_requests
		WHERE tmdb_id = ? AND media_type IN (?, ?) AND status IN (?, ?)`,
		in.TMDBID, types[0], types[len(types)-1], models.RequestPending, models.RequestApproved).Scan(&open)
	if err != nil {
		return models.MediaRequest{}, err
	}
	if open > 0 {
		return models.MediaRequest{}, ErrDuplicate
	}

	now := s.now().UTC()
	req := models.MediaRequest{
		ID:         uuid.NewString(),
		UserID:     userID,
		TMDBID:     in.TMDBID,
		MediaType:  in.MediaType,
		Title:      in.Title,
		Year:       in.Year,
		PosterPath: in.PosterPath,
		Status:     models.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO media_requests (id, user_id, tmdb_id, media_type, title, year, poster_path, status, admin_note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		req.ID, req.UserID, req.TMDBID, req.MediaType, req.Title, req.Year, req.PosterPath, req.Status,
		database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		return models.MediaRequest{}, fmt.Errorf("insert request: %w", err)
	}
	return req, nil
}

const requestColumns = `id, user_id, tmdb_id, media_type, title, year, poster_path, status, admin_note, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (models.MediaRequest, error) {
	var (
		r                    models.MediaRequest
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.UserID, &r.TMDBID, &r.MediaType, &r.Title, &r.Year, &r.PosterPath,
		&r.Status, &r.AdminNote, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.CreatedAt = database.ParseTime(createdAt)
	r.UpdatedAt = database.ParseTime(updatedAt)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.MediaRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM media_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

func (s *Service) query(ctx context.Context, query string, args ...any) ([]models.MediaRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.MediaRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListForUser returns a user's own requests, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.MediaRequest, error) {
	return s.query(ctx, `SELECT `+requestColumns+` FROM media_requests WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// List returns every request, optionally filtered by status, newest first.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]models.MediaRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if status == "" {
		return s.query(ctx, `SELECT `+requestColumns+` FROM media_requests ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, max(offset, 0))
	}
	return s.query(ctx, `SELECT `+requestColumns+` FROM media_requests WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		status, limit, max(offset, 0))
}

// Transition moves a request to a new status.
func (s *Service) Transition(ctx context.Context, id string, t models.RequestTransition) (models.MediaRequest, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return current, err
	}
	if !CanTransition(current.Status, t.Status) {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, t.Status)
	}
	now := s.now().UTC()
	// The status guard makes concurrent transitions from the same state race safely.
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_requests SET status = ?, admin_note = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		t.Status, strings.TrimSpace(t.AdminNote), database.FormatTime(now), id, current.Status)
	if err != nil {
		return current, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return current, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
	}
	current.Status = t.Status
	current.AdminNote = strings.TrimSpace(t.AdminNote)
	current.UpdatedAt = now
	return current, nil
}

// Delete removes a request. Owners may only withdraw pending requests.
func (s *Service) Delete(ctx context.Context, id, actorID string, admin bool) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !admin && (current.UserID != actorID || current.Status != models.RequestPending) {
		return ErrForbidden
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM media_requests WHERE id = ?`, id)
	return err
}

// MarkAvailableFromCatalog flips open requests whose title reached the catalog.
// Requests are matched by TMDB id, then by title and year against untagged library items.
func (s *Service) MarkAvailableFromCatalog(ctx context.Context, untagged []models.CatalogItem) (int, error) {
	stamp := database.FormatTime(s.now().UTC())
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_requests SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND EXISTS (
			SELECT 1 FROM catalog_items c
			WHERE c.tmdb_id = media_requests.tmdb_id
			AND c.media_type = CASE media_requests.media_type WHEN 'anime' THEN 'tv' ELSE media_requests.media_type END
		)`,
		models.RequestAvailable, stamp, models.RequestPending, models.RequestApproved)
	if err != nil {
		return 0, fmt.Errorf("mark available: %w", err)
	}
	n, _ := res.RowsAffected()
	marked := int(n)
	if len(untagged) == 0 {
		return marked, nil
	}

	open, err := s.query(ctx, `SELECT `+requestColumns+` FROM media_requests WHERE status IN (?, ?)`,
		models.RequestPending, models.RequestApproved)
	if err != nil {
		return marked, err
	}
	for _, req := range open {
		if !matchesUntagged(req, untagged) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE media_requests SET status = ?, updated_at = ? WHERE id = ?`,
			models.RequestAvailable, stamp, req.ID); err != nil {
			return marked, err
		}
		log.Printf("[requests] %q matched an untagged library item by title", req.Title)
		marked++
	}
	return marked, nil
}

func matchesUntagged(req models.MediaRequest, items []models.CatalogItem) bool {
	wantType := req.MediaType
	if wantType == models.MediaTypeAnime {
		wantType = models.MediaTypeTV
	}
	for _, item := range items {
		if item.MediaType != wantType {
			continue
		}
		if req.Year > 0 && item.Year > 0 && req.Year != item.Year {
			continue
		}
		if similarity.Similarity(req.Title, item.Title) >= titleMatchThreshold {
			return true
		}
	}
	return false
}
