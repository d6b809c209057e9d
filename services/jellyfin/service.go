package jellyfin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-password/password"

	"jelly/internal/database"
	"jelly/models"
)

var (
	ErrNotConfigured  = errors.New("jellyfin is not configured")
	ErrInvalidURL     = errors.New("jellyfin server url must be an absolute http(s) url")
	ErrItemIDRequired = errors.New("item id is required")
)

// ProfileStore is the subset of the profile service needed to import and export users.
type ProfileStore interface {
	List(ctx context.Context) ([]models.Profile, error)
	FindByJellyfinID(ctx context.Context, jellyfinID string) (*models.Profile, error)
	CreateFromJellyfin(ctx context.Context, jellyfinID, name string, admin bool) (models.Profile, error)
	LinkJellyfin(ctx context.Context, profileID, jellyfinID string) (models.Profile, error)
}

// ClientFactory builds an API client for a server.
type ClientFactory func(serverURL, apiKey string) API

// Service owns the media server settings and everything that talks to it.
type Service struct {
	db          *sql.DB
	categorizer *Categorizer
	newClient   ClientFactory

	mu        sync.RWMutex
	client    API
	clientKey string
}

func NewService(db *sql.DB, categorizer *Categorizer) *Service {
	if categorizer == nil {
		categorizer = NewCategorizer(DefaultCategoryTable(), nil)
	}
	return &Service{
		db:          db,
		categorizer: categorizer,
		newClient: func(serverURL, apiKey string) API {
			return NewClient(serverURL, apiKey, nil)
		},
	}
}

// SetClientFactory replaces how API clients are built.
func (s *Service) SetClientFactory(f ClientFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newClient = f
	s.client = nil
	s.clientKey = ""
}

// Settings returns the stored settings, including the API key.
func (s *Service) Settings(ctx context.Context) (models.JellyfinSettings, error) {
	var (
		settings models.JellyfinSettings
		enabled  int
		updated  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT server_url, api_key, enabled, updated_at FROM jellyfin_settings WHERE id = 1`,
	).Scan(&settings.ServerURL, &settings.APIKey, &enabled, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.JellyfinSettings{}, nil
	}
	if err != nil {
		return models.JellyfinSettings{}, fmt.Errorf("load jellyfin settings: %w", err)
	}
	settings.Enabled = enabled == 1
	settings.UpdatedAt = database.ParseTime(updated)
	return settings, nil
}

// UpdateSettings persists new settings. An empty or masked API key keeps the stored one.
func (s *Service) UpdateSettings(ctx context.Context, in models.JellyfinSettings) (models.JellyfinSettings, error) {
	in.ServerURL = strings.TrimRight(strings.TrimSpace(in.ServerURL), "/")
	if in.ServerURL != "" {
		u, err := url.Parse(in.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return models.JellyfinSettings{}, ErrInvalidURL
		}
	}
	current, err := s.Settings(ctx)
	if err != nil {
		return models.JellyfinSettings{}, err
	}
	key := strings.TrimSpace(in.APIKey)
	if key == "" || key == current.Masked().APIKey {
		key = current.APIKey
	}
	in.APIKey = key
	in.UpdatedAt = time.Now().UTC()

	enabled := 0
	if in.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jellyfin_settings (id, server_url, api_key, enabled, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET server_url = excluded.server_url, api_key = excluded.api_key,
			enabled = excluded.enabled, updated_at = excluded.updated_at`,
		in.ServerURL, in.APIKey, enabled, database.FormatTime(in.UpdatedAt))
	if err != nil {
		return models.JellyfinSettings{}, fmt.Errorf("save jellyfin settings: %w", err)
	}
	log.Printf("[jellyfin] settings updated (server=%s enabled=%t)", in.ServerURL, in.Enabled)
	return in, nil
}

// Client returns an API client for the current settings, reusing it while they do not change.
func (s *Service) Client(ctx context.Context) (API, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Configured() {
		return nil, ErrNotConfigured
	}
	key := settings.ServerURL + "|" + settings.APIKey

	s.mu.RLock()
	if s.client != nil && s.clientKey == key {
		c := s.client
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.clientKey != key {
		s.client = s.newClient(settings.ServerURL, settings.APIKey)
		s.clientKey = key
	}
	return s.client, nil
}

// TestConnection fetches the server info.
func (s *Service) TestConnection(ctx context.Context) (SystemInfo, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return SystemInfo{}, err
	}
	return c.SystemInfo(ctx)
}

// Categorize resolves a single library name.
func (s *Service) Categorize(name, collectionType string) string {
	return s.categorizer.Categorize(name, collectionType)
}

// Libraries lists the server's virtual folders with their category.
func (s *Service) Libraries(ctx context.Context) ([]models.JellyfinLibrary, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := c.VirtualFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	libs := make([]models.JellyfinLibrary, 0, len(folders))
	for _, f := range folders {
		libs = append(libs, models.JellyfinLibrary{
			ID:             f.ItemID,
			Name:           f.Name,
			CollectionType: f.CollectionType,
			Category:       s.categorizer.Categorize(f.Name, f.CollectionType),
		})
	}
	return libs, nil
}

// LibraryItems lists movies and series of a library.
func (s *Service) LibraryItems(ctx context.Context, libraryID string) ([]Item, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Items(ctx, libraryID, "Movie", "Series")
}

// PosterURL returns the primary image URL of an item.
func (s *Service) PosterURL(ctx context.Context, item Item) string {
	if _, ok := item.ImageTags["Primary"]; !ok {
		return ""
	}
	settings, err := s.Settings(ctx)
	if err != nil || settings.ServerURL == "" {
		return ""
	}
	return settings.ServerURL + "/Items/" + url.PathEscape(item.ID) + "/Images/Primary?maxWidth=500"
}

// EpisodeExists reports whether the series item has the given episode.
func (s *Service) EpisodeExists(ctx context.Context, seriesItemID string, season, episode int) (bool, error) {
	if strings.TrimSpace(seriesItemID) == "" {
		return false, ErrItemIDRequired
	}
	c, err := s.Client(ctx)
	if err != nil {
		return false, err
	}
	episodes, err := c.Episodes(ctx, seriesItemID, season)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, ep := range episodes {
		if ep.IndexNumber == nil || *ep.IndexNumber != episode {
			continue
		}
		if ep.ParentIndexNumber == nil || *ep.ParentIndexNumber == season {
			return true, nil
		}
	}
	return false, nil
}

// StreamInfo builds playback URLs for an item.
func (s *Service) StreamInfo(ctx context.Context, itemID string, startSeconds float64) (models.StreamInfo, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return models.StreamInfo{}, ErrItemIDRequired
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return models.StreamInfo{}, err
	}
	if !settings.Configured() {
		return models.StreamInfo{}, ErrNotConfigured
	}
	direct, hls := StreamURLs(settings.ServerURL, settings.APIKey, itemID, startSeconds)
	return models.StreamInfo{ItemID: itemID, DirectURL: direct, HLSURL: hls}, nil
}

// Users lists the server's accounts.
func (s *Service) Users(ctx context.Context) ([]models.JellyfinUser, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return nil, err
	}
	users, err := c.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jellyfin users: %w", err)
	}
	out := make([]models.JellyfinUser, 0, len(users))
	for _, u := range users {
		out = append(out, toModelUser(u))
	}
	return out, nil
}

// CreateUser creates an account with a generated password, returned once.
func (s *Service) CreateUser(ctx context.Context, name string) (models.JellyfinUser, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.JellyfinUser{}, "", errors.New("username is required")
	}
	c, err := s.Client(ctx)
	if err != nil {
		return models.JellyfinUser{}, "", err
	}
	pw, err := password.Generate(16, 4, 0, false, true)
	if err != nil {
		return models.JellyfinUser{}, "", fmt.Errorf("generate password: %w", err)
	}
	u, err := c.CreateUser(ctx, name, pw)
	if err != nil {
		return models.JellyfinUser{}, "", fmt.Errorf("create jellyfin user: %w", err)
	}
	return toModelUser(u), pw, nil
}

// Authenticate checks credentials against the server.
func (s *Service) Authenticate(ctx context.Context, username, pw string) (models.JellyfinUser, error) {
	c, err := s.Client(ctx)
	if err != nil {
		return models.JellyfinUser{}, err
	}
	result, err := c.AuthenticateByName(ctx, username, pw)
	if err != nil {
		return models.JellyfinUser{}, err
	}
	return toModelUser(result.User), nil
}

// ImportUsers creates or links a local profile for every enabled server account.
func (s *Service) ImportUsers(ctx context.Context, profiles ProfileStore) (models.JellyfinImportResult, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return models.JellyfinImportResult{}, err
	}
	existing, err := profiles.List(ctx)
	if err != nil {
		return models.JellyfinImportResult{}, err
	}
	byName := make(map[string]models.Profile, len(existing))
	for _, p := range existing {
		if p.JellyfinUserID == "" {
			byName[strings.ToLower(p.DisplayName)] = p
		}
	}

	result := models.JellyfinImportResult{Imported: []models.Profile{}, Linked: []models.Profile{}}
	for _, u := range users {
		if u.IsDisabled {
			result.Skipped = append(result.Skipped, u.Name)
			continue
		}
		if p, err := profiles.FindByJellyfinID(ctx, u.ID); err != nil {
			return result, err
		} else if p != nil {
			result.Skipped = append(result.Skipped, u.Name)
			continue
		}
		if p, ok := byName[strings.ToLower(u.Name)]; ok {
			linked, err := profiles.LinkJellyfin(ctx, p.ID, u.ID)
			if err != nil {
				return result, err
			}
			delete(byName, strings.ToLower(u.Name))
			result.Linked = append(result.Linked, linked)
			continue
		}
		created, err := profiles.CreateFromJellyfin(ctx, u.ID, u.Name, u.IsAdmin)
		if err != nil {
			return result, err
		}
		result.Imported = append(result.Imported, created)
	}
	log.Printf("[jellyfin] imported %d users, linked %d, skipped %d", len(result.Imported), len(result.Linked), len(result.Skipped))
	return result, nil
}

// ExportUsers creates a server account for every local profile that has none.
// A per-profile failure is reported in the result and does not stop the export.
func (s *Service) ExportUsers(ctx context.Context, profiles ProfileStore) ([]models.JellyfinExportResult, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return nil, err
	}
	remote := make(map[string]models.JellyfinUser, len(users))
	for _, u := range users {
		remote[strings.ToLower(u.Name)] = u
	}
	locals, err := profiles.List(ctx)
	if err != nil {
		return nil, err
	}

	results := []models.JellyfinExportResult{}
	for _, p := range locals {
		if p.JellyfinUserID != "" {
			continue
		}
		res := models.JellyfinExportResult{ProfileID: p.ID, Username: p.DisplayName}
		if u, ok := remote[strings.ToLower(p.DisplayName)]; ok {
			res.JellyfinUserID = u.ID
		} else {
			u, pw, err := s.CreateUser(ctx, p.DisplayName)
			if err != nil {
				res.Error = err.Error()
				results = append(results, res)
				continue
			}
			res.JellyfinUserID, res.Password, res.Created = u.ID, pw, true
		}
		if _, err := profiles.LinkJellyfin(ctx, p.ID, res.JellyfinUserID); err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

// MarkSynced records the time of the last catalog sync.
func (s *Service) MarkSynced(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jellyfin_settings (id, updated_at, last_sync_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
		database.FormatTime(at), database.FormatTime(at))
	return err
}

// LastSyncAt returns the time of the last catalog sync, if any.
func (s *Service) LastSyncAt(ctx context.Context) (*time.Time, error) {
	var ns sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_sync_at FROM jellyfin_settings WHERE id = 1`).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return database.NullTime(ns), nil
}

func toModelUser(u User) models.JellyfinUser {
	return models.JellyfinUser{
		ID:            u.ID,
		Name:          u.Name,
		IsAdmin:       u.Policy.IsAdministrator,
		IsDisabled:    u.Policy.IsDisabled,
		LastLoginDate: u.LastLoginDate,
	}
}
