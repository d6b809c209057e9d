package models

import "time"

// Library categories resolved from Jellyfin folders.
const (
	CategoryAnimations = "animations"
	CategoryAnime      = "anime"
	CategorySeries     = "series"
	CategoryFilms      = "films"
	CategoryKai        = "kai"
)

// Categories lists every known library category.
var Categories = []string{CategoryAnimations, CategoryAnime, CategorySeries, CategoryFilms, CategoryKai}

// CatalogItem is a title present on the media server.
type CatalogItem struct {
	TMDBID         int64     `json:"tmdbId"`
	MediaType      string    `json:"mediaType"` // movie | tv
	Title          string    `json:"title"`
	Year           int       `json:"year,omitempty"`
	Category       string    `json:"category,omitempty"`
	JellyfinItemID string    `json:"jellyfinItemId"`
	LibraryID      string    `json:"libraryId"`
	PosterURL      string    `json:"posterUrl,omitempty"`
	AddedAt        time.Time `json:"addedAt"`
}

// CatalogSyncResult summarises a catalog sync run.
type CatalogSyncResult struct {
	Libraries         int            `json:"libraries"`
	Uncategorized     []string       `json:"uncategorized,omitempty"`
	Upserted          int            `json:"upserted"`
	Pruned            int            `json:"pruned"`
	Skipped           int            `json:"skipped"`
	RequestsAvailable int            `json:"requestsAvailable"`
	PerCategory       map[string]int `json:"perCategory"`
	StartedAt         time.Time      `json:"startedAt"`
	FinishedAt        time.Time      `json:"finishedAt"`
}

// LibraryStats reports per-category item counts.
type LibraryStats struct {
	Total       int            `json:"total"`
	PerCategory map[string]int `json:"perCategory"`
	LastSyncAt  *time.Time     `json:"lastSyncAt,omitempty"`
}
