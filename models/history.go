package models

import (
	"fmt"
	"time"

	"jelly/internal/ranking"
)

// Media types used for playback progress and catalog rows.
const (
	MediaTypeMovie = "movie"
	MediaTypeTV    = "tv"
	MediaTypeAnime = "anime"
)

// ProgressItemKey builds the user independent key of a movie or an episode.
func ProgressItemKey(mediaType string, tmdbID int64, season, episode int) string {
	if mediaType == MediaTypeTV {
		return fmt.Sprintf("tv:%d:s%de%d", tmdbID, season, episode)
	}
	return fmt.Sprintf("%s:%d", mediaType, tmdbID)
}

// PlaybackProgress is the persisted playback position of a user on a movie or an episode.
type PlaybackProgress struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	TMDBID        int64      `json:"tmdbId"`
	MediaType     string     `json:"mediaType"` // "movie" | "tv"
	SeasonNumber  int        `json:"seasonNumber,omitempty"`
	EpisodeNumber int        `json:"episodeNumber,omitempty"`
	Position      float64    `json:"position"` // seconds
	Duration      float64    `json:"duration"` // seconds
	UpdatedAt     time.Time  `json:"updatedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// ItemKey identifies the media item independently of the user, e.g. "movie:603" or "tv:1399:s1e2".
func (p PlaybackProgress) ItemKey() string {
	return ProgressItemKey(p.MediaType, p.TMDBID, p.SeasonNumber, p.EpisodeNumber)
}

// PercentWatched returns the completion percentage (0-100).
func (p PlaybackProgress) PercentWatched() float64 {
	if p.Duration <= 0 {
		return 0
	}
	pct := p.Position / p.Duration * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// PlaybackProgressUpdate is sent by players while a title is playing.
type PlaybackProgressUpdate struct {
	TMDBID        int64   `json:"tmdbId"`
	MediaType     string  `json:"mediaType"`
	SeasonNumber  int     `json:"seasonNumber,omitempty"`
	EpisodeNumber int     `json:"episodeNumber,omitempty"`
	Position      float64 `json:"position"`
	Duration      float64 `json:"duration"`
}

// ItemKey mirrors PlaybackProgress.ItemKey for pending updates.
func (u PlaybackProgressUpdate) ItemKey() string {
	return ProgressItemKey(u.MediaType, u.TMDBID, u.SeasonNumber, u.EpisodeNumber)
}

// ContinueWatchingItem is an in-progress title enriched with catalog metadata.
type ContinueWatchingItem struct {
	ID             string    `json:"id"` // item key
	TMDBID         int64     `json:"tmdbId"`
	MediaType      string    `json:"mediaType"`
	Title          string    `json:"title"`
	PosterURL      string    `json:"posterUrl,omitempty"`
	BackdropURL    string    `json:"backdropUrl,omitempty"`
	SeasonNumber   int       `json:"seasonNumber,omitempty"`
	EpisodeNumber  int       `json:"episodeNumber,omitempty"`
	Position       float64   `json:"position"`
	Runtime        float64   `json:"runtime"`
	Progress       *float64  `json:"progress,omitempty"`
	Available      bool      `json:"available"`
	JellyfinItemID string    `json:"jellyfinItemId,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
	JustFinished   bool      `json:"justFinished,omitempty"`
}

// RankCandidate exposes the item to the continue watching ranking.
func (c ContinueWatchingItem) RankCandidate() ranking.Candidate {
	return ranking.Candidate{
		ID:        c.ID,
		MediaType: c.MediaType,
		Position:  c.Position,
		Runtime:   c.Runtime,
		Progress:  c.Progress,
	}
}

// NextUpItem is the next episode a user should watch for a series.
type NextUpItem struct {
	SeriesTMDBID   int64     `json:"seriesTmdbId"`
	SeriesTitle    string    `json:"seriesTitle"`
	PosterURL      string    `json:"posterUrl,omitempty"`
	SeasonNumber   int       `json:"seasonNumber"`
	EpisodeNumber  int       `json:"episodeNumber"`
	EpisodeTitle   string    `json:"episodeTitle,omitempty"`
	StillURL       string    `json:"stillUrl,omitempty"`
	AirDate        string    `json:"airDate,omitempty"`
	Available      bool      `json:"available"`
	JellyfinItemID string    `json:"jellyfinItemId,omitempty"`
	LastWatchedAt  time.Time `json:"lastWatchedAt"`
}
