package models

import "time"

// Basic metadata structures for titles, seasons and people.

type Image struct {
	URL  string `json:"url"`
	Type string `json:"type"` // poster, backdrop, still, profile
}

type Trailer struct {
	Name        string `json:"name"`
	Site        string `json:"site,omitempty"`
	Type        string `json:"type,omitempty"`
	Key         string `json:"key,omitempty"`
	URL         string `json:"url"`
	EmbedURL    string `json:"embedUrl,omitempty"`
	Official    bool   `json:"official,omitempty"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// Title is a movie or series as returned by search, discovery and detail endpoints.
type Title struct {
	TMDBID         int64     `json:"tmdbId"`
	MediaType      string    `json:"mediaType"` // movie | tv
	Name           string    `json:"name"`
	OriginalName   string    `json:"originalName,omitempty"`
	Overview       string    `json:"overview"`
	Year           int       `json:"year,omitempty"`
	ReleaseDate    string    `json:"releaseDate,omitempty"`
	Language       string    `json:"language,omitempty"`
	Poster         *Image    `json:"poster,omitempty"`
	Backdrop       *Image    `json:"backdrop,omitempty"`
	Popularity     float64   `json:"popularity,omitempty"`
	VoteAverage    float64   `json:"voteAverage,omitempty"`
	GenreIDs       []int     `json:"genreIds,omitempty"`
	RuntimeMinutes int       `json:"runtimeMinutes,omitempty"`
	Status         string    `json:"status,omitempty"`
	SeasonCount    int       `json:"seasonCount,omitempty"`
	Seasons        []Season  `json:"seasons,omitempty"`
	NextEpisode    *Episode  `json:"nextEpisodeToAir,omitempty"`
	Trailers       []Trailer `json:"trailers,omitempty"`

	// Catalog reconciliation
	Available      bool   `json:"available"`
	JellyfinItemID string `json:"jellyfinItemId,omitempty"`
}

// Season is a season summary or, with Episodes filled, a season detail.
type Season struct {
	SeasonNumber int       `json:"seasonNumber"`
	Name         string    `json:"name"`
	Overview     string    `json:"overview,omitempty"`
	AirDate      string    `json:"airDate,omitempty"`
	EpisodeCount int       `json:"episodeCount"`
	Poster       *Image    `json:"poster,omitempty"`
	Episodes     []Episode `json:"episodes,omitempty"`
}

// Episode describes a single episode of a series.
type Episode struct {
	SeasonNumber   int    `json:"seasonNumber"`
	EpisodeNumber  int    `json:"episodeNumber"`
	Name           string `json:"name"`
	Overview       string `json:"overview,omitempty"`
	AirDate        string `json:"airDate,omitempty"`
	RuntimeMinutes int    `json:"runtimeMinutes,omitempty"`
	Still          *Image `json:"still,omitempty"`
}

// CastMember is a billed actor.
type CastMember struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Character  string `json:"character,omitempty"`
	Order      int    `json:"order"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

// CrewMember is a crew credit.
type CrewMember struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Job        string `json:"job"`
	Department string `json:"department,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

// Credits holds cast and crew for a title.
type Credits struct {
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// AiringEntry is the next upcoming episode of a followed series.
type AiringEntry struct {
	SeriesTMDBID  int64     `json:"seriesTmdbId"`
	SeriesName    string    `json:"seriesName"`
	Poster        *Image    `json:"poster,omitempty"`
	SeasonNumber  int       `json:"seasonNumber"`
	EpisodeNumber int       `json:"episodeNumber"`
	EpisodeName   string    `json:"episodeName,omitempty"`
	AirDate       time.Time `json:"airDate"`
}

// DiscoverQuery narrows down discovery results.
type DiscoverQuery struct {
	MediaType string `json:"mediaType"` // movie | tv | anime
	Page      int    `json:"page"`
	GenreID   int    `json:"genreId,omitempty"`
	Year      int    `json:"year,omitempty"`
	SortBy    string `json:"sortBy,omitempty"`
}

// Page is a page of titles.
type Page struct {
	Page         int     `json:"page"`
	TotalPages   int     `json:"totalPages"`
	TotalResults int     `json:"totalResults"`
	Results      []Title `json:"results"`
}
