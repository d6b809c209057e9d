package models

import "time"

// Media request statuses.
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestRejected  = "rejected"
	RequestAvailable = "available"
)

// MediaRequest is a user's request to add a title to the media server.
type MediaRequest struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	TMDBID     int64     `json:"tmdbId"`
	MediaType  string    `json:"mediaType"` // movie | tv | anime
	Title      string    `json:"title"`
	Year       int       `json:"year,omitempty"`
	PosterPath string    `json:"posterPath,omitempty"`
	Status     string    `json:"status"`
	AdminNote  string    `json:"adminNote,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MediaRequestInput is the payload for creating a request.
type MediaRequestInput struct {
	TMDBID     int64  `json:"tmdbId"`
	MediaType  string `json:"mediaType"`
	Title      string `json:"title"`
	Year       int    `json:"year,omitempty"`
	PosterPath string `json:"posterPath,omitempty"`
}

// RequestTransition is an admin status change.
type RequestTransition struct {
	Status    string `json:"status"`
	AdminNote string `json:"adminNote,omitempty"`
}
