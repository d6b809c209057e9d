package models

import "time"

// JellyfinSettings is the persisted media server connection.
type JellyfinSettings struct {
	ServerURL string    `json:"serverUrl"`
	APIKey    string    `json:"apiKey,omitempty"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Masked returns a copy safe to send to clients.
func (s JellyfinSettings) Masked() JellyfinSettings {
	if s.APIKey != "" {
		s.APIKey = "********"
	}
	return s
}

// Configured reports whether the connection can be used.
func (s JellyfinSettings) Configured() bool {
	return s.Enabled && s.ServerURL != "" && s.APIKey != ""
}

// JellyfinLibrary is a virtual folder with its resolved category.
type JellyfinLibrary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CollectionType string `json:"collectionType,omitempty"`
	Category       string `json:"category,omitempty"`
}

// JellyfinUser is a user account on the media server.
type JellyfinUser struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	IsAdmin       bool       `json:"isAdmin"`
	IsDisabled    bool       `json:"isDisabled"`
	LastLoginDate *time.Time `json:"lastLoginDate,omitempty"`
}

// JellyfinExportResult reports a profile exported to the media server.
type JellyfinExportResult struct {
	ProfileID      string `json:"profileId"`
	Username       string `json:"username"`
	JellyfinUserID string `json:"jellyfinUserId,omitempty"`
	Password       string `json:"password,omitempty"` // only returned once, on creation
	Created        bool   `json:"created"`
	Error          string `json:"error,omitempty"`
}

// JellyfinImportResult reports profiles created from media server users.
type JellyfinImportResult struct {
	Imported []Profile `json:"imported"`
	Linked   []Profile `json:"linked"`
	Skipped  []string  `json:"skipped,omitempty"`
}

// StreamInfo contains the URLs a player can use for an item.
type StreamInfo struct {
	ItemID    string `json:"itemId"`
	DirectURL string `json:"directUrl"`
	HLSURL    string `json:"hlsUrl"`
}
