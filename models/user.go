package models

import (
	"encoding/json"
	"time"
)

// Roles a profile can hold.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Profile models a Jelly account.
type Profile struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"displayName"`
	Role           string     `json:"role"`
	PasswordHash   string     `json:"-"` // bcrypt hash, never serialized
	JellyfinUserID string     `json:"jellyfinUserId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
}

// IsAdmin reports whether the profile has the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// HasPassword returns true if the profile can log in with a local password.
func (p Profile) HasPassword() bool {
	return p.PasswordHash != ""
}

// MarshalJSON adds the computed hasPassword field.
func (p Profile) MarshalJSON() ([]byte, error) {
	type ProfileAlias Profile // prevent recursion
	return json.Marshal(&struct {
		ProfileAlias
		HasPassword bool `json:"hasPassword"`
	}{
		ProfileAlias: ProfileAlias(p),
		HasPassword:  p.HasPassword(),
	})
}

// MFAFactor is a second factor enrolled on a profile.
type MFAFactor struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	FactorType   string    `json:"factorType"` // "totp" | "phone"
	FriendlyName string    `json:"friendlyName,omitempty"`
	Status       string    `json:"status"` // "verified" | "unverified"
	CreatedAt    time.Time `json:"createdAt"`
}

// AuthSession is returned after a successful login.
type AuthSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Profile   Profile   `json:"profile"`
}
