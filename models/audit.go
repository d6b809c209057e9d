package models

import (
	"encoding/json"
	"time"
)

// AuditEntry records an administrative action.
type AuditEntry struct {
	ID         int64           `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// AuditFilter narrows audit log listing.
type AuditFilter struct {
	ActorID    string
	EntityType string
	Action     string
	Limit      int
	Offset     int
}
