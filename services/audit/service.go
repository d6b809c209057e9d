// Package audit records administrative actions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"jelly/internal/database"
	"jelly/models"
)

// Sink receives a copy of every recorded entry.
type Sink interface {
	Publish(ctx context.Context, entry models.AuditEntry) error
	Close() error
}

type Service struct {
	db   *sql.DB
	sink Sink
	now  func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// SetSink mirrors entries to an external sink such as Kafka.
func (s *Service) SetSink(sink Sink) {
	s.sink = sink
}

// Record stores an entry. details may be nil or any JSON encodable value.
func (s *Service) Record(ctx context.Context, actorID, action, entityType, entityID string, details any) (models.AuditEntry, error) {
	raw := json.RawMessage("{}")
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return models.AuditEntry{}, fmt.Errorf("encode audit details: %w", err)
		}
		raw = b
	}
	entry := models.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    raw,
		CreatedAt:  s.now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, string(raw), database.FormatTime(entry.CreatedAt))
	if err != nil {
		return entry, fmt.Errorf("insert audit entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()

	if s.sink != nil {
		if err := s.sink.Publish(ctx, entry); err != nil {
			log.Printf("[audit] sink publish failed for entry %d: %v", entry.ID, err)
		}
	}
	return entry, nil
}

// List returns entries matching f, newest first.
func (s *Service) List(ctx context.Context, f models.AuditFilter) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	query := `SELECT id, actor_id, action, entity_type, entity_id, details_json, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			e                  models.AuditEntry
			details, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &createdAt); err != nil {
			return nil, err
		}
		e.Details = json.RawMessage(details)
		e.CreatedAt = database.ParseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the sink.
func (s *Service) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}
