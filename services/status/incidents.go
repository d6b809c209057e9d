package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"jelly/internal/database"
	"jelly/models"
)

func validIncidentStatus(s string) bool {
	switch s {
	case models.IncidentInvestigating, models.IncidentIdentified, models.IncidentMonitoring, models.IncidentResolved:
		return true
	}
	return false
}

const incidentColumns = `id, title_en, title_fr, description_en, description_fr, status, service_id, position, created_at, updated_at, resolved_at`

func scanIncident(row interface{ Scan(...any) error }) (models.Incident, error) {
	var (
		inc                  models.Incident
		serviceID, resolved  sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&inc.ID, &inc.Title.EN, &inc.Title.FR, &inc.Description.EN, &inc.Description.FR,
		&inc.Status, &serviceID, &inc.Position, &createdAt, &updatedAt, &resolved)
	if err != nil {
		return inc, err
	}
	if serviceID.Valid && serviceID.String != "" {
		inc.ServiceID = &serviceID.String
	}
	inc.CreatedAt = database.ParseTime(createdAt)
	inc.UpdatedAt = database.ParseTime(updatedAt)
	inc.ResolvedAt = database.NullTime(resolved)
	return inc, nil
}

// ListIncidents returns incidents by position. activeOnly hides resolved ones.
func (s *Service) ListIncidents(ctx context.Context, activeOnly bool) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	args := []any{}
	if activeOnly {
		query += ` WHERE status != ?`
		args = append(args, models.IncidentResolved)
	}
	query += ` ORDER BY position, created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *Service) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inc, ErrIncidentNotFound
	}
	return inc, err
}

func (s *Service) validateIncident(ctx context.Context, in *models.IncidentInput) error {
	in.Title.EN = strings.TrimSpace(in.Title.EN)
	in.Title.FR = strings.TrimSpace(in.Title.FR)
	if in.Title.EN == "" && in.Title.FR == "" {
		return ErrTitleRequired
	}
	if in.Status == "" {
		in.Status = models.IncidentInvestigating
	}
	if !validIncidentStatus(in.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	if in.ServiceID != nil && *in.ServiceID == "" {
		in.ServiceID = nil
	}
	return s.serviceExists(ctx, in.ServiceID)
}

func nullableID(id *string) any {
	if id == nil {
		return nil
	}
	return *id
}

// CreateIncident opens an incident at the top of the list.
func (s *Service) CreateIncident(ctx context.Context, in models.IncidentInput) (models.Incident, error) {
	if err := s.validateIncident(ctx, &in); err != nil {
		return models.Incident{}, err
	}
	now := s.now().UTC()
	inc := models.Incident{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		ServiceID:   in.ServiceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if inc.Status == models.IncidentResolved {
		inc.ResolvedAt = &now
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MIN(position) - 1, 0) FROM incidents`).Scan(&inc.Position); err != nil {
		return inc, err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Title.EN, inc.Title.FR, inc.Description.EN, inc.Description.FR, inc.Status,
		nullableID(inc.ServiceID), inc.Position, database.FormatTime(now), database.FormatTime(now),
		database.NullString(inc.ResolvedAt))
	if err != nil {
		return inc, fmt.Errorf("insert incident: %w", err)
	}
	return inc, nil
}

// UpdateIncident replaces the writable fields. Resolving stamps resolved_at; reopening clears it.
func (s *Service) UpdateIncident(ctx context.Context, id string, in models.IncidentInput) (models.Incident, error) {
	inc, err := s.GetIncident(ctx, id)
	if err != nil {
		return inc, err
	}
	if err := s.validateIncident(ctx, &in); err != nil {
		return inc, err
	}
	now := s.now().UTC()
	switch {
	case in.Status == models.IncidentResolved && inc.ResolvedAt == nil:
		inc.ResolvedAt = &now
	case in.Status != models.IncidentResolved:
		inc.ResolvedAt = nil
	}
	inc.Title, inc.Description, inc.Status, inc.ServiceID, inc.UpdatedAt = in.Title, in.Description, in.Status, in.ServiceID, now
	_, err = s.db.ExecContext(ctx, `
		UPDATE incidents SET title_en = ?, title_fr = ?, description_en = ?, description_fr = ?, status = ?,
			service_id = ?, updated_at = ?, resolved_at = ?
		WHERE id = ?`,
		inc.Title.EN, inc.Title.FR, inc.Description.EN, inc.Description.FR, inc.Status,
		nullableID(inc.ServiceID), database.FormatTime(now), database.NullString(inc.ResolvedAt), id)
	return inc, err
}

func (s *Service) DeleteIncident(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// SwapIncidentPositions exchanges the display positions of two incidents atomically.
func (s *Service) SwapIncidentPositions(ctx context.Context, a, b string) error {
	if a == b {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var posA, posB int
	if err := tx.QueryRowContext(ctx, `SELECT position FROM incidents WHERE id = ?`, a).Scan(&posA); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrIncidentNotFound
		}
		return err
	}
	if err := tx.QueryRowContext(ctx, `SELECT position FROM incidents WHERE id = ?`, b).Scan(&posB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrIncidentNotFound
		}
		return err
	}
	stamp := database.FormatTime(s.now().UTC())
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET position = ?, updated_at = ? WHERE id = ?`, posB, stamp, a); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET position = ?, updated_at = ? WHERE id = ?`, posA, stamp, b); err != nil {
		return err
	}
	return tx.Commit()
}
