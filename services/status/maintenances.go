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

const maintenanceColumns = `id, title_en, title_fr, description_en, description_fr, service_id, starts_at, ends_at, created_at`

func (s *Service) scanMaintenance(row interface{ Scan(...any) error }) (models.Maintenance, error) {
	var (
		m                           models.Maintenance
		serviceID                   sql.NullString
		startsAt, endsAt, createdAt string
	)
	err := row.Scan(&m.ID, &m.Title.EN, &m.Title.FR, &m.Description.EN, &m.Description.FR,
		&serviceID, &startsAt, &endsAt, &createdAt)
	if err != nil {
		return m, err
	}
	if serviceID.Valid && serviceID.String != "" {
		m.ServiceID = &serviceID.String
	}
	m.StartsAt = database.ParseTime(startsAt)
	m.EndsAt = database.ParseTime(endsAt)
	m.CreatedAt = database.ParseTime(createdAt)
	m.Status = m.StatusAt(s.now())
	return m, nil
}

// ListMaintenances returns windows by start time. openOnly hides completed ones.
func (s *Service) ListMaintenances(ctx context.Context, openOnly bool) ([]models.Maintenance, error) {
	query := `SELECT ` + maintenanceColumns + ` FROM scheduled_maintenances`
	args := []any{}
	if openOnly {
		query += ` WHERE ends_at > ?`
		args = append(args, database.FormatTime(s.now().UTC()))
	}
	query += ` ORDER BY starts_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Maintenance{}
	for rows.Next() {
		m, err := s.scanMaintenance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Service) GetMaintenance(ctx context.Context, id string) (models.Maintenance, error) {
	m, err := s.scanMaintenance(s.db.QueryRowContext(ctx, `SELECT `+maintenanceColumns+` FROM scheduled_maintenances WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrMaintenanceNotFound
	}
	return m, err
}

func (s *Service) validateMaintenance(ctx context.Context, in *models.MaintenanceInput) error {
	in.Title.EN = strings.TrimSpace(in.Title.EN)
	in.Title.FR = strings.TrimSpace(in.Title.FR)
	if in.Title.EN == "" && in.Title.FR == "" {
		return ErrTitleRequired
	}
	if in.StartsAt.IsZero() || !in.EndsAt.After(in.StartsAt) {
		return ErrInvalidWindow
	}
	if in.ServiceID != nil && *in.ServiceID == "" {
		in.ServiceID = nil
	}
	return s.serviceExists(ctx, in.ServiceID)
}

func (s *Service) CreateMaintenance(ctx context.Context, in models.MaintenanceInput) (models.Maintenance, error) {
	if err := s.validateMaintenance(ctx, &in); err != nil {
		return models.Maintenance{}, err
	}
	now := s.now().UTC()
	m := models.Maintenance{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		ServiceID:   in.ServiceID,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		CreatedAt:   now,
	}
	m.Status = m.StatusAt(now)
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_maintenances (`+maintenanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title.EN, m.Title.FR, m.Description.EN, m.Description.FR, nullableID(m.ServiceID),
		database.FormatTime(m.StartsAt), database.FormatTime(m.EndsAt), database.FormatTime(now))
	if err != nil {
		return m, fmt.Errorf("insert maintenance: %w", err)
	}
	return m, nil
}

func (s *Service) UpdateMaintenance(ctx context.Context, id string, in models.MaintenanceInput) (models.Maintenance, error) {
	m, err := s.GetMaintenance(ctx, id)
	if err != nil {
		return m, err
	}
	if err := s.validateMaintenance(ctx, &in); err != nil {
		return m, err
	}
	m.Title, m.Description, m.ServiceID = in.Title, in.Description, in.ServiceID
	m.StartsAt, m.EndsAt = in.StartsAt.UTC(), in.EndsAt.UTC()
	m.Status = m.StatusAt(s.now())
	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_maintenances SET title_en = ?, title_fr = ?, description_en = ?, description_fr = ?,
			service_id = ?, starts_at = ?, ends_at = ?
		WHERE id = ?`,
		m.Title.EN, m.Title.FR, m.Description.EN, m.Description.FR, nullableID(m.ServiceID),
		database.FormatTime(m.StartsAt), database.FormatTime(m.EndsAt), id)
	return m, err
}

func (s *Service) DeleteMaintenance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_maintenances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMaintenanceNotFound
	}
	return nil
}
