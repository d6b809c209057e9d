// Package status backs the public status page: monitored services, incidents,
// maintenance windows and uptime history.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"jelly/internal/database"
	"jelly/models"
)

var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrIncidentNotFound    = errors.New("incident not found")
	ErrMaintenanceNotFound = errors.New("maintenance not found")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrNameRequired        = errors.New("name is required")
	ErrTitleRequired       = errors.New("title is required")
	ErrInvalidUptime       = errors.New("uptime must be between 0 and 100")
	ErrInvalidCheckURL     = errors.New("check url must be an absolute http(s) url")
	ErrInvalidWindow       = errors.New("maintenance must end after it starts")
)

// severity orders service statuses from best to worst.
var severity = map[string]int{
	models.ServiceOperational: 0,
	models.ServiceDegraded:    1,
	models.ServiceMaintenance: 2,
	models.ServiceDowntime:    3,
}

// ValidServiceStatus reports whether s is one of the four service statuses.
func ValidServiceStatus(s string) bool {
	_, ok := severity[s]
	return ok
}

// Service owns the status page tables.
type Service struct {
	db    *sql.DB
	httpc *http.Client
	now   func() time.Time

	probeConcurrency int
}

func NewService(db *sql.DB, httpc *http.Client) *Service {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{db: db, httpc: httpc, now: time.Now, probeConcurrency: 4}
}

const serviceColumns = `id, name, status, uptime_percentage, check_url, position, created_at, updated_at`

func scanService(row interface{ Scan(...any) error }) (models.Service, error) {
	var (
		svc                  models.Service
		createdAt, updatedAt string
	)
	err := row.Scan(&svc.ID, &svc.Name, &svc.Status, &svc.Uptime, &svc.CheckURL, &svc.Position, &createdAt, &updatedAt)
	if err != nil {
		return svc, err
	}
	svc.CreatedAt = database.ParseTime(createdAt)
	svc.UpdatedAt = database.ParseTime(updatedAt)
	return svc, nil
}

// ListServices returns every service in display order.
func (s *Service) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY position, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Service{}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Service) GetService(ctx context.Context, id string) (models.Service, error) {
	svc, err := scanService(s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return svc, ErrServiceNotFound
	}
	return svc, err
}

func validateCheckURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidCheckURL
	}
	return nil
}

func applyServiceInput(svc *models.Service, in models.ServiceInput) error {
	if name := strings.TrimSpace(in.Name); name != "" {
		svc.Name = name
	}
	if svc.Name == "" {
		return ErrNameRequired
	}
	if in.Status != "" {
		svc.Status = in.Status
	}
	if svc.Status == "" {
		svc.Status = models.ServiceOperational
	}
	if !ValidServiceStatus(svc.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, svc.Status)
	}
	if in.Uptime != nil {
		if *in.Uptime < 0 || *in.Uptime > 100 {
			return ErrInvalidUptime
		}
		svc.Uptime = *in.Uptime
	}
	if in.CheckURL != nil {
		checkURL := strings.TrimSpace(*in.CheckURL)
		if err := validateCheckURL(checkURL); err != nil {
			return err
		}
		svc.CheckURL = checkURL
	}
	if in.Position != nil {
		svc.Position = *in.Position
	}
	return nil
}

// CreateService adds a service at the end of the list unless a position is given.
func (s *Service) CreateService(ctx context.Context, in models.ServiceInput) (models.Service, error) {
	now := s.now().UTC()
	svc := models.Service{ID: uuid.NewString(), Uptime: 100, CreatedAt: now, UpdatedAt: now}
	if err := applyServiceInput(&svc, in); err != nil {
		return svc, err
	}
	if in.Position == nil {
		if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM services`).Scan(&svc.Position); err != nil {
			return svc, err
		}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO services (`+serviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.Name, svc.Status, svc.Uptime, svc.CheckURL, svc.Position,
		database.FormatTime(svc.CreatedAt), database.FormatTime(svc.UpdatedAt))
	if err != nil {
		return svc, fmt.Errorf("insert service: %w", err)
	}
	return svc, nil
}

func (s *Service) UpdateService(ctx context.Context, id string, in models.ServiceInput) (models.Service, error) {
	svc, err := s.GetService(ctx, id)
	if err != nil {
		return svc, err
	}
	if err := applyServiceInput(&svc, in); err != nil {
		return svc, err
	}
	svc.UpdatedAt = s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE services SET name = ?, status = ?, uptime_percentage = ?, check_url = ?, position = ?, updated_at = ?
		WHERE id = ?`,
		svc.Name, svc.Status, svc.Uptime, svc.CheckURL, svc.Position, database.FormatTime(svc.UpdatedAt), id)
	return svc, err
}

func (s *Service) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *Service) serviceExists(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	_, err := s.GetService(ctx, *id)
	return err
}

// Summary builds the public status page. Services covered by an ongoing maintenance
// are reported as under maintenance unless they are already down.
func (s *Service) Summary(ctx context.Context) (models.StatusSummary, error) {
	now := s.now().UTC()
	summary := models.StatusSummary{Overall: models.ServiceOperational, GeneratedAt: now}

	services, err := s.ListServices(ctx)
	if err != nil {
		return summary, err
	}
	incidents, err := s.ListIncidents(ctx, true)
	if err != nil {
		return summary, err
	}
	maintenances, err := s.ListMaintenances(ctx, true)
	if err != nil {
		return summary, err
	}

	covered := newMaintenanceCover(maintenances)
	for i := range services {
		if covered.has(services[i].ID) && severity[services[i].Status] < severity[models.ServiceMaintenance] {
			services[i].Status = models.ServiceMaintenance
		}
		if severity[services[i].Status] > severity[summary.Overall] {
			summary.Overall = services[i].Status
		}
	}
	summary.Services = services
	summary.Incidents = incidents
	summary.Maintenances = maintenances
	return summary, nil
}
