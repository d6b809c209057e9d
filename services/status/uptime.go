package status

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/sourcegraph/conc/pool"

	"jelly/internal/database"
	"jelly/internal/uptime"
	"jelly/models"
)

const (
	dayLayout = "2006-01-02"
	// uptimeWindowDays is the window the uptime percentage of a probed service covers.
	uptimeWindowDays = 90
)

// ProbeResult is the outcome of one health check.
type ProbeResult struct {
	ServiceID string        `json:"serviceId"`
	Up        bool          `json:"up"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency"`
	Err       string        `json:"error,omitempty"`
	// Maintenance is set when the service was inside a maintenance window and the
	// result was not recorded.
	Maintenance bool `json:"maintenance,omitempty"`
}

// ProbeAll checks every service that has a check URL, accumulates the result into
// today's uptime sample and refreshes the service status and uptime percentage.
// Services inside an in-progress maintenance window are checked but not recorded.
func (s *Service) ProbeAll(ctx context.Context) ([]ProbeResult, error) {
	services, err := s.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	maintenances, err := s.ListMaintenances(ctx, true)
	if err != nil {
		return nil, err
	}
	covered := newMaintenanceCover(maintenances)

	p := pool.NewWithResults[ProbeResult]().WithMaxGoroutines(s.probeConcurrency)
	for _, svc := range services {
		if svc.CheckURL == "" {
			continue
		}
		p.Go(func() ProbeResult {
			return s.probe(ctx, svc)
		})
	}
	results := p.Wait()

	byID := make(map[string]models.Service, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
	}
	day := s.now().UTC().Format(dayLayout)
	for i, r := range results {
		if covered.has(r.ServiceID) {
			results[i].Maintenance = true
			continue
		}
		if err := s.recordProbe(ctx, byID[r.ServiceID], day, r.Up); err != nil {
			log.Printf("[status] failed to record probe for %s: %v", r.ServiceID, err)
		}
	}
	return results, nil
}

// maintenanceCover tells which services an in-progress maintenance applies to.
// A window without a service covers every service.
type maintenanceCover struct {
	all      bool
	services map[string]bool
}

func newMaintenanceCover(maintenances []models.Maintenance) maintenanceCover {
	c := maintenanceCover{services: map[string]bool{}}
	for _, m := range maintenances {
		if m.Status != models.MaintenanceInProgress {
			continue
		}
		if m.ServiceID == nil {
			c.all = true
			continue
		}
		c.services[*m.ServiceID] = true
	}
	return c
}

func (c maintenanceCover) has(serviceID string) bool {
	return c.all || c.services[serviceID]
}

func (s *Service) probe(ctx context.Context, svc models.Service) ProbeResult {
	result := ProbeResult{ServiceID: svc.ID}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.CheckURL, nil)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	resp, err := s.httpc.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = err.Error()
		log.Printf("[status] probe %s (%s) failed: %v", svc.Name, svc.CheckURL, err)
		return result
	}
	resp.Body.Close()
	result.Status = resp.StatusCode
	result.Up = resp.StatusCode < http.StatusInternalServerError
	if !result.Up {
		log.Printf("[status] probe %s (%s) returned %s", svc.Name, svc.CheckURL, resp.Status)
	}
	return result
}

func (s *Service) recordProbe(ctx context.Context, svc models.Service, day string, up bool) error {
	upCheck := 0
	if up {
		upCheck = 1
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO service_uptime_daily (service_id, day, checks, up_checks, uptime)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(service_id, day) DO UPDATE SET
			checks = checks + 1,
			up_checks = up_checks + excluded.up_checks,
			uptime = ROUND(100.0 * (up_checks + excluded.up_checks) / (checks + 1), 2)`,
		svc.ID, day, upCheck, float64(upCheck*100))
	if err != nil {
		return fmt.Errorf("accumulate probe: %w", err)
	}

	since := s.now().UTC().AddDate(0, 0, -uptimeWindowDays).Format(dayLayout)
	var checks, upChecks int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(checks), 0), COALESCE(SUM(up_checks), 0)
		FROM service_uptime_daily WHERE service_id = ? AND day >= ? AND checks > 0`,
		svc.ID, since).Scan(&checks, &upChecks)
	if err != nil {
		return err
	}
	percentage := 100.0
	if checks > 0 {
		percentage = math.Round(10000*float64(upChecks)/float64(checks)) / 100
	}

	// Maintenance is an admin decision; probes only toggle between up and down.
	status := svc.Status
	if status != models.ServiceMaintenance {
		switch {
		case !up:
			status = models.ServiceDowntime
		case status == models.ServiceDowntime:
			status = models.ServiceOperational
		}
	}
	_, err = tx.ExecContext(ctx, `UPDATE services SET uptime_percentage = ?, status = ?, updated_at = ? WHERE id = ?`,
		percentage, status, database.FormatTime(s.now().UTC()), svc.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RecordDailyUptime stores the admin-set uptime of unprobed services as the sample of day.
// Probed services already accumulate their own sample.
func (s *Service) RecordDailyUptime(ctx context.Context, day time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO service_uptime_daily (service_id, day, checks, up_checks, uptime)
		SELECT id, ?, 0, 0, uptime_percentage FROM services WHERE check_url = ''
		ON CONFLICT(service_id, day) DO UPDATE SET uptime = excluded.uptime
		WHERE service_uptime_daily.checks = 0`,
		day.UTC().Format(dayLayout))
	if err != nil {
		return 0, fmt.Errorf("record daily uptime: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UptimeDays returns the raw daily samples of a service between from and to (inclusive).
func (s *Service) UptimeDays(ctx context.Context, serviceID string, from, to time.Time) ([]models.UptimeDay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id, day, checks, up_checks, uptime FROM service_uptime_daily
		WHERE service_id = ? AND day >= ? AND day <= ? ORDER BY day`,
		serviceID, from.UTC().Format(dayLayout), to.UTC().Format(dayLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.UptimeDay{}
	for rows.Next() {
		var d models.UptimeDay
		if err := rows.Scan(&d.ServiceID, &d.Day, &d.Checks, &d.UpChecks, &d.Uptime); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UptimeHistory groups the daily samples of a service, or the daily average of all
// services when serviceID is empty. A zero from or to leaves that side open.
func (s *Service) UptimeHistory(ctx context.Context, serviceID string, g uptime.Granularity, from, to time.Time) (uptime.Series, error) {
	if serviceID != "" {
		if _, err := s.GetService(ctx, serviceID); err != nil {
			return uptime.Series{}, err
		}
	}
	lo, hi := "0000-01-01", "9999-12-31"
	if !from.IsZero() {
		lo = from.UTC().Format(dayLayout)
	}
	if !to.IsZero() {
		hi = to.UTC().Format(dayLayout)
	}

	query := `SELECT day, AVG(uptime) FROM service_uptime_daily WHERE day >= ? AND day <= ?`
	args := []any{lo, hi}
	if serviceID != "" {
		query += ` AND service_id = ?`
		args = append(args, serviceID)
	}
	query += ` GROUP BY day`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return uptime.Series{}, err
	}
	defer rows.Close()
	raw := map[string]float64{}
	for rows.Next() {
		var (
			day   string
			value float64
		)
		if err := rows.Scan(&day, &value); err != nil {
			return uptime.Series{}, err
		}
		raw[day] = value
	}
	if err := rows.Err(); err != nil {
		return uptime.Series{}, err
	}
	samples, rejected := uptime.ParseSamples(raw)
	if rejected > 0 {
		log.Printf("[status] skipped %d malformed uptime samples", rejected)
	}
	return uptime.Group(samples, g)
}
