package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"jelly/handlers"
	"jelly/internal/uptime"
	"jelly/models"
	"jelly/services/status"
)

type fakeStatusService struct {
	uptimeService string
	granularity   uptime.Granularity
	from          time.Time
	swapped       [2]string
}

func (f *fakeStatusService) Summary(ctx context.Context) (models.StatusSummary, error) {
	return models.StatusSummary{Overall: models.ServiceOperational}, nil
}

func (f *fakeStatusService) UptimeHistory(ctx context.Context, serviceID string, g uptime.Granularity, from, to time.Time) (uptime.Series, error) {
	if serviceID == "missing" {
		return uptime.Series{}, status.ErrServiceNotFound
	}
	f.uptimeService, f.granularity, f.from = serviceID, g, from
	return uptime.Series{Granularity: g}, nil
}

func (f *fakeStatusService) ProbeAll(ctx context.Context) ([]status.ProbeResult, error) {
	return nil, nil
}

func (f *fakeStatusService) ListServices(ctx context.Context) ([]models.Service, error) {
	return nil, nil
}

func (f *fakeStatusService) CreateService(ctx context.Context, in models.ServiceInput) (models.Service, error) {
	if in.Name == "" {
		return models.Service{}, status.ErrNameRequired
	}
	return models.Service{ID: "s1", Name: in.Name, Status: models.ServiceOperational}, nil
}

func (f *fakeStatusService) UpdateService(ctx context.Context, id string, in models.ServiceInput) (models.Service, error) {
	return models.Service{ID: id}, nil
}

func (f *fakeStatusService) DeleteService(ctx context.Context, id string) error { return nil }

func (f *fakeStatusService) ListIncidents(ctx context.Context, activeOnly bool) ([]models.Incident, error) {
	return nil, nil
}

func (f *fakeStatusService) CreateIncident(ctx context.Context, in models.IncidentInput) (models.Incident, error) {
	return models.Incident{}, nil
}

func (f *fakeStatusService) UpdateIncident(ctx context.Context, id string, in models.IncidentInput) (models.Incident, error) {
	return models.Incident{}, nil
}

func (f *fakeStatusService) DeleteIncident(ctx context.Context, id string) error { return nil }

func (f *fakeStatusService) SwapIncidentPositions(ctx context.Context, a, b string) error {
	f.swapped = [2]string{a, b}
	return nil
}

func (f *fakeStatusService) ListMaintenances(ctx context.Context, openOnly bool) ([]models.Maintenance, error) {
	return nil, nil
}

func (f *fakeStatusService) CreateMaintenance(ctx context.Context, in models.MaintenanceInput) (models.Maintenance, error) {
	return models.Maintenance{}, nil
}

func (f *fakeStatusService) UpdateMaintenance(ctx context.Context, id string, in models.MaintenanceInput) (models.Maintenance, error) {
	return models.Maintenance{}, nil
}

func (f *fakeStatusService) DeleteMaintenance(ctx context.Context, id string) error { return nil }

func TestUptimeParsesQuery(t *testing.T) {
	svc := &fakeStatusService{}
	handler := handlers.NewStatusHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status/services/s1/uptime?granularity=Month&from=2024-01-01", nil)
	req = mux.SetURLVars(req, map[string]string{"serviceID": "s1"})
	rec := httptest.NewRecorder()
	handler.Uptime(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.uptimeService != "s1" || svc.granularity != uptime.Month {
		t.Fatalf("unexpected call service=%q granularity=%q", svc.uptimeService, svc.granularity)
	}
	if svc.from.Format("2006-01-02") != "2024-01-01" {
		t.Fatalf("unexpected from %s", svc.from)
	}
}

func TestUptimeErrors(t *testing.T) {
	handler := handlers.NewStatusHandler(&fakeStatusService{}, nil)

	cases := []struct {
		name    string
		url     string
		service string
		want    int
	}{
		{"unknown granularity", "/api/status/uptime?granularity=decade", "", http.StatusBadRequest},
		{"bad date", "/api/status/uptime?from=yesterday", "", http.StatusBadRequest},
		{"missing service", "/api/status/services/missing/uptime", "missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.service != "" {
				req = mux.SetURLVars(req, map[string]string{"serviceID": tc.service})
			}
			rec := httptest.NewRecorder()
			handler.Uptime(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestCreateServiceAudited(t *testing.T) {
	audit := &fakeAudit{}
	handler := handlers.NewStatusHandler(&fakeStatusService{}, audit)

	req := asAdmin(httptest.NewRequest(http.MethodPost, "/api/admin/services", strings.NewReader(`{"name":"Jellyfin","status":"operational"}`)), "root")
	rec := httptest.NewRecorder()
	handler.CreateService(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(audit.actions) != 1 || audit.actions[0] != "service.create" {
		t.Fatalf("unexpected audit trail %v", audit.actions)
	}

	req = asAdmin(httptest.NewRequest(http.MethodPost, "/api/admin/services", strings.NewReader(`{"name":""}`)), "root")
	rec = httptest.NewRecorder()
	handler.CreateService(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSwapIncidentsValidation(t *testing.T) {
	svc := &fakeStatusService{}
	handler := handlers.NewStatusHandler(svc, nil)

	rec := httptest.NewRecorder()
	handler.SwapIncidents(rec, httptest.NewRequest(http.MethodPost, "/api/admin/incidents/swap", strings.NewReader(`{"a":"i1","b":"i1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for identical ids, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.SwapIncidents(rec, httptest.NewRequest(http.MethodPost, "/api/admin/incidents/swap", strings.NewReader(`{"a":"i1","b":"i2"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if svc.swapped != [2]string{"i1", "i2"} {
		t.Fatalf("unexpected swap %v", svc.swapped)
	}
}
