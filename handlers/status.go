package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"jelly/internal/uptime"
	"jelly/models"
	"jelly/services/status"

	"github.com/gorilla/mux"
)

type statusService interface {
	Summary(ctx context.Context) (models.StatusSummary, error)
	UptimeHistory(ctx context.Context, serviceID string, g uptime.Granularity, from, to time.Time) (uptime.Series, error)
	ProbeAll(ctx context.Context) ([]status.ProbeResult, error)

	ListServices(ctx context.Context) ([]models.Service, error)
	CreateService(ctx context.Context, in models.ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, id string, in models.ServiceInput) (models.Service, error)
	DeleteService(ctx context.Context, id string) error

	ListIncidents(ctx context.Context, activeOnly bool) ([]models.Incident, error)
	CreateIncident(ctx context.Context, in models.IncidentInput) (models.Incident, error)
	UpdateIncident(ctx context.Context, id string, in models.IncidentInput) (models.Incident, error)
	DeleteIncident(ctx context.Context, id string) error
	SwapIncidentPositions(ctx context.Context, a, b string) error

	ListMaintenances(ctx context.Context, openOnly bool) ([]models.Maintenance, error)
	CreateMaintenance(ctx context.Context, in models.MaintenanceInput) (models.Maintenance, error)
	UpdateMaintenance(ctx context.Context, id string, in models.MaintenanceInput) (models.Maintenance, error)
	DeleteMaintenance(ctx context.Context, id string) error
}

var _ statusService = (*status.Service)(nil)

type StatusHandler struct {
	Service statusService
	Audit   auditRecorder
}

func NewStatusHandler(service statusService, audit auditRecorder) *StatusHandler {
	return &StatusHandler{Service: service, Audit: audit}
}

func statusErrorStatus(err error) int {
	switch {
	case errors.Is(err, status.ErrServiceNotFound),
		errors.Is(err, status.ErrIncidentNotFound),
		errors.Is(err, status.ErrMaintenanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, status.ErrInvalidStatus),
		errors.Is(err, status.ErrNameRequired),
		errors.Is(err, status.ErrTitleRequired),
		errors.Is(err, status.ErrInvalidUptime),
		errors.Is(err, status.ErrInvalidCheckURL),
		errors.Is(err, status.ErrInvalidWindow),
		errors.Is(err, uptime.ErrUnknownGranularity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Summary renders the public status page. GET /api/status
func (h *StatusHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.Summary(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Uptime returns grouped uptime for one service (when {serviceID} is set) or all of them.
// GET /api/status/uptime?granularity=week&from=2024-01-01&to=2024-03-31
func (h *StatusHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, err := uptime.ParseGranularity(q.Get("granularity"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, ok := parseDay(w, q.Get("from"), "from")
	if !ok {
		return
	}
	to, ok := parseDay(w, q.Get("to"), "to")
	if !ok {
		return
	}
	series, err := h.Service.UptimeHistory(r.Context(), strings.TrimSpace(mux.Vars(r)["serviceID"]), g, from, to)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func parseDay(w http.ResponseWriter, raw, name string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeJSONError(w, name+" must be a YYYY-MM-DD date", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

// Probe runs the health checks immediately. POST /api/admin/status/probe
func (h *StatusHandler) Probe(w http.ResponseWriter, r *http.Request) {
	results, err := h.Service.ProbeAll(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	if results == nil {
		results = []status.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *StatusHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Service.ListServices(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *StatusHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	var in models.ServiceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	svc, err := h.Service.CreateService(r.Context(), in)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "service.create", "service", svc.ID, in)
	writeJSON(w, http.StatusCreated, svc)
}

func (h *StatusHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["serviceID"])
	var in models.ServiceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	svc, err := h.Service.UpdateService(r.Context(), id, in)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "service.update", "service", id, in)
	writeJSON(w, http.StatusOK, svc)
}

func (h *StatusHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["serviceID"])
	if err := h.Service.DeleteService(r.Context(), id); err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "service.delete", "service", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// ListIncidents returns all incidents, or only unresolved ones with ?active=true.
func (h *StatusHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.Service.ListIncidents(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (h *StatusHandler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var in models.IncidentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	inc, err := h.Service.CreateIncident(r.Context(), in)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "incident.create", "incident", inc.ID, in)
	writeJSON(w, http.StatusCreated, inc)
}

func (h *StatusHandler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["incidentID"])
	var in models.IncidentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	inc, err := h.Service.UpdateIncident(r.Context(), id, in)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "incident.update", "incident", id, in)
	writeJSON(w, http.StatusOK, inc)
}

func (h *StatusHandler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["incidentID"])
	if err := h.Service.DeleteIncident(r.Context(), id); err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "incident.delete", "incident", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// SwapIncidents exchanges the display positions of two incidents.
// POST /api/admin/incidents/swap {"a": "...", "b": "..."}
func (h *StatusHandler) SwapIncidents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.A == "" || body.B == "" || body.A == body.B {
		writeJSONError(w, "two distinct incident ids are required", http.StatusBadRequest)
		return
	}
	if err := h.Service.SwapIncidentPositions(r.Context(), body.A, body.B); err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "incident.swap", "incident", body.A, body)
	w.WriteHeader(http.StatusNoContent)
}

// ListMaintenances returns all maintenances, or only upcoming and ongoing ones with ?open=true.
func (h *StatusHandler) ListMaintenances(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.ListMaintenances(r.Context(), r.URL.Query().Get("open") == "true")
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *StatusHandler) CreateMaintenance(w http.ResponseWriter, r *http.Request) {
	var in models.MaintenanceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := h.Service.CreateMaintenance(r.Context(), in)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "maintenance.create", "maintenance", m.ID, in)
	writeJSON(w, http.StatusCreated, m)
}

func (h *StatusHandler) UpdateMaintenance(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["maintenanceID"])
	var in models.MaintenanceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := h.Service.UpdateMaintenance(r.Context(), id, in)
	if err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "maintenance.update", "maintenance", id, in)
	writeJSON(w, http.StatusOK, m)
}

func (h *StatusHandler) DeleteMaintenance(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["maintenanceID"])
	if err := h.Service.DeleteMaintenance(r.Context(), id); err != nil {
		writeJSONError(w, err.Error(), statusErrorStatus(err))
		return
	}
	recordAudit(r, h.Audit, "maintenance.delete", "maintenance", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
