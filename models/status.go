package models

import "time"

// Service statuses shown on the public status page, ordered from best to worst.
const (
	ServiceOperational = "operational"
	ServiceDegraded    = "degraded"
	ServiceMaintenance = "maintenance"
	ServiceDowntime    = "downtime"
)

// Incident statuses.
const (
	IncidentInvestigating = "investigating"
	IncidentIdentified    = "identified"
	IncidentMonitoring    = "monitoring"
	IncidentResolved      = "resolved"
)

// Maintenance statuses, derived from the window at read time.
const (
	MaintenanceScheduled  = "scheduled"
	MaintenanceInProgress = "in_progress"
	MaintenanceCompleted  = "completed"
)

// Service is a monitored component displayed on the status page.
type Service struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Uptime    float64   `json:"uptimePercentage"`
	CheckURL  string    `json:"checkUrl,omitempty"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ServiceInput is the writable part of a service. Nil fields keep their current value on update.
type ServiceInput struct {
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Uptime   *float64 `json:"uptimePercentage,omitempty"`
	CheckURL *string  `json:"checkUrl,omitempty"`
	Position *int     `json:"position,omitempty"`
}

// LocalizedText holds an English and a French rendition of the same text.
type LocalizedText struct {
	EN string `json:"en"`
	FR string `json:"fr"`
}

// Pick returns the text for the requested language, falling back to the other one.
func (t LocalizedText) Pick(lang string) string {
	if lang == "fr" && t.FR != "" {
		return t.FR
	}
	if t.EN != "" {
		return t.EN
	}
	return t.FR
}

// Incident describes a service disruption.
type Incident struct {
	ID          string        `json:"id"`
	Title       LocalizedText `json:"title"`
	Description LocalizedText `json:"description"`
	Status      string        `json:"status"`
	ServiceID   *string       `json:"serviceId,omitempty"`
	Position    int           `json:"position"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
}

// IncidentInput is the writable part of an incident.
type IncidentInput struct {
	Title       LocalizedText `json:"title"`
	Description LocalizedText `json:"description"`
	Status      string        `json:"status"`
	ServiceID   *string       `json:"serviceId,omitempty"`
}

// Maintenance is a planned intervention on a service.
type Maintenance struct {
	ID          string        `json:"id"`
	Title       LocalizedText `json:"title"`
	Description LocalizedText `json:"description"`
	ServiceID   *string       `json:"serviceId,omitempty"`
	StartsAt    time.Time     `json:"startsAt"`
	EndsAt      time.Time     `json:"endsAt"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// StatusAt derives the maintenance status relative to now.
func (m Maintenance) StatusAt(now time.Time) string {
	switch {
	case now.Before(m.StartsAt):
		return MaintenanceScheduled
	case now.Before(m.EndsAt):
		return MaintenanceInProgress
	default:
		return MaintenanceCompleted
	}
}

// MaintenanceInput is the writable part of a maintenance window.
type MaintenanceInput struct {
	Title       LocalizedText `json:"title"`
	Description LocalizedText `json:"description"`
	ServiceID   *string       `json:"serviceId,omitempty"`
	StartsAt    time.Time     `json:"startsAt"`
	EndsAt      time.Time     `json:"endsAt"`
}

// UptimeDay is one persisted daily uptime sample of a service.
type UptimeDay struct {
	ServiceID string  `json:"serviceId"`
	Day       string  `json:"day"` // YYYY-MM-DD
	Checks    int     `json:"checks"`
	UpChecks  int     `json:"upChecks"`
	Uptime    float64 `json:"uptime"`
}

// StatusSummary is the public status page payload.
type StatusSummary struct {
	Overall      string        `json:"overall"`
	Services     []Service     `json:"services"`
	Incidents    []Incident    `json:"incidents"`
	Maintenances []Maintenance `json:"maintenances"`
	GeneratedAt  time.Time     `json:"generatedAt"`
}
