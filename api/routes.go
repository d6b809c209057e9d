package api

import (
	"context"
	"net/http"
	"time"

	"jelly/handlers"
	"jelly/internal/metrics"

	"github.com/gorilla/mux"
)

// Handlers groups the HTTP handlers mounted by Register.
type Handlers struct {
	Users    *handlers.UsersHandler
	Status   *handlers.StatusHandler
	Catalog  *handlers.CatalogHandler
	Requests *handlers.RequestsHandler
	History  *handlers.HistoryHandler
	Jellyfin *handlers.JellyfinHandler
	Audit    *handlers.AuditHandler
	Settings *handlers.SettingsHandler
	Tasks    *handlers.ScheduledTasksHandler
}

// HealthFunc reports whether the service can serve requests.
type HealthFunc func(ctx context.Context) error

// Register mounts API endpoints onto the provided router.
func Register(r *mux.Router, h Handlers, auth Authenticator, corsOrigins []string, health HealthFunc) {
	r.Use(metrics.Middleware)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(health)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// Add CORS middleware to API subrouter
	api.Use(corsMiddleware(corsOrigins))
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(handleOptions)

	// Public routes
	api.HandleFunc("/status", h.Status.Summary).Methods(http.MethodGet)
	api.HandleFunc("/status/uptime", h.Status.Uptime).Methods(http.MethodGet)
	api.HandleFunc("/status/services/{serviceID}/uptime", h.Status.Uptime).Methods(http.MethodGet)
	api.HandleFunc("/auth/register", h.Users.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.Users.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/jellyfin", h.Users.JellyfinLogin).Methods(http.MethodPost)

	// Beacons cannot carry an Authorization header
	api.Handle("/playback/beacon", QueryTokenMiddleware(auth)(http.HandlerFunc(h.History.Beacon))).Methods(http.MethodPost)

	// Protected routes - require authentication
	protected := api.PathPrefix("").Subrouter()
	protected.Use(AuthMiddleware(auth))

	protected.HandleFunc("/me", h.Users.Me).Methods(http.MethodGet)
	protected.HandleFunc("/me/mfa", h.Users.MyFactors).Methods(http.MethodGet)
	protected.HandleFunc("/me/mfa/{factorID}", h.Users.UnenrollMine).Methods(http.MethodDelete)

	catalog := protected.PathPrefix("/catalog").Subrouter()
	catalog.HandleFunc("/search", h.Catalog.Search).Methods(http.MethodGet)
	catalog.HandleFunc("/discover", h.Catalog.Discover).Methods(http.MethodGet)
	catalog.HandleFunc("/featured", h.Catalog.Featured).Methods(http.MethodGet)
	catalog.HandleFunc("/airing", h.Catalog.Airing).Methods(http.MethodGet)
	catalog.HandleFunc("/episode-exists", h.Catalog.EpisodeExists).Methods(http.MethodGet)
	catalog.HandleFunc("/library", h.Catalog.Library).Methods(http.MethodGet)
	catalog.HandleFunc("/stats", h.Catalog.Stats).Methods(http.MethodGet)
	catalog.HandleFunc("/tv/{id:[0-9]+}/season/{season:[0-9]+}", h.Catalog.Season).Methods(http.MethodGet)
	catalog.HandleFunc("/{type:movie|tv}/{id:[0-9]+}/credits", h.Catalog.Credits).Methods(http.MethodGet)
	catalog.HandleFunc("/{type:movie|tv}/{id:[0-9]+}/videos", h.Catalog.Videos).Methods(http.MethodGet)
	catalog.HandleFunc("/{type:movie|tv}/{id:[0-9]+}", h.Catalog.Details).Methods(http.MethodGet)

	protected.HandleFunc("/requests", h.Requests.ListMine).Methods(http.MethodGet)
	protected.HandleFunc("/requests", h.Requests.Create).Methods(http.MethodPost)
	protected.HandleFunc("/requests/{requestID}", h.Requests.Delete).Methods(http.MethodDelete)

	protected.HandleFunc("/progress", h.History.ListProgress).Methods(http.MethodGet)
	protected.HandleFunc("/progress", h.History.RecordProgress).Methods(http.MethodPost)
	protected.HandleFunc("/progress/flush", h.History.Flush).Methods(http.MethodPost)
	protected.HandleFunc("/progress/{key}", h.History.Hide).Methods(http.MethodDelete)
	protected.HandleFunc("/continue-watching", h.History.ContinueWatching).Methods(http.MethodGet)
	protected.HandleFunc("/next-up", h.History.NextUp).Methods(http.MethodGet)
	protected.HandleFunc("/stream/{jellyfinID}", h.Jellyfin.Stream).Methods(http.MethodGet)

	// Admin routes
	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(AdminOnlyMiddleware())

	admin.HandleFunc("/status/probe", h.Status.Probe).Methods(http.MethodPost)
	admin.HandleFunc("/services", h.Status.ListServices).Methods(http.MethodGet)
	admin.HandleFunc("/services", h.Status.CreateService).Methods(http.MethodPost)
	admin.HandleFunc("/services/{serviceID}", h.Status.UpdateService).Methods(http.MethodPut)
	admin.HandleFunc("/services/{serviceID}", h.Status.DeleteService).Methods(http.MethodDelete)

	admin.HandleFunc("/incidents", h.Status.ListIncidents).Methods(http.MethodGet)
	admin.HandleFunc("/incidents", h.Status.CreateIncident).Methods(http.MethodPost)
	admin.HandleFunc("/incidents/swap", h.Status.SwapIncidents).Methods(http.MethodPost)
	admin.HandleFunc("/incidents/{incidentID}", h.Status.UpdateIncident).Methods(http.MethodPut)
	admin.HandleFunc("/incidents/{incidentID}", h.Status.DeleteIncident).Methods(http.MethodDelete)

	admin.HandleFunc("/maintenances", h.Status.ListMaintenances).Methods(http.MethodGet)
	admin.HandleFunc("/maintenances", h.Status.CreateMaintenance).Methods(http.MethodPost)
	admin.HandleFunc("/maintenances/{maintenanceID}", h.Status.UpdateMaintenance).Methods(http.MethodPut)
	admin.HandleFunc("/maintenances/{maintenanceID}", h.Status.DeleteMaintenance).Methods(http.MethodDelete)

	admin.HandleFunc("/requests", h.Requests.List).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{requestID}/status", h.Requests.Transition).Methods(http.MethodPut)

	admin.HandleFunc("/profiles", h.Users.List).Methods(http.MethodGet)
	admin.HandleFunc("/profiles/{userID}", h.Users.Delete).Methods(http.MethodDelete)
	admin.HandleFunc("/profiles/{userID}/role", h.Users.SetRole).Methods(http.MethodPut)
	admin.HandleFunc("/profiles/{userID}/mfa", h.Users.Factors).Methods(http.MethodGet)
	admin.HandleFunc("/profiles/{userID}/mfa/{factorID}", h.Users.Unenroll).Methods(http.MethodDelete)

	admin.HandleFunc("/jellyfin/settings", h.Jellyfin.GetSettings).Methods(http.MethodGet)
	admin.HandleFunc("/jellyfin/settings", h.Jellyfin.PutSettings).Methods(http.MethodPut)
	admin.HandleFunc("/jellyfin/test", h.Jellyfin.Test).Methods(http.MethodPost)
	admin.HandleFunc("/jellyfin/libraries", h.Jellyfin.Libraries).Methods(http.MethodGet)
	admin.HandleFunc("/jellyfin/users", h.Jellyfin.Users).Methods(http.MethodGet)
	admin.HandleFunc("/jellyfin/users/import", h.Jellyfin.ImportUsers).Methods(http.MethodPost)
	admin.HandleFunc("/jellyfin/users/export", h.Jellyfin.ExportUsers).Methods(http.MethodPost)
	admin.HandleFunc("/jellyfin/sync", h.Catalog.Sync).Methods(http.MethodPost)
	admin.HandleFunc("/jellyfin/stats", h.Catalog.Stats).Methods(http.MethodGet)

	admin.HandleFunc("/audit", h.Audit.List).Methods(http.MethodGet)

	admin.HandleFunc("/settings", h.Settings.GetSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings", h.Settings.PutSettings).Methods(http.MethodPut)
	admin.HandleFunc("/metadata/cache/clear", h.Settings.ClearMetadataCache).Methods(http.MethodPost)

	admin.HandleFunc("/scheduled-tasks", h.Tasks.ListTasks).Methods(http.MethodGet)
	admin.HandleFunc("/scheduled-tasks/{taskID}", h.Tasks.UpdateTask).Methods(http.MethodPut)
	admin.HandleFunc("/scheduled-tasks/{taskID}/run", h.Tasks.RunTaskNow).Methods(http.MethodPost)
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				writeError(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}
