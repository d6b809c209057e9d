package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"jelly/api"
	"jelly/config"
	"jelly/handlers"
	"jelly/internal/database"
	"jelly/internal/events"
	"jelly/internal/metrics"
	"jelly/services/audit"
	"jelly/services/catalog"
	"jelly/services/history"
	"jelly/services/jellyfin"
	"jelly/services/metadata"
	"jelly/services/requests"
	"jelly/services/scheduler"
	"jelly/services/session"
	"jelly/services/status"
	"jelly/services/users"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-password/password"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configFlag := flag.String("config", "", "path to settings.json (defaults to $JELLY_CONFIG or data/settings.json)")
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	_ = godotenv.Load()

	// Determine config path (flag, env or default)
	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("JELLY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	logger := setupLogging(settings.Log)
	slog.SetDefault(logger)

	// Generate the token signing secret on first start
	if settings.Auth.JWTSecret == "" {
		secret, err := password.Generate(48, 12, 0, false, true)
		if err != nil {
			log.Fatalf("failed to generate jwt secret: %v", err)
		}
		if err := cfgManager.Update(func(s *config.Settings) { s.Auth.JWTSecret = secret }); err != nil {
			log.Fatalf("failed to persist generated jwt secret: %v", err)
		}
		settings.Auth.JWTSecret = secret
		log.Printf("Generated a new token signing secret in %s", configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenAndMigrate(ctx, settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	bus := newEventBus(ctx, settings.Events)
	defer bus.Close()

	// Audit log, optionally mirrored to Kafka
	auditService := audit.NewService(db)
	if len(settings.Audit.KafkaBrokers) > 0 {
		auditService.SetSink(audit.NewKafkaSink(settings.Audit.KafkaBrokers, settings.Audit.KafkaTopic))
		log.Printf("[audit] mirroring entries to kafka topic %s", settings.Audit.KafkaTopic)
	}
	defer auditService.Close()

	// Media server integration
	table := jellyfin.DefaultCategoryTable()
	if settings.Jellyfin.CategoryRulesFile != "" {
		if table, err = jellyfin.LoadCategoryTable(settings.Jellyfin.CategoryRulesFile); err != nil {
			log.Fatalf("failed to load category rules: %v", err)
		}
	}
	jellyfinService := jellyfin.NewService(db, jellyfin.NewCategorizer(table, logger))

	usersService := users.NewService(db, users.NewTokenManager(settings.Auth.JWTSecret, settings.TokenTTL()))
	usersService.SetJellyfinAuthenticator(jellyfinService)
	if n := settings.Auth.LoginAttemptsPerMinute; n > 0 {
		usersService.SetLoginRate(rate.Every(time.Minute/time.Duration(n)), n)
	}

	catalogService := catalog.NewService(db, jellyfinService)
	requestsService := requests.NewService(db)
	requestsService.SetCatalog(catalogService)
	catalogService.SetRequestMarker(requestsService)

	metadataService := metadata.NewService(settings.Metadata.TMDBAPIKey, settings.Metadata.Language, settings.MetadataCacheTTL(), nil)
	metadataService.SetCatalog(catalogService)

	statusService := status.NewService(db, &http.Client{
		Timeout: time.Duration(settings.Status.ProbeTimeoutSeconds) * time.Second,
	})

	// Playback progress and session state
	sessionStore := session.NewStore(db, bus)
	if err := sessionStore.Start(ctx); err != nil {
		log.Fatalf("failed to start session store: %v", err)
	}
	historyService := history.NewService(db, metadataService, settings.ProgressFlushInterval())
	historyService.SetEpisodeChecker(jellyfinService)
	historyService.SetSessionHints(sessionStore)
	historyService.SetEventBus(bus)
	progressWriter := historyService.Writer()
	progressWriter.Start(ctx)
	metrics.RegisterPendingProgress(progressWriter.Pending)

	schedulerService := scheduler.NewService(cfgManager, statusService, catalogService)
	if err := schedulerService.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	// Construct router
	r := mux.NewRouter()
	r.Use(api.LogMiddleware(logger))
	api.Register(r, api.Handlers{
		Users:    handlers.NewUsersHandler(usersService, auditService),
		Status:   handlers.NewStatusHandler(statusService, auditService),
		Catalog:  handlers.NewCatalogHandler(metadataService, catalogService, jellyfinService, auditService),
		Requests: handlers.NewRequestsHandler(requestsService, auditService),
		History:  handlers.NewHistoryHandler(historyService),
		Jellyfin: handlers.NewJellyfinHandler(jellyfinService, usersService, auditService),
		Audit:    handlers.NewAuditHandler(auditService),
		Settings: handlers.NewSettingsHandler(cfgManager, metadataService, auditService),
		Tasks:    handlers.NewScheduledTasksHandler(cfgManager, schedulerService, auditService),
	}, usersService, settings.Server.CORSOrigins, db.PingContext)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before the final progress flush
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := progressWriter.Stop(shutdownCtx); err != nil {
		log.Printf("Progress flush error: %v", err)
	}
	sessionStore.Stop()

	log.Println("Shutdown complete")
}

// setupLogging writes both the standard logger and slog to stdout and, when configured,
// to a rotated log file.
func setupLogging(cfg config.LogConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			})
		}
	}
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// newEventBus connects to Redis when configured and falls back to an in process bus.
func newEventBus(ctx context.Context, cfg config.EventsSettings) events.Bus {
	if cfg.RedisAddr == "" {
		return events.NewMemoryBus()
	}
	bus, err := events.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	if err != nil {
		log.Printf("[events] redis unavailable at %s, using in-process events: %v", cfg.RedisAddr, err)
		return events.NewMemoryBus()
	}
	log.Printf("[events] publishing on redis %s (prefix %s)", cfg.RedisAddr, cfg.RedisPrefix)
	return bus
}
