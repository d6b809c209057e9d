package database_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"jelly/internal/database"
)

func TestOpenAndMigrateCreatesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenAndMigrate(ctx, filepath.Join(t.TempDir(), "nested", "jelly.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, table := range []string{
		"profiles", "mfa_factors", "services", "service_uptime_daily", "incidents",
		"scheduled_maintenances", "media_requests", "playback_progress", "session_state",
		"catalog_items", "jellyfin_settings", "audit_logs",
	} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}

	// A second run is a no-op.
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC)
	if got := database.ParseTime(database.FormatTime(now)); !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}
	if got := database.ParseTime("garbage"); !got.IsZero() {
		t.Fatalf("expected zero time, got %v", got)
	}
	if database.NullTime(database.NullString(nil)) != nil {
		t.Fatal("expected nil time for NULL")
	}
}
