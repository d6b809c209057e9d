package audit_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jelly/internal/database"
	"jelly/models"
	"jelly/services/audit"
)

type recordingSink struct {
	entries []models.AuditEntry
	closed  bool
}

func (r *recordingSink) Publish(ctx context.Context, e models.AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestRecordAndFilter(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenAndMigrate(ctx, filepath.Join(t.TempDir(), "jelly.db"))
	require.NoError(t, err)
	defer db.Close()

	svc := audit.NewService(db)
	sink := &recordingSink{}
	svc.SetSink(sink)

	_, err = svc.Record(ctx, "admin", "service.create", "service", "plex", map[string]string{"name": "Plex"})
	require.NoError(t, err)
	_, err = svc.Record(ctx, "admin", "incident.resolve", "incident", "i1", nil)
	require.NoError(t, err)
	_, err = svc.Record(ctx, "other", "service.delete", "service", "plex", nil)
	require.NoError(t, err)

	all, err := svc.List(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "service.delete", all[0].Action, "newest first")

	services, err := svc.List(ctx, models.AuditFilter{EntityType: "service", ActorID: "admin"})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.JSONEq(t, `{"name":"Plex"}`, string(services[0].Details))

	paged, err := svc.List(ctx, models.AuditFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "incident.resolve", paged[0].Action)

	assert.Len(t, sink.entries, 3)
	assert.NotZero(t, sink.entries[0].ID)
	require.NoError(t, svc.Close())
	assert.True(t, sink.closed)
}
