package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jelly/internal/database"
	"jelly/internal/events"
)

func newTestStore(t *testing.T, bus events.Bus) (*Store, *time.Time) {
	t.Helper()
	db, err := database.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "jelly.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	insertProfile(t, db, "alice")

	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	s := NewStore(db, bus)
	s.now = func() time.Time { return now }
	return s, &now
}

func insertProfile(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO profiles (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		id, id+"@example.com", id, database.FormatTime(time.Now()))
	require.NoError(t, err)
}

func progressEvent(t *testing.T, kind events.Kind, user, key string, at time.Time) events.Event {
	t.Helper()
	ev, err := events.New(kind, user, events.ProgressSaved{ItemKey: key})
	require.NoError(t, err)
	ev.At = at
	return ev
}

func TestObserveTracksNowPlayingWithinWindow(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, nil)

	require.NoError(t, s.Observe(ctx, progressEvent(t, events.PlaybackProgressSaved, "alice", "tv:1399:s1e2", *now)))
	assert.Equal(t, "tv:1399:s1e2", s.NowPlaying("alice"))

	last, err := s.LastWatched(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "tv:1399:s1e2", last)

	*now = now.Add(NowPlayingWindow + time.Second)
	assert.Empty(t, s.NowPlaying("alice"))

	hints := s.Hints(ctx, "alice")
	assert.Empty(t, hints.NowPlayingID)
	assert.Equal(t, "tv:1399:s1e2", hints.LastWatchedID)
}

func TestObserveIgnoresOlderEventsAndStops(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, nil)

	require.NoError(t, s.Observe(ctx, progressEvent(t, events.PlaybackProgressSaved, "alice", "movie:603", *now)))
	require.NoError(t, s.Observe(ctx, progressEvent(t, events.PlaybackProgressSaved, "alice", "movie:604", now.Add(-time.Minute))))
	assert.Equal(t, "movie:603", s.NowPlaying("alice"))

	require.NoError(t, s.Observe(ctx, progressEvent(t, events.PlaybackStopped, "alice", "movie:603", *now)))
	assert.Empty(t, s.NowPlaying("alice"))
	last, err := s.LastWatched(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "movie:603", last)
}

func TestLastWatchedUnknownUser(t *testing.T) {
	s, _ := newTestStore(t, nil)
	last, err := s.LastWatched(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestStartFollowsBus(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemoryBus()
	defer bus.Close()
	s, now := newTestStore(t, bus)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.NoError(t, bus.Publish(ctx, progressEvent(t, events.PlaybackProgressSaved, "alice", "movie:603", *now)))
	require.Eventually(t, func() bool { return s.NowPlaying("alice") == "movie:603" }, 2*time.Second, 10*time.Millisecond)
}

func TestStartWithoutBus(t *testing.T) {
	s, _ := newTestStore(t, nil)
	assert.Error(t, s.Start(context.Background()))
}
