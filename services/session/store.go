// Package session tracks what each user is watching right now and what they watched last.
// It follows playback events on the bus instead of being told by the player directly.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"jelly/internal/database"
	"jelly/internal/events"
	"jelly/internal/ranking"
)

// NowPlayingWindow is how long a saved item counts as playing without further updates.
const NowPlayingWindow = 2 * time.Minute

type playing struct {
	key string
	at  time.Time
}

// Store keeps now playing in memory and last watched in session_state.
type Store struct {
	db     *sql.DB
	bus    events.Bus
	window time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	playing map[string]playing

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewStore(db *sql.DB, bus events.Bus) *Store {
	return &Store{
		db:      db,
		bus:     bus,
		window:  NowPlayingWindow,
		now:     time.Now,
		playing: make(map[string]playing),
	}
}

// Start subscribes to playback events until Stop is called or ctx ends.
func (s *Store) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	if s.bus == nil {
		return errors.New("session store has no event bus")
	}
	subCtx, cancel := context.WithCancel(ctx)
	ch, unsubscribe, err := s.bus.Subscribe(subCtx, events.PlaybackProgressSaved, events.PlaybackStopped)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to playback events: %w", err)
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		defer unsubscribe()
		for ev := range ch {
			if err := s.Observe(subCtx, ev); err != nil {
				log.Printf("[session] failed to handle %s for %s: %v", ev.Kind, ev.UserID, err)
			}
		}
	}()
	log.Printf("[session] following playback events")
	return nil
}

func (s *Store) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
}

// Observe applies a single playback event.
func (s *Store) Observe(ctx context.Context, ev events.Event) error {
	if ev.UserID == "" {
		return nil
	}
	payload, err := events.Decode[events.ProgressSaved](ev)
	if err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}

	switch ev.Kind {
	case events.PlaybackProgressSaved:
		if payload.ItemKey == "" {
			return nil
		}
		s.mu.Lock()
		if cur, ok := s.playing[ev.UserID]; !ok || !at.Before(cur.at) {
			s.playing[ev.UserID] = playing{key: payload.ItemKey, at: at}
		}
		s.mu.Unlock()
		return s.SetLastWatched(ctx, ev.UserID, payload.ItemKey)
	case events.PlaybackStopped:
		s.mu.Lock()
		if cur, ok := s.playing[ev.UserID]; ok && (payload.ItemKey == "" || cur.key == payload.ItemKey) {
			delete(s.playing, ev.UserID)
		}
		s.mu.Unlock()
		if payload.ItemKey != "" {
			return s.SetLastWatched(ctx, ev.UserID, payload.ItemKey)
		}
	}
	return nil
}

// NowPlaying returns the item key the user is playing, or "" when idle for longer than the window.
func (s *Store) NowPlaying(userID string) string {
	s.mu.RLock()
	cur, ok := s.playing[userID]
	s.mu.RUnlock()
	if !ok || s.now().Sub(cur.at) > s.window {
		return ""
	}
	return cur.key
}

func (s *Store) LastWatched(ctx context.Context, userID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT last_watched_key FROM session_state WHERE user_id = ?`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return key, err
}

func (s *Store) SetLastWatched(ctx context.Context, userID, itemKey string) error {
	itemKey = strings.TrimSpace(itemKey)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (user_id, last_watched_key, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_watched_key = excluded.last_watched_key, updated_at = excluded.updated_at`,
		userID, itemKey, database.FormatTime(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("save last watched: %w", err)
	}
	return nil
}

// Hints returns the ranking hints of a user. Lookup failures degrade to no last watched hint.
func (s *Store) Hints(ctx context.Context, userID string) ranking.Hints {
	hints := ranking.Hints{NowPlayingID: s.NowPlaying(userID)}
	last, err := s.LastWatched(ctx, userID)
	if err != nil {
		log.Printf("[session] failed to load last watched for %s: %v", userID, err)
	}
	hints.LastWatchedID = last
	return hints
}
