package history

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"jelly/models"
)

// DefaultFlushInterval is how long progress updates are coalesced before being written.
const DefaultFlushInterval = 5 * time.Second

// PersistFunc writes one progress update.
type PersistFunc func(ctx context.Context, userID string, update models.PlaybackProgressUpdate) (models.PlaybackProgress, error)

type pendingWrite struct {
	userID string
	update models.PlaybackProgressUpdate
}

// ProgressWriter buffers the latest update per user and item and writes them in batches.
// Players report every few seconds; only the most recent position matters.
type ProgressWriter struct {
	persist  PersistFunc
	interval time.Duration

	mu      sync.Mutex
	pending map[string]pendingWrite

	// Runtime state
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewProgressWriter(interval time.Duration, persist PersistFunc) *ProgressWriter {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &ProgressWriter{persist: persist, interval: interval, pending: make(map[string]pendingWrite)}
}

func pendingKey(userID string, update models.PlaybackProgressUpdate) string {
	return userID + "|" + update.ItemKey()
}

// Enqueue replaces any pending update for the same user and item.
func (w *ProgressWriter) Enqueue(userID string, update models.PlaybackProgressUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[pendingKey(userID, update)] = pendingWrite{userID: userID, update: update}
}

// Pending returns the number of buffered updates.
func (w *ProgressWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes every buffered update. Writes that fail are dropped and reported.
func (w *ProgressWriter) Flush(ctx context.Context) (int, error) {
	return w.flush(ctx, func(pendingWrite) bool { return true })
}

// FlushUser writes the buffered updates of a single user.
func (w *ProgressWriter) FlushUser(ctx context.Context, userID string) (int, error) {
	return w.flush(ctx, func(p pendingWrite) bool { return p.userID == userID })
}

func (w *ProgressWriter) flush(ctx context.Context, keep func(pendingWrite) bool) (int, error) {
	w.mu.Lock()
	batch := make([]pendingWrite, 0, len(w.pending))
	for k, p := range w.pending {
		if keep(p) {
			batch = append(batch, p)
			delete(w.pending, k)
		}
	}
	w.mu.Unlock()

	var (
		written int
		errs    []error
	)
	for _, p := range batch {
		if _, err := w.persist(ctx, p.userID, p.update); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

// Start flushes on every interval until Stop. Stop performs a final flush.
func (w *ProgressWriter) Start(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if n, err := w.Flush(loopCtx); err != nil {
					log.Printf("[history] progress flush wrote %d updates with errors: %v", n, err)
				}
			}
		}
	}()
}

// Stop ends the flush loop and writes whatever is still buffered.
func (w *ProgressWriter) Stop(ctx context.Context) error {
	w.runMu.Lock()
	if w.running {
		w.cancel()
		w.wg.Wait()
		w.running = false
	}
	w.runMu.Unlock()

	n, err := w.Flush(ctx)
	if n > 0 {
		log.Printf("[history] flushed %d pending progress updates on shutdown", n)
	}
	return err
}
