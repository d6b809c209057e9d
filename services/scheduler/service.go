package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"jelly/config"
	"jelly/models"
	"jelly/services/status"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskRunning    = errors.New("task is already running")
	ErrUnknownTask    = errors.New("unknown task type")
	ErrNotInitialized = errors.New("task dependency not configured")
)

// Prober runs the service health checks.
type Prober interface {
	ProbeAll(ctx context.Context) ([]status.ProbeResult, error)
	RecordDailyUptime(ctx context.Context, day time.Time) (int, error)
}

// CatalogSyncer mirrors the media server libraries.
type CatalogSyncer interface {
	Sync(ctx context.Context) (models.CatalogSyncResult, error)
}

// Service manages scheduled task execution
type Service struct {
	configManager *config.Manager
	prober        Prober
	catalog       CatalogSyncer
	now           func() time.Time

	// Runtime state
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Task state tracking (in-memory, not persisted)
	taskRunning map[string]bool
	taskMu      sync.RWMutex
}

func NewService(configManager *config.Manager, prober Prober, catalog CatalogSyncer) *Service {
	return &Service{
		configManager: configManager,
		prober:        prober,
		catalog:       catalog,
		now:           time.Now,
		ctx:           context.Background(),
		taskRunning:   make(map[string]bool),
	}
}

// Start begins the scheduler background loop
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.schedulerLoop(s.ctx)

	log.Println("[scheduler] Scheduler service started")
	return nil
}

// Stop waits for running tasks until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] Scheduler service stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] Scheduler service stopped (timeout)")
	}

	s.running = false
	return nil
}

func (s *Service) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Service) schedulerLoop(ctx context.Context) {
	defer s.wg.Done()

	settings, err := s.configManager.Load()
	if err != nil {
		log.Printf("[scheduler] Failed to load settings: %v", err)
		return
	}

	checkInterval := time.Duration(settings.ScheduledTasks.CheckIntervalSeconds) * time.Second
	if checkInterval < time.Second {
		checkInterval = 30 * time.Second
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	// Run check immediately on start
	s.checkAndRunTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunTasks(ctx)
		}
	}
}

// checkAndRunTasks runs every enabled task that is due.
func (s *Service) checkAndRunTasks(ctx context.Context) {
	settings, err := s.configManager.Load()
	if err != nil {
		log.Printf("[scheduler] Failed to load settings: %v", err)
		return
	}

	for _, task := range settings.ScheduledTasks.Tasks {
		if !task.Enabled || !s.shouldRun(task) {
			continue
		}
		s.wg.Add(1)
		go func(t config.ScheduledTask) {
			defer s.wg.Done()
			s.executeTask(ctx, t)
		}(task)
	}
}

func (s *Service) shouldRun(task config.ScheduledTask) bool {
	if s.IsTaskRunning(task.ID) {
		return false
	}
	if task.LastRunAt == nil {
		return true
	}
	return s.now().Sub(*task.LastRunAt) >= task.Frequency.Interval()
}

// executeTask runs a task and records its outcome in the settings file.
func (s *Service) executeTask(ctx context.Context, task config.ScheduledTask) {
	s.taskMu.Lock()
	if s.taskRunning[task.ID] {
		s.taskMu.Unlock()
		return
	}
	s.taskRunning[task.ID] = true
	s.taskMu.Unlock()

	defer func() {
		s.taskMu.Lock()
		delete(s.taskRunning, task.ID)
		s.taskMu.Unlock()
	}()

	log.Printf("[scheduler] Executing task: %s (%s)", task.Name, task.Type)

	var (
		processed int
		err       error
	)
	switch task.Type {
	case config.ScheduledTaskTypeUptimeProbe:
		processed, err = s.executeUptimeProbe(ctx)
	case config.ScheduledTaskTypeCatalogSync:
		processed, err = s.executeCatalogSync(ctx)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownTask, task.Type)
	}

	s.updateTaskStatus(task.ID, err, processed)
}

func (s *Service) executeUptimeProbe(ctx context.Context) (int, error) {
	if s.prober == nil {
		return 0, ErrNotInitialized
	}
	results, err := s.prober.ProbeAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("probe services: %w", err)
	}
	down := 0
	for _, r := range results {
		if !r.Up {
			down++
		}
	}
	if down > 0 {
		log.Printf("[scheduler] %d of %d probed services are down", down, len(results))
	}
	if _, err := s.prober.RecordDailyUptime(ctx, s.now()); err != nil {
		return len(results), fmt.Errorf("record daily uptime: %w", err)
	}
	return len(results), nil
}

func (s *Service) executeCatalogSync(ctx context.Context) (int, error) {
	if s.catalog == nil {
		return 0, ErrNotInitialized
	}
	result, err := s.catalog.Sync(ctx)
	if err != nil {
		return 0, err
	}
	return result.Upserted, nil
}

func (s *Service) updateTaskStatus(taskID string, err error, processed int) {
	now := s.now().UTC()
	saveErr := s.configManager.Update(func(settings *config.Settings) {
		for i := range settings.ScheduledTasks.Tasks {
			task := &settings.ScheduledTasks.Tasks[i]
			if task.ID != taskID {
				continue
			}
			task.LastRunAt = &now
			task.ItemsProcessed = processed
			if err != nil {
				task.LastStatus = config.ScheduledTaskStatusError
				task.LastError = err.Error()
				log.Printf("[scheduler] Task %s failed: %v", taskID, err)
			} else {
				task.LastStatus = config.ScheduledTaskStatusSuccess
				task.LastError = ""
				log.Printf("[scheduler] Task %s completed successfully, processed %d items", taskID, processed)
			}
			return
		}
	})
	if saveErr != nil {
		log.Printf("[scheduler] Failed to save task status: %v", saveErr)
	}
}

// RunTaskNow triggers immediate execution of a task
func (s *Service) RunTaskNow(taskID string) error {
	settings, err := s.configManager.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, task := range settings.ScheduledTasks.Tasks {
		if task.ID != taskID {
			continue
		}
		if s.IsTaskRunning(taskID) {
			return ErrTaskRunning
		}
		ctx := s.runContext()
		s.wg.Add(1)
		go func(t config.ScheduledTask) {
			defer s.wg.Done()
			s.executeTask(ctx, t)
		}(task)
		return nil
	}

	return ErrTaskNotFound
}

// GetTaskStatus returns all tasks with their current status.
// Running tasks will have their status overridden to "running".
func (s *Service) GetTaskStatus() []config.ScheduledTask {
	settings, err := s.configManager.Load()
	if err != nil {
		return nil
	}

	s.taskMu.RLock()
	defer s.taskMu.RUnlock()

	tasks := make([]config.ScheduledTask, len(settings.ScheduledTasks.Tasks))
	for i, task := range settings.ScheduledTasks.Tasks {
		tasks[i] = task
		if s.taskRunning[task.ID] {
			tasks[i].LastStatus = config.ScheduledTaskStatusRunning
		}
	}

	return tasks
}

// IsTaskRunning checks if a specific task is currently running
func (s *Service) IsTaskRunning(taskID string) bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	return s.taskRunning[taskID]
}

// Wait blocks until every task started so far has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}
