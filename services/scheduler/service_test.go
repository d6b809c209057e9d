package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"jelly/config"
	"jelly/models"
	"jelly/services/status"
)

type fakeProber struct {
	probes atomic.Int32
	days   atomic.Int32
}

func (f *fakeProber) ProbeAll(ctx context.Context) ([]status.ProbeResult, error) {
	f.probes.Add(1)
	return []status.ProbeResult{{ServiceID: "a", Up: true}, {ServiceID: "b", Up: false}}, nil
}

func (f *fakeProber) RecordDailyUptime(ctx context.Context, day time.Time) (int, error) {
	f.days.Add(1)
	return 1, nil
}

type fakeCatalog struct {
	err error
}

func (f fakeCatalog) Sync(ctx context.Context) (models.CatalogSyncResult, error) {
	if f.err != nil {
		return models.CatalogSyncResult{}, f.err
	}
	return models.CatalogSyncResult{Upserted: 42}, nil
}

func newManager(t *testing.T) *config.Manager {
	t.Helper()
	m := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	if _, err := m.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	return m
}

func findTask(t *testing.T, s *Service, id string) config.ScheduledTask {
	t.Helper()
	for _, task := range s.GetTaskStatus() {
		if task.ID == id {
			return task
		}
	}
	t.Fatalf("task %s not found", id)
	return config.ScheduledTask{}
}

func TestRunTaskNowRecordsOutcome(t *testing.T) {
	prober := &fakeProber{}
	svc := NewService(newManager(t), prober, fakeCatalog{err: errors.New("jellyfin unreachable")})

	if err := svc.RunTaskNow("uptime-probe"); err != nil {
		t.Fatalf("run probe: %v", err)
	}
	if err := svc.RunTaskNow("catalog-sync"); err != nil {
		t.Fatalf("run sync: %v", err)
	}
	svc.Wait()

	probe := findTask(t, svc, "uptime-probe")
	if probe.LastStatus != config.ScheduledTaskStatusSuccess || probe.ItemsProcessed != 2 || probe.LastRunAt == nil {
		t.Fatalf("unexpected probe status: %+v", probe)
	}
	if prober.days.Load() != 1 {
		t.Fatalf("expected daily uptime to be recorded once, got %d", prober.days.Load())
	}

	sync := findTask(t, svc, "catalog-sync")
	if sync.LastStatus != config.ScheduledTaskStatusError || sync.LastError != "jellyfin unreachable" {
		t.Fatalf("unexpected sync status: %+v", sync)
	}

	if err := svc.RunTaskNow("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCatalogSyncCountsUpserts(t *testing.T) {
	svc := NewService(newManager(t), nil, fakeCatalog{})
	if err := svc.RunTaskNow("catalog-sync"); err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	if got := findTask(t, svc, "catalog-sync"); got.ItemsProcessed != 42 {
		t.Fatalf("expected 42 processed items, got %+v", got)
	}

	if err := svc.RunTaskNow("uptime-probe"); err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	if got := findTask(t, svc, "uptime-probe"); got.LastStatus != config.ScheduledTaskStatusError {
		t.Fatalf("probe without a prober should fail, got %+v", got)
	}
}

func TestShouldRunHonoursFrequency(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(newManager(t), nil, nil)
	svc.now = func() time.Time { return now }

	task := config.ScheduledTask{ID: "x", Frequency: config.ScheduledTaskFrequencyHourly}
	if !svc.shouldRun(task) {
		t.Fatal("never run tasks are due")
	}
	last := now.Add(-30 * time.Minute)
	task.LastRunAt = &last
	if svc.shouldRun(task) {
		t.Fatal("task ran 30 minutes ago should not be due")
	}
	last = now.Add(-time.Hour)
	if !svc.shouldRun(task) {
		t.Fatal("task ran an hour ago should be due")
	}
}

func TestStartRunsDueTasks(t *testing.T) {
	m := newManager(t)
	if err := m.Update(func(s *config.Settings) {
		s.ScheduledTasks.CheckIntervalSeconds = 1
		for i := range s.ScheduledTasks.Tasks {
			s.ScheduledTasks.Tasks[i].Enabled = s.ScheduledTasks.Tasks[i].Type == config.ScheduledTaskTypeUptimeProbe
		}
	}); err != nil {
		t.Fatal(err)
	}
	prober := &fakeProber{}
	svc := NewService(m, prober, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for prober.probes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if prober.probes.Load() == 0 {
		t.Fatal("expected the probe task to run on start")
	}
}
