package events_test

import (
	"context"
	"os"
	"testing"
	"time"

	"jelly/internal/events"
)

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before an event arrived")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestMemoryBusDeliversTypedPayload(t *testing.T) {
	bus := events.NewMemoryBus()
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(context.Background(), events.PlaybackProgressSaved)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ev, err := events.New(events.PlaybackProgressSaved, "u1", events.ProgressSaved{ItemKey: "movie:603", TMDBID: 603, MediaType: "movie", Ratio: 0.5})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := receive(t, ch)
	if got.UserID != "u1" || got.Kind != events.PlaybackProgressSaved {
		t.Fatalf("unexpected event %+v", got)
	}
	payload, err := events.Decode[events.ProgressSaved](got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ItemKey != "movie:603" || payload.Ratio != 0.5 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestMemoryBusFiltersByKind(t *testing.T) {
	bus := events.NewMemoryBus()
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(context.Background(), events.PlaybackStopped)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	progress, _ := events.New(events.PlaybackProgressSaved, "u1", nil)
	stopped, _ := events.New(events.PlaybackStopped, "u1", events.ProgressSaved{ItemKey: "movie:603"})
	_ = bus.Publish(context.Background(), progress)
	_ = bus.Publish(context.Background(), stopped)

	if got := receive(t, ch); got.Kind != events.PlaybackStopped {
		t.Fatalf("expected stopped event, got %s", got.Kind)
	}
}

func TestMemoryBusCancelClosesChannel(t *testing.T) {
	bus := events.NewMemoryBus()
	defer bus.Close()

	ctx, stop := context.WithCancel(context.Background())
	ch, _, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	stop()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed after context cancellation")
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	bus := events.NewMemoryBus()
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	ev, _ := events.New(events.PlaybackStopped, "u1", nil)
	if err := bus.Publish(context.Background(), ev); err != events.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("JELLY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("JELLY_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	bus, err := events.NewRedisBus(ctx, addr, "", 0, "jelly-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bus.Close()

	ch, cancel, err := bus.Subscribe(ctx, events.PlaybackStopped)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ev, _ := events.New(events.PlaybackStopped, "u2", events.ProgressSaved{ItemKey: "tv:1:s1e1"})
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := receive(t, ch); got.UserID != "u2" {
		t.Fatalf("unexpected event %+v", got)
	}
}
