package events

import (
	"context"
	"log"
	"sync"
)

const subscriberBuffer = 64

type memorySub struct {
	kinds []Kind
	ch    chan Event
	once  sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

// MemoryBus is an in-process Bus. Slow subscribers drop events rather than block publishers.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySub]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		if !matches(sub.kinds, ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		default:
			log.Printf("[events] subscriber buffer full, dropping %s", ev.Kind)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, kinds ...Kind) (<-chan Event, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	sub := &memorySub{kinds: kinds, ch: make(chan Event, subscriberBuffer)}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			sub.close()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
	return nil
}
