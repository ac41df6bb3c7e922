// Package stream fans audit entries out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"bazaar.org/internal/audit"
)

// Hub is an audit.Sink that forwards every entry to all active subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan audit.Entry
	next    int
	buffer  int
	dropped atomic.Int64
}

// New returns a hub whose subscriber channels hold buffer entries.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[int]chan audit.Entry), buffer: buffer}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan audit.Entry {
	ch := make(chan audit.Entry, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Append implements audit.Sink. Slow subscribers miss entries instead of
// blocking the writer.
func (h *Hub) Append(_ context.Context, e audit.Entry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers reports the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
