package watch

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
)

type subscriber struct {
	key    []byte
	prefix bool
	ch     chan Event
}

func (s *subscriber) matches(key []byte) bool {
	if s.prefix {
		return bytes.HasPrefix(key, s.key)
	}

	return bytes.Equal(key, s.key)
}

// Hub fans committed changes out to subscribers.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
	closed  bool
	done    chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		mu:      sync.Mutex{},
		subs:    make(map[*subscriber]struct{}),
		dropped: atomic.Uint64{},
		closed:  false,
		done:    make(chan struct{}),
	}
}

// Subscribe streams events for key until ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, key []byte, opts ...Option) <-chan Event {
	o := watchOptions{prefix: false, buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	sub := &subscriber{key: bytes.Clone(key), prefix: o.prefix, ch: make(chan Event, o.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)

		return sub.ch
	}

	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.remove(sub)
		case <-h.done:
		}
	}()

	return sub.ch
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers events without blocking the caller.
func (h *Hub) Publish(events ...Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		for _, ev := range events {
			if !sub.matches(ev.Key) {
				continue
			}

			select {
			case sub.ch <- ev:
			default:
				h.dropped.Add(1)
			}
		}
	}
}

// Dropped returns the number of events discarded because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close terminates every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true
	close(h.done)

	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}
