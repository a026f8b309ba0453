package bridge

import (
	"sync"
	"sync/atomic"
)

// Hub fans broadcast frames out to every subscribed connection. Each
// subscriber has a bounded backlog; a subscriber whose backlog is full misses
// the frame instead of slowing the producer down.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]chan []byte
	buffer  int
	dropped atomic.Int64
}

// NewHub creates a hub whose subscribers buffer up to buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 100
	}
	return &Hub{subs: make(map[int64]chan []byte), buffer: buffer}
}

// Subscribe registers id and returns its frame channel and a function that
// unsubscribes and closes the channel.
func (h *Hub) Subscribe(id int64) (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Publish offers frame to every subscriber without blocking and returns how
// many received it.
func (h *Hub) Publish(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- frame:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many frames were dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
