package audit

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// subscriberBuffer is how many records a subscriber may lag before
// broadcasts start dropping for it.
const subscriberBuffer = 16

// Hub fans audit records out to live subscribers. Subscribers that fall
// behind lose records rather than stalling the gate.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewHub returns an empty hub ready for subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel must be called when the listener goes away; it closes
// the channel. After Shutdown the returned channel is already closed.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Broadcast encodes the record once and offers it to every subscriber
// without blocking.
func (h *Hub) Broadcast(rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("audit broadcast encode failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribers returns the current listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Shutdown closes every subscriber channel and rejects new subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
