// Package feed broadcasts persisted audit records to live subscribers (the
// admin API's websocket stream). Publishing never blocks: the pipeline's
// drain guarantee must not depend on how fast an operator's browser reads.
package feed

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sundew-sh/sundew/internal/audit"
)

// subscriberBuffer is how many events a subscriber may fall behind before it
// starts missing events.
const subscriberBuffer = 16

type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away; after cancel the channel is closed.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends the record to every subscriber. A subscriber with a full
// buffer misses the event rather than slowing anyone down.
func (h *Hub) Publish(r *audit.Record) {
	line, err := json.Marshal(r)
	if err != nil {
		logrus.WithError(err).Error("feed: encode record")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Sink adapts the hub to the audit pipeline.
func (h *Hub) Sink() audit.Sink {
	return audit.SinkFunc(func(r *audit.Record) error {
		h.Publish(r)
		return nil
	})
}
