// Package hub fans newly ingested rows out to realtime subscribers. Delivery
// is best-effort and at-most-once: a subscriber that is not ready is
// skipped, a failing subscriber is dropped, and ingestion is never blocked.
package hub

import (
	"log/slog"
	"sync"

	"edahub-backend/internal/normalize"
)

// Message is one broadcast unit, tagged with its origin.
type Message struct {
	ConnectionID string        `json:"connectionId"`
	Channel      string        `json:"channel"`
	Row          normalize.Row `json:"row"`
}

// Subscriber is one connected realtime listener.
type Subscriber interface {
	Ready() bool
	Send(msg Message) error
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[Subscriber]struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: map[Subscriber]struct{}{}, logger: logger}
}

func (h *Hub) Attach(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
}

func (h *Hub) Detach(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends a row to every ready subscriber. Subscribers whose send
// fails are detached; there is no per-subscriber queueing.
func (h *Hub) Publish(connectionID, subChannel string, row normalize.Row) {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	msg := Message{ConnectionID: connectionID, Channel: subChannel, Row: row}
	for _, s := range subs {
		if !s.Ready() {
			continue
		}
		if err := s.Send(msg); err != nil {
			h.logger.Warn("dropping subscriber", slog.String("error", err.Error()))
			h.Detach(s)
		}
	}
}
