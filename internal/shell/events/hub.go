// Package events distributes progress and status records to subscribers.
// Producers (retry controller, batch scheduler, rate limiter) publish plain
// structured records; a subscriber can never break a producer, since panics
// at the emit boundary are caught and dropped.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type discriminates event records.
type Type string

const (
	TypeSession       Type = "session"
	TypeBatchItem     Type = "batch_item"
	TypeBatchProgress Type = "batch_progress"
	TypeRateLimit     Type = "rate_limit"
)

// Event is one status record. Only the fields relevant to the Type are set.
type Event struct {
	Time time.Time `json:"time"`
	Type Type      `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	ItemID    string `json:"item_id,omitempty"`

	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`

	Done  int `json:"done,omitempty"`
	Total int `json:"total,omitempty"`
}

// DefaultTailSize is how many recent events the hub retains for inspection.
const DefaultTailSize = 256

// Hub fans events out to subscribers and keeps a bounded tail of recent
// events for the status API.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]func(Event)
	tail    []Event
	tailMax int
}

// NewHub creates a hub retaining up to tailSize recent events
// (DefaultTailSize when zero).
func NewHub(tailSize int, logger *slog.Logger) *Hub {
	if tailSize == 0 {
		tailSize = DefaultTailSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "events"),
		subs:    make(map[int]func(Event)),
		tailMax: tailSize,
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish delivers the event to every subscriber. A panicking subscriber is
// logged and skipped; it cannot abort the publishing state machine.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.Lock()
	h.tail = append(h.tail, e)
	if len(h.tail) > h.tailMax {
		h.tail = h.tail[len(h.tail)-h.tailMax:]
	}
	listeners := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		h.deliver(fn, e)
	}
}

func (h *Hub) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("event listener panicked", "type", e.Type, "panic", r)
		}
	}()
	fn(e)
}

// Tail returns a copy of the retained recent events, oldest first.
func (h *Hub) Tail() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.tail))
	copy(out, h.tail)
	return out
}
