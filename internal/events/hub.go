// Package events fans out overlay events (translations, text disappearance)
// to subscribers and keeps a short history for late joiners.
package events

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindTextDisappeared Kind = "text_disappeared"
	KindTranslation     Kind = "translation"
)

// Event is one overlay notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ContextID string    `json:"context_id"`
	WindowID  string    `json:"window_id"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload"`
}

// Disappearance reports text removed from an otherwise intact background.
type Disappearance struct {
	Regions       []image.Rectangle `json:"regions"`
	Confidence    float64           `json:"confidence"`
	Tier          int               `json:"tier"`
	ChangePercent float64           `json:"change_percent"`
}

// Translation is settled source text and its translation.
type Translation struct {
	SourceText     string            `json:"source_text"`
	TranslatedText string            `json:"translated_text"`
	Engine         string            `json:"engine,omitempty"`
	Regions        []image.Rectangle `json:"regions,omitempty"`
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(ev Event)
}

// Hub is a session-scoped event fan-out.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]chan Event
	nextID     uint64
	history    []Event
	maxHistory int
	buffer     int
	closed     bool
	dropped    atomic.Int64
}

// NewHub creates a hub keeping maxHistory events; each subscriber gets a
// channel of size buffer.
func NewHub(maxHistory, buffer int) *Hub {
	return &Hub{
		subs:       make(map[uint64]chan Event),
		history:    make([]Event, 0, maxHistory),
		maxHistory: maxHistory,
		buffer:     buffer,
	}
}

// Publish stamps ev and delivers it to every subscriber that has room.
// Slow subscribers miss events rather than stall the publisher.
func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.history = append(h.history, ev)
	if len(h.history) > h.maxHistory {
		h.history = h.history[len(h.history)-h.maxHistory:]
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of future events and a cancel func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Recent returns events newer than since, oldest first.
func (h *Hub) Recent(since time.Duration) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var out []Event
	for _, ev := range h.history {
		if !ev.At.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close ends the session: subscriber channels are closed and later
// publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
