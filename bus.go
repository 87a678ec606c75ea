package steward

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Severity classifies events on the bus.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Event is one bus notification. Type is a dotted string
// (e.g. "alert.system.llm_failure").
type Event struct {
	Type     string         `json:"event_type"`
	At       time.Time      `json:"timestamp"`
	Source   string         `json:"source"`
	Payload  map[string]any `json:"payload,omitempty"`
	Severity Severity       `json:"severity"`
	ID       string         `json:"event_id"`
}

// Handler receives published events. Errors are logged and never propagate
// to the publisher.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	pattern []string
	handler Handler
	id      int
}

// EventBus is an in-process publish/subscribe bus with single-segment glob
// patterns: "alert.email.*" matches "alert.email.urgent" but not
// "alert.email.sub.x" or "alert.email".
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID int
	logger *slog.Logger

	// dispatchMu serializes publishes so every subscriber sees one event
	// fully delivered before the next begins.
	dispatchMu sync.Mutex
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// BusLogger sets the structured logger for handler failures.
func BusLogger(l *slog.Logger) BusOption {
	return func(b *EventBus) { b.logger = l }
}

// NewEventBus creates an empty bus.
func NewEventBus(opts ...BusOption) *EventBus {
	b := &EventBus{logger: nopLogger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for every event whose type matches pattern. The
// returned function removes the subscription.
func (b *EventBus) Subscribe(pattern string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{pattern: strings.Split(pattern, "."), handler: h, id: b.nextID}
	b.nextID++
	b.subs = append(b.subs, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev sequentially to every matching subscriber in
// subscription order. Delivery is best-effort and in-process only; events
// with no subscribers are dropped silently. An event id is minted when
// absent.
func (b *EventBus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = NewEventID()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchSegments(s.pattern, ev.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	for _, s := range matched {
		b.deliver(ctx, s, ev)
	}
}

// deliver invokes one handler, containing panics and logging failures.
func (b *EventBus) deliver(ctx context.Context, s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", ev.Type, "event_id", ev.ID, "panic", r)
		}
	}()
	if err := s.handler(ctx, ev); err != nil {
		b.logger.Warn("event handler failed",
			"event_type", ev.Type, "event_id", ev.ID, "error", err)
	}
}

// matchSegments matches a pre-split dotted pattern against an event type.
// "*" matches exactly one segment; segment counts must be equal.
func matchSegments(pattern []string, eventType string) bool {
	segs := strings.Split(eventType, ".")
	if len(segs) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != segs[i] {
			return false
		}
	}
	return true
}
