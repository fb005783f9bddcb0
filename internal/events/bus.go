// Package events provides a small in-process publish/subscribe bus with
// typed event kinds. Subsystems emit events; the health monitor and the
// metrics layer subscribe.
package events

import (
	"sync"
	"time"
)

// Kind identifies the event type.
type Kind string

const (
	KindQuerySuccess  Kind = "query_success"
	KindQueryError    Kind = "query_error"
	KindHealthUpdate  Kind = "health_update"
	KindMetricsUpdate Kind = "metrics_update"
)

// Event is a single bus message. Payload shape depends on Kind.
type Event struct {
	Kind      Kind
	Service   string
	Payload   any
	Timestamp time.Time
}

// Handler consumes events. Handlers must not block; slow consumers should
// buffer internally.
type Handler func(Event)

// Bus is a fan-out dispatcher for events. Safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	all      []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event synchronously to all matching handlers.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	kindHandlers := b.handlers[ev.Kind]
	allHandlers := b.all
	b.mu.RUnlock()

	for _, h := range kindHandlers {
		h(ev)
	}
	for _, h := range allHandlers {
		h(ev)
	}
}
