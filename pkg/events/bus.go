// Package events provides the typed domain event bus and its delivery sinks.
// Handlers are registered explicitly against event types; there is no
// reflection-based subscriber discovery.
package events

import (
	"context"
	"sync"

	"simfleet/internal/model"
	"simfleet/pkg/logger"
)

// Publisher is the interface the repository hands successful-write events to.
type Publisher interface {
	Publish(ctx context.Context, events ...model.Event)
}

// Handler processes one domain event. Handler failures are logged and never
// propagate back to the publishing write path.
type Handler func(ctx context.Context, ev model.Event)

// Bus is an explicit registry mapping event type to an ordered handler list.
// Dispatch is synchronous in registration order; handlers that need to do
// slow work enqueue their own async jobs.
type Bus struct {
	mu       sync.RWMutex
	handlers map[model.EventType][]Handler
	catchAll []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[model.EventType][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t model.EventType, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler invoked for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = append(b.catchAll, h)
}

// Publish dispatches events to the registered handlers. A panicking handler
// is contained so one subscriber cannot break the write path or its peers.
func (b *Bus) Publish(ctx context.Context, events ...model.Event) {
	for _, ev := range events {
		b.mu.RLock()
		typed := append([]Handler(nil), b.handlers[ev.Type]...)
		all := append([]Handler(nil), b.catchAll...)
		b.mu.RUnlock()

		for _, h := range typed {
			b.invoke(ctx, h, ev)
		}
		for _, h := range all {
			b.invoke(ctx, h, ev)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "event handler panicked on %s for worker %s: %v", ev.Type, ev.WorkerID, r)
		}
	}()
	h(ctx, ev)
}
