package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/redeliver/internal/metrics"
)

// Notifier publishes events. The recoverability executor depends on this
// rather than on the Bus so it never owns subscriber lifecycle.
type Notifier interface {
	Raise(ctx context.Context, event Event) error
}

type handlerFunc func(ctx context.Context, event Event) error

// Bus is an in-process publish/subscribe channel. It is owned by the host and
// built before any message processing starts.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]handlerFunc
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log,
		handlers: make(map[string][]handlerFunc),
	}
}

// Subscribe registers fn for events of type E. Handlers run in registration order.
func Subscribe[E Event](b *Bus, fn func(ctx context.Context, event E) error) {
	var zero E
	name := zero.EventName()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], func(ctx context.Context, event Event) error {
		typed, ok := event.(E)
		if !ok {
			return fmt.Errorf("unexpected event type %T for %s", event, name)
		}
		return fn(ctx, typed)
	})
}

// Raise delivers event to every subscriber of its type. A failing or panicking
// handler is logged and skipped; it never prevents delivery to later handlers
// and never surfaces to the caller. Only cancellation is returned.
func (b *Bus) Raise(ctx context.Context, event Event) error {
	name := event.EventName()

	b.mu.RLock()
	handlers := make([]handlerFunc, len(b.handlers[name]))
	copy(handlers, b.handlers[name])
	b.mu.RUnlock()

	for i, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.invoke(ctx, h, event); err != nil {
			metrics.NotificationHandlerErrors.WithLabelValues(name).Inc()
			b.log.Warn("Notification handler failed", "event", name, "handler", i, "error", err)
		}
	}
	return nil
}

// Subscribers returns the number of handlers registered for the named event.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func (b *Bus) invoke(ctx context.Context, h handlerFunc, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}
