// Package events provides an in-process event bus for role lifecycle
// events, with durable capture and scheduled retry of failed deliveries.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is a named payload delivered to subscribers.
type Event struct {
	Name       string      `json:"name"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// HandlerFunc consumes one event. A non-nil error marks the delivery as
// failed for that subscriber.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is a synchronous in-process publish/subscribe dispatcher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	log      *logrus.Logger
}

// NewBus creates an empty event bus.
func NewBus(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.New()
	}
	return &Bus{
		handlers: make(map[string][]HandlerFunc),
		log:      log,
	}
}

// Subscribe registers a handler for an event name.
func (b *Bus) Subscribe(name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish delivers the event to every subscriber in registration order and
// returns the first handler error, after all handlers have run.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := append([]HandlerFunc(nil), b.handlers[event.Name]...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.log.WithFields(logrus.Fields{
				"event": event.Name,
				"error": err,
			}).Warn("event handler failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("event %s delivery failed: %w", event.Name, err)
			}
		}
	}
	return firstErr
}
