package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wardenhq/warden/pkg/observability"
)

// SafeEmitter publishes events without ever failing the caller. Delivery
// errors are captured in a FailureStore for later retry instead of
// propagating into the originating operation.
type SafeEmitter struct {
	bus      *Bus
	failures FailureStore
	log      *logrus.Logger
	metrics  *observability.Metrics
	clock    func() time.Time
}

// NewSafeEmitter creates a best-effort emitter. failures may be nil to
// drop failed deliveries after logging them.
func NewSafeEmitter(bus *Bus, failures FailureStore, log *logrus.Logger) *SafeEmitter {
	if log == nil {
		log = logrus.New()
	}
	return &SafeEmitter{bus: bus, failures: failures, log: log, clock: time.Now}
}

// WithMetrics attaches event delivery metrics.
func (e *SafeEmitter) WithMetrics(m *observability.Metrics) *SafeEmitter {
	e.metrics = m
	return e
}

// Emit publishes the event. Failures are recorded, never returned.
func (e *SafeEmitter) Emit(ctx context.Context, event string, payload interface{}) {
	if e.metrics != nil {
		e.metrics.EventsEmittedTotal.WithLabelValues(event).Inc()
	}

	err := e.bus.Publish(ctx, Event{Name: event, Payload: payload, OccurredAt: e.clock().UTC()})
	if err == nil {
		return
	}

	if e.metrics != nil {
		e.metrics.EventFailuresTotal.WithLabelValues(event).Inc()
	}
	e.log.WithFields(logrus.Fields{
		"event": event,
		"error": err,
	}).Error("event delivery failed")

	if e.failures == nil {
		return
	}

	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		e.log.WithError(marshalErr).Error("failed to serialize event payload for retry")
		return
	}
	failure := &FailedEvent{
		Event:   event,
		Payload: data,
		Error:   err.Error(),
	}
	if recordErr := e.failures.Record(ctx, failure); recordErr != nil {
		e.log.WithError(recordErr).Error("failed to record event failure")
	}
}
