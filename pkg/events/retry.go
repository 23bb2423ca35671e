package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/wardenhq/warden/pkg/observability"
)

// RetryConfig controls the scheduled retry of failed event deliveries.
type RetryConfig struct {
	// Schedule is a cron expression; the default retries every 5 minutes.
	Schedule string
	// Batch caps how many failures one run processes.
	Batch int
	// MaxAttempts is the cutoff after which a failure is abandoned.
	MaxAttempts int
}

// RetryService periodically re-publishes failed event deliveries from the
// failure store.
type RetryService struct {
	bus      *Bus
	failures FailureStore
	cfg      RetryConfig
	log      *logrus.Logger
	metrics  *observability.Metrics
	cron     *cron.Cron
}

// NewRetryService creates a retry service.
func NewRetryService(bus *Bus, failures FailureStore, cfg RetryConfig, log *logrus.Logger) *RetryService {
	if log == nil {
		log = logrus.New()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/5 * * * *"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &RetryService{bus: bus, failures: failures, cfg: cfg, log: log}
}

// WithMetrics attaches retry metrics.
func (s *RetryService) WithMetrics(m *observability.Metrics) *RetryService {
	s.metrics = m
	return s
}

// Start schedules the retry job.
func (s *RetryService) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.cfg.Schedule).Info("event retry scheduler started")
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (s *RetryService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce processes one batch of pending failures. Each re-publish either
// resolves the failure or bumps its attempt count.
func (s *RetryService) RunOnce(ctx context.Context) {
	pending, err := s.failures.FetchPending(ctx, s.cfg.Batch, s.cfg.MaxAttempts)
	if err != nil {
		s.log.WithError(err).Error("failed to fetch pending event failures")
		return
	}
	if len(pending) == 0 {
		s.updateQueueGauge(ctx)
		return
	}

	s.log.WithField("count", len(pending)).Info("retrying failed events")
	for _, failure := range pending {
		var payload interface{}
		if len(failure.Payload) > 0 {
			if err := json.Unmarshal(failure.Payload, &payload); err != nil {
				s.log.WithError(err).WithField("id", failure.ID).Error("failed to decode stored payload")
				s.markFailed(ctx, failure.ID, err.Error())
				continue
			}
		}

		if s.metrics != nil {
			s.metrics.EventRetriesTotal.Inc()
		}

		err := s.bus.Publish(ctx, Event{Name: failure.Event, Payload: payload, OccurredAt: time.Now().UTC()})
		if err != nil {
			s.markFailed(ctx, failure.ID, err.Error())
			continue
		}
		if err := s.failures.MarkResolved(ctx, failure.ID); err != nil {
			s.log.WithError(err).WithField("id", failure.ID).Error("failed to resolve event failure")
		}
	}
	s.updateQueueGauge(ctx)
}

func (s *RetryService) markFailed(ctx context.Context, id, errMsg string) {
	if err := s.failures.MarkFailed(ctx, id, errMsg); err != nil {
		s.log.WithError(err).WithField("id", id).Error("failed to update event failure")
	}
}

func (s *RetryService) updateQueueGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if count, err := s.failures.CountPending(ctx, s.cfg.MaxAttempts); err == nil {
		s.metrics.EventRetryQueueSize.Set(float64(count))
	}
}
