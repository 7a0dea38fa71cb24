package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
	"github.com/jwalitptl/clinic-onboarding/pkg/messaging"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts bounds in-process publish attempts per poll.
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries is how many polls may retry an event before it is failed for good.
	MaxRetries int
	// ClaimLease is how long a claimed event may stay in processing before
	// the next poll takes it over.
	ClaimLease time.Duration
}

// DefaultClaimLease applies when OutboxProcessorConfig.ClaimLease is unset.
const DefaultClaimLease = 5 * time.Minute

// OutboxProcessor publishes claimed outbox events to their stream.
type OutboxProcessor struct {
	repo       repository.OutboxRepository
	broker     messaging.Broker
	config     OutboxProcessorConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxRetries < 0 {
		panic("MaxRetries must not be negative")
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = DefaultClaimLease
	}

	p := &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
	p.newBackOff = p.exponentialBackOff
	return p
}

func (p *OutboxProcessor) exponentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessOnce claims one batch and publishes it, returning how many events
// were delivered.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) (int, error) {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
		defer timer.ObserveDuration()
	}

	now := p.now()
	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, now, now.Add(-p.config.ClaimLease))
	p.metrics.ObserveDatabase("claim_pending_events", err)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	delivered := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		delivered++
	}

	return delivered, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	msg := &messaging.Message{Type: event.EventType, Payload: event.Payload}
	err := p.publish(ctx, event.EventType, msg)

	if err != nil {
		var retryAt *time.Time
		if event.RetryCount < p.config.MaxRetries {
			at := p.now().Add(p.config.RetryDelay << uint(event.RetryCount))
			retryAt = &at
			if p.metrics != nil {
				p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
			}
		} else if p.metrics != nil {
			p.metrics.OutboxEventsFailed.Inc()
		}
		if updateErr := p.repo.MarkFailed(ctx, event.ID, err.Error(), retryAt, p.now()); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		return err
	}

	if p.metrics != nil {
		p.metrics.OutboxEventsProcessed.Inc()
	}
	if err := p.repo.MarkProcessed(ctx, event.ID, p.now()); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}

	return nil
}

// publish makes up to RetryAttempts attempts with exponential backoff
// starting at RetryDelay.
func (p *OutboxProcessor) publish(ctx context.Context, stream string, msg *messaging.Message) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(p.newBackOff(), uint64(p.config.RetryAttempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		return p.broker.Publish(ctx, stream, msg)
	}, policy)
}
