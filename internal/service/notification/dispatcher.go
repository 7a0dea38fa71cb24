// Package notification hands notification requests to the outbox and
// delivers them from the broker on the worker side.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/pkg/messaging"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
)

// Dispatcher accepts fire-and-forget notification requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.NotificationRequest) error
}

// OutboxDispatcher records each request as an outbox event; the worker
// publishes and delivers it later.
type OutboxDispatcher struct {
	outbox  repository.OutboxRepository
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewOutboxDispatcher(outbox repository.OutboxRepository, clk clock.Clock, m *metrics.Metrics) *OutboxDispatcher {
	return &OutboxDispatcher{outbox: outbox, clock: clk, metrics: m}
}

func (d *OutboxDispatcher) Dispatch(ctx context.Context, req model.NotificationRequest) (err error) {
	defer func() { d.metrics.ObserveNotification(string(req.Template), err) }()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	event := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: messaging.StreamNotifications,
		Payload:   payload,
		Status:    model.OutboxStatusPending,
		CreatedAt: d.clock.Now(),
	}
	if err := d.outbox.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}
