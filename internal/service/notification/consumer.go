package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/clinic-onboarding/internal/email"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
	"github.com/jwalitptl/clinic-onboarding/pkg/messaging"
)

// Consumer renders notification messages from the broker and sends them.
// Workers sharing the messaging.GroupNotificationSenders group split the
// stream, so each notification is sent by one of them.
type Consumer struct {
	broker   messaging.Broker
	renderer *email.Renderer
	sender   email.Sender
	logger   *logger.Logger
	name     string
}

// NewConsumer builds a consumer identified by name within the sender group.
// Names must be unique per running worker.
func NewConsumer(broker messaging.Broker, renderer *email.Renderer, sender email.Sender, log *logger.Logger, name string) *Consumer {
	return &Consumer{
		broker:   broker,
		renderer: renderer,
		sender:   sender,
		logger:   log,
		name:     name,
	}
}

// Run blocks until ctx is done or the broker gives up.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Notification consumer started",
		"stream", messaging.StreamNotifications,
		"consumer", c.name)

	err := c.broker.Consume(ctx, messaging.StreamNotifications, messaging.GroupNotificationSenders, c.name, c.Handle)
	if err != nil {
		return fmt.Errorf("failed to consume notifications: %w", err)
	}
	return nil
}

// Handle renders and sends one notification. Malformed requests are
// permanent failures; send errors are left for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg *messaging.Message) error {
	var req model.NotificationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return messaging.Permanent(fmt.Errorf("failed to decode notification: %w", err))
	}
	if req.Recipient == "" {
		return messaging.Permanent(fmt.Errorf("notification %s has no recipient", req.Template))
	}
	rendered, err := c.renderer.Render(&req)
	if err != nil {
		return messaging.Permanent(err)
	}
	if err := c.sender.Send(ctx, rendered); err != nil {
		c.logger.Warn(err, "Failed to send notification", "template", string(req.Template))
		return err
	}
	c.logger.Debug("Notification delivered", "template", string(req.Template))
	return nil
}
