package messaging

import (
	"context"
	"encoding/json"
	"errors"
)

// StreamNotifications carries notification requests from the outbox
// processor to the delivery consumer.
const StreamNotifications = "clinic-onboarding.notifications"

// GroupNotificationSenders is the consumer group every notification worker
// joins. Each message goes to one member of the group.
const GroupNotificationSenders = "notification-senders"

// Handler processes one delivered message. A nil return acknowledges it.
type Handler func(ctx context.Context, msg *Message) error

// Broker defines the interface for message brokers
type Broker interface {
	// Publish appends message to stream. It returns only after the broker
	// has stored the message.
	Publish(ctx context.Context, stream string, message *Message) error
	// Consume reads stream as consumer within group until ctx is done. A
	// message is acknowledged once handler returns nil or a Permanent error;
	// any other error leaves it pending for redelivery.
	Consume(ctx context.Context, stream, group, consumer string, handler Handler) error
	Close() error
}

// Message is the envelope published on a stream.
type Message struct {
	ID      string          `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
