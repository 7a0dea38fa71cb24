package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/jwalitptl/clinic-onboarding/pkg/circuitbreaker"
	"github.com/jwalitptl/clinic-onboarding/pkg/messaging"
)

const messageField = "message"

// RedisBroker delivers messages over Redis streams. Consumers in the same
// group split the stream between them; an entry is acknowledged only after
// its handler succeeds, and entries idle longer than ClaimIdle are claimed
// by whichever consumer polls next.
type RedisBroker struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
	logger zerolog.Logger
	config Config
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int

	// BlockTimeout bounds each XREADGROUP call so cancellation is noticed.
	BlockTimeout time.Duration
	// ClaimIdle is how long a delivered entry may stay unacknowledged before
	// another consumer takes it over.
	ClaimIdle time.Duration
	// MaxDeliveries drops an entry once it has been delivered this many times.
	MaxDeliveries int64
	// StreamMaxLen caps each stream, approximately.
	StreamMaxLen int64
	BatchSize    int64
}

func (c *Config) setDefaults() {
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
}

func NewRedisBroker(ctx context.Context, config Config, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBrokerWithClient(client, config, logger), nil
}

// NewRedisBrokerWithClient wraps an existing client without pinging it.
func NewRedisBrokerWithClient(client *redis.Client, config Config, logger zerolog.Logger) *RedisBroker {
	config.setDefaults()
	log := logger.With().Str("component", "redis-broker").Logger()
	return &RedisBroker{
		client: client,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-broker",
			MaxFailures: 5,
			Timeout:     5 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
		logger: log,
		config: config,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, stream string, message *messaging.Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{messageField: payload},
	}
	if b.config.StreamMaxLen > 0 {
		args.MaxLen = b.config.StreamMaxLen
		args.Approx = true
	}
	return b.cb.Execute(func() error {
		return b.client.XAdd(ctx, args).Err()
	})
}

func (b *RedisBroker) Consume(ctx context.Context, stream, group, consumer string, handler messaging.Handler) error {
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return err
	}
	log := b.logger.With().Str("stream", stream).Str("group", group).Str("consumer", consumer).Logger()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.reclaim(ctx, stream, group, consumer, handler); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("failed to reclaim idle entries")
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    b.config.BatchSize,
			Block:    b.config.BlockTimeout,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("failed to read stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, entry := range s.Messages {
				b.deliver(ctx, stream, group, entry, handler)
			}
		}
	}
}

// reclaim takes over entries idle past ClaimIdle, dropping those already
// delivered MaxDeliveries times.
func (b *RedisBroker) reclaim(ctx context.Context, stream, group, consumer string, handler messaging.Handler) error {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   b.config.ClaimIdle,
		Start:  "-",
		End:    "+",
		Count:  b.config.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending entries: %w", err)
	}

	var ids []string
	for _, p := range pending {
		if p.RetryCount >= b.config.MaxDeliveries {
			b.logger.Error().Str("stream", stream).Str("entry_id", p.ID).Int64("deliveries", p.RetryCount).
				Msg("dropping entry after repeated delivery failures")
			if err := b.client.XAck(ctx, stream, group, p.ID).Err(); err != nil {
				return fmt.Errorf("failed to ack dropped entry: %w", err)
			}
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  b.config.ClaimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to claim entries: %w", err)
	}
	for _, entry := range claimed {
		b.deliver(ctx, stream, group, entry, handler)
	}
	return nil
}

func (b *RedisBroker) deliver(ctx context.Context, stream, group string, entry redis.XMessage, handler messaging.Handler) {
	log := b.logger.With().Str("stream", stream).Str("entry_id", entry.ID).Logger()

	msg, err := decode(entry)
	if err == nil {
		err = handler(ctx, msg)
	}
	if err != nil && !messaging.IsPermanent(err) {
		log.Warn().Err(err).Msg("delivery failed; entry left pending")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("dropping undeliverable entry")
	}
	if ackErr := b.client.XAck(ctx, stream, group, entry.ID).Err(); ackErr != nil {
		log.Error().Err(ackErr).Msg("failed to ack entry")
	}
}

func decode(entry redis.XMessage) (*messaging.Message, error) {
	raw, ok := entry.Values[messageField].(string)
	if !ok {
		return nil, messaging.Permanent(fmt.Errorf("entry has no %q field", messageField))
	}
	var msg messaging.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, messaging.Permanent(fmt.Errorf("failed to decode entry: %w", err))
	}
	msg.ID = entry.ID
	return &msg, nil
}

func (b *RedisBroker) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	err := b.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
