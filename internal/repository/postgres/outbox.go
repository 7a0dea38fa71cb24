package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
)

const outboxColumns = `id, event_type, payload, status, error_message, retry_count, retry_at,
	created_at, processed_at, updated_at`

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) (err error) {
	defer func() { r.observe("outbox_create", err) }()

	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.UpdatedAt = event.CreatedAt
	event.Status = model.OutboxStatusPending

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// ClaimPending locks due rows with SKIP LOCKED so parallel workers never
// claim the same event. Rows stuck in processing past the lease are due too.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, now, staleBefore time.Time) (_ []*model.OutboxEvent, err error) {
	defer func() { r.observe("outbox_claim", err) }()

	query := `
		UPDATE outbox_events
		SET status = 'processing', updated_at = $2
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE (status IN ('pending', 'retry') AND (retry_at IS NULL OR retry_at <= $2))
			OR (status = 'processing' AND updated_at < $3)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var events []*model.OutboxEvent
	if err := r.db.SelectContext(ctx, &events, query, limit, now, staleBefore); err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer func() { r.observe("outbox_mark_processed", err) }()

	query := `
		UPDATE outbox_events
		SET status = 'processed', error_message = NULL, processed_at = $2, updated_at = $2
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, at)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, at time.Time) (err error) {
	defer func() { r.observe("outbox_mark_failed", err) }()

	status, bump := model.OutboxStatusFailed, 0
	if retryAt != nil {
		status, bump = model.OutboxStatusRetry, 1
	}
	query := `
		UPDATE outbox_events
		SET status = $2, error_message = $3, retry_at = $4,
			retry_count = retry_count + $5, updated_at = $6
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, status, errMsg, retryAt, bump, at)
}

func (r *outboxRepository) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (_ int64, err error) {
	defer func() { r.observe("outbox_delete_processed", err) }()

	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
