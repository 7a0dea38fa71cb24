package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
)

const uniqueViolation = "23505"

// BaseRepository provides common functionality for all repositories.
// Writes and conditional updates go to db; plain reads go to reader.
type BaseRepository struct {
	db      *sqlx.DB
	reader  *sqlx.DB
	metrics *metrics.Metrics
}

func NewBaseRepository(db *DB, m *metrics.Metrics) BaseRepository {
	reader := db.Replica
	if reader == nil {
		reader = db.Primary
	}
	return BaseRepository{db: db.Primary, reader: reader, metrics: m}
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *BaseRepository) observe(op string, err error) {
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDuplicate) {
		err = nil
	}
	r.metrics.ObserveDatabase(op, err)
}

// translate maps driver errors onto the repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// missingOrConflict classifies a conditional write that matched no row.
func missingOrConflict(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, query, args...); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}
