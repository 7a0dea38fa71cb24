package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
)

const clinicColumns = `id, name, location, contact_email, verification_status,
	verified_by, verification_notes, created_at, updated_at`

type clinicRepository struct {
	BaseRepository
}

func NewClinicRepository(base BaseRepository) repository.ClinicRepository {
	return &clinicRepository{base}
}

func (r *clinicRepository) Create(ctx context.Context, clinic *model.Clinic) (err error) {
	defer func() { r.observe("clinic_create", err) }()

	query := `
		INSERT INTO clinics (
			id, name, location, contact_email, verification_status,
			verified_by, verification_notes, created_at, updated_at
		) VALUES (
			:id, :name, :location, :contact_email, :verification_status,
			:verified_by, :verification_notes, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, clinic); err != nil {
		if err := translate(err); errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to create clinic: %w", err)
	}
	return nil
}

func (r *clinicRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.Clinic, err error) {
	defer func() { r.observe("clinic_get", err) }()

	var clinic model.Clinic
	query := `SELECT ` + clinicColumns + ` FROM clinics WHERE id = $1`
	if err := r.reader.GetContext(ctx, &clinic, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get clinic: %w", err)
	}
	return &clinic, nil
}

func (r *clinicRepository) Transition(ctx context.Context, id uuid.UUID, from []model.VerificationStatus, t model.ClinicTransition) (_ *model.Clinic, err error) {
	defer func() { r.observe("clinic_transition", err) }()

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE clinics
		SET verification_status = $2, verified_by = $3, verification_notes = $4, updated_at = $5
		WHERE id = $1 AND verification_status = ANY($6)
		RETURNING ` + clinicColumns

	var clinic model.Clinic
	err = r.db.GetContext(ctx, &clinic, query, id, t.To, t.VerifiedBy, t.Notes, t.At, pq.Array(states))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missingOrConflict(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM clinics WHERE id = $1)`, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition clinic: %w", err)
	}
	return &clinic, nil
}
