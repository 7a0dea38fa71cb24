package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
)

const invitationColumns = `id, clinic_id, work_email, first_name, last_name, staff_role, status,
	can_manage_staff, can_approve_appointments, can_edit_clinic_info,
	token_hash, invited_by, invited_at, expires_at, responded_at, updated_at`

type invitationRepository struct {
	BaseRepository
}

func NewInvitationRepository(base BaseRepository) repository.InvitationRepository {
	return &invitationRepository{base}
}

// CreateIfNoPending relies on the partial unique index
// staff_invitations_one_pending so concurrent invites for the same address
// cannot both insert.
func (r *invitationRepository) CreateIfNoPending(ctx context.Context, inv *model.StaffInvitation, now time.Time) (err error) {
	defer func() { r.observe("invitation_create", err) }()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		expire := `
			UPDATE staff_invitations
			SET status = 'expired', updated_at = $3
			WHERE clinic_id = $1 AND lower(work_email) = lower($2)
			AND status = 'pending' AND expires_at < $3
		`
		if _, err := tx.ExecContext(ctx, expire, inv.ClinicID, inv.WorkEmail, now); err != nil {
			return fmt.Errorf("failed to expire stale invitations: %w", err)
		}

		insert := `
			INSERT INTO staff_invitations (
				id, clinic_id, work_email, first_name, last_name, staff_role, status,
				can_manage_staff, can_approve_appointments, can_edit_clinic_info,
				token_hash, invited_by, invited_at, expires_at, updated_at
			) VALUES (
				:id, :clinic_id, :work_email, :first_name, :last_name, :staff_role, :status,
				:can_manage_staff, :can_approve_appointments, :can_edit_clinic_info,
				:token_hash, :invited_by, :invited_at, :expires_at, :updated_at
			)
			ON CONFLICT (clinic_id, lower(work_email)) WHERE status = 'pending' DO NOTHING
		`
		res, err := tx.NamedExecContext(ctx, insert, inv)
		if err != nil {
			if err := translate(err); errors.Is(err, repository.ErrDuplicate) {
				return err
			}
			return fmt.Errorf("failed to create invitation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return repository.ErrDuplicate
		}
		return nil
	})
}

func (r *invitationRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.StaffInvitation, err error) {
	defer func() { r.observe("invitation_get", err) }()
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM staff_invitations WHERE id = $1`, id)
}

func (r *invitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (_ *model.StaffInvitation, err error) {
	defer func() { r.observe("invitation_get_by_token", err) }()
	return r.getOne(ctx, `SELECT `+invitationColumns+` FROM staff_invitations WHERE token_hash = $1`, tokenHash)
}

func (r *invitationRepository) getOne(ctx context.Context, query string, arg interface{}) (*model.StaffInvitation, error) {
	var inv model.StaffInvitation
	if err := r.reader.GetContext(ctx, &inv, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

func (r *invitationRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID) (_ []*model.StaffInvitation, err error) {
	defer func() { r.observe("invitation_list", err) }()

	query := `SELECT ` + invitationColumns + ` FROM staff_invitations WHERE clinic_id = $1 ORDER BY invited_at DESC`
	var invitations []*model.StaffInvitation
	if err := r.reader.SelectContext(ctx, &invitations, query, clinicID); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invitations, nil
}

func (r *invitationRepository) RotateToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt, at time.Time) (_ *model.StaffInvitation, err error) {
	defer func() { r.observe("invitation_rotate_token", err) }()

	query := `
		UPDATE staff_invitations
		SET token_hash = $2, expires_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + invitationColumns
	return r.updateOne(ctx, id, query, id, tokenHash, expiresAt, at)
}

func (r *invitationRepository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (_ *model.StaffInvitation, err error) {
	defer func() { r.observe("invitation_cancel", err) }()

	query := `
		UPDATE staff_invitations
		SET status = 'cancelled', responded_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + invitationColumns
	return r.updateOne(ctx, id, query, id, at)
}

func (r *invitationRepository) Expire(ctx context.Context, id uuid.UUID, now time.Time) (_ *model.StaffInvitation, err error) {
	defer func() { r.observe("invitation_expire", err) }()

	query := `
		UPDATE staff_invitations
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'pending' AND expires_at < $2
		RETURNING ` + invitationColumns
	return r.updateOne(ctx, id, query, id, now)
}

func (r *invitationRepository) updateOne(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (*model.StaffInvitation, error) {
	var inv model.StaffInvitation
	err := r.db.GetContext(ctx, &inv, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missingOrConflict(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM staff_invitations WHERE id = $1)`, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}
	return &inv, nil
}

// Consume is the single compare-and-swap on (token_hash, pending, unexpired).
// The membership insert shares its transaction.
func (r *invitationRepository) Consume(ctx context.Context, tokenHash string, to model.InvitationStatus, now time.Time,
	build func(*model.StaffInvitation) *model.StaffMembership) (inv *model.StaffInvitation, membership *model.StaffMembership, err error) {
	defer func() { r.observe("invitation_consume", err) }()

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE staff_invitations
			SET status = $2, responded_at = $3, updated_at = $3
			WHERE token_hash = $1 AND status = 'pending' AND expires_at >= $3
			RETURNING ` + invitationColumns

		var consumed model.StaffInvitation
		err := tx.GetContext(ctx, &consumed, query, tokenHash, to, now)
		if errors.Is(err, sql.ErrNoRows) {
			return missingOrConflict(ctx, tx, `SELECT EXISTS (SELECT 1 FROM staff_invitations WHERE token_hash = $1)`, tokenHash)
		}
		if err != nil {
			return fmt.Errorf("failed to consume invitation: %w", err)
		}
		inv = &consumed

		if build == nil {
			return nil
		}
		membership = build(&consumed)
		if err := insertMembership(ctx, tx, membership); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, membership, nil
}
