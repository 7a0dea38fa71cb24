package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
)

const membershipColumns = `id, clinic_id, user_id, invitation_id, work_email, staff_role, employment_status,
	can_manage_staff, can_approve_appointments, can_edit_clinic_info, created_at, updated_at`

type membershipRepository struct {
	BaseRepository
}

func NewMembershipRepository(base BaseRepository) repository.MembershipRepository {
	return &membershipRepository{base}
}

func insertMembership(ctx context.Context, tx *sqlx.Tx, m *model.StaffMembership) error {
	query := `
		INSERT INTO staff_memberships (
			id, clinic_id, user_id, invitation_id, work_email, staff_role, employment_status,
			can_manage_staff, can_approve_appointments, can_edit_clinic_info, created_at, updated_at
		) VALUES (
			:id, :clinic_id, :user_id, :invitation_id, :work_email, :staff_role, :employment_status,
			:can_manage_staff, :can_approve_appointments, :can_edit_clinic_info, :created_at, :updated_at
		)
	`
	if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
		if err := translate(err); errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

func (r *membershipRepository) Get(ctx context.Context, id uuid.UUID) (_ *model.StaffMembership, err error) {
	defer func() { r.observe("membership_get", err) }()

	var m model.StaffMembership
	query := `SELECT ` + membershipColumns + ` FROM staff_memberships WHERE id = $1`
	if err := r.reader.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

func (r *membershipRepository) ListByUser(ctx context.Context, userID uuid.UUID) (_ []*model.StaffMembership, err error) {
	defer func() { r.observe("membership_list_by_user", err) }()
	return r.list(ctx, `SELECT `+membershipColumns+` FROM staff_memberships WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *membershipRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID) (_ []*model.StaffMembership, err error) {
	defer func() { r.observe("membership_list_by_clinic", err) }()
	return r.list(ctx, `SELECT `+membershipColumns+` FROM staff_memberships WHERE clinic_id = $1 ORDER BY created_at`, clinicID)
}

func (r *membershipRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]*model.StaffMembership, error) {
	var memberships []*model.StaffMembership
	if err := r.reader.SelectContext(ctx, &memberships, query, arg); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

func (r *membershipRepository) SetEmploymentStatus(ctx context.Context, id uuid.UUID, from []model.EmploymentStatus, to model.EmploymentStatus, at time.Time) (_ *model.StaffMembership, err error) {
	defer func() { r.observe("membership_set_status", err) }()

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	query := `
		UPDATE staff_memberships
		SET employment_status = $2, updated_at = $3
		WHERE id = $1 AND employment_status = ANY($4)
		RETURNING ` + membershipColumns
	return r.updateOne(ctx, id, query, id, to, at, pq.Array(states))
}

func (r *membershipRepository) UpdatePermissions(ctx context.Context, id uuid.UUID, perms model.Permissions, at time.Time) (_ *model.StaffMembership, err error) {
	defer func() { r.observe("membership_update_permissions", err) }()

	query := `
		UPDATE staff_memberships
		SET can_manage_staff = $2, can_approve_appointments = $3, can_edit_clinic_info = $4, updated_at = $5
		WHERE id = $1 AND employment_status IN ('active', 'suspended')
		RETURNING ` + membershipColumns
	return r.updateOne(ctx, id, query, id, perms.CanManageStaff, perms.CanApproveAppointments, perms.CanEditClinicInfo, at)
}

func (r *membershipRepository) updateOne(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (*model.StaffMembership, error) {
	var m model.StaffMembership
	err := r.db.GetContext(ctx, &m, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, missingOrConflict(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM staff_memberships WHERE id = $1)`, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}
	return &m, nil
}
