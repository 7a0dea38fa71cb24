package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
)

var (
	// ErrNotFound is returned when no row matches the key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write found the row in a
	// state other than the expected one.
	ErrConflict = errors.New("conditional write lost")
	// ErrDuplicate is returned when a uniqueness rule rejected an insert.
	ErrDuplicate = errors.New("duplicate record")
)

// All repository interfaces in one file. Every state change is a single
// conditional write keyed on the expected prior state.
type (
	ClinicRepository interface {
		// Create inserts a pending clinic; ErrDuplicate if the id exists.
		Create(ctx context.Context, clinic *model.Clinic) error
		Get(ctx context.Context, id uuid.UUID) (*model.Clinic, error)
		// Transition applies t only while the clinic's status is one of from.
		Transition(ctx context.Context, id uuid.UUID, from []model.VerificationStatus, t model.ClinicTransition) (*model.Clinic, error)
	}

	InvitationRepository interface {
		// CreateIfNoPending inserts inv unless a pending invitation exists for
		// the same clinic and work email (case-insensitive), returning
		// ErrDuplicate in that case. Pending rows already past expiry at now
		// are expired first.
		CreateIfNoPending(ctx context.Context, inv *model.StaffInvitation, now time.Time) error
		Get(ctx context.Context, id uuid.UUID) (*model.StaffInvitation, error)
		GetByTokenHash(ctx context.Context, tokenHash string) (*model.StaffInvitation, error)
		ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.StaffInvitation, error)
		// RotateToken replaces the token hash and expiry of a pending invitation.
		RotateToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt, at time.Time) (*model.StaffInvitation, error)
		// Cancel moves a pending invitation to cancelled.
		Cancel(ctx context.Context, id uuid.UUID, at time.Time) (*model.StaffInvitation, error)
		// Expire moves a pending invitation whose expires_at is before now to expired.
		Expire(ctx context.Context, id uuid.UUID, now time.Time) (*model.StaffInvitation, error)
		// Consume atomically moves the pending, unexpired invitation holding
		// tokenHash to status to. When build is non-nil the membership it
		// returns for the consumed row is inserted in the same transaction;
		// a uniqueness violation rolls both back with ErrDuplicate.
		Consume(ctx context.Context, tokenHash string, to model.InvitationStatus, now time.Time,
			build func(*model.StaffInvitation) *model.StaffMembership) (*model.StaffInvitation, *model.StaffMembership, error)
	}

	MembershipRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.StaffMembership, error)
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.StaffMembership, error)
		ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.StaffMembership, error)
		SetEmploymentStatus(ctx context.Context, id uuid.UUID, from []model.EmploymentStatus, to model.EmploymentStatus, at time.Time) (*model.StaffMembership, error)
		UpdatePermissions(ctx context.Context, id uuid.UUID, perms model.Permissions, at time.Time) (*model.StaffMembership, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPending marks up to limit due events as processing and returns
		// them. Events left in processing since before staleBefore are claimed
		// again, so a worker that died mid-batch does not strand them.
		ClaimPending(ctx context.Context, limit int, now, staleBefore time.Time) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
		// MarkFailed records a failed delivery. A nil retryAt fails the event permanently.
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, at time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
