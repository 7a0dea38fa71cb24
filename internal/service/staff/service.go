// Package staff manages the employment status and permissions of clinic
// memberships after acceptance.
package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/internal/service/authz"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
)

type transition struct {
	name string
	from []model.EmploymentStatus
	to   model.EmploymentStatus
}

var (
	suspend = transition{
		name: "suspend",
		from: []model.EmploymentStatus{model.EmploymentStatusActive},
		to:   model.EmploymentStatusSuspended,
	}
	terminate = transition{
		name: "terminate",
		from: []model.EmploymentStatus{model.EmploymentStatusActive, model.EmploymentStatusSuspended},
		to:   model.EmploymentStatusTerminated,
	}
	reactivate = transition{
		name: "reactivate",
		from: []model.EmploymentStatus{model.EmploymentStatusSuspended},
		to:   model.EmploymentStatusActive,
	}
)

type Service struct {
	memberships repository.MembershipRepository
	clock       clock.Clock
	metrics     *metrics.Metrics
}

func NewService(memberships repository.MembershipRepository, clk clock.Clock, m *metrics.Metrics) *Service {
	return &Service{
		memberships: memberships,
		clock:       clk,
		metrics:     m,
	}
}

func (s *Service) Suspend(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffMembership, error) {
	return s.apply(ctx, id, actor, suspend)
}

// Terminate is final; a terminated membership never changes again.
func (s *Service) Terminate(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffMembership, error) {
	return s.apply(ctx, id, actor, terminate)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffMembership, error) {
	return s.apply(ctx, id, actor, reactivate)
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, actor *model.Actor, t transition) (_ *model.StaffMembership, err error) {
	defer func() { s.metrics.ObserveTransition("membership", t.name, err) }()

	if _, err := s.authorize(ctx, id, actor); err != nil {
		return nil, err
	}
	m, err := s.memberships.SetEmploymentStatus(ctx, id, t.from, t.to, s.clock.Now())
	if err != nil {
		return nil, mapError(err, id, "cannot "+t.name)
	}
	return m, nil
}

// UpdatePermissions replaces the flags of a live membership. It is the only
// path that changes flags after acceptance.
func (s *Service) UpdatePermissions(ctx context.Context, id uuid.UUID, actor *model.Actor, perms model.Permissions) (_ *model.StaffMembership, err error) {
	defer func() { s.metrics.ObserveTransition("membership", "update_permissions", err) }()

	current, err := s.authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireGrant(actor, current.ClinicID, perms); err != nil {
		return nil, err
	}
	m, err := s.memberships.UpdatePermissions(ctx, id, perms, s.clock.Now())
	if err != nil {
		return nil, mapError(err, id, "cannot change permissions of")
	}
	return m, nil
}

func (s *Service) List(ctx context.Context, clinicID uuid.UUID, actor *model.Actor) ([]*model.StaffMembership, error) {
	if err := authz.Require(actor, model.ActionManageStaff, clinicID); err != nil {
		return nil, err
	}
	memberships, err := s.memberships.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list memberships: %w", err))
	}
	return memberships, nil
}

// Get returns a membership to its holder or to a staff manager of its clinic.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffMembership, error) {
	m, err := s.memberships.Get(ctx, id)
	if err != nil {
		return nil, mapError(err, id, "")
	}
	if actor != nil && m.UserID == actor.UserID {
		return m, nil
	}
	if err := authz.Require(actor, model.ActionManageStaff, m.ClinicID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) authorize(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffMembership, error) {
	m, err := s.memberships.Get(ctx, id)
	if err != nil {
		return nil, mapError(err, id, "")
	}
	if err := authz.Require(actor, model.ActionManageStaff, m.ClinicID); err != nil {
		return nil, err
	}
	return m, nil
}

func mapError(err error, id uuid.UUID, verb string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("membership "+id.String(), err)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.InvalidTransition("%s membership %s in its current status", verb, id)
	default:
		return apperrors.Internal(fmt.Errorf("failed to update membership: %w", err))
	}
}
