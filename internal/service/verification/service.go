// Package verification implements the clinic verification state machine.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/internal/service/authz"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
	"github.com/jwalitptl/clinic-onboarding/pkg/validator"
)

// decisionSources are the only states approve and reject may leave.
// Both operations go through decide so they cannot disagree.
var decisionSources = []model.VerificationStatus{
	model.VerificationStatusPending,
	model.VerificationStatusInReview,
}

type Service struct {
	clinics  repository.ClinicRepository
	clock    clock.Clock
	validate validator.Validator
	metrics  *metrics.Metrics
}

func NewService(clinics repository.ClinicRepository, clk clock.Clock, v validator.Validator, m *metrics.Metrics) *Service {
	return &Service{
		clinics:  clinics,
		clock:    clk,
		validate: v,
		metrics:  m,
	}
}

// Submit registers a clinic as pending. Resubmitting a known ClinicID returns
// the stored clinic while it is still pending and fails once it has moved on.
// The bool reports whether a new clinic was created.
func (s *Service) Submit(ctx context.Context, reg *model.ClinicRegistration) (clinic *model.Clinic, created bool, err error) {
	defer func() { s.metrics.ObserveTransition("clinic", "submit", err) }()

	if reg == nil {
		return nil, false, apperrors.Validation("registration is required", nil)
	}
	normalized := reg.Normalize()
	reg = &normalized
	if err := s.validate.Validate(reg); err != nil {
		return nil, false, err
	}

	id := uuid.New()
	if reg.ClinicID != nil {
		id = *reg.ClinicID
		existing, err := s.clinics.Get(ctx, id)
		switch {
		case err == nil:
			return resubmission(existing)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, false, apperrors.Internal(fmt.Errorf("failed to load clinic: %w", err))
		}
	}

	now := s.clock.Now()
	clinic = &model.Clinic{
		Base:               model.Base{ID: id, CreatedAt: now, UpdatedAt: now},
		Name:               reg.Name,
		Location:           reg.Location,
		ContactEmail:       reg.ContactEmail,
		VerificationStatus: model.VerificationStatusPending,
	}
	if err := s.clinics.Create(ctx, clinic); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// lost a race with a concurrent submission of the same id
			existing, getErr := s.clinics.Get(ctx, id)
			if getErr != nil {
				return nil, false, apperrors.Internal(fmt.Errorf("failed to load clinic: %w", getErr))
			}
			return resubmission(existing)
		}
		return nil, false, apperrors.Internal(fmt.Errorf("failed to create clinic: %w", err))
	}
	return clinic, true, nil
}

func resubmission(existing *model.Clinic) (*model.Clinic, bool, error) {
	if existing.VerificationStatus != model.VerificationStatusPending {
		return nil, false, apperrors.InvalidTransition(
			"clinic %s is %s; reopen it before resubmitting", existing.ID, existing.VerificationStatus)
	}
	return existing, false, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Clinic, error) {
	clinic, err := s.clinics.Get(ctx, id)
	if err != nil {
		return nil, mapError(err, id)
	}
	return clinic, nil
}

// StartReview moves a pending clinic to in_review.
func (s *Service) StartReview(ctx context.Context, id uuid.UUID, actor *model.Actor) (_ *model.Clinic, err error) {
	defer func() { s.metrics.ObserveTransition("clinic", "start_review", err) }()

	if err := authz.Require(actor, model.ActionVerifyClinic, id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, []model.VerificationStatus{model.VerificationStatusPending}, model.ClinicTransition{
		To:         model.VerificationStatusInReview,
		VerifiedBy: &actor.UserID,
	})
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor *model.Actor) (_ *model.Clinic, err error) {
	defer func() { s.metrics.ObserveTransition("clinic", "approve", err) }()
	return s.decide(ctx, id, actor, model.VerificationStatusVerified, "")
}

// Reject requires a non-blank rationale.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor *model.Actor, notes string) (_ *model.Clinic, err error) {
	defer func() { s.metrics.ObserveTransition("clinic", "reject", err) }()
	return s.decide(ctx, id, actor, model.VerificationStatusRejected, notes)
}

func (s *Service) decide(ctx context.Context, id uuid.UUID, actor *model.Actor, to model.VerificationStatus, notes string) (*model.Clinic, error) {
	if err := authz.Require(actor, model.ActionVerifyClinic, id); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if to == model.VerificationStatusRejected && notes == "" {
		return nil, apperrors.Validation("verification_notes is required when rejecting a clinic", nil)
	}
	return s.transition(ctx, id, decisionSources, model.ClinicTransition{
		To:         to,
		VerifiedBy: &actor.UserID,
		Notes:      notes,
	})
}

// Reopen resets a rejected clinic to pending and clears the previous decision.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, actor *model.Actor) (_ *model.Clinic, err error) {
	defer func() { s.metrics.ObserveTransition("clinic", "reopen", err) }()

	if err := authz.Require(actor, model.ActionEditClinicInfo, id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, []model.VerificationStatus{model.VerificationStatusRejected}, model.ClinicTransition{
		To: model.VerificationStatusPending,
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from []model.VerificationStatus, t model.ClinicTransition) (*model.Clinic, error) {
	t.At = s.clock.Now()
	clinic, err := s.clinics.Transition(ctx, id, from, t)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.InvalidTransition("clinic %s cannot move to %s from its current status", id, t.To)
		}
		return nil, mapError(err, id)
	}
	return clinic, nil
}

func mapError(err error, id uuid.UUID) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("clinic "+id.String(), err)
	}
	return apperrors.Internal(fmt.Errorf("failed to update clinic: %w", err))
}
