// Package invitation issues, tracks and consumes staff invitation tokens.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/internal/service/authz"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/metrics"
	"github.com/jwalitptl/clinic-onboarding/pkg/security"
	"github.com/jwalitptl/clinic-onboarding/pkg/validator"
)

// DefaultTTL is how long a freshly issued or resent token stays valid.
const DefaultTTL = 72 * time.Hour

type Service struct {
	invitations repository.InvitationRepository
	clinics     repository.ClinicRepository
	tokens      security.TokenIssuer
	clock       clock.Clock
	validate    validator.Validator
	metrics     *metrics.Metrics
	ttl         time.Duration
}

func NewService(
	invitations repository.InvitationRepository,
	clinics repository.ClinicRepository,
	tokens security.TokenIssuer,
	clk clock.Clock,
	v validator.Validator,
	m *metrics.Metrics,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		invitations: invitations,
		clinics:     clinics,
		tokens:      tokens,
		clock:       clk,
		validate:    v,
		metrics:     m,
		ttl:         ttl,
	}
}

// Invite issues a pending invitation. The returned invitation carries the
// plaintext token; it is never readable again.
func (s *Service) Invite(ctx context.Context, clinicID uuid.UUID, actor *model.Actor, invitee model.Invitee) (_ *model.StaffInvitation, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "invite", err) }()

	if err := authz.Require(actor, model.ActionManageStaff, clinicID); err != nil {
		return nil, err
	}
	if err := authz.RequireGrant(actor, clinicID, invitee.Permissions); err != nil {
		return nil, err
	}
	return s.issue(ctx, clinicID, &actor.UserID, invitee)
}

// InviteOwner issues the administrator invitation for a newly registered
// clinic. It is called by the system, not by an actor.
func (s *Service) InviteOwner(ctx context.Context, clinicID uuid.UUID, owner model.ClinicOwner) (_ *model.StaffInvitation, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "invite_owner", err) }()
	return s.issue(ctx, clinicID, nil, owner.Invitee())
}

func (s *Service) issue(ctx context.Context, clinicID uuid.UUID, invitedBy *uuid.UUID, invitee model.Invitee) (*model.StaffInvitation, error) {
	invitee = invitee.Normalize()
	if err := s.validate.Validate(&invitee); err != nil {
		return nil, err
	}
	if _, err := s.clinics.Get(ctx, clinicID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("clinic "+clinicID.String(), err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load clinic: %w", err))
	}

	token, hash, err := s.tokens.Generate()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := s.clock.Now()
	inv := &model.StaffInvitation{
		ID:          uuid.New(),
		ClinicID:    clinicID,
		WorkEmail:   invitee.WorkEmail,
		FirstName:   invitee.FirstName,
		LastName:    invitee.LastName,
		StaffRole:   invitee.StaffRole,
		Status:      model.InvitationStatusPending,
		Permissions: invitee.Permissions,
		TokenHash:   hash,
		InvitedBy:   invitedBy,
		InvitedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		UpdatedAt:   now,
	}
	if err := s.invitations.CreateIfNoPending(ctx, inv, now); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.DuplicateInvitation(inv.WorkEmail)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to create invitation: %w", err))
	}
	inv.Token = token
	return inv, nil
}

// Resend rotates the token and pushes expires_at out. Any earlier token
// stops resolving.
func (s *Service) Resend(ctx context.Context, id uuid.UUID, actor *model.Actor) (_ *model.StaffInvitation, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "resend", err) }()

	if _, err := s.loadPendingFor(ctx, id, actor); err != nil {
		return nil, err
	}

	token, hash, err := s.tokens.Generate()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	now := s.clock.Now()
	inv, err := s.invitations.RotateToken(ctx, id, hash, now.Add(s.ttl), now)
	if err != nil {
		return nil, s.mapWriteError(err, id)
	}
	inv.Token = token
	return inv, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor *model.Actor) (_ *model.StaffInvitation, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "cancel", err) }()

	if _, err := s.loadPendingFor(ctx, id, actor); err != nil {
		return nil, err
	}
	inv, err := s.invitations.Cancel(ctx, id, s.clock.Now())
	if err != nil {
		return nil, s.mapWriteError(err, id)
	}
	return inv, nil
}

// loadPendingFor authorizes actor against the invitation's clinic and
// applies lazy expiry before a pending-only write.
func (s *Service) loadPendingFor(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffInvitation, error) {
	inv, err := s.invitations.Get(ctx, id)
	if err != nil {
		return nil, s.mapWriteError(err, id)
	}
	if err := authz.Require(actor, model.ActionManageStaff, inv.ClinicID); err != nil {
		return nil, err
	}
	inv, err = s.expireIfDue(ctx, inv)
	if err != nil {
		return nil, err
	}
	if inv.Status != model.InvitationStatusPending {
		return nil, apperrors.InvalidTransition("invitation %s is %s", id, inv.Status)
	}
	return inv, nil
}

// Resolve looks up an invitation by token. A pending invitation past its
// expiry is flipped to expired and reported as Expired.
func (s *Service) Resolve(ctx context.Context, token string) (_ *model.StaffInvitation, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "resolve", err) }()

	hash, err := s.hash(token)
	if err != nil {
		return nil, err
	}
	inv, err := s.invitations.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("invitation", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to resolve invitation: %w", err))
	}
	inv, err = s.expireIfDue(ctx, inv)
	if err != nil {
		return nil, err
	}
	if inv.Status == model.InvitationStatusExpired {
		return nil, apperrors.Expired("invitation")
	}
	return inv, nil
}

// Accept consumes the token and creates the membership in one atomic step.
// Role and flags are copied from the row that won the swap.
func (s *Service) Accept(ctx context.Context, token string, userID uuid.UUID) (_ *model.StaffInvitation, _ *model.StaffMembership, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "accept", err) }()

	if userID == uuid.Nil {
		return nil, nil, apperrors.Validation("accepting user is required", nil)
	}
	now := s.clock.Now()
	inv, membership, err := s.consume(ctx, token, model.InvitationStatusAccepted, now, func(inv *model.StaffInvitation) *model.StaffMembership {
		return model.MembershipFromInvitation(inv, userID, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, membership, nil
}

func (s *Service) Decline(ctx context.Context, token string) (_ *model.StaffInvitation, err error) {
	defer func() { s.metrics.ObserveTransition("invitation", "decline", err) }()

	inv, _, err := s.consume(ctx, token, model.InvitationStatusDeclined, s.clock.Now(), nil)
	return inv, err
}

func (s *Service) consume(ctx context.Context, token string, to model.InvitationStatus, now time.Time,
	build func(*model.StaffInvitation) *model.StaffMembership) (*model.StaffInvitation, *model.StaffMembership, error) {
	hash, err := s.hash(token)
	if err != nil {
		return nil, nil, err
	}

	inv, membership, err := s.invitations.Consume(ctx, hash, to, now, build)
	switch {
	case err == nil:
		return inv, membership, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil, apperrors.NotFound("invitation", err)
	case errors.Is(err, repository.ErrDuplicate):
		return nil, nil, apperrors.InvalidTransition("user already holds a membership at this clinic")
	case errors.Is(err, repository.ErrConflict):
		return nil, nil, s.classifyLostConsume(ctx, hash)
	default:
		return nil, nil, apperrors.Internal(fmt.Errorf("failed to consume invitation: %w", err))
	}
}

// classifyLostConsume explains why the swap matched nothing: the row is
// either past expiry or already consumed.
func (s *Service) classifyLostConsume(ctx context.Context, hash string) error {
	inv, err := s.invitations.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("invitation", err)
		}
		return apperrors.Internal(fmt.Errorf("failed to load invitation: %w", err))
	}
	inv, err = s.expireIfDue(ctx, inv)
	if err != nil {
		return err
	}
	if inv.Status == model.InvitationStatusExpired {
		return apperrors.Expired("invitation")
	}
	return apperrors.TokenAlreadyUsed()
}

func (s *Service) List(ctx context.Context, clinicID uuid.UUID, actor *model.Actor) ([]*model.StaffInvitation, error) {
	if err := authz.Require(actor, model.ActionManageStaff, clinicID); err != nil {
		return nil, err
	}
	invitations, err := s.invitations.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list invitations: %w", err))
	}
	for i, inv := range invitations {
		if invitations[i], err = s.expireIfDue(ctx, inv); err != nil {
			return nil, err
		}
	}
	return invitations, nil
}

// expireIfDue performs the lazy pending to expired transition. Losing the
// swap means another caller changed the row first, so it is re-read.
func (s *Service) expireIfDue(ctx context.Context, inv *model.StaffInvitation) (*model.StaffInvitation, error) {
	now := s.clock.Now()
	if !inv.PastExpiry(now) {
		return inv, nil
	}
	expired, err := s.invitations.Expire(ctx, inv.ID, now)
	switch {
	case err == nil:
		s.metrics.ObserveTransition("invitation", "expire", nil)
		return expired, nil
	case errors.Is(err, repository.ErrConflict):
		current, getErr := s.invitations.Get(ctx, inv.ID)
		if getErr != nil {
			return nil, apperrors.Internal(fmt.Errorf("failed to reload invitation: %w", getErr))
		}
		if current.PastExpiry(now) {
			// replica has not caught up with the committed change
			current.Status = model.InvitationStatusExpired
		}
		return current, nil
	default:
		return nil, apperrors.Internal(fmt.Errorf("failed to expire invitation: %w", err))
	}
}

func (s *Service) hash(token string) (string, error) {
	hash, err := s.tokens.Hash(token)
	if err != nil {
		if errors.Is(err, security.ErrEmptyToken) {
			return "", apperrors.NotFound("invitation", err)
		}
		return "", apperrors.Internal(err)
	}
	return hash, nil
}

func (s *Service) mapWriteError(err error, id uuid.UUID) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("invitation "+id.String(), err)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.InvalidTransition("invitation %s is no longer pending", id)
	default:
		return apperrors.Internal(fmt.Errorf("failed to update invitation: %w", err))
	}
}
