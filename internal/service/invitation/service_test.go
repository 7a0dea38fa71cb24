package invitation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository/memory"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/security"
	"github.com/jwalitptl/clinic-onboarding/pkg/validator"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	store    *memory.Store
	clock    *clock.FakeClock
	clinicID uuid.UUID
	manager  *model.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFakeClock(t0)
	clinicID := uuid.New()
	require.NoError(t, store.Clinics().Create(context.Background(), &model.Clinic{
		Base:               model.Base{ID: clinicID, CreatedAt: t0, UpdatedAt: t0},
		Name:               "Harbor Family Clinic",
		ContactEmail:       "office@harbor.example",
		VerificationStatus: model.VerificationStatusVerified,
	}))
	return &fixture{
		svc:      NewService(store.Invitations(), store.Clinics(), security.NewTokenIssuer(), clk, validator.New(), nil, 0),
		store:    store,
		clock:    clk,
		clinicID: clinicID,
		manager: &model.Actor{UserID: uuid.New(), Grants: map[uuid.UUID]model.Grant{
			clinicID: {EmploymentStatus: model.EmploymentStatusActive, Permissions: model.Permissions{CanManageStaff: true}},
		}},
	}
}

func jane() model.Invitee {
	return model.Invitee{
		WorkEmail:   "jane@clinic.org",
		FirstName:   "Jane",
		LastName:    "Doe",
		StaffRole:   model.StaffRoleNurse,
		Permissions: model.Permissions{CanApproveAppointments: true},
	}
}

func (f *fixture) invite(t *testing.T) *model.StaffInvitation {
	t.Helper()
	inv, err := f.svc.Invite(context.Background(), f.clinicID, f.manager, jane())
	require.NoError(t, err)
	return inv
}

func TestInvite(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t)

	assert.Equal(t, model.InvitationStatusPending, inv.Status)
	assert.NotEmpty(t, inv.Token)
	assert.Equal(t, t0.Add(72*time.Hour), inv.ExpiresAt)
	require.NotNil(t, inv.InvitedBy)
	assert.Equal(t, f.manager.UserID, *inv.InvitedBy)

	stored, err := f.store.Invitations().Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Token, "plaintext token is never stored")
	assert.NotEqual(t, inv.Token, stored.TokenHash)
}

func TestInvite_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Invite(ctx, f.clinicID, &model.Actor{UserID: uuid.New()}, jane())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))

	bad := jane()
	bad.StaffRole = "janitor"
	_, err = f.svc.Invite(ctx, f.clinicID, f.manager, bad)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = f.svc.Invite(ctx, uuid.New(), &model.Actor{PlatformAdmin: true}, jane())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestInvite_NormalizesBeforeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	padded := jane()
	padded.WorkEmail = " Jane@Clinic.org "
	padded.FirstName = " Jane "
	inv, err := f.svc.Invite(ctx, f.clinicID, f.manager, padded)
	require.NoError(t, err)
	assert.Equal(t, "jane@clinic.org", inv.WorkEmail)
	assert.Equal(t, "Jane", inv.FirstName)

	blank := jane()
	blank.WorkEmail = "sam@clinic.org"
	blank.FirstName = "   "
	_, err = f.svc.Invite(ctx, f.clinicID, f.manager, blank)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "first_name is required")
}

func TestInvite_CannotGrantUnheldFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	elevated := jane()
	elevated.Permissions = model.Permissions{CanEditClinicInfo: true}
	_, err := f.svc.Invite(ctx, f.clinicID, f.manager, elevated)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))

	inv, err := f.svc.Invite(ctx, f.clinicID, &model.Actor{PlatformAdmin: true}, elevated)
	require.NoError(t, err)
	assert.True(t, inv.Permissions.CanEditClinicInfo)
}

func TestInvite_DuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.invite(t)

	again := jane()
	again.WorkEmail = "  JANE@clinic.org "
	_, err := f.svc.Invite(ctx, f.clinicID, f.manager, again)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrDuplicateInvitation))

	// once the first one lapses a new invitation may be issued
	f.clock.Advance(73 * time.Hour)
	_, err = f.svc.Invite(ctx, f.clinicID, f.manager, jane())
	require.NoError(t, err)

	invitations, err := f.svc.List(ctx, f.clinicID, f.manager)
	require.NoError(t, err)
	require.Len(t, invitations, 2)
	pending := 0
	for _, inv := range invitations {
		if inv.Status == model.InvitationStatusPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestInvite_ConcurrentSameAddress(t *testing.T) {
	f := newFixture(t)
	const n = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Invite(context.Background(), f.clinicID, f.manager, jane())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apperrors.HasCode(err, apperrors.ErrDuplicateInvitation) {
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dups)
}

func TestAcceptFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invite(t)

	resolved, err := f.svc.Resolve(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusPending, resolved.Status)

	userID := uuid.New()
	accepted, membership, err := f.svc.Accept(ctx, inv.Token, userID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusAccepted, accepted.Status)
	assert.Equal(t, model.StaffRoleNurse, membership.StaffRole)
	assert.Equal(t, model.Permissions{CanApproveAppointments: true}, membership.Permissions)
	assert.Equal(t, model.EmploymentStatusActive, membership.EmploymentStatus)
	assert.Equal(t, userID, membership.UserID)
	assert.Equal(t, inv.ID, membership.InvitationID)

	_, _, err = f.svc.Accept(ctx, inv.Token, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrTokenAlreadyUsed))
	_, err = f.svc.Decline(ctx, inv.Token)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrTokenAlreadyUsed))
}

func TestAccept_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		used    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%3 == 0 {
				_, err = f.svc.Decline(context.Background(), inv.Token)
			} else {
				_, _, err = f.svc.Accept(context.Background(), inv.Token, uuid.New())
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if apperrors.HasCode(err, apperrors.ErrTokenAlreadyUsed) {
				used++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, used)
	memberships, err := f.store.Memberships().ListByClinic(context.Background(), f.clinicID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(memberships), 1)
}

func TestDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invite(t)

	declined, err := f.svc.Decline(ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusDeclined, declined.Status)
	require.NotNil(t, declined.RespondedAt)

	memberships, err := f.store.Memberships().ListByClinic(ctx, f.clinicID)
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invite(t)

	f.clock.Advance(73 * time.Hour)
	_, err := f.svc.Resolve(ctx, inv.Token)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExpired))

	stored, err := f.store.Invitations().Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusExpired, stored.Status)

	_, err = f.svc.Resolve(ctx, inv.Token)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExpired))
	_, _, err = f.svc.Accept(ctx, inv.Token, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExpired))
}

func TestAccept_PastExpiryWithoutPriorResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invite(t)

	f.clock.Advance(72*time.Hour + time.Second)
	_, _, err := f.svc.Accept(ctx, inv.Token, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExpired))

	stored, err := f.store.Invitations().Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusExpired, stored.Status)
}

func TestAccept_AtExactExpiry(t *testing.T) {
	f := newFixture(t)
	inv := f.invite(t)

	f.clock.Advance(72 * time.Hour)
	_, _, err := f.svc.Accept(context.Background(), inv.Token, uuid.New())
	assert.NoError(t, err)
}

func TestAccept_ExistingMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.store.AddMembership(&model.StaffMembership{
		Base:             model.Base{ID: uuid.New(), CreatedAt: t0},
		ClinicID:         f.clinicID,
		UserID:           userID,
		EmploymentStatus: model.EmploymentStatusSuspended,
	})
	inv := f.invite(t)

	_, _, err := f.svc.Accept(ctx, inv.Token, userID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTransition))

	stored, err := f.store.Invitations().Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusPending, stored.Status, "failed acceptance leaves the invitation pending")
}

func TestResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invite(t)

	f.clock.Advance(24 * time.Hour)
	resent, err := f.svc.Resend(ctx, inv.ID, f.manager)
	require.NoError(t, err)
	assert.NotEqual(t, inv.Token, resent.Token)
	assert.Equal(t, model.InvitationStatusPending, resent.Status)
	assert.Equal(t, t0.Add(96*time.Hour), resent.ExpiresAt)

	_, err = f.svc.Resolve(ctx, inv.Token)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound), "rotated token no longer resolves")

	got, err := f.svc.Resolve(ctx, resent.Token)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
}

func TestResendAndCancel_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unauthorized", func(t *testing.T) {
		inv := f.invite(t)
		defer f.svc.Cancel(ctx, inv.ID, f.manager)
		_, err := f.svc.Resend(ctx, inv.ID, &model.Actor{UserID: uuid.New()})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
		_, err = f.svc.Cancel(ctx, inv.ID, &model.Actor{UserID: uuid.New()})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.svc.Resend(ctx, uuid.New(), f.manager)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
	})

	t.Run("cancelled is final", func(t *testing.T) {
		inv := f.invite(t)
		cancelled, err := f.svc.Cancel(ctx, inv.ID, f.manager)
		require.NoError(t, err)
		assert.Equal(t, model.InvitationStatusCancelled, cancelled.Status)

		_, err = f.svc.Cancel(ctx, inv.ID, f.manager)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTransition))
		_, err = f.svc.Resend(ctx, inv.ID, f.manager)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTransition))
		_, _, err = f.svc.Accept(ctx, inv.Token, uuid.New())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrTokenAlreadyUsed))
	})

	t.Run("expired cannot be resent", func(t *testing.T) {
		inv := f.invite(t)
		f.clock.Advance(80 * time.Hour)
		_, err := f.svc.Resend(ctx, inv.ID, f.manager)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTransition))
	})
}

func TestResolve_UnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Resolve(context.Background(), "nope")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
	_, err = f.svc.Resolve(context.Background(), "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestInviteOwner(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.InviteOwner(context.Background(), f.clinicID, model.ClinicOwner{
		WorkEmail: "owner@harbor.example", FirstName: "Ada", LastName: "Moss",
	})
	require.NoError(t, err)
	assert.Nil(t, inv.InvitedBy)
	assert.Equal(t, model.StaffRoleAdministrator, inv.StaffRole)
	assert.Equal(t, model.FullPermissions(), inv.Permissions)
}
