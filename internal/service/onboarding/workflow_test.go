package onboarding

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-onboarding/internal/clock"
	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository/memory"
	"github.com/jwalitptl/clinic-onboarding/internal/service/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/service/notification"
	"github.com/jwalitptl/clinic-onboarding/internal/service/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/service/verification"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
	"github.com/jwalitptl/clinic-onboarding/pkg/security"
	"github.com/jwalitptl/clinic-onboarding/pkg/validator"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req model.NotificationRequest) error {
	return m.Called(ctx, req).Error(0)
}

type env struct {
	wf    *Workflow
	store *memory.Store
	clock *clock.FakeClock
	admin *model.Actor
}

// newEnv wires a workflow over the memory store. A nil dispatcher selects
// the outbox dispatcher backed by the same store.
func newEnv(t *testing.T, dispatcher notification.Dispatcher) *env {
	t.Helper()
	store := memory.New()
	clk := clock.NewFakeClock(t0)
	v := validator.New()
	if dispatcher == nil {
		dispatcher = notification.NewOutboxDispatcher(store.Outbox(), clk, nil)
	}
	wf := NewWorkflow(
		verification.NewService(store.Clinics(), clk, v, nil),
		invitation.NewService(store.Invitations(), store.Clinics(), security.NewTokenIssuer(), clk, v, nil, 0),
		staff.NewService(store.Memberships(), clk, nil),
		dispatcher,
		logger.Nop(),
		Config{AcceptURL: "https://portal.example/invitations/accept"},
	)
	return &env{wf: wf, store: store, clock: clk, admin: &model.Actor{UserID: uuid.New(), PlatformAdmin: true}}
}

func outboxEnv(t *testing.T) *env {
	return newEnv(t, nil)
}

func registration() *model.ClinicRegistration {
	return &model.ClinicRegistration{
		Name:         "Clinic Seven",
		Location:     "7 Main St",
		ContactEmail: "office@clinic.org",
		Owner:        model.ClinicOwner{WorkEmail: "owner@clinic.org", FirstName: "Ada", LastName: "Moss"},
	}
}

func (e *env) submit(t *testing.T) *model.Clinic {
	t.Helper()
	res, err := e.wf.SubmitClinic(context.Background(), registration())
	require.NoError(t, err)
	return res.Value
}

func TestSubmitClinic_InvitesOwner(t *testing.T) {
	e := outboxEnv(t)
	res, err := e.wf.SubmitClinic(context.Background(), registration())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Notifications, 1)

	n := res.Notifications[0]
	assert.Equal(t, model.TemplateInvitationSent, n.Template)
	assert.Equal(t, "owner@clinic.org", n.Recipient)
	assert.Equal(t, "Clinic Seven", n.Payload["clinic_name"])
	assert.Equal(t, string(model.StaffRoleAdministrator), n.Payload["staff_role"])

	link, err := url.Parse(n.Payload["accept_url"])
	require.NoError(t, err)
	assert.Equal(t, n.Payload["token"], link.Query().Get("token"))
	assert.Len(t, e.store.OutboxEvents(), 1)

	// the owner can take over the clinic with the mailed token
	ownerID := uuid.New()
	accepted, err := e.wf.AcceptInvitation(context.Background(), n.Payload["token"], ownerID)
	require.NoError(t, err)
	assert.Equal(t, model.FullPermissions(), accepted.Value.Permissions)
	assert.Equal(t, res.Value.ID, accepted.Value.ClinicID)
}

func TestSubmitClinic_ResubmissionDoesNotReinvite(t *testing.T) {
	e := outboxEnv(t)
	clinic := e.submit(t)

	reg := registration()
	reg.ClinicID = &clinic.ID
	res, err := e.wf.SubmitClinic(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, clinic.ID, res.Value.ID)
	assert.Empty(t, res.Notifications)
	assert.Len(t, e.store.OutboxEvents(), 1)
}

// Invite, resolve, accept: the membership mirrors the invitation.
func TestScenario_InviteResolveAccept(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)

	invited, err := e.wf.InviteStaff(ctx, clinic.ID, e.admin, model.Invitee{
		WorkEmail:   "jane@clinic.org",
		FirstName:   "Jane",
		LastName:    "Doe",
		StaffRole:   model.StaffRoleNurse,
		Permissions: model.Permissions{CanApproveAppointments: true},
	})
	require.NoError(t, err)
	token := invited.Value.Token

	resolved, err := e.wf.ResolveInvitation(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusPending, resolved.Value.Status)

	res, err := e.wf.AcceptInvitation(ctx, token, uuid.New())
	require.NoError(t, err)
	m := res.Value
	assert.Equal(t, model.StaffRoleNurse, m.StaffRole)
	assert.True(t, m.CanApproveAppointments)
	assert.False(t, m.CanManageStaff)
	assert.Equal(t, model.EmploymentStatusActive, m.EmploymentStatus)

	require.Len(t, res.Notifications, 2)
	assert.Equal(t, model.TemplateInvitationAccepted, res.Notifications[0].Template)
	assert.Equal(t, "office@clinic.org", res.Notifications[0].Recipient)
	assert.Equal(t, model.TemplateMembershipWelcome, res.Notifications[1].Template)
	assert.Equal(t, "jane@clinic.org", res.Notifications[1].Recipient)
	assert.Equal(t, "Clinic Seven", res.Notifications[1].Payload["clinic_name"])
}

// Declining tells the clinic and confirms to the invitee.
func TestDeclineInvitation_NotifiesBothSides(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)
	invited, err := e.wf.InviteStaff(ctx, clinic.ID, e.admin, model.Invitee{
		WorkEmail: "jane@clinic.org", FirstName: "Jane", LastName: "Doe", StaffRole: model.StaffRoleNurse,
	})
	require.NoError(t, err)
	before := len(e.store.OutboxEvents())

	res, err := e.wf.DeclineInvitation(ctx, invited.Value.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusDeclined, res.Value.Status)

	recipients := map[model.NotificationTemplate]string{}
	for _, n := range res.Notifications {
		recipients[n.Template] = n.Recipient
	}
	assert.Equal(t, map[model.NotificationTemplate]string{
		model.TemplateInvitationDeclined: "office@clinic.org",
		model.TemplateDeclineConfirmed:   "jane@clinic.org",
	}, recipients)
	assert.Len(t, e.store.OutboxEvents(), before+2)
}

// Inviting the same pending address twice is a duplicate.
func TestScenario_DuplicateInvite(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)
	invitee := model.Invitee{WorkEmail: "jane@clinic.org", FirstName: "Jane", LastName: "Doe", StaffRole: model.StaffRoleNurse}

	_, err := e.wf.InviteStaff(ctx, clinic.ID, e.admin, invitee)
	require.NoError(t, err)
	_, err = e.wf.InviteStaff(ctx, clinic.ID, e.admin, invitee)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrDuplicateInvitation))
}

// Approve by one admin, reject by another: the reject loses.
func TestScenario_ApproveThenReject(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)

	approved, err := e.wf.ApproveClinic(ctx, clinic.ID, e.admin)
	require.NoError(t, err)
	require.Len(t, approved.Notifications, 1)
	assert.Equal(t, model.TemplateClinicVerified, approved.Notifications[0].Template)
	assert.Equal(t, "office@clinic.org", approved.Notifications[0].Recipient)

	_, err = e.wf.RejectClinic(ctx, clinic.ID, &model.Actor{UserID: uuid.New(), PlatformAdmin: true}, "incomplete docs")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTransition))

	got, err := e.wf.GetClinic(ctx, clinic.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationStatusVerified, got.VerificationStatus)
}

// Concurrent accepts of one token: exactly one membership.
func TestScenario_ConcurrentAccept(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)
	invited, err := e.wf.InviteStaff(ctx, clinic.ID, e.admin, model.Invitee{
		WorkEmail: "jane@clinic.org", FirstName: "Jane", LastName: "Doe", StaffRole: model.StaffRoleNurse,
	})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		results [2]error
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.wf.AcceptInvitation(ctx, invited.Value.Token, uuid.New())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, apperrors.HasCode(err, apperrors.ErrTokenAlreadyUsed), err)
		}
	}
	assert.Equal(t, 1, succeeded)

	staffList, err := e.wf.ListStaff(ctx, clinic.ID, e.admin)
	require.NoError(t, err)
	count := 0
	for _, m := range staffList {
		if m.InvitationID == invited.Value.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// A token resolved an hour past its 72h window is expired.
func TestScenario_ResolveAfterExpiry(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)
	invited, err := e.wf.InviteStaff(ctx, clinic.ID, e.admin, model.Invitee{
		WorkEmail: "jane@clinic.org", FirstName: "Jane", LastName: "Doe", StaffRole: model.StaffRoleNurse,
	})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(72*time.Hour), invited.Value.ExpiresAt)

	e.clock.Advance(73 * time.Hour)
	_, err = e.wf.ResolveInvitation(ctx, invited.Value.Token)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrExpired))

	list, err := e.wf.ListInvitations(ctx, clinic.ID, e.admin)
	require.NoError(t, err)
	for _, inv := range list {
		if inv.ID == invited.Value.ID {
			assert.Equal(t, model.InvitationStatusExpired, inv.Status)
		}
	}
}

func TestDispatchFailureIsAWarning(t *testing.T) {
	dispatcher := new(mockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("outbox unavailable"))
	e := newEnv(t, dispatcher)
	ctx := context.Background()

	res, err := e.wf.SubmitClinic(ctx, registration())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	approved, err := e.wf.ApproveClinic(ctx, res.Value.ID, e.admin)
	require.NoError(t, err, "state transition commits regardless of delivery")
	assert.Len(t, approved.Warnings, 1)
	assert.Len(t, approved.Notifications, 1)

	got, err := e.wf.GetClinic(ctx, res.Value.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationStatusVerified, got.VerificationStatus)
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 2)
}

func TestErrorsPassThroughUnchanged(t *testing.T) {
	dispatcher := new(mockDispatcher)
	e := newEnv(t, dispatcher)
	ctx := context.Background()

	_, err := e.wf.ApproveClinic(ctx, uuid.New(), e.admin)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	_, err = e.wf.SuspendStaff(ctx, uuid.New(), e.admin)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	_, err = e.wf.DeclineInvitation(ctx, "unknown-token")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestStaffLifecycleNotifications(t *testing.T) {
	e := outboxEnv(t)
	ctx := context.Background()
	clinic := e.submit(t)
	invited, err := e.wf.InviteStaff(ctx, clinic.ID, e.admin, model.Invitee{
		WorkEmail: "jane@clinic.org", FirstName: "Jane", LastName: "Doe", StaffRole: model.StaffRoleNurse,
	})
	require.NoError(t, err)
	accepted, err := e.wf.AcceptInvitation(ctx, invited.Value.Token, uuid.New())
	require.NoError(t, err)
	id := accepted.Value.ID

	suspended, err := e.wf.SuspendStaff(ctx, id, e.admin)
	require.NoError(t, err)
	assert.Equal(t, model.TemplateStaffSuspended, suspended.Notifications[0].Template)
	assert.Equal(t, "jane@clinic.org", suspended.Notifications[0].Recipient)

	reactivated, err := e.wf.ReactivateStaff(ctx, id, e.admin)
	require.NoError(t, err)
	assert.Equal(t, model.TemplateStaffReactivated, reactivated.Notifications[0].Template)

	updated, err := e.wf.UpdateStaffPermissions(ctx, id, e.admin, model.Permissions{CanEditClinicInfo: true})
	require.NoError(t, err)
	assert.True(t, updated.Value.CanEditClinicInfo)
	assert.Empty(t, updated.Notifications)

	terminated, err := e.wf.TerminateStaff(ctx, id, e.admin)
	require.NoError(t, err)
	assert.Equal(t, model.EmploymentStatusTerminated, terminated.Value.EmploymentStatus)

	_, err = e.wf.ReactivateStaff(ctx, id, e.admin)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTransition))
}
