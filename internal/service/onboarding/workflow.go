// Package onboarding composes clinic verification, staff invitations and
// membership management into the caller-facing lifecycle operations.
package onboarding

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/service/invitation"
	"github.com/jwalitptl/clinic-onboarding/internal/service/notification"
	"github.com/jwalitptl/clinic-onboarding/internal/service/staff"
	"github.com/jwalitptl/clinic-onboarding/internal/service/verification"
	"github.com/jwalitptl/clinic-onboarding/pkg/logger"
)

// Result is the outcome of a committed operation. Notifications lists the
// side-effect requests it produced; Warnings reports the ones that could not
// be handed off. Warnings never mean the operation itself failed.
type Result[T any] struct {
	Value         T
	Notifications []model.NotificationRequest
	Warnings      []string
}

type Config struct {
	// AcceptURL is the page invitees open; the token is appended as a query parameter.
	AcceptURL string
}

type Workflow struct {
	verification *verification.Service
	invitations  *invitation.Service
	staff        *staff.Service
	dispatcher   notification.Dispatcher
	logger       *logger.Logger
	acceptURL    string
}

func NewWorkflow(
	v *verification.Service,
	inv *invitation.Service,
	st *staff.Service,
	dispatcher notification.Dispatcher,
	log *logger.Logger,
	cfg Config,
) *Workflow {
	return &Workflow{
		verification: v,
		invitations:  inv,
		staff:        st,
		dispatcher:   dispatcher,
		logger:       log,
		acceptURL:    cfg.AcceptURL,
	}
}

// SubmitClinic registers a clinic and, for a new registration, invites its
// owner as administrator with full permissions.
func (w *Workflow) SubmitClinic(ctx context.Context, reg *model.ClinicRegistration) (*Result[*model.Clinic], error) {
	clinic, created, err := w.verification.Submit(ctx, reg)
	if err != nil {
		return nil, err
	}
	res := &Result[*model.Clinic]{Value: clinic}
	if !created {
		return res, nil
	}

	owner, err := w.invitations.InviteOwner(ctx, clinic.ID, reg.Owner)
	if err != nil {
		w.logger.Warn(err, "Owner invitation not issued", "clinic_id", clinic.ID.String())
		res.Warnings = append(res.Warnings, fmt.Sprintf("owner invitation not issued: %v", err))
		return res, nil
	}
	w.notify(ctx, &res.Notifications, &res.Warnings, w.invitationSent(owner, clinic))
	return res, nil
}

func (w *Workflow) GetClinic(ctx context.Context, id uuid.UUID) (*model.Clinic, error) {
	return w.verification.Get(ctx, id)
}

func (w *Workflow) StartReview(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.Clinic], error) {
	clinic, err := w.verification.StartReview(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &Result[*model.Clinic]{Value: clinic}, nil
}

func (w *Workflow) ApproveClinic(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.Clinic], error) {
	clinic, err := w.verification.Approve(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return w.clinicResult(ctx, clinic, model.TemplateClinicVerified), nil
}

func (w *Workflow) RejectClinic(ctx context.Context, id uuid.UUID, actor *model.Actor, notes string) (*Result[*model.Clinic], error) {
	clinic, err := w.verification.Reject(ctx, id, actor, notes)
	if err != nil {
		return nil, err
	}
	return w.clinicResult(ctx, clinic, model.TemplateClinicRejected), nil
}

func (w *Workflow) ReopenClinic(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.Clinic], error) {
	clinic, err := w.verification.Reopen(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return w.clinicResult(ctx, clinic, model.TemplateClinicReopened), nil
}

func (w *Workflow) clinicResult(ctx context.Context, clinic *model.Clinic, tmpl model.NotificationTemplate) *Result[*model.Clinic] {
	res := &Result[*model.Clinic]{Value: clinic}
	w.notify(ctx, &res.Notifications, &res.Warnings, model.NotificationRequest{
		Recipient: clinic.ContactEmail,
		Template:  tmpl,
		Payload: map[string]string{
			"clinic_id":   clinic.ID.String(),
			"clinic_name": clinic.Name,
			"status":      string(clinic.VerificationStatus),
			"notes":       clinic.VerificationNotes,
		},
	})
	return res
}

func (w *Workflow) InviteStaff(ctx context.Context, clinicID uuid.UUID, actor *model.Actor, invitee model.Invitee) (*Result[*model.StaffInvitation], error) {
	inv, err := w.invitations.Invite(ctx, clinicID, actor, invitee)
	if err != nil {
		return nil, err
	}
	return w.sentResult(ctx, inv), nil
}

func (w *Workflow) ResendInvitation(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.StaffInvitation], error) {
	inv, err := w.invitations.Resend(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return w.sentResult(ctx, inv), nil
}

func (w *Workflow) sentResult(ctx context.Context, inv *model.StaffInvitation) *Result[*model.StaffInvitation] {
	res := &Result[*model.StaffInvitation]{Value: inv}
	clinic := w.clinicFor(ctx, inv.ClinicID, &res.Warnings)
	w.notify(ctx, &res.Notifications, &res.Warnings, w.invitationSent(inv, clinic))
	return res
}

func (w *Workflow) CancelInvitation(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.StaffInvitation], error) {
	inv, err := w.invitations.Cancel(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	res := &Result[*model.StaffInvitation]{Value: inv}
	clinic := w.clinicFor(ctx, inv.ClinicID, &res.Warnings)
	w.notify(ctx, &res.Notifications, &res.Warnings, model.NotificationRequest{
		Recipient: inv.WorkEmail,
		Template:  model.TemplateInvitationCancelled,
		Payload:   invitationPayload(inv, clinic),
	})
	return res, nil
}

func (w *Workflow) ResolveInvitation(ctx context.Context, token string) (*Result[*model.StaffInvitation], error) {
	inv, err := w.invitations.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Result[*model.StaffInvitation]{Value: inv}, nil
}

func (w *Workflow) AcceptInvitation(ctx context.Context, token string, userID uuid.UUID) (*Result[*model.StaffMembership], error) {
	inv, membership, err := w.invitations.Accept(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	res := &Result[*model.StaffMembership]{Value: membership}
	w.respondedNotice(ctx, inv, model.TemplateInvitationAccepted, model.TemplateMembershipWelcome, &res.Notifications, &res.Warnings)
	return res, nil
}

func (w *Workflow) DeclineInvitation(ctx context.Context, token string) (*Result[*model.StaffInvitation], error) {
	inv, err := w.invitations.Decline(ctx, token)
	if err != nil {
		return nil, err
	}
	res := &Result[*model.StaffInvitation]{Value: inv}
	w.respondedNotice(ctx, inv, model.TemplateInvitationDeclined, model.TemplateDeclineConfirmed, &res.Notifications, &res.Warnings)
	return res, nil
}

// respondedNotice tells the clinic, through its contact address, how the
// invitee answered, and sends the invitee a confirmation at the invited
// work address.
func (w *Workflow) respondedNotice(ctx context.Context, inv *model.StaffInvitation, clinicTmpl, inviteeTmpl model.NotificationTemplate, sent *[]model.NotificationRequest, warnings *[]string) {
	clinic := w.clinicFor(ctx, inv.ClinicID, warnings)
	if clinic == nil {
		return
	}
	payload := invitationPayload(inv, clinic)
	w.notify(ctx, sent, warnings, model.NotificationRequest{
		Recipient: clinic.ContactEmail,
		Template:  clinicTmpl,
		Payload:   payload,
	})
	w.notify(ctx, sent, warnings, model.NotificationRequest{
		Recipient: inv.WorkEmail,
		Template:  inviteeTmpl,
		Payload:   payload,
	})
}

func (w *Workflow) ListInvitations(ctx context.Context, clinicID uuid.UUID, actor *model.Actor) ([]*model.StaffInvitation, error) {
	return w.invitations.List(ctx, clinicID, actor)
}

func (w *Workflow) SuspendStaff(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.StaffMembership], error) {
	m, err := w.staff.Suspend(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return w.staffResult(ctx, m, model.TemplateStaffSuspended), nil
}

func (w *Workflow) TerminateStaff(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.StaffMembership], error) {
	m, err := w.staff.Terminate(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return w.staffResult(ctx, m, model.TemplateStaffTerminated), nil
}

func (w *Workflow) ReactivateStaff(ctx context.Context, id uuid.UUID, actor *model.Actor) (*Result[*model.StaffMembership], error) {
	m, err := w.staff.Reactivate(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return w.staffResult(ctx, m, model.TemplateStaffReactivated), nil
}

func (w *Workflow) UpdateStaffPermissions(ctx context.Context, id uuid.UUID, actor *model.Actor, perms model.Permissions) (*Result[*model.StaffMembership], error) {
	m, err := w.staff.UpdatePermissions(ctx, id, actor, perms)
	if err != nil {
		return nil, err
	}
	return &Result[*model.StaffMembership]{Value: m}, nil
}

func (w *Workflow) ListStaff(ctx context.Context, clinicID uuid.UUID, actor *model.Actor) ([]*model.StaffMembership, error) {
	return w.staff.List(ctx, clinicID, actor)
}

func (w *Workflow) GetStaff(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.StaffMembership, error) {
	return w.staff.Get(ctx, id, actor)
}

func (w *Workflow) staffResult(ctx context.Context, m *model.StaffMembership, tmpl model.NotificationTemplate) *Result[*model.StaffMembership] {
	res := &Result[*model.StaffMembership]{Value: m}
	payload := map[string]string{
		"membership_id":     m.ID.String(),
		"employment_status": string(m.EmploymentStatus),
	}
	if clinic := w.clinicFor(ctx, m.ClinicID, &res.Warnings); clinic != nil {
		payload["clinic_name"] = clinic.Name
	}
	w.notify(ctx, &res.Notifications, &res.Warnings, model.NotificationRequest{
		Recipient: m.WorkEmail,
		Template:  tmpl,
		Payload:   payload,
	})
	return res
}

func (w *Workflow) invitationSent(inv *model.StaffInvitation, clinic *model.Clinic) model.NotificationRequest {
	payload := invitationPayload(inv, clinic)
	payload["token"] = inv.Token
	payload["accept_url"] = w.acceptLink(inv.Token)
	payload["expires_at"] = inv.ExpiresAt.Format(time.RFC3339)
	return model.NotificationRequest{
		Recipient: inv.WorkEmail,
		Template:  model.TemplateInvitationSent,
		Payload:   payload,
	}
}

func (w *Workflow) acceptLink(token string) string {
	if w.acceptURL == "" {
		return ""
	}
	u, err := url.Parse(w.acceptURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func invitationPayload(inv *model.StaffInvitation, clinic *model.Clinic) map[string]string {
	payload := map[string]string{
		"invitation_id": inv.ID.String(),
		"clinic_id":     inv.ClinicID.String(),
		"work_email":    inv.WorkEmail,
		"first_name":    inv.FirstName,
		"last_name":     inv.LastName,
		"staff_role":    string(inv.StaffRole),
		"status":        string(inv.Status),
	}
	if clinic != nil {
		payload["clinic_name"] = clinic.Name
	}
	return payload
}

// clinicFor loads the clinic for notification content. A failure only
// degrades the notification, so it becomes a warning.
func (w *Workflow) clinicFor(ctx context.Context, id uuid.UUID, warnings *[]string) *model.Clinic {
	clinic, err := w.verification.Get(ctx, id)
	if err != nil {
		w.logger.Warn(err, "Clinic lookup for notification failed", "clinic_id", id.String())
		*warnings = append(*warnings, fmt.Sprintf("clinic details unavailable for notification: %v", err))
		return nil
	}
	return clinic
}

// notify records req and hands it to the dispatcher. A dispatch failure is
// logged and reported as a warning; committed state is never rolled back.
func (w *Workflow) notify(ctx context.Context, sent *[]model.NotificationRequest, warnings *[]string, req model.NotificationRequest) {
	*sent = append(*sent, req)
	if err := w.dispatcher.Dispatch(ctx, req); err != nil {
		w.logger.Warn(err, "Notification dispatch failed", "template", string(req.Template))
		*warnings = append(*warnings, fmt.Sprintf("notification %s to %s was not dispatched", req.Template, req.Recipient))
	}
}
