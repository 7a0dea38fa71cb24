package model

type NotificationTemplate string

const (
	TemplateInvitationSent      NotificationTemplate = "invitation_sent"
	TemplateInvitationAccepted  NotificationTemplate = "invitation_accepted"
	TemplateInvitationDeclined  NotificationTemplate = "invitation_declined"
	TemplateMembershipWelcome   NotificationTemplate = "membership_welcome"
	TemplateDeclineConfirmed    NotificationTemplate = "decline_confirmed"
	TemplateInvitationCancelled NotificationTemplate = "invitation_cancelled"
	TemplateClinicVerified      NotificationTemplate = "clinic_verified"
	TemplateClinicRejected      NotificationTemplate = "clinic_rejected"
	TemplateClinicReopened      NotificationTemplate = "clinic_reopened"
	TemplateStaffSuspended      NotificationTemplate = "staff_suspended"
	TemplateStaffTerminated     NotificationTemplate = "staff_terminated"
	TemplateStaffReactivated    NotificationTemplate = "staff_reactivated"
)

// NotificationRequest is a fire-and-forget delivery request produced by a
// lifecycle transition. Delivery is owned by the notification subsystem.
type NotificationRequest struct {
	Recipient string               `json:"recipient"`
	Template  NotificationTemplate `json:"template"`
	Payload   map[string]string    `json:"payload"`
}
