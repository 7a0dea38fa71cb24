package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type InvitationStatus string

const (
	InvitationStatusPending   InvitationStatus = "pending"
	InvitationStatusAccepted  InvitationStatus = "accepted"
	InvitationStatusDeclined  InvitationStatus = "declined"
	InvitationStatusCancelled InvitationStatus = "cancelled"
	InvitationStatusExpired   InvitationStatus = "expired"
)

type StaffInvitation struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	ClinicID  uuid.UUID        `db:"clinic_id" json:"clinic_id"`
	WorkEmail string           `db:"work_email" json:"work_email"`
	FirstName string           `db:"first_name" json:"first_name"`
	LastName  string           `db:"last_name" json:"last_name"`
	StaffRole StaffRole        `db:"staff_role" json:"staff_role"`
	Status    InvitationStatus `db:"status" json:"status"`
	Permissions

	// TokenHash is what the store keeps; Token is the plaintext secret and
	// is only populated on the response that issued or rotated it.
	TokenHash string `db:"token_hash" json:"-"`
	Token     string `db:"-" json:"token,omitempty"`

	InvitedBy   *uuid.UUID `db:"invited_by" json:"invited_by,omitempty"`
	InvitedAt   time.Time  `db:"invited_at" json:"invited_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	RespondedAt *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// PastExpiry reports whether a pending invitation has outlived expires_at.
func (i *StaffInvitation) PastExpiry(now time.Time) bool {
	return i.Status == InvitationStatusPending && now.After(i.ExpiresAt)
}

// Invitee holds the prospective employee's details and proposed grants.
type Invitee struct {
	WorkEmail   string      `json:"work_email" validate:"required,email"`
	FirstName   string      `json:"first_name" validate:"required,max=100"`
	LastName    string      `json:"last_name" validate:"required,max=100"`
	StaffRole   StaffRole   `json:"staff_role" validate:"required,oneof=administrator doctor nurse pharmacist receptionist technician"`
	Permissions Permissions `json:"permissions"`
}

// Normalize returns a copy with names trimmed and the email lower-cased.
// Validation runs on the normalized copy so blank-after-trim fields fail
// required.
func (i Invitee) Normalize() Invitee {
	i.WorkEmail = NormalizeEmail(i.WorkEmail)
	i.FirstName = strings.TrimSpace(i.FirstName)
	i.LastName = strings.TrimSpace(i.LastName)
	i.StaffRole = StaffRole(strings.TrimSpace(string(i.StaffRole)))
	return i
}

// NormalizeEmail is the canonical form used for storage and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
