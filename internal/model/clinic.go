package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusInReview VerificationStatus = "in_review"
	VerificationStatusVerified VerificationStatus = "verified"
	VerificationStatusRejected VerificationStatus = "rejected"
)

type Clinic struct {
	Base
	Name               string             `db:"name" json:"name"`
	Location           string             `db:"location" json:"location"`
	ContactEmail       string             `db:"contact_email" json:"contact_email"`
	VerificationStatus VerificationStatus `db:"verification_status" json:"verification_status"`
	VerifiedBy         *uuid.UUID         `db:"verified_by" json:"verified_by,omitempty"`
	VerificationNotes  string             `db:"verification_notes" json:"verification_notes,omitempty"`
}

// ClinicRegistration is the data a prospective clinic submits. ClinicID is
// only set when a client retries a submission it already made.
type ClinicRegistration struct {
	ClinicID     *uuid.UUID  `json:"clinic_id,omitempty"`
	Name         string      `json:"name" validate:"required,max=200"`
	Location     string      `json:"location" validate:"required,max=500"`
	ContactEmail string      `json:"contact_email" validate:"required,email"`
	Owner        ClinicOwner `json:"owner"`
}

// ClinicOwner is the person invited to administer the clinic once it is
// registered. The owner invitation always carries full permissions.
type ClinicOwner struct {
	WorkEmail string `json:"work_email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

// Normalize returns a copy with free-text fields trimmed and emails in
// canonical form.
func (r ClinicRegistration) Normalize() ClinicRegistration {
	r.Name = strings.TrimSpace(r.Name)
	r.Location = strings.TrimSpace(r.Location)
	r.ContactEmail = NormalizeEmail(r.ContactEmail)
	r.Owner.WorkEmail = NormalizeEmail(r.Owner.WorkEmail)
	r.Owner.FirstName = strings.TrimSpace(r.Owner.FirstName)
	r.Owner.LastName = strings.TrimSpace(r.Owner.LastName)
	return r
}

// Invitee returns the owner as an administrator invitee with full permissions.
func (o ClinicOwner) Invitee() Invitee {
	return Invitee{
		WorkEmail:   o.WorkEmail,
		FirstName:   o.FirstName,
		LastName:    o.LastName,
		StaffRole:   StaffRoleAdministrator,
		Permissions: FullPermissions(),
	}
}

// ClinicTransition describes the fields written by a verification status change.
type ClinicTransition struct {
	To         VerificationStatus
	VerifiedBy *uuid.UUID
	Notes      string
	At         time.Time
}
