package model

import (
	"time"

	"github.com/google/uuid"
)

type EmploymentStatus string

const (
	EmploymentStatusActive     EmploymentStatus = "active"
	EmploymentStatusSuspended  EmploymentStatus = "suspended"
	EmploymentStatusTerminated EmploymentStatus = "terminated"
)

type StaffMembership struct {
	Base
	ClinicID         uuid.UUID        `db:"clinic_id" json:"clinic_id"`
	UserID           uuid.UUID        `db:"user_id" json:"user_id"`
	InvitationID     uuid.UUID        `db:"invitation_id" json:"invitation_id"`
	WorkEmail        string           `db:"work_email" json:"work_email"`
	StaffRole        StaffRole        `db:"staff_role" json:"staff_role"`
	EmploymentStatus EmploymentStatus `db:"employment_status" json:"employment_status"`
	Permissions
}

// MembershipFromInvitation builds the membership created when userID
// accepts inv. Role and flags are copied verbatim from the invitation row
// that won the consumption, never re-derived.
func MembershipFromInvitation(inv *StaffInvitation, userID uuid.UUID, at time.Time) *StaffMembership {
	return &StaffMembership{
		Base: Base{
			ID:        uuid.New(),
			CreatedAt: at,
			UpdatedAt: at,
		},
		ClinicID:         inv.ClinicID,
		UserID:           userID,
		InvitationID:     inv.ID,
		WorkEmail:        inv.WorkEmail,
		StaffRole:        inv.StaffRole,
		EmploymentStatus: EmploymentStatusActive,
		Permissions:      inv.Permissions,
	}
}
