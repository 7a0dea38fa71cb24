package model

import "github.com/google/uuid"

// Actor is the authenticated caller as seen by the authorization gate.
type Actor struct {
	UserID        uuid.UUID
	PlatformAdmin bool
	// Grants is keyed by clinic id.
	Grants map[uuid.UUID]Grant
}

type Grant struct {
	MembershipID     uuid.UUID
	EmploymentStatus EmploymentStatus
	Permissions      Permissions
}

func NewActor(userID uuid.UUID, platformAdmin bool, memberships []*StaffMembership) *Actor {
	a := &Actor{
		UserID:        userID,
		PlatformAdmin: platformAdmin,
		Grants:        make(map[uuid.UUID]Grant, len(memberships)),
	}
	for _, m := range memberships {
		if m.EmploymentStatus == EmploymentStatusTerminated {
			continue
		}
		a.Grants[m.ClinicID] = Grant{
			MembershipID:     m.ID,
			EmploymentStatus: m.EmploymentStatus,
			Permissions:      m.Permissions,
		}
	}
	return a
}
