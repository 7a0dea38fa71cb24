// Package authz holds the single authorization policy every mutating
// lifecycle operation consults.
package authz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
)

// Authorize reports whether actor may perform action on clinicID. Platform
// admins may do anything; everyone else needs an active membership on the
// clinic whose matching flag is set. It has no side effects.
func Authorize(actor *model.Actor, action model.Action, clinicID uuid.UUID) bool {
	if actor == nil || !action.Valid() {
		return false
	}
	if actor.PlatformAdmin {
		return true
	}
	grant, ok := actor.Grants[clinicID]
	if !ok || grant.EmploymentStatus != model.EmploymentStatusActive {
		return false
	}
	return grant.Permissions.Allows(action)
}

// Require is Authorize returning an Unauthorized error on denial.
func Require(actor *model.Actor, action model.Action, clinicID uuid.UUID) error {
	if Authorize(actor, action, clinicID) {
		return nil
	}
	return apperrors.Unauthorized(fmt.Sprintf("%s is not permitted on clinic %s", action, clinicID))
}

// RequireGrant rejects perms when a non-admin actor would hand out a
// gate-backed flag it does not hold on clinicID itself.
func RequireGrant(actor *model.Actor, clinicID uuid.UUID, perms model.Permissions) error {
	if actor != nil && actor.PlatformAdmin {
		return nil
	}
	var held model.Permissions
	if actor != nil {
		if grant, ok := actor.Grants[clinicID]; ok && grant.EmploymentStatus == model.EmploymentStatusActive {
			held = grant.Permissions
		}
	}
	if perms.Exceeds(held) {
		return apperrors.Unauthorized(fmt.Sprintf("cannot grant permissions beyond your own on clinic %s", clinicID))
	}
	return nil
}
