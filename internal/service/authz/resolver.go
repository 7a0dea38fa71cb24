package authz

import (
	"context"
	"fmt"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
	"github.com/jwalitptl/clinic-onboarding/pkg/auth"
)

// Resolver builds the Actor for an authenticated principal from the
// memberships the principal holds.
type Resolver struct {
	memberships repository.MembershipRepository
}

func NewResolver(memberships repository.MembershipRepository) *Resolver {
	return &Resolver{memberships: memberships}
}

func (r *Resolver) Resolve(ctx context.Context, p *auth.Principal) (*model.Actor, error) {
	memberships, err := r.memberships.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	return model.NewActor(p.UserID, p.PlatformAdmin, memberships), nil
}
