// Package memory provides in-process repositories with the same conditional
// write contracts as the postgres implementations.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-onboarding/internal/model"
	"github.com/jwalitptl/clinic-onboarding/internal/repository"
)

// Store holds every table behind one mutex so multi-entity writes such as
// invitation consumption are atomic.
type Store struct {
	mu          sync.Mutex
	clinics     map[uuid.UUID]model.Clinic
	invitations map[uuid.UUID]model.StaffInvitation
	memberships map[uuid.UUID]model.StaffMembership
	outbox      map[uuid.UUID]model.OutboxEvent
}

func New() *Store {
	return &Store{
		clinics:     make(map[uuid.UUID]model.Clinic),
		invitations: make(map[uuid.UUID]model.StaffInvitation),
		memberships: make(map[uuid.UUID]model.StaffMembership),
		outbox:      make(map[uuid.UUID]model.OutboxEvent),
	}
}

func (s *Store) Clinics() repository.ClinicRepository         { return clinicRepo{s} }
func (s *Store) Invitations() repository.InvitationRepository { return invitationRepo{s} }
func (s *Store) Memberships() repository.MembershipRepository { return membershipRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository          { return outboxRepo{s} }

// AddMembership seeds a membership directly. Production code only creates
// memberships through invitation consumption.
func (s *Store) AddMembership(m *model.StaffMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.ID] = *m
}

type clinicRepo struct{ s *Store }

func (r clinicRepo) Create(_ context.Context, clinic *model.Clinic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.clinics[clinic.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.clinics[clinic.ID] = *clinic
	return nil
}

func (r clinicRepo) Get(_ context.Context, id uuid.UUID) (*model.Clinic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clinics[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r clinicRepo) Transition(_ context.Context, id uuid.UUID, from []model.VerificationStatus, t model.ClinicTransition) (*model.Clinic, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.clinics[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !containsStatus(from, c.VerificationStatus) {
		return nil, repository.ErrConflict
	}
	c.VerificationStatus = t.To
	c.VerifiedBy = t.VerifiedBy
	c.VerificationNotes = t.Notes
	c.UpdatedAt = t.At
	r.s.clinics[id] = c
	return &c, nil
}

type invitationRepo struct{ s *Store }

func (r invitationRepo) CreateIfNoPending(_ context.Context, inv *model.StaffInvitation, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, existing := range r.s.invitations {
		if existing.ClinicID != inv.ClinicID || existing.Status != model.InvitationStatusPending ||
			!strings.EqualFold(existing.WorkEmail, inv.WorkEmail) {
			continue
		}
		if existing.ExpiresAt.Before(now) {
			existing.Status = model.InvitationStatusExpired
			existing.UpdatedAt = now
			r.s.invitations[id] = existing
			continue
		}
		return repository.ErrDuplicate
	}
	stored := *inv
	stored.Token = ""
	r.s.invitations[inv.ID] = stored
	return nil
}

func (r invitationRepo) Get(_ context.Context, id uuid.UUID) (*model.StaffInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inv, nil
}

func (r invitationRepo) GetByTokenHash(_ context.Context, tokenHash string) (*model.StaffInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invitations {
		if inv.TokenHash == tokenHash {
			return &inv, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r invitationRepo) ListByClinic(_ context.Context, clinicID uuid.UUID) ([]*model.StaffInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.StaffInvitation
	for _, inv := range r.s.invitations {
		if inv.ClinicID == clinicID {
			inv := inv
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvitedAt.After(out[j].InvitedAt) })
	return out, nil
}

func (r invitationRepo) RotateToken(_ context.Context, id uuid.UUID, tokenHash string, expiresAt, at time.Time) (*model.StaffInvitation, error) {
	return r.update(id, func(inv *model.StaffInvitation) bool {
		if inv.Status != model.InvitationStatusPending {
			return false
		}
		inv.TokenHash = tokenHash
		inv.ExpiresAt = expiresAt
		inv.UpdatedAt = at
		return true
	})
}

func (r invitationRepo) Cancel(_ context.Context, id uuid.UUID, at time.Time) (*model.StaffInvitation, error) {
	return r.update(id, func(inv *model.StaffInvitation) bool {
		if inv.Status != model.InvitationStatusPending {
			return false
		}
		inv.Status = model.InvitationStatusCancelled
		inv.RespondedAt = &at
		inv.UpdatedAt = at
		return true
	})
}

func (r invitationRepo) Expire(_ context.Context, id uuid.UUID, now time.Time) (*model.StaffInvitation, error) {
	return r.update(id, func(inv *model.StaffInvitation) bool {
		if inv.Status != model.InvitationStatusPending || !inv.ExpiresAt.Before(now) {
			return false
		}
		inv.Status = model.InvitationStatusExpired
		inv.UpdatedAt = now
		return true
	})
}

func (r invitationRepo) update(id uuid.UUID, apply func(*model.StaffInvitation) bool) (*model.StaffInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !apply(&inv) {
		return nil, repository.ErrConflict
	}
	r.s.invitations[id] = inv
	return &inv, nil
}

func (r invitationRepo) Consume(_ context.Context, tokenHash string, to model.InvitationStatus, now time.Time,
	build func(*model.StaffInvitation) *model.StaffMembership) (*model.StaffInvitation, *model.StaffMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		inv   model.StaffInvitation
		found bool
	)
	for _, candidate := range r.s.invitations {
		if candidate.TokenHash == tokenHash {
			inv, found = candidate, true
			break
		}
	}
	if !found {
		return nil, nil, repository.ErrNotFound
	}
	if inv.Status != model.InvitationStatusPending || inv.ExpiresAt.Before(now) {
		return nil, nil, repository.ErrConflict
	}

	inv.Status = to
	inv.RespondedAt = &now
	inv.UpdatedAt = now

	var membership *model.StaffMembership
	if build != nil {
		membership = build(&inv)
		for _, m := range r.s.memberships {
			if m.ClinicID == membership.ClinicID && m.UserID == membership.UserID &&
				m.EmploymentStatus != model.EmploymentStatusTerminated {
				return nil, nil, repository.ErrDuplicate
			}
		}
		r.s.memberships[membership.ID] = *membership
	}
	r.s.invitations[inv.ID] = inv
	return &inv, membership, nil
}

type membershipRepo struct{ s *Store }

func (r membershipRepo) Get(_ context.Context, id uuid.UUID) (*model.StaffMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memberships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r membershipRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.StaffMembership, error) {
	return r.list(func(m *model.StaffMembership) bool { return m.UserID == userID }), nil
}

func (r membershipRepo) ListByClinic(_ context.Context, clinicID uuid.UUID) ([]*model.StaffMembership, error) {
	return r.list(func(m *model.StaffMembership) bool { return m.ClinicID == clinicID }), nil
}

func (r membershipRepo) list(match func(*model.StaffMembership) bool) []*model.StaffMembership {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.StaffMembership
	for _, m := range r.s.memberships {
		m := m
		if match(&m) {
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r membershipRepo) SetEmploymentStatus(_ context.Context, id uuid.UUID, from []model.EmploymentStatus, to model.EmploymentStatus, at time.Time) (*model.StaffMembership, error) {
	return r.update(id, func(m *model.StaffMembership) bool {
		ok := false
		for _, s := range from {
			if m.EmploymentStatus == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
		m.EmploymentStatus = to
		m.UpdatedAt = at
		return true
	})
}

func (r membershipRepo) UpdatePermissions(_ context.Context, id uuid.UUID, perms model.Permissions, at time.Time) (*model.StaffMembership, error) {
	return r.update(id, func(m *model.StaffMembership) bool {
		if m.EmploymentStatus == model.EmploymentStatusTerminated {
			return false
		}
		m.Permissions = perms
		m.UpdatedAt = at
		return true
	})
}

func (r membershipRepo) update(id uuid.UUID, apply func(*model.StaffMembership) bool) (*model.StaffMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memberships[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !apply(&m) {
		return nil, repository.ErrConflict
	}
	r.s.memberships[id] = m
	return &m, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	r.s.outbox[event.ID] = *event
	return nil
}

func (r outboxRepo) ClaimPending(_ context.Context, limit int, now, staleBefore time.Time) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []model.OutboxEvent
	for _, e := range r.s.outbox {
		switch e.Status {
		case model.OutboxStatusPending, model.OutboxStatusRetry:
			if e.RetryAt != nil && e.RetryAt.After(now) {
				continue
			}
		case model.OutboxStatusProcessing:
			if !e.UpdatedAt.Before(staleBefore) {
				continue
			}
		default:
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.OutboxEvent, 0, len(due))
	for _, e := range due {
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = now
		r.s.outbox[e.ID] = e
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (r outboxRepo) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &at
	e.ErrorMessage = nil
	e.UpdatedAt = at
	r.s.outbox[id] = e
	return nil
}

func (r outboxRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.ErrorMessage = &errMsg
	e.RetryAt = retryAt
	e.UpdatedAt = at
	if retryAt != nil {
		e.Status = model.OutboxStatusRetry
		e.RetryCount++
	} else {
		e.Status = model.OutboxStatusFailed
	}
	r.s.outbox[id] = e
	return nil
}

func (r outboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}

// OutboxEvents returns a snapshot of every queued event, oldest first.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxEvent, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func containsStatus(set []model.VerificationStatus, s model.VerificationStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
