package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProfileService applies privileged changes to authorization profiles.
type ProfileService struct {
	store       ProfileStore
	provisioner *Provisioner
	now         func() time.Time
}

// RoleUpdate replaces the role assignment of a profile. Role is the primary
// (legacy) role; Roles, when non-nil, replaces the multi-role list.
type RoleUpdate struct {
	Role        RoleName
	Roles       []RoleName
	Permissions []PermissionID
}

// StatusUpdate changes the lifecycle state and/or the blocked flag.
type StatusUpdate struct {
	Status  *Status
	Blocked *bool
}

// NewProfileService constructs the service.
func NewProfileService(store ProfileStore, provisioner *Provisioner) (*ProfileService, error) {
	if store == nil {
		return nil, errors.New("profile store is required")
	}
	if provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	return &ProfileService{store: store, provisioner: provisioner, now: time.Now}, nil
}

// Get returns the profile of ownerID, provisioning it if missing.
func (s *ProfileService) Get(ctx context.Context, ownerID string) (Profile, error) {
	return s.provisioner.EnsureProfile(ctx, ownerID)
}

// ChangeRole assigns roles to ownerID on behalf of actor and returns the
// profile before and after the change. Nobody may grant a role that ranks
// above their own or a permission they do not hold. Without Roles the
// multi-role list is cleared so that Role becomes effective.
func (s *ProfileService) ChangeRole(ctx context.Context, actor Principal, ownerID string, upd RoleUpdate) (Profile, Profile, error) {
	if err := RequireAdmin(actor); err != nil {
		return Profile{}, Profile{}, err
	}
	if !upd.Role.Valid() {
		return Profile{}, Profile{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, upd.Role)
	}
	granted := append([]RoleName{upd.Role}, upd.Roles...)
	for _, r := range granted {
		if !r.Valid() {
			return Profile{}, Profile{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, r)
		}
		if RoleLevel(r) > actor.Level() {
			return Profile{}, Profile{}, fmt.Errorf("%w: cannot grant %s", ErrForbidden, r)
		}
	}
	for _, perm := range upd.Permissions {
		if _, err := ParsePermission(string(perm)); err != nil {
			return Profile{}, Profile{}, err
		}
		if !actor.HasPermission(perm) {
			return Profile{}, Profile{}, fmt.Errorf("%w: cannot grant %s", ErrForbidden, perm)
		}
	}

	before, err := s.Get(ctx, ownerID)
	if err != nil {
		return Profile{}, Profile{}, err
	}
	if outranks(ownerID, before, actor) {
		return before, Profile{}, fmt.Errorf("%w: target outranks actor", ErrForbidden)
	}

	after := before
	after.Role = upd.Role
	after.Roles = nil
	if upd.Roles != nil {
		after.Roles = append([]RoleName(nil), upd.Roles...)
	}
	if upd.Permissions != nil {
		after.Permissions = append([]PermissionID(nil), upd.Permissions...)
	}
	after.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, after); err != nil {
		return before, Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return before, after, nil
}

// SetStatus moves ownerID through the status lifecycle on behalf of actor.
func (s *ProfileService) SetStatus(ctx context.Context, actor Principal, ownerID string, upd StatusUpdate) (Profile, Profile, error) {
	if err := RequireAdmin(actor); err != nil {
		return Profile{}, Profile{}, err
	}
	if upd.Status == nil && upd.Blocked == nil {
		return Profile{}, Profile{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if strings.TrimSpace(ownerID) == actor.IdentityID {
		return Profile{}, Profile{}, fmt.Errorf("%w: cannot change own status", ErrForbidden)
	}

	before, err := s.Get(ctx, ownerID)
	if err != nil {
		return Profile{}, Profile{}, err
	}
	if outranks(ownerID, before, actor) {
		return before, Profile{}, fmt.Errorf("%w: target outranks actor", ErrForbidden)
	}

	after := before
	if upd.Status != nil {
		if !before.Status.CanTransition(*upd.Status) {
			return before, Profile{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before.Status, *upd.Status)
		}
		after.Status = *upd.Status
	}
	if upd.Blocked != nil {
		after.Blocked = *upd.Blocked
	}
	after.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProfile(ctx, after); err != nil {
		return before, Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return before, after, nil
}

// outranks compares the target's effective level, which counts every role
// it holds, with the actor's.
func outranks(ownerID string, target Profile, actor Principal) bool {
	return NewPrincipal(ownerID, target).Level() > actor.Level()
}

// RecordLogin stamps the last login time of ownerID.
func (s *ProfileService) RecordLogin(ctx context.Context, ownerID string) error {
	return s.store.TouchLogin(ctx, ownerID, s.now().UTC())
}
