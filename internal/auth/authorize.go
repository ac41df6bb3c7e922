package auth

import "fmt"

// Principal is an authenticated caller with a resolved role and permission set.
type Principal struct {
	IdentityID  string
	SessionID   string
	ProfileID   string
	Role        RoleName
	Roles       []RoleName
	Permissions map[PermissionID]struct{}
	Status      Status
	Blocked     bool
}

// NewPrincipal resolves the effective roles and permissions of profile.
// The effective permission set is the union of every role's defaults and
// the profile's own overrides.
func NewPrincipal(identityID string, profile Profile) Principal {
	roles := NormalizeRoles(profile)
	set := make(map[PermissionID]struct{})
	for _, r := range roles {
		for _, perm := range DefaultPermissions(r) {
			set[perm] = struct{}{}
		}
	}
	for _, perm := range profile.Permissions {
		set[perm] = struct{}{}
	}
	return Principal{
		IdentityID:  identityID,
		ProfileID:   profile.ID,
		Role:        primaryRole(profile.Role, roles),
		Roles:       roles,
		Permissions: set,
		Status:      profile.Status,
		Blocked:     profile.Blocked,
	}
}

// NormalizeRoles returns the profile's role set. The multi-role list wins
// when present; otherwise the legacy single role is used. Unknown names and
// duplicates are dropped.
func NormalizeRoles(profile Profile) []RoleName {
	src := profile.Roles
	if len(src) == 0 {
		src = []RoleName{profile.Role}
	}
	out := make([]RoleName, 0, len(src))
	seen := make(map[RoleName]struct{}, len(src))
	for _, r := range src {
		if !r.Valid() {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func primaryRole(legacy RoleName, roles []RoleName) RoleName {
	for _, r := range roles {
		if r == legacy {
			return legacy
		}
	}
	best := RoleName("")
	for _, r := range roles {
		if best == "" || RoleLevel(r) > RoleLevel(best) {
			best = r
		}
	}
	return best
}

// HasPermission reports whether the principal holds id.
func (p Principal) HasPermission(id PermissionID) bool {
	_, ok := p.Permissions[id]
	return ok
}

// CanAccessResource reports whether the principal may perform action on resource.
func (p Principal) CanAccessResource(resource, action string) bool {
	if resource == "" || action == "" {
		return false
	}
	return p.HasPermission(Permission{Resource: resource, Action: action}.ID())
}

// HasRole reports whether name is in the principal's role set.
func (p Principal) HasRole(name RoleName) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Level is the highest hierarchy level across the principal's roles.
func (p Principal) Level() int {
	level := -1
	for _, r := range p.Roles {
		if l := RoleLevel(r); l > level {
			level = l
		}
	}
	return level
}

// HasMinimumRole reports whether the principal ranks at or above required.
func (p Principal) HasMinimumRole(required RoleName) bool {
	need := RoleLevel(required)
	if need < 0 {
		return false
	}
	return p.Level() >= need
}

// Usable reports whether the profile may pass any gate.
func (p Principal) Usable() bool {
	return p.Status == StatusActive && !p.Blocked
}

var (
	adminRoles    = []RoleName{RoleAdmin, RoleSuperAdmin}
	reviewerRoles = []RoleName{RoleReviewer, RoleAdmin, RoleSuperAdmin}
	creatorRoles  = []RoleName{RoleCreator, RoleAdmin, RoleSuperAdmin}
)

// IsAdmin is the admin allow-list check.
func IsAdmin(p Principal) bool { return hasAnyRole(p, adminRoles) }

// IsReviewer is satisfied by the reviewer role or any admin role.
func IsReviewer(p Principal) bool { return hasAnyRole(p, reviewerRoles) }

// IsCreator is satisfied by the creator role or any admin role.
func IsCreator(p Principal) bool { return hasAnyRole(p, creatorRoles) }

func hasAnyRole(p Principal, allowed []RoleName) bool {
	for _, r := range allowed {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// RequireRoles gates on an explicit allow-list. An inactive or blocked
// profile never passes.
func RequireRoles(p Principal, allowed ...RoleName) error {
	if !p.Usable() {
		return fmt.Errorf("%w: profile is %s", ErrForbidden, describeUnusable(p))
	}
	if !hasAnyRole(p, allowed) {
		return fmt.Errorf("%w: role not allowed", ErrForbidden)
	}
	return nil
}

// RequireAdmin gates on {admin, super_admin}.
func RequireAdmin(p Principal) error { return RequireRoles(p, adminRoles...) }

// RequireReviewer gates on {reviewer, admin, super_admin}.
func RequireReviewer(p Principal) error { return RequireRoles(p, reviewerRoles...) }

// RequireCreator gates on {creator, admin, super_admin}.
func RequireCreator(p Principal) error { return RequireRoles(p, creatorRoles...) }

// RequirePermission gates on a single permission.
func RequirePermission(p Principal, id PermissionID) error {
	if !p.Usable() {
		return fmt.Errorf("%w: profile is %s", ErrForbidden, describeUnusable(p))
	}
	if !p.HasPermission(id) {
		return fmt.Errorf("%w: missing %s", ErrForbidden, id)
	}
	return nil
}

func describeUnusable(p Principal) string {
	if p.Blocked {
		return "blocked"
	}
	return string(p.Status)
}
