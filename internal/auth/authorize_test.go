package auth

import (
	"errors"
	"testing"
)

var allRoles = []RoleName{RoleGuest, RoleUser, RoleCreator, RoleModerator, RoleReviewer, RoleAdmin, RoleSuperAdmin}

func principalWith(roles ...RoleName) Principal {
	return NewPrincipal("id-1", Profile{ID: "p", Role: roles[0], Roles: roles, Status: StatusActive})
}

func TestHasMinimumRoleIsMonotonic(t *testing.T) {
	for _, caller := range allRoles {
		p := principalWith(caller)
		for _, required := range allRoles {
			want := RoleLevel(caller) >= RoleLevel(required)
			if got := p.HasMinimumRole(required); got != want {
				t.Fatalf("%s HasMinimumRole(%s) = %v, want %v", caller, required, got, want)
			}
		}
	}
	if principalWith(RoleSuperAdmin).HasMinimumRole("owner") {
		t.Fatal("unknown required role must be false")
	}
	if !principalWith(RoleAdmin).HasMinimumRole(RoleModerator) || principalWith(RoleAdmin).HasMinimumRole(RoleSuperAdmin) {
		t.Fatal("admin ordering broken")
	}
}

func TestPermissionLookup(t *testing.T) {
	p := NewPrincipal("id-1", Profile{Role: RoleUser, Status: StatusActive, Permissions: []PermissionID{"report:export"}})
	if !p.HasPermission(PermOrderRead) {
		t.Fatal("expected role default permission")
	}
	if !p.HasPermission("report:export") || !p.CanAccessResource("report", "export") {
		t.Fatal("expected override permission")
	}
	if p.HasPermission(PermRoleAssign) || p.CanAccessResource("role", "assign") {
		t.Fatal("unexpected admin permission")
	}
	if p.CanAccessResource("", "read") {
		t.Fatal("empty resource must be denied")
	}
}

func TestNormalizeRoles(t *testing.T) {
	legacy := NormalizeRoles(Profile{Role: RoleModerator})
	if len(legacy) != 1 || legacy[0] != RoleModerator {
		t.Fatalf("legacy role not used: %v", legacy)
	}
	multi := NormalizeRoles(Profile{Role: RoleUser, Roles: []RoleName{RoleCreator, RoleReviewer, RoleCreator, "ghost"}})
	if len(multi) != 2 || multi[0] != RoleCreator || multi[1] != RoleReviewer {
		t.Fatalf("unexpected normalized roles: %v", multi)
	}
	p := NewPrincipal("id", Profile{Role: RoleUser, Roles: []RoleName{RoleCreator, RoleReviewer}, Status: StatusActive})
	if p.Role != RoleReviewer {
		t.Fatalf("primary role = %s, want highest ranked reviewer", p.Role)
	}
}

func TestGatesAreAllowLists(t *testing.T) {
	cases := []struct {
		role                      RoleName
		admin, reviewer, creator bool
	}{
		{RoleGuest, false, false, false},
		{RoleUser, false, false, false},
		{RoleCreator, false, false, true},
		{RoleModerator, false, false, false},
		{RoleReviewer, false, true, false},
		{RoleAdmin, true, true, true},
		{RoleSuperAdmin, true, true, true},
	}
	for _, tc := range cases {
		p := principalWith(tc.role)
		if got := RequireAdmin(p) == nil; got != tc.admin {
			t.Fatalf("%s RequireAdmin = %v", tc.role, got)
		}
		if got := RequireReviewer(p) == nil; got != tc.reviewer {
			t.Fatalf("%s RequireReviewer = %v", tc.role, got)
		}
		if got := RequireCreator(p) == nil; got != tc.creator {
			t.Fatalf("%s RequireCreator = %v", tc.role, got)
		}
	}
}

func TestGatesRejectUnusableProfiles(t *testing.T) {
	blocked := NewPrincipal("id", Profile{Role: RoleAdmin, Status: StatusActive, Blocked: true})
	if err := RequireAdmin(blocked); !errors.Is(err, ErrForbidden) {
		t.Fatalf("blocked admin passed: %v", err)
	}
	suspended := NewPrincipal("id", Profile{Role: RoleAdmin, Status: StatusSuspended})
	if err := RequirePermission(suspended, PermRoleAssign); !errors.Is(err, ErrForbidden) {
		t.Fatalf("suspended admin passed: %v", err)
	}
	if err := RequirePermission(principalWith(RoleAdmin), PermRoleAssign); err != nil {
		t.Fatalf("active admin denied: %v", err)
	}
}

func TestLookupRole(t *testing.T) {
	r, ok := LookupRole(RoleReviewer)
	if !ok || r.Name != RoleReviewer || r.Level != 2 {
		t.Fatalf("LookupRole(reviewer) = %+v, %v", r, ok)
	}
	if _, ok := LookupRole("root"); ok {
		t.Fatal("unknown role resolved")
	}
	if RoleLevel("root") != -1 || DefaultPermissions("root") != nil {
		t.Fatal("unknown role must have no level and no permissions")
	}
}
