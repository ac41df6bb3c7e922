package auth

import (
	"fmt"
	"strings"
)

// PermissionID names a capability as "resource:action".
type PermissionID string

const (
	PermContentRead    PermissionID = "content:read"
	PermContentCreate  PermissionID = "content:create"
	PermContentUpdate  PermissionID = "content:update"
	PermContentDelete  PermissionID = "content:delete"
	PermContentReview  PermissionID = "content:review"
	PermProductRead    PermissionID = "product:read"
	PermProductCreate  PermissionID = "product:create"
	PermProductReview  PermissionID = "product:review"
	PermOrderRead      PermissionID = "order:read"
	PermOrderManage    PermissionID = "order:manage"
	PermSolutionSubmit PermissionID = "solution:submit"
	PermUserRead       PermissionID = "user:read"
	PermUserUpdate     PermissionID = "user:update"
	PermUserModerate   PermissionID = "user:moderate"
	PermRoleAssign     PermissionID = "role:assign"
	PermSessionRevoke  PermissionID = "session:revoke"
	PermAuditRead      PermissionID = "audit:read"
	PermSystemManage   PermissionID = "system:manage"
)

// Permission is the parsed form of a PermissionID.
type Permission struct {
	Resource string
	Action   string
}

// ID renders the permission as "resource:action".
func (p Permission) ID() PermissionID {
	return PermissionID(p.Resource + ":" + p.Action)
}

// ParsePermission splits id into its resource and action parts.
func ParsePermission(id string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%w: malformed permission %q", ErrInvalidInput, id)
	}
	return Permission{Resource: resource, Action: action}, nil
}

var (
	guestPermissions = []PermissionID{PermContentRead, PermProductRead}
	userPermissions  = append(append([]PermissionID{}, guestPermissions...),
		PermOrderRead, PermSolutionSubmit, PermUserRead)
	creatorPermissions = append(append([]PermissionID{}, userPermissions...),
		PermContentCreate, PermContentUpdate, PermProductCreate)
	moderatorPermissions = append(append([]PermissionID{}, userPermissions...),
		PermContentUpdate, PermContentDelete, PermUserModerate)
	reviewerPermissions = append(append([]PermissionID{}, userPermissions...),
		PermContentReview, PermProductReview)
	adminPermissions = append(append([]PermissionID{}, userPermissions...),
		PermContentCreate, PermContentUpdate, PermContentDelete, PermContentReview,
		PermProductCreate, PermProductReview, PermOrderManage,
		PermUserUpdate, PermUserModerate, PermRoleAssign, PermSessionRevoke, PermAuditRead)
	superAdminPermissions = append(append([]PermissionID{}, adminPermissions...), PermSystemManage)
)

// roleTable is the fixed role hierarchy. Creator and reviewer are
// specializations that share a level with user and moderator.
var roleTable = map[RoleName]Role{
	RoleGuest:      {Name: RoleGuest, Level: 0, Permissions: guestPermissions},
	RoleUser:       {Name: RoleUser, Level: 1, Permissions: userPermissions},
	RoleCreator:    {Name: RoleCreator, Level: 1, Permissions: creatorPermissions},
	RoleModerator:  {Name: RoleModerator, Level: 2, Permissions: moderatorPermissions},
	RoleReviewer:   {Name: RoleReviewer, Level: 2, Permissions: reviewerPermissions},
	RoleAdmin:      {Name: RoleAdmin, Level: 3, Permissions: adminPermissions},
	RoleSuperAdmin: {Name: RoleSuperAdmin, Level: 4, Permissions: superAdminPermissions},
}

// LookupRole returns the role table entry for name.
func LookupRole(name RoleName) (Role, bool) {
	r, ok := roleTable[name]
	return r, ok
}

// RoleLevel returns the hierarchy level of name, or -1 if it is unknown.
func RoleLevel(name RoleName) int {
	if r, ok := LookupRole(name); ok {
		return r.Level
	}
	return -1
}

// DefaultPermissions returns a copy of the default permission set of name.
func DefaultPermissions(name RoleName) []PermissionID {
	r, ok := LookupRole(name)
	if !ok {
		return nil
	}
	return append([]PermissionID(nil), r.Permissions...)
}
