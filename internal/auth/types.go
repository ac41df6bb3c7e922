package auth

import (
	"fmt"
	"strings"
	"time"
)

// RoleName identifies a role in the fixed role hierarchy.
type RoleName string

const (
	RoleGuest      RoleName = "guest"
	RoleUser       RoleName = "user"
	RoleCreator    RoleName = "creator"
	RoleModerator  RoleName = "moderator"
	RoleReviewer   RoleName = "reviewer"
	RoleAdmin      RoleName = "admin"
	RoleSuperAdmin RoleName = "super_admin"
)

// ParseRole normalizes s and rejects names outside the role table.
func ParseRole(s string) (RoleName, error) {
	name := RoleName(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleTable[name]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return name, nil
}

// Valid reports whether r is part of the role table.
func (r RoleName) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

// Role groups a hierarchy level with its default permission set.
type Role struct {
	Name        RoleName
	Level       int
	Permissions []PermissionID
}

// Status is the lifecycle state of an authorization profile.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

var statusTransitions = map[Status][]Status{
	StatusActive:    {StatusInactive, StatusSuspended, StatusDeleted},
	StatusInactive:  {StatusActive, StatusDeleted},
	StatusSuspended: {StatusActive, StatusDeleted},
	StatusDeleted:   nil,
}

// ParseStatus rejects any value outside the closed status set.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusTransitions[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same state is always allowed except for unknown states.
func (s Status) CanTransition(next Status) bool {
	allowed, ok := statusTransitions[s]
	if !ok {
		return false
	}
	if s == next {
		return true
	}
	for _, candidate := range allowed {
		if candidate == next {
			return true
		}
	}
	return false
}

// Session is a server-side record backing an opaque bearer token.
// Token is only populated on the value returned by SessionManager.Create;
// stores persist TokenHash.
type Session struct {
	ID         string
	Token      string
	TokenHash  string
	OwnerID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	IPAddress  string
	UserAgent  string
}

// ValidAt reports whether the session is still usable at now.
func (s Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Profile carries the authorization state of one identity.
type Profile struct {
	ID          string
	OwnerID     string
	Role        RoleName
	Roles       []RoleName
	Permissions []PermissionID
	Status      Status
	Blocked     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// IdentityRecord is the long-lived credential an operator logs in with.
type IdentityRecord struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// ClientMeta describes the client a request came from. Empty fields are unknown.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}
