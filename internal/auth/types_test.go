package auth

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusActive, StatusSuspended}:   true,
		{StatusActive, StatusInactive}:    true,
		{StatusActive, StatusDeleted}:     true,
		{StatusSuspended, StatusActive}:   true,
		{StatusInactive, StatusActive}:    true,
		{StatusInactive, StatusSuspended}: false,
		{StatusDeleted, StatusActive}:     false,
		{StatusDeleted, StatusDeleted}:    true,
	}
	for pair, want := range allowed {
		if got := pair[0].CanTransition(pair[1]); got != want {
			t.Fatalf("%s -> %s = %v, want %v", pair[0], pair[1], got, want)
		}
	}
	if Status("banned").CanTransition(StatusActive) {
		t.Fatal("unknown status must not transition")
	}
}

func TestParseStatusAndRole(t *testing.T) {
	if st, err := ParseStatus(" Suspended "); err != nil || st != StatusSuspended {
		t.Fatalf("ParseStatus = %q, %v", st, err)
	}
	if _, err := ParseStatus("banned"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if r, err := ParseRole("SUPER_ADMIN"); err != nil || r != RoleSuperAdmin {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("root"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("order:manage")
	if err != nil || p.Resource != "order" || p.Action != "manage" || p.ID() != PermOrderManage {
		t.Fatalf("ParsePermission = %+v, %v", p, err)
	}
	for _, bad := range []string{"", "order", ":manage", "order:", "a:b:c"} {
		if _, err := ParsePermission(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ParsePermission(%q) accepted", bad)
		}
	}
}
