package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bazaar.org/internal/auth"
)

func TestProfileUniqueOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateProfile(ctx, &auth.Profile{ID: "p", OwnerID: "owner-1", Role: auth.RoleUser, Status: auth.StatusActive})
			if err == nil {
				created.Add(1)
			} else if !errors.Is(err, auth.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Fatalf("created %d profiles, want 1", created.Load())
	}
}

func TestProfileCopiesAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := auth.Profile{ID: "p", OwnerID: "o", Role: auth.RoleUser, Roles: []auth.RoleName{auth.RoleUser}}
	if err := s.CreateProfile(ctx, &p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	p.Roles[0] = auth.RoleAdmin
	got, _ := s.ProfileByOwner(ctx, "o")
	if got.Roles[0] != auth.RoleUser {
		t.Fatal("stored profile mutated through caller slice")
	}
}

func TestSessionsWithManager(t *testing.T) {
	s := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := auth.NewSessionManager(s, auth.WithSessionClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	ctx := context.Background()
	sess, err := m.Create(ctx, "owner-1", auth.ClientMeta{}, time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Validate(ctx, sess.Token); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	now = now.Add(time.Hour)
	n, err := m.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpired = %d, %v", n, err)
	}
}
