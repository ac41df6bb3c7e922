package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnsureProfileCreatesDefault(t *testing.T) {
	store := newFakeStore()
	p, err := NewProvisioner(store)
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	prof, err := p.EnsureProfile(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if prof.Role != RoleUser || prof.Status != StatusActive || len(prof.Permissions) != 0 || prof.Blocked {
		t.Fatalf("unexpected default profile: %+v", prof)
	}

	again, err := p.EnsureProfile(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if again.ID != prof.ID {
		t.Fatalf("second call created a new profile: %s vs %s", again.ID, prof.ID)
	}
}

func TestEnsureProfileConcurrentCallsConverge(t *testing.T) {
	store := newFakeStore()
	p, err := NewProvisioner(store)
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Profile, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.EnsureProfile(context.Background(), "owner-1")
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("caller %d saw profile %s, want %s", i, results[i].ID, results[0].ID)
		}
	}
	if n := store.profileCount(); n != 1 {
		t.Fatalf("profiles stored = %d, want 1", n)
	}
}

func TestEnsureProfileLostRaceReadsWinner(t *testing.T) {
	store := newFakeStore()
	winner := Profile{ID: "winner", OwnerID: "owner-1", Role: RoleModerator, Status: StatusActive}
	store.createProfile = func(p *Profile) error {
		store.mu.Lock()
		store.profiles[p.OwnerID] = winner
		store.mu.Unlock()
		return ErrConflict
	}
	p, _ := NewProvisioner(store)

	prof, err := p.EnsureProfile(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if prof.ID != "winner" || prof.Role != RoleModerator {
		t.Fatalf("expected winner profile, got %+v", prof)
	}
}

func TestEnsureProfileFailsAfterSingleRetry(t *testing.T) {
	store := newFakeStore()
	reads := 0
	store.profileByOwner = func(string) (Profile, error) {
		reads++
		return Profile{}, ErrNotFound
	}
	store.createProfile = func(*Profile) error { return errors.New("connection reset") }
	p, _ := NewProvisioner(store)

	_, err := p.EnsureProfile(context.Background(), "owner-1")
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("expected ErrProvisioningFailed, got %v", err)
	}
	if reads != 2 {
		t.Fatalf("reads = %d, want initial read plus one retry", reads)
	}
}

func TestEnsureProfileRetriesTransientRead(t *testing.T) {
	store := newFakeStore()
	store.profiles["owner-1"] = Profile{ID: "p1", OwnerID: "owner-1", Role: RoleUser, Status: StatusActive}
	calls := 0
	store.profileByOwner = func(owner string) (Profile, error) {
		calls++
		if calls == 1 {
			return Profile{}, errors.New("timeout")
		}
		return store.profiles[owner], nil
	}
	p, _ := NewProvisioner(store)
	prof, err := p.EnsureProfile(context.Background(), "owner-1")
	if err != nil || prof.ID != "p1" {
		t.Fatalf("EnsureProfile = %+v, %v", prof, err)
	}
}

func TestProvisionerOptions(t *testing.T) {
	store := newFakeStore()
	stamp := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	p, err := NewProvisioner(store,
		WithProvisionerClock(func() time.Time { return stamp }),
		WithDefaultRole(RoleGuest),
	)
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}
	prof, err := p.EnsureProfile(context.Background(), "owner-7")
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if prof.Role != RoleGuest || !prof.CreatedAt.Equal(stamp) {
		t.Fatalf("options not applied: %+v", prof)
	}

	// Unknown roles leave the default untouched.
	q, _ := NewProvisioner(store, WithDefaultRole("root"))
	prof, err = q.EnsureProfile(context.Background(), "owner-8")
	if err != nil || prof.Role != RoleUser {
		t.Fatalf("EnsureProfile = %+v, %v", prof, err)
	}
}
