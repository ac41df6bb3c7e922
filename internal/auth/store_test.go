package auth

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-package SessionStore/ProfileStore/IdentityStore with
// optional failure hooks.
type fakeStore struct {
	mu         sync.Mutex
	sessions   map[string]Session
	profiles   map[string]Profile
	identities map[string]IdentityRecord

	touchErr       error
	createProfile  func(p *Profile) error
	profileByOwner func(ownerID string) (Profile, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   make(map[string]Session),
		profiles:   make(map[string]Profile),
		identities: make(map[string]IdentityRecord),
	}
}

func (f *fakeStore) CreateSession(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.TokenHash]; ok {
		return ErrConflict
	}
	stored := *s
	stored.Token = ""
	f.sessions[s.TokenHash] = stored
	return nil
}

func (f *fakeStore) SessionByTokenHash(_ context.Context, hash string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[hash]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) TouchSession(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	for k, s := range f.sessions {
		if s.ID == id {
			s.LastUsedAt = at
			f.sessions[k] = s
		}
	}
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, hash)
	return nil
}

func (f *fakeStore) DeleteSessionsByOwner(_ context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.sessions {
		if s.OwnerID == ownerID {
			delete(f.sessions, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.sessions {
		if !s.ExpiresAt.After(now) {
			delete(f.sessions, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ProfileByOwner(_ context.Context, ownerID string) (Profile, error) {
	if f.profileByOwner != nil {
		return f.profileByOwner(ownerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[ownerID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) CreateProfile(_ context.Context, p *Profile) error {
	if f.createProfile != nil {
		if err := f.createProfile(p); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[p.OwnerID]; ok {
		return ErrConflict
	}
	f.profiles[p.OwnerID] = *p
	return nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, p Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[p.OwnerID]; !ok {
		return ErrNotFound
	}
	f.profiles[p.OwnerID] = p
	return nil
}

func (f *fakeStore) TouchLogin(_ context.Context, ownerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[ownerID]
	if !ok {
		return ErrNotFound
	}
	p.LastLoginAt = &at
	f.profiles[ownerID] = p
	return nil
}

func (f *fakeStore) IdentityByEmail(_ context.Context, email string) (IdentityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.identities[email]
	if !ok {
		return IdentityRecord{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) CreateIdentity(_ context.Context, rec *IdentityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.identities[rec.Email]; ok {
		return ErrConflict
	}
	f.identities[rec.Email] = *rec
	return nil
}

func (f *fakeStore) profileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
