// Package memory is an in-process credential store for development mode and
// tests. It enforces the same uniqueness rules as the Postgres schema.
package memory

import (
	"context"
	"sync"
	"time"

	"bazaar.org/internal/auth"
)

// Store implements auth.SessionStore, auth.ProfileStore and auth.IdentityStore.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]auth.Session // by token hash
	profiles   map[string]auth.Profile // by owner id
	identities map[string]auth.IdentityRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:   make(map[string]auth.Session),
		profiles:   make(map[string]auth.Profile),
		identities: make(map[string]auth.IdentityRecord),
	}
}

func (s *Store) CreateSession(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.TokenHash]; ok {
		return auth.ErrConflict
	}
	stored := *sess
	stored.Token = ""
	s.sessions[sess.TokenHash] = stored
	return nil
}

func (s *Store) SessionByTokenHash(_ context.Context, hash string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[hash]
	if !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	return sess, nil
}

func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, sess := range s.sessions {
		if sess.ID == id {
			sess.LastUsedAt = at
			s.sessions[hash] = sess
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteSession(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, hash)
	return nil
}

func (s *Store) DeleteSessionsByOwner(_ context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) ProfileByOwner(_ context.Context, ownerID string) (auth.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[ownerID]
	if !ok {
		return auth.Profile{}, auth.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *Store) CreateProfile(_ context.Context, p *auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.OwnerID]; ok {
		return auth.ErrConflict
	}
	s.profiles[p.OwnerID] = cloneProfile(*p)
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, p auth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.OwnerID]; !ok {
		return auth.ErrNotFound
	}
	s.profiles[p.OwnerID] = cloneProfile(p)
	return nil
}

func (s *Store) TouchLogin(_ context.Context, ownerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[ownerID]
	if !ok {
		return auth.ErrNotFound
	}
	p.LastLoginAt = &at
	s.profiles[ownerID] = p
	return nil
}

func (s *Store) IdentityByEmail(_ context.Context, email string) (auth.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.identities[email]
	if !ok {
		return auth.IdentityRecord{}, auth.ErrNotFound
	}
	return rec, nil
}

func (s *Store) CreateIdentity(_ context.Context, rec *auth.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[rec.Email]; ok {
		return auth.ErrConflict
	}
	s.identities[rec.Email] = *rec
	return nil
}

// Ping satisfies the readiness probe.
func (s *Store) Ping(context.Context) error { return nil }

func cloneProfile(p auth.Profile) auth.Profile {
	p.Roles = append([]auth.RoleName(nil), p.Roles...)
	p.Permissions = append([]auth.PermissionID(nil), p.Permissions...)
	if p.LastLoginAt != nil {
		at := *p.LastLoginAt
		p.LastLoginAt = &at
	}
	return p
}
