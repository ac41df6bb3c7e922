package auth

import (
	"context"
	"time"
)

// SessionStore persists server-side session records keyed by token hash.
type SessionStore interface {
	// CreateSession returns ErrConflict when the token hash is already taken.
	CreateSession(ctx context.Context, s *Session) error
	SessionByTokenHash(ctx context.Context, tokenHash string) (Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	// DeleteSession is a no-op when nothing matches.
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteSessionsByOwner(ctx context.Context, ownerID string) (int64, error)
	// DeleteExpiredSessions removes every session with expires_at <= now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// ProfileStore persists authorization profiles, one per owner.
type ProfileStore interface {
	ProfileByOwner(ctx context.Context, ownerID string) (Profile, error)
	// CreateProfile returns ErrConflict when a profile for the owner already exists.
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p Profile) error
	TouchLogin(ctx context.Context, ownerID string, at time.Time) error
}

// IdentityStore resolves login credentials.
type IdentityStore interface {
	IdentityByEmail(ctx context.Context, email string) (IdentityRecord, error)
	CreateIdentity(ctx context.Context, rec *IdentityRecord) error
}
