package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bazaar.org/internal/ids"
	"bazaar.org/internal/obs"
)

const (
	defaultSessionTTL = 30 * 24 * time.Hour
	minTokenBytes     = 32
	createAttempts    = 3
)

// SessionManager issues and validates opaque session tokens.
type SessionManager struct {
	store      SessionStore
	now        func() time.Time
	ttl        time.Duration
	tokenBytes int
	log        zerolog.Logger
}

// SessionOption customizes the session manager.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSessionTTL sets the lifetime used when Create is called without one.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTokenBytes sets the token entropy. Values below 32 bytes are ignored.
func WithTokenBytes(n int) SessionOption {
	return func(m *SessionManager) {
		if n >= minTokenBytes {
			m.tokenBytes = n
		}
	}
}

// WithSessionLogger sets the logger used for best-effort failures.
func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(m *SessionManager) { m.log = l }
}

// NewSessionManager constructs a session manager backed by store.
func NewSessionManager(store SessionStore, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	m := &SessionManager{
		store:      store,
		now:        time.Now,
		ttl:        defaultSessionTTL,
		tokenBytes: minTokenBytes,
		log:        obs.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// DefaultTTL returns the lifetime applied when Create gets a non-positive ttl.
func (m *SessionManager) DefaultTTL() time.Duration { return m.ttl }

// Create issues a new session for ownerID. The returned session carries
// the raw token; it is never persisted.
func (m *SessionManager) Create(ctx context.Context, ownerID string, meta ClientMeta, ttl time.Duration) (Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Session{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := m.now().UTC()
	for attempt := 0; ; attempt++ {
		token, err := m.newToken()
		if err != nil {
			return Session{}, err
		}
		sess := Session{
			ID:         ids.NewAt(now),
			Token:      token,
			TokenHash:  HashToken(token),
			OwnerID:    ownerID,
			IssuedAt:   now,
			ExpiresAt:  now.Add(ttl),
			LastUsedAt: now,
			IPAddress:  strings.TrimSpace(meta.IPAddress),
			UserAgent:  strings.TrimSpace(meta.UserAgent),
		}
		err = m.store.CreateSession(ctx, &sess)
		if err == nil {
			obs.SessionCreated()
			return sess, nil
		}
		if errors.Is(err, ErrConflict) && attempt+1 < createAttempts {
			continue
		}
		return Session{}, fmt.Errorf("create session: %w", err)
	}
}

// Validate resolves token to a live session. An expired session is deleted
// before ErrSessionExpired is returned. The last-used timestamp is updated
// on a best-effort basis.
func (m *SessionManager) Validate(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.SessionValidated("not_found")
		return Session{}, ErrSessionNotFound
	}
	hash := HashToken(token)
	sess, err := m.store.SessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.SessionValidated("not_found")
			return Session{}, ErrSessionNotFound
		}
		obs.SessionValidated("error")
		return Session{}, fmt.Errorf("load session: %w", err)
	}

	now := m.now().UTC()
	if !sess.ValidAt(now) {
		if err := m.store.DeleteSession(ctx, hash); err != nil {
			m.log.Warn().Err(err).Str("session_id", sess.ID).Msg("delete expired session failed")
		}
		obs.SessionValidated("expired")
		return Session{}, ErrSessionExpired
	}

	if err := m.store.TouchSession(ctx, sess.ID, now); err != nil {
		m.log.Warn().Err(err).Str("session_id", sess.ID).Msg("session touch failed")
	} else {
		sess.LastUsedAt = now
	}
	obs.SessionValidated("valid")
	return sess, nil
}

// Delete revokes token. Unknown tokens are not an error.
func (m *SessionManager) Delete(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteAllFor revokes every session of ownerID and reports how many were removed.
func (m *SessionManager) DeleteAllFor(ctx context.Context, ownerID string) (int64, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	n, err := m.store.DeleteSessionsByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete owner sessions: %w", err)
	}
	return n, nil
}

// CleanupExpired removes every session that is no longer valid.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredSessions(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	obs.SessionsCleaned(n)
	return n, nil
}

// IsSameDevice reports whether meta plausibly comes from the client the
// session was issued to. It is a heuristic, not a security boundary.
func (m *SessionManager) IsSameDevice(ctx context.Context, token string, meta ClientMeta) (bool, error) {
	sess, err := m.store.SessionByTokenHash(ctx, HashToken(strings.TrimSpace(token)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrSessionNotFound
		}
		return false, fmt.Errorf("load session: %w", err)
	}
	return SameDevice(sess, meta), nil
}

// SameDevice compares the recorded client of s with meta. A field that is
// unknown on either side never counts as a mismatch.
func SameDevice(s Session, meta ClientMeta) bool {
	return fieldMatches(s.IPAddress, meta.IPAddress, unknownIP) &&
		fieldMatches(s.UserAgent, meta.UserAgent, unknownUserAgent)
}

const (
	unknownIP        = "0.0.0.0"
	unknownUserAgent = "Unknown"
)

func fieldMatches(recorded, current, unknown string) bool {
	recorded = strings.TrimSpace(recorded)
	current = strings.TrimSpace(current)
	if recorded == "" || current == "" || recorded == unknown || current == unknown {
		return true
	}
	return recorded == current
}

// HashToken returns the storage key for a raw session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (m *SessionManager) newToken() (string, error) {
	buf := make([]byte, m.tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
