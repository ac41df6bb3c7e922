package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bazaar.org/internal/auth"
)

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, token_hash, owner_id, issued_at, expires_at, last_used_at, ip_address, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.TokenHash, sess.OwnerID, sess.IssuedAt, sess.ExpiresAt, sess.LastUsedAt,
		nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent))
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash string) (auth.Session, error) {
	var (
		sess   auth.Session
		ip, ua sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, token_hash, owner_id, issued_at, expires_at, last_used_at, ip_address, user_agent
		from sessions
		where token_hash = $1
	`, tokenHash).Scan(&sess.ID, &sess.TokenHash, &sess.OwnerID, &sess.IssuedAt, &sess.ExpiresAt, &sess.LastUsedAt, &ip, &ua)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, err
	}
	sess.IPAddress = ip.String
	sess.UserAgent = ua.String
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update sessions set last_used_at = $2 where id = $1`, id, at)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where token_hash = $1`, tokenHash)
	return err
}

func (s *Store) DeleteSessionsByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
