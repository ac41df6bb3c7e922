package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bazaar.org/internal/auth"
)

func (s *Store) IdentityByEmail(ctx context.Context, email string) (auth.IdentityRecord, error) {
	var rec auth.IdentityRecord
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, created_at
		from identities
		where email = $1
	`, email).Scan(&rec.ID, &rec.Email, &rec.PasswordHash, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.IdentityRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.IdentityRecord{}, err
	}
	return rec, nil
}

func (s *Store) CreateIdentity(ctx context.Context, rec *auth.IdentityRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into identities (id, email, password_hash, created_at)
		values ($1, $2, $3, $4)
	`, rec.ID, rec.Email, rec.PasswordHash, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}
