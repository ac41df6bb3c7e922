package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bazaar.org/internal/auth"
)

const profileColumns = `id, owner_id, role, roles, permissions, status, is_blocked, created_at, updated_at, last_login_at`

func (s *Store) ProfileByOwner(ctx context.Context, ownerID string) (auth.Profile, error) {
	row := s.db.QueryRowContext(ctx, `select `+profileColumns+` from auth_profiles where owner_id = $1`, ownerID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrNotFound
	}
	return p, err
}

func (s *Store) CreateProfile(ctx context.Context, p *auth.Profile) error {
	roles, perms, err := encodeGrants(*p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into auth_profiles (id, owner_id, role, roles, permissions, status, is_blocked, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.OwnerID, string(p.Role), roles, perms, string(p.Status), p.Blocked, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, p auth.Profile) error {
	roles, perms, err := encodeGrants(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update auth_profiles
		set role = $2, roles = $3, permissions = $4, status = $5, is_blocked = $6, updated_at = $7
		where owner_id = $1
	`, p.OwnerID, string(p.Role), roles, perms, string(p.Status), p.Blocked, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) TouchLogin(ctx context.Context, ownerID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update auth_profiles set last_login_at = $2 where owner_id = $1`, ownerID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// encodeGrants renders roles as NULL when the profile only has the legacy role.
func encodeGrants(p auth.Profile) (any, []byte, error) {
	var roles any
	if len(p.Roles) > 0 {
		raw, err := json.Marshal(p.Roles)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal roles: %w", err)
		}
		roles = raw
	}
	perms := []byte("[]")
	if len(p.Permissions) > 0 {
		raw, err := json.Marshal(p.Permissions)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal permissions: %w", err)
		}
		perms = raw
	}
	return roles, perms, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (auth.Profile, error) {
	var (
		p                 auth.Profile
		role, status      string
		rawRoles, rawPerm []byte
		lastLogin         sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &role, &rawRoles, &rawPerm, &status, &p.Blocked, &p.CreatedAt, &p.UpdatedAt, &lastLogin); err != nil {
		return auth.Profile{}, err
	}
	p.Role = auth.RoleName(role)
	st, err := auth.ParseStatus(status)
	if err != nil {
		return auth.Profile{}, fmt.Errorf("decode status: %w", err)
	}
	p.Status = st
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &p.Roles); err != nil {
			return auth.Profile{}, fmt.Errorf("decode roles: %w", err)
		}
	}
	if len(rawPerm) > 0 {
		if err := json.Unmarshal(rawPerm, &p.Permissions); err != nil {
			return auth.Profile{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if lastLogin.Valid {
		at := lastLogin.Time
		p.LastLoginAt = &at
	}
	return p, nil
}
