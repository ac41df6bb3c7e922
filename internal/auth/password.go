package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bazaar.org/internal/ids"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// dummyHash keeps the cost of a lookup miss equal to a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("bazaar-dummy-password"), bcrypt.DefaultCost)

// PasswordChecker verifies email/password credentials against an IdentityStore.
type PasswordChecker struct {
	store IdentityStore
}

// NewPasswordChecker constructs the checker.
func NewPasswordChecker(store IdentityStore) (*PasswordChecker, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	return &PasswordChecker{store: store}, nil
}

// Check returns the identity id when password matches. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (c *PasswordChecker) Check(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	rec, err := c.store.IdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load identity: %w", err)
	}
	if err := VerifyPassword(rec.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	return rec.ID, nil
}

// Register creates an identity with a hashed password. Used by seeding and tests.
func (c *PasswordChecker) Register(ctx context.Context, email, password string) (IdentityRecord, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return IdentityRecord{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return IdentityRecord{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := time.Now().UTC()
	rec := IdentityRecord{ID: ids.NewAt(now), Email: email, PasswordHash: hash, CreatedAt: now}
	if err := c.store.CreateIdentity(ctx, &rec); err != nil {
		return IdentityRecord{}, err
	}
	return rec, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
