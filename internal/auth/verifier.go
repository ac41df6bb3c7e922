package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityVerifier turns a bearer credential into a verified identity id.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Verified, error)
}

// Verified is the outcome of a successful credential check.
type Verified struct {
	IdentityID string
	SessionID  string
}

// SessionVerifier accepts opaque session tokens issued by a SessionManager.
type SessionVerifier struct {
	Sessions *SessionManager
}

// Verify implements IdentityVerifier.
func (v SessionVerifier) Verify(ctx context.Context, token string) (Verified, error) {
	sess, err := v.Sessions.Validate(ctx, token)
	if err != nil {
		return Verified{}, err
	}
	return Verified{IdentityID: sess.OwnerID, SessionID: sess.ID}, nil
}

// ErrInvalidToken indicates a JWT failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the JWT claims accepted from the external identity provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens minted by an external identity provider.
type JWTVerifier struct {
	secret []byte
	issuer string
	skew   time.Duration
	now    func() time.Time
}

// NewJWTVerifier builds a verifier for tokens signed with secret by issuer.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		skew:   5 * time.Second,
		now:    time.Now,
	}, nil
}

// Verify implements IdentityVerifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Verified, error) {
	claims, err := v.Parse(token)
	if err != nil {
		return Verified{}, err
	}
	return Verified{IdentityID: claims.Subject}, nil
}

// Parse verifies the signature and the registered claims of token.
func (v *JWTVerifier) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithLeeway(v.skew))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (v *JWTVerifier) validateClaims(claims *Claims) error {
	if v.issuer != "" && claims.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// Sign mints a token the verifier accepts. Used by tooling and tests that
// stand in for the identity provider.
func (v *JWTVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := v.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ChainVerifier tries each verifier in order and returns the first success.
// Tokens shaped like a JWT skip straight to verifiers that understand them.
type ChainVerifier []IdentityVerifier

// Verify implements IdentityVerifier.
func (c ChainVerifier) Verify(ctx context.Context, token string) (Verified, error) {
	var errs []error
	for _, v := range c {
		if v == nil {
			continue
		}
		if _, isJWT := v.(*JWTVerifier); isJWT != looksLikeJWT(token) {
			continue
		}
		out, err := v.Verify(ctx, token)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Verified{}, ErrInvalidToken
	}
	return Verified{}, errors.Join(errs...)
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
