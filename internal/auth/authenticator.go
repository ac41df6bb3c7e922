package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bazaar.org/internal/obs"
)

// Authenticator resolves a bearer credential into a Principal. It answers
// "who is this?" only; callers decide whether the principal may proceed.
type Authenticator struct {
	verifier    IdentityVerifier
	profiles    ProfileStore
	provisioner *Provisioner
	log         zerolog.Logger
}

// NewAuthenticator wires the verifier, profile store and provisioner.
func NewAuthenticator(verifier IdentityVerifier, profiles ProfileStore, provisioner *Provisioner) (*Authenticator, error) {
	if verifier == nil {
		return nil, errors.New("identity verifier is required")
	}
	if profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	return &Authenticator{
		verifier:    verifier,
		profiles:    profiles,
		provisioner: provisioner,
		log:         obs.Logger(),
	}, nil
}

// Authenticate verifies token and loads or provisions the caller's profile.
// Every failure is reported as ErrUnauthenticated joined with its cause.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	verified, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if verified.IdentityID == "" {
		return Principal{}, fmt.Errorf("%w: empty identity", ErrUnauthenticated)
	}

	profile, err := a.profiles.ProfileByOwner(ctx, verified.IdentityID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.log.Warn().Err(err).Str("identity_id", verified.IdentityID).Msg("profile lookup failed")
		}
		profile, err = a.provisioner.EnsureProfile(ctx, verified.IdentityID)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
	}
	if profile.Status == StatusDeleted {
		return Principal{}, fmt.Errorf("%w: profile deleted", ErrUnauthenticated)
	}

	principal := NewPrincipal(verified.IdentityID, profile)
	principal.SessionID = verified.SessionID
	return principal, nil
}
