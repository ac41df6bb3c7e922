package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bazaar.org/internal/ids"
	"bazaar.org/internal/obs"
)

// Provisioner guarantees that every authenticated identity has exactly one
// authorization profile.
type Provisioner struct {
	store       ProfileStore
	now         func() time.Time
	defaultRole RoleName
	log         zerolog.Logger
}

// ProvisionerOption customizes the provisioner.
type ProvisionerOption func(*Provisioner)

// WithProvisionerClock overrides the time source.
func WithProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithDefaultRole sets the role assigned to freshly provisioned profiles.
func WithDefaultRole(role RoleName) ProvisionerOption {
	return func(p *Provisioner) {
		if role.Valid() {
			p.defaultRole = role
		}
	}
}

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(l zerolog.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.log = l }
}

// NewProvisioner constructs a provisioner backed by store.
func NewProvisioner(store ProfileStore, opts ...ProvisionerOption) (*Provisioner, error) {
	if store == nil {
		return nil, errors.New("profile store is required")
	}
	p := &Provisioner{
		store:       store,
		now:         time.Now,
		defaultRole: RoleUser,
		log:         obs.Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureProfile returns the profile of ownerID, creating a default one when
// none exists. Concurrent calls for the same owner converge on a single
// profile: losing a create race means someone else created it, so the
// profile is read back.
func (p *Provisioner) EnsureProfile(ctx context.Context, ownerID string) (Profile, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Profile{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}

	prof, err := p.store.ProfileByOwner(ctx, ownerID)
	if err == nil {
		obs.ProfileProvisioned("existing")
		return prof, nil
	}
	if !errors.Is(err, ErrNotFound) {
		p.log.Warn().Err(err).Str("owner_id", ownerID).Msg("profile lookup failed, retrying")
		prof, err = p.store.ProfileByOwner(ctx, ownerID)
		if err == nil {
			obs.ProfileProvisioned("existing")
			return prof, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Profile{}, p.failed(ownerID, err)
		}
	}

	now := p.now().UTC()
	fresh := Profile{
		ID:        ids.NewAt(now),
		OwnerID:   ownerID,
		Role:      p.defaultRole,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	createErr := p.store.CreateProfile(ctx, &fresh)

	prof, err = p.store.ProfileByOwner(ctx, ownerID)
	switch {
	case err == nil && createErr == nil:
		obs.ProfileProvisioned("created")
		p.log.Info().Str("owner_id", ownerID).Str("profile_id", prof.ID).Msg("profile provisioned")
		return prof, nil
	case err == nil:
		obs.ProfileProvisioned("raced")
		return prof, nil
	case createErr != nil:
		return Profile{}, p.failed(ownerID, errors.Join(createErr, err))
	default:
		return Profile{}, p.failed(ownerID, err)
	}
}

func (p *Provisioner) failed(ownerID string, cause error) error {
	obs.ProfileProvisioned("failed")
	p.log.Error().Err(cause).Str("owner_id", ownerID).Msg("profile provisioning failed")
	return fmt.Errorf("%w: %w", ErrProvisioningFailed, cause)
}
