// Package identity resolves the signed-in caregiver and the tenancy headers
// every backend call carries.
package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"babybaton/internal/domain"
)

// Store is the persistence the provider needs.
type Store interface {
	LoadIdentity(ctx context.Context) (*domain.Identity, error)
	SaveIdentity(ctx context.Context, identity domain.Identity) error
	ClearIdentity(ctx context.Context) error
	DeviceID(ctx context.Context) (string, error)
}

// Provider caches the stored identity after the first successful load.
type Provider struct {
	store    Store
	timezone string

	mu     sync.Mutex
	cached *domain.Identity
}

// NewProvider builds a provider. timezone overrides the device zone when set.
func NewProvider(store Store, timezone string) *Provider {
	return &Provider{store: store, timezone: strings.TrimSpace(timezone)}
}

// Headers returns the tenancy headers, or an Unauthenticated failure when the
// device is not signed in.
func (p *Provider) Headers(ctx context.Context) (domain.TenancyHeaders, error) {
	identity, err := p.Current(ctx)
	if err != nil {
		return domain.TenancyHeaders{}, err
	}
	if identity == nil {
		return domain.TenancyHeaders{}, domain.NewFailure(domain.ErrorCodeUnauthenticated, "sign in to a family before recording", nil)
	}
	return domain.TenancyHeaders{
		FamilyID:    identity.FamilyID,
		CaregiverID: identity.CaregiverID,
		Timezone:    p.Timezone(),
	}, nil
}

// Current returns the signed-in identity or nil.
func (p *Provider) Current(ctx context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		identity := *p.cached
		return &identity, nil
	}
	identity, err := p.store.LoadIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if identity == nil {
		return nil, nil
	}
	p.cached = identity
	out := *identity
	return &out, nil
}

// Login persists a new identity.
func (p *Provider) Login(ctx context.Context, identity domain.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.SaveIdentity(ctx, identity); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	p.cached = &identity
	return nil
}

// Logout forgets the identity and the cached sessions.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cached = nil
	if err := p.store.ClearIdentity(ctx); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}

func (p *Provider) DeviceID(ctx context.Context) (string, error) {
	return p.store.DeviceID(ctx)
}

// Timezone returns the configured zone, else the device zone, else UTC.
func (p *Provider) Timezone() string {
	if p.timezone != "" {
		return p.timezone
	}
	return DeviceTimezone()
}

// DeviceTimezone returns the IANA name of the local zone when it is known.
func DeviceTimezone() string {
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	if tz := strings.TrimPrefix(strings.TrimSpace(os.Getenv("TZ")), ":"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	return "UTC"
}
