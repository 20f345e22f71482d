package domain

import (
	"context"
	"errors"
	"time"
)

// Identity provider failures. Adapters wrap these with context using %w.
var (
	ErrInvalidSessionPayload = errors.New("invalid session payload")
	ErrSessionExpired        = errors.New("session expired")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrProviderUnavailable   = errors.New("identity provider unavailable")
	ErrProviderTimeout       = errors.New("identity provider timeout")
)

// ProviderSession is what the identity provider returns for an accepted
// sealed session.
type ProviderSession struct {
	UserID         string
	Email          string
	SessionID      string
	OrganizationID string
	Role           string
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
}

// RefreshedSession carries the rotated sealed credential.
type RefreshedSession struct {
	SealedSession string
}

// Organization is provider-side organization metadata. ExternalID holds the
// internal organization id.
type Organization struct {
	ID         string
	Name       string
	ExternalID string
}

// IdentityProvider defines the contract of the upstream identity provider.
type IdentityProvider interface {
	// Authenticate validates a sealed session credential.
	Authenticate(ctx context.Context, sealedSession string) (*ProviderSession, error)

	// Refresh exchanges the refresh token inside a sealed session for a
	// new sealed session.
	Refresh(ctx context.Context, sealedSession string) (*RefreshedSession, error)

	// GetOrganization returns organization metadata by provider id.
	GetOrganization(ctx context.Context, organizationID string) (*Organization, error)
}
