package domain

import (
	"context"
	"time"
)

// ValidatedSession is a session the identity provider has vouched for.
// ExpiresAt (epoch seconds) is taken from the provider-signed access token.
type ValidatedSession struct {
	PrincipalID            string  `json:"principal_id"`
	Email                  string  `json:"email"`
	SessionID              string  `json:"session_id"`
	OrganizationID         *string `json:"organization_id,omitempty"`
	InternalOrganizationID *string `json:"internal_organization_id,omitempty"`
	Role                   *string `json:"role,omitempty"`
	ExpiresAt              int64   `json:"expires_at"`
	AccessToken            string  `json:"access_token"`
	RefreshToken           string  `json:"refresh_token"`
}

// ExpiresTime returns ExpiresAt as a time.Time.
func (s *ValidatedSession) ExpiresTime() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// SessionCache defines the contract of the shared session store.
// Keys are already hashed; implementations never see raw credentials.
type SessionCache interface {
	// Get returns the cached session for key.
	// Returns (nil, nil) on a miss.
	Get(ctx context.Context, key string) (*ValidatedSession, error)

	// Set stores the session under key for at most ttl.
	Set(ctx context.Context, key string, session *ValidatedSession, ttl time.Duration) error

	// Delete drops the entry for key.
	Delete(ctx context.Context, key string) error
}
