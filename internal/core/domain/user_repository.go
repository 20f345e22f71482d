package domain

import "context"

// UserRow is the internal user record linked to an identity provider principal.
type UserRow struct {
	ID         string
	ExternalID string
	Email      string
}

// UserRepository defines the data-access contract for resolving internal users.
// Implementations live in internal/core/repository (Core layer).
// The Logic layer depends on this interface only, never on SQL or pgx directly.
type UserRepository interface {
	// GetByExternalID returns the non-deleted user linked to the given
	// identity provider principal.
	// Returns (nil, nil) when no user is found.
	GetByExternalID(ctx context.Context, externalID string) (*UserRow, error)
}
