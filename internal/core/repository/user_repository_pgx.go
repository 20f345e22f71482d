package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// PgxUserRepository implements domain.UserRepository using pgxpool.
type PgxUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PgxUserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PgxUserRepository {
	return &PgxUserRepository{pool: pool}
}

// GetByExternalID returns the non-deleted user linked to the given identity
// provider principal.
// Returns (nil, nil) when no user is found.
func (r *PgxUserRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.UserRow, error) {
	query := `
		SELECT id::text, external_id, email
		FROM users
		WHERE external_id = $1 AND deleted_at IS NULL
	`

	var row domain.UserRow
	err := r.pool.QueryRow(ctx, query, externalID).Scan(&row.ID, &row.ExternalID, &row.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &row, nil
}

var _ domain.UserRepository = (*PgxUserRepository)(nil)
