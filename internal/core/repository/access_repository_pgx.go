package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// PgxAccessRepository implements domain.AccessRepository using pgxpool.
type PgxAccessRepository struct {
	pool *pgxpool.Pool
}

// NewAccessRepository creates a new PgxAccessRepository.
func NewAccessRepository(pool *pgxpool.Pool) *PgxAccessRepository {
	return &PgxAccessRepository{pool: pool}
}

// ListOrganizationIDs returns the organizations the user is a member of.
func (r *PgxAccessRepository) ListOrganizationIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT om.organization_id::text
		FROM organization_members om
		JOIN organizations o ON o.id = om.organization_id
		WHERE om.user_id = $1
		  AND om.deleted_at IS NULL
		  AND o.deleted_at IS NULL
	`
	return r.listIDs(ctx, query, userID)
}

// ListMemberIDs returns the user's membership row ids in live organizations.
func (r *PgxAccessRepository) ListMemberIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT om.id::text
		FROM organization_members om
		JOIN organizations o ON o.id = om.organization_id
		WHERE om.user_id = $1
		  AND om.deleted_at IS NULL
		  AND o.deleted_at IS NULL
	`
	return r.listIDs(ctx, query, userID)
}

// ListChannelIDs returns the channels the user is a member of.
func (r *PgxAccessRepository) ListChannelIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT cm.channel_id::text
		FROM channel_members cm
		JOIN channels c ON c.id = cm.channel_id
		WHERE cm.user_id = $1
		  AND cm.deleted_at IS NULL
		  AND c.deleted_at IS NULL
	`
	return r.listIDs(ctx, query, userID)
}

// ListCoOrganizationUserIDs returns every user sharing a live organization
// with the given user. It scans the same organizations ListOrganizationIDs
// returns and yields nothing when there are none.
func (r *PgxAccessRepository) ListCoOrganizationUserIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT peer.user_id::text
		FROM organization_members self
		JOIN organizations o ON o.id = self.organization_id AND o.deleted_at IS NULL
		JOIN organization_members peer ON peer.organization_id = self.organization_id
		WHERE self.user_id = $1
		  AND self.deleted_at IS NULL
		  AND peer.deleted_at IS NULL
	`
	return r.listIDs(ctx, query, userID)
}

func (r *PgxAccessRepository) listIDs(ctx context.Context, query string, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

var _ domain.AccessRepository = (*PgxAccessRepository)(nil)
