package repository

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userA  = "0b7a3c2e-1f4d-4e8a-9c6b-2d5f8a1e3b70"
	userB  = "1c8b4d3f-2a5e-4f9b-8d7c-3e6a9b2f4c81"
	userC  = "2d9c5e4a-3b6f-4a0c-9e8d-4f7b0c3a5d92"
	userD  = "b08f4b3d-2e5c-4d9f-8b7a-3c6e9f2d4acb"
	orgX   = "3e0d6f5b-4c7a-4b1d-8f9e-5a8c1d4b6ea3"
	orgY   = "4f1e7a6c-5d8b-4c2e-9a0f-6b9d2e5c7fb4"
	orgZ   = "c19a5c4e-3f6d-4e0a-9c8b-4d7f0a3e5bdc"
	chanC1 = "5a2f8b7d-6e9c-4d3f-8b1a-7c0e3f6d8ac5"
	chanC2 = "6b3a9c8e-7f0d-4e4a-9c2b-8d1f4a7e9bd6"
	memA   = "8d5c1e0a-9b2f-4a6c-9e4d-0f3b6c9a1df8"
	memB   = "9e6d2f1b-0c3a-4b7d-8f5e-1a4c7d0b2ea9"
	memBY  = "af7e3a2c-1d4b-4c8e-9a6f-2b5d8e1c3fba"
	memBZ  = "d2ab6d5f-4a7e-4f1b-8d9c-5e8a1b4f6ced"
	memDZ  = "e3bc7e6a-5b8f-4a2c-9eae-6f9b2c5a7dfe"
)

// Temporary tables shadow the real schema and vanish with the connection,
// so the pool is pinned to a single connection.
var fixture = []string{
	`CREATE TEMP TABLE users (id uuid PRIMARY KEY, external_id text, email text, deleted_at timestamptz)`,
	`CREATE TEMP TABLE organizations (id uuid PRIMARY KEY, deleted_at timestamptz)`,
	`CREATE TEMP TABLE organization_members (id uuid PRIMARY KEY, organization_id uuid, user_id uuid, deleted_at timestamptz)`,
	`CREATE TEMP TABLE channels (id uuid PRIMARY KEY, deleted_at timestamptz)`,
	`CREATE TEMP TABLE channel_members (channel_id uuid, user_id uuid, deleted_at timestamptz)`,

	`INSERT INTO users VALUES
		('` + userA + `', 'user_workos_a', 'a@example.com', NULL),
		('` + userB + `', 'user_workos_b', 'b@example.com', NULL),
		('` + userC + `', 'user_workos_c', 'c@example.com', now()),
		('` + userD + `', 'user_workos_d', 'd@example.com', NULL)`,
	`INSERT INTO organizations VALUES ('` + orgX + `', NULL), ('` + orgY + `', NULL), ('` + orgZ + `', now())`,
	`INSERT INTO organization_members VALUES
		('` + memA + `', '` + orgX + `', '` + userA + `', NULL),
		('` + memB + `', '` + orgX + `', '` + userB + `', NULL),
		('` + memBY + `', '` + orgY + `', '` + userB + `', NULL),
		('` + memBZ + `', '` + orgZ + `', '` + userB + `', NULL),
		('` + memDZ + `', '` + orgZ + `', '` + userD + `', NULL)`,
	`INSERT INTO channels VALUES ('` + chanC1 + `', NULL), ('` + chanC2 + `', now())`,
	`INSERT INTO channel_members VALUES
		('` + chanC1 + `', '` + userA + `', NULL),
		('` + chanC2 + `', '` + userA + `', NULL)`,
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.MaxConns = 1

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	for _, stmt := range fixture {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	return pool
}

func TestPgxUserRepository_GetByExternalID(t *testing.T) {
	repo := NewUserRepository(newTestPool(t))
	ctx := context.Background()

	row, err := repo.GetByExternalID(ctx, "user_workos_a")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, userA, row.ID)
	assert.Equal(t, "a@example.com", row.Email)

	row, err = repo.GetByExternalID(ctx, "user_workos_c")
	require.NoError(t, err)
	assert.Nil(t, row, "soft-deleted users are not returned")

	row, err = repo.GetByExternalID(ctx, "user_workos_missing")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestPgxAccessRepository(t *testing.T) {
	repo := NewAccessRepository(newTestPool(t))
	ctx := context.Background()

	orgs, err := repo.ListOrganizationIDs(ctx, userA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{orgX}, orgs)

	members, err := repo.ListMemberIDs(ctx, userB)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{memB, memBY}, members)

	channels, err := repo.ListChannelIDs(ctx, userA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{chanC1}, channels, "soft-deleted channels are excluded")

	peers, err := repo.ListCoOrganizationUserIDs(ctx, userA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{userA, userB}, peers)

	none, err := repo.ListCoOrganizationUserIDs(ctx, userC)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPgxAccessRepository_SoftDeletedOrganizationGrantsNothing(t *testing.T) {
	repo := NewAccessRepository(newTestPool(t))
	ctx := context.Background()

	orgs, err := repo.ListOrganizationIDs(ctx, userB)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{orgX, orgY}, orgs)

	members, err := repo.ListMemberIDs(ctx, userB)
	require.NoError(t, err)
	assert.NotContains(t, members, memBZ)

	peers, err := repo.ListCoOrganizationUserIDs(ctx, userB)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{userA, userB}, peers)
	assert.NotContains(t, peers, userD)

	// userD belongs only to the deleted organization.
	orgs, err = repo.ListOrganizationIDs(ctx, userD)
	require.NoError(t, err)
	assert.Empty(t, orgs)

	members, err = repo.ListMemberIDs(ctx, userD)
	require.NoError(t, err)
	assert.Empty(t, members)

	peers, err = repo.ListCoOrganizationUserIDs(ctx, userD)
	require.NoError(t, err)
	assert.Empty(t, peers)
}
