package v1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/sync-gateway/internal/core/cache"
	"github.com/duynhne/sync-gateway/internal/core/domain"
)

type gatewayFixture struct {
	provider *fakeProvider
	users    *fakeUsers
	access   *fakeAccess
	service  *GatewayService
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	clk := newClock(testNow)

	provider := newFakeProvider()
	provider.sessions["cred-a"] = providerSession("user_workos_a", testNow.Add(time.Minute))
	provider.sessions["cred-b"] = providerSession("user_workos_b", testNow.Add(time.Minute))
	provider.sessions["cred-orphan"] = providerSession("user_workos_orphan", testNow.Add(time.Minute))
	provider.org = &domain.Organization{ID: "org_01", ExternalID: orgX}

	users := &fakeUsers{rows: map[string]*domain.UserRow{
		"user_workos_a": {ID: userA, ExternalID: "user_workos_a", Email: "a@example.com"},
		"user_workos_b": {ID: userB, ExternalID: "user_workos_b", Email: "b@example.com"},
	}}
	access := &fakeAccess{
		orgs:  map[string][]string{userA: {orgX}, userB: {orgY}},
		chans: map[string][]string{userA: {chanC1, chanC2}, userB: {chanC3}},
		coOrg: map[string][]string{userA: {userA}, userB: {userB}},
	}

	validator := newValidator(t, provider, cache.NewMemorySessionCache(100, time.Hour, clk.Now), clk)
	engine, err := NewPolicyEngine(DefaultRules())
	require.NoError(t, err)

	return &gatewayFixture{
		provider: provider,
		users:    users,
		access:   access,
		service:  NewGatewayService(validator, users, NewAccessContextBuilder(access), engine),
	}
}

func (f *gatewayFixture) downstreamCalls() int {
	return f.provider.calls() + int(f.users.calls.Load()) + int(f.access.calls.Load())
}

func TestGatewayService_Authorize(t *testing.T) {
	f := newGatewayFixture(t)

	grant, err := f.service.Authorize(context.Background(), "cred-a", "messages")
	require.NoError(t, err)

	assert.Equal(t, domain.TableMessages, grant.Table)
	assert.Equal(t, `"channel_id" IN ('`+chanC1+`', '`+chanC2+`') AND "deleted_at" IS NULL`, grant.Where)
	assert.Empty(t, grant.RefreshedCredential)

	require.NotNil(t, grant.User)
	assert.Equal(t, userA, grant.User.InternalUserID)
	assert.Equal(t, "user_workos_a", grant.User.ExternalPrincipalID)
	require.NotNil(t, grant.User.Access)
	assert.Equal(t, []string{orgX}, grant.User.Access.OrganizationIDs)
}

func TestGatewayService_TenantsSeeOnlyTheirRows(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	a, err := f.service.Authorize(ctx, "cred-a", "messages")
	require.NoError(t, err)
	b, err := f.service.Authorize(ctx, "cred-b", "messages")
	require.NoError(t, err)

	assert.NotContains(t, a.Where, chanC3)
	assert.Contains(t, b.Where, chanC3)
	assert.NotContains(t, b.Where, chanC1)
	assert.NotContains(t, b.Where, chanC2)
}

func TestGatewayService_NoDownstreamCallsForCheapRejections(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		table      string
		want       *GatewayError
	}{
		{name: "no credential", credential: "", table: "messages", want: ErrSessionNotProvided},
		{name: "no credential and bad table", credential: "", table: "secrets", want: ErrSessionNotProvided},
		{name: "missing table", credential: "cred-a", table: "", want: ErrMissingTable},
		{name: "table not allowed", credential: "cred-a", table: "secrets", want: ErrTableNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t)

			_, err := f.service.Authorize(context.Background(), tt.credential, tt.table)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.downstreamCalls())
		})
	}
}

func TestGatewayService_UserNotProvisioned(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.service.Authorize(context.Background(), "cred-orphan", "messages")
	require.ErrorIs(t, err, ErrUserNotProvisioned)

	gwErr := AsGatewayError(err)
	assert.Equal(t, KindAuthentication, gwErr.Kind)
	assert.Equal(t, 401, gwErr.Status())
	assert.Equal(t, int32(0), f.access.calls.Load(), "no access context without an internal user")
}

func TestGatewayService_UserLookupFailureIsUpstream(t *testing.T) {
	f := newGatewayFixture(t)
	f.users.err = errors.New("conn reset")

	_, err := f.service.Authorize(context.Background(), "cred-a", "messages")
	require.ErrorIs(t, err, ErrRecordsUnavailable)

	gwErr := AsGatewayError(err)
	assert.Equal(t, KindUpstream, gwErr.Kind)
	assert.Equal(t, 502, gwErr.Status())
	assert.NotContains(t, gwErr.Message, "conn reset")
	assert.Equal(t, int32(0), f.access.calls.Load())
}

func TestGatewayService_AccessFailureIsUpstream(t *testing.T) {
	f := newGatewayFixture(t)
	f.access.failOn = "channels"

	grant, err := f.service.Authorize(context.Background(), "cred-a", "messages")
	require.ErrorIs(t, err, ErrRecordsUnavailable)
	assert.Nil(t, grant)
}

func TestGatewayService_AuthenticationFailure(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.service.Authorize(context.Background(), "cred-unknown", "messages")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, int32(0), f.users.calls.Load())
}

func TestGatewayService_RefreshedCredentialIsReturned(t *testing.T) {
	f := newGatewayFixture(t)
	f.provider.authErrs["cred-old"] = domain.ErrSessionExpired
	f.provider.refreshed["cred-old"] = "cred-a"

	grant, err := f.service.Authorize(context.Background(), "cred-old", "users")
	require.NoError(t, err)
	assert.Equal(t, "cred-a", grant.RefreshedCredential)
	assert.Equal(t, `"id" IN ('`+userA+`') AND "deleted_at" IS NULL`, grant.Where)
}

func TestGatewayService_ExpiredCredentialWithFailedRefresh(t *testing.T) {
	f := newGatewayFixture(t)
	f.provider.authErrs["cred-old"] = domain.ErrSessionExpired
	f.provider.refreshErr = errors.New("invalid_grant")

	grant, err := f.service.Authorize(context.Background(), "cred-old", "messages")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Nil(t, grant)
	assert.Equal(t, 401, AsGatewayError(err).Status())
	assert.Equal(t, int32(1), f.provider.refreshCalls.Load())
	assert.Equal(t, int32(0), f.users.calls.Load())
	assert.Equal(t, int32(0), f.access.calls.Load())
}
