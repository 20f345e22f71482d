package v1

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// Fixed ids used across the package tests.
const (
	userA    = "0b7a3c2e-1f4d-4e8a-9c6b-2d5f8a1e3b70"
	userB    = "1c8b4d3f-2a5e-4f9b-8d7c-3e6a9b2f4c81"
	userC    = "2d9c5e4a-3b6f-4a0c-9e8d-4f7b0c3a5d92"
	orgX     = "3e0d6f5b-4c7a-4b1d-8f9e-5a8c1d4b6ea3"
	orgY     = "4f1e7a6c-5d8b-4c2e-9a0f-6b9d2e5c7fb4"
	chanC1   = "5a2f8b7d-6e9c-4d3f-8b1a-7c0e3f6d8ac5"
	chanC2   = "6b3a9c8e-7f0d-4e4a-9c2b-8d1f4a7e9bd6"
	chanC3   = "7c4b0d9f-8a1e-4f5b-8d3c-9e2a5b8f0ce7"
	memberM1 = "8d5c1e0a-9b2f-4a6c-9e4d-0f3b6c9a1df8"
)

var testNow = time.Unix(1_700_000_000, 0)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	mu           sync.Mutex
	sessions     map[string]*domain.ProviderSession
	authErrs     map[string]error
	refreshed    map[string]string
	refreshErr   error
	org          *domain.Organization
	orgErr       error
	authCalls    atomic.Int32
	refreshCalls atomic.Int32
	orgCalls     atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions:  map[string]*domain.ProviderSession{},
		authErrs:  map[string]error{},
		refreshed: map[string]string{},
	}
}

func (p *fakeProvider) Authenticate(_ context.Context, sealed string) (*domain.ProviderSession, error) {
	p.authCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.authErrs[sealed]; ok {
		return nil, err
	}
	s, ok := p.sessions[sealed]
	if !ok {
		return nil, domain.ErrAuthenticationFailed
	}
	out := *s
	return &out, nil
}

func (p *fakeProvider) Refresh(_ context.Context, sealed string) (*domain.RefreshedSession, error) {
	p.refreshCalls.Add(1)
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.refreshed[sealed]
	if !ok {
		return nil, domain.ErrSessionExpired
	}
	return &domain.RefreshedSession{SealedSession: next}, nil
}

func (p *fakeProvider) GetOrganization(_ context.Context, _ string) (*domain.Organization, error) {
	p.orgCalls.Add(1)
	if p.orgErr != nil {
		return nil, p.orgErr
	}
	return p.org, nil
}

func (p *fakeProvider) calls() int {
	return int(p.authCalls.Load() + p.refreshCalls.Load() + p.orgCalls.Load())
}

type failingCache struct {
	sets int
}

func (c *failingCache) Get(context.Context, string) (*domain.ValidatedSession, error) {
	return nil, errors.New("redis: connection refused")
}

func (c *failingCache) Set(context.Context, string, *domain.ValidatedSession, time.Duration) error {
	c.sets++
	return errors.New("redis: connection refused")
}

func (c *failingCache) Delete(context.Context, string) error { return nil }

// recordingCache never expires entries on its own, so staleness is left to
// the validator.
type recordingCache struct {
	mu      sync.Mutex
	entries map[string]domain.ValidatedSession
	deletes []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: map[string]domain.ValidatedSession{}}
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.ValidatedSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *recordingCache) Set(_ context.Context, key string, session *domain.ValidatedSession, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *session
	return nil
}

func (c *recordingCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.deletes = append(c.deletes, key)
	return nil
}

type fakeUsers struct {
	rows  map[string]*domain.UserRow
	err   error
	calls atomic.Int32
}

func (u *fakeUsers) GetByExternalID(_ context.Context, externalID string) (*domain.UserRow, error) {
	u.calls.Add(1)
	if u.err != nil {
		return nil, u.err
	}
	return u.rows[externalID], nil
}

type fakeAccess struct {
	orgs    map[string][]string
	members map[string][]string
	chans   map[string][]string
	coOrg   map[string][]string
	failOn  string
	calls   atomic.Int32
}

func (a *fakeAccess) read(op, userID string, src map[string][]string) ([]string, error) {
	a.calls.Add(1)
	if a.failOn == op {
		return nil, errors.New("pool exhausted")
	}
	return src[userID], nil
}

func (a *fakeAccess) ListOrganizationIDs(_ context.Context, userID string) ([]string, error) {
	return a.read("orgs", userID, a.orgs)
}

func (a *fakeAccess) ListMemberIDs(_ context.Context, userID string) ([]string, error) {
	return a.read("members", userID, a.members)
}

func (a *fakeAccess) ListChannelIDs(_ context.Context, userID string) ([]string, error) {
	return a.read("channels", userID, a.chans)
}

func (a *fakeAccess) ListCoOrganizationUserIDs(_ context.Context, userID string) ([]string, error) {
	return a.read("co_org", userID, a.coOrg)
}
