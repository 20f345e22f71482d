package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// MemorySessionCache is a per-process domain.SessionCache used when no Redis
// address is configured. Entries are bounded by size and by maxTTL; the
// per-entry ttl is enforced on read.
type MemorySessionCache struct {
	entries *expirable.LRU[string, memoryEntry]
	now     func() time.Time
}

type memoryEntry struct {
	session   domain.ValidatedSession
	expiresAt time.Time
}

// NewMemorySessionCache creates a cache holding at most size entries, none
// older than maxTTL.
func NewMemorySessionCache(size int, maxTTL time.Duration, now func() time.Time) *MemorySessionCache {
	if now == nil {
		now = time.Now
	}
	return &MemorySessionCache{
		entries: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now:     now,
	}
}

func (c *MemorySessionCache) Get(ctx context.Context, key string) (*domain.ValidatedSession, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, nil
	}
	session := entry.session
	return &session, nil
}

func (c *MemorySessionCache) Set(ctx context.Context, key string, session *domain.ValidatedSession, ttl time.Duration) error {
	if ttl <= 0 || session == nil {
		return nil
	}
	c.entries.Add(key, memoryEntry{session: *session, expiresAt: c.now().Add(ttl)})
	return nil
}

func (c *MemorySessionCache) Delete(ctx context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

var _ domain.SessionCache = (*MemorySessionCache)(nil)
