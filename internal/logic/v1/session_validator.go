package v1

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"github.com/duynhne/sync-gateway/internal/core/domain"
	"github.com/duynhne/sync-gateway/middleware"
)

const sessionKeyPrefix = "session:"

// SessionResult is a validated session plus, when the credential had to be
// refreshed, the rotated credential the caller must hand back to the client.
type SessionResult struct {
	Session             *domain.ValidatedSession
	RefreshedCredential string
}

// SessionValidatorOptions configures a SessionValidator.
type SessionValidatorOptions struct {
	// KeySecret keys the credential hash used as cache key.
	KeySecret string
	// MaxTTL caps how long a session may stay cached.
	MaxTTL time.Duration
	// Skew is subtracted from the token expiry when computing the cache TTL.
	Skew time.Duration
	Now  func() time.Time
}

// SessionValidator authenticates session credentials cache-aside, with one
// refresh attempt when the provider reports expiry.
//
// Concurrent misses for the same credential each call the provider; the
// calls are idempotent and cache writes are last-writer-wins.
type SessionValidator struct {
	provider domain.IdentityProvider
	cache    domain.SessionCache
	hashKey  []byte
	maxTTL   time.Duration
	skew     time.Duration
	now      func() time.Time
}

// NewSessionValidator creates a SessionValidator.
func NewSessionValidator(provider domain.IdentityProvider, cache domain.SessionCache, opts SessionValidatorOptions) (*SessionValidator, error) {
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if cache == nil {
		return nil, errors.New("session cache is required")
	}
	if opts.KeySecret == "" {
		return nil, errors.New("cache key secret is required")
	}
	key := blake2b.Sum256([]byte(opts.KeySecret))
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxTTL := opts.MaxTTL
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &SessionValidator{
		provider: provider,
		cache:    cache,
		hashKey:  key[:],
		maxTTL:   maxTTL,
		skew:     opts.Skew,
		now:      now,
	}, nil
}

// Validate returns the session for credential.
func (v *SessionValidator) Validate(ctx context.Context, credential string) (*SessionResult, error) {
	ctx, span := middleware.StartSpan(ctx, "session.validate", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if credential == "" {
		return nil, ErrSessionNotProvided
	}

	logger := zerolog.Ctx(ctx)
	key := v.cacheKey(credential)

	if session := v.lookup(ctx, key); session != nil {
		span.SetAttributes(attribute.Bool("session.cache_hit", true))
		return &SessionResult{Session: session}, nil
	}
	span.SetAttributes(attribute.Bool("session.cache_hit", false))

	session, err := v.authenticate(ctx, credential, key)
	if err == nil {
		return &SessionResult{Session: session}, nil
	}
	if !errors.Is(err, domain.ErrSessionExpired) {
		span.RecordError(err)
		return nil, mapDomainError(err)
	}

	logger.Debug().Msg("Session expired, attempting refresh")
	result, err := v.refresh(ctx, credential)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.AddEvent("session.refreshed")
	return result, nil
}

// lookup returns a fresh cached session or nil. Cache errors degrade to a miss.
func (v *SessionValidator) lookup(ctx context.Context, key string) *domain.ValidatedSession {
	logger := zerolog.Ctx(ctx)

	session, err := v.cache.Get(ctx, key)
	switch {
	case err != nil:
		middleware.SessionCacheResults.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Msg("Session cache read failed, treating as miss")
		return nil
	case session == nil:
		middleware.SessionCacheResults.WithLabelValues("miss").Inc()
		logger.Debug().Msg("Session cache miss")
		return nil
	case v.now().Unix() >= session.ExpiresAt:
		middleware.SessionCacheResults.WithLabelValues("stale").Inc()
		logger.Debug().Int64("expires_at", session.ExpiresAt).Msg("Cached session expired")
		v.evict(ctx, key)
		return nil
	default:
		middleware.SessionCacheResults.WithLabelValues("hit").Inc()
		logger.Debug().Msg("Session cache hit")
		return session
	}
}

// authenticate asks the provider, builds the session and caches it under key.
func (v *SessionValidator) authenticate(ctx context.Context, credential, key string) (*domain.ValidatedSession, error) {
	ps, err := v.provider.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}

	session := &domain.ValidatedSession{
		PrincipalID:  ps.UserID,
		Email:        ps.Email,
		SessionID:    ps.SessionID,
		ExpiresAt:    ps.ExpiresAt.Unix(),
		AccessToken:  ps.AccessToken,
		RefreshToken: ps.RefreshToken,
	}
	if ps.OrganizationID != "" {
		orgID := ps.OrganizationID
		session.OrganizationID = &orgID
		session.InternalOrganizationID = v.resolveInternalOrganization(ctx, orgID)
	}
	if ps.Role != "" {
		role := ps.Role
		session.Role = &role
	}

	v.store(ctx, key, session)
	return session, nil
}

// resolveInternalOrganization is best effort: the gateway stays available
// when organization metadata cannot be fetched, and the id stays nil.
func (v *SessionValidator) resolveInternalOrganization(ctx context.Context, organizationID string) *string {
	org, err := v.provider.GetOrganization(ctx, organizationID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("organization_id", organizationID).Msg("Organization lookup failed, continuing without internal organization id")
		return nil
	}
	if org == nil || org.ExternalID == "" {
		return nil
	}
	id := org.ExternalID
	return &id
}

func (v *SessionValidator) store(ctx context.Context, key string, session *domain.ValidatedSession) {
	ttl := v.cacheTTL(session)
	if ttl <= 0 {
		return
	}
	if err := v.cache.Set(ctx, key, session, ttl); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Session cache write failed")
	}
}

func (v *SessionValidator) evict(ctx context.Context, key string) {
	if err := v.cache.Delete(ctx, key); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Session cache delete failed")
	}
}

// cacheTTL keeps entries strictly inside the token lifetime.
func (v *SessionValidator) cacheTTL(session *domain.ValidatedSession) time.Duration {
	ttl := session.ExpiresTime().Sub(v.now()) - v.skew
	if ttl > v.maxTTL {
		ttl = v.maxTTL
	}
	return ttl
}

// refresh performs the single refresh-on-expiry attempt.
func (v *SessionValidator) refresh(ctx context.Context, credential string) (*SessionResult, error) {
	logger := zerolog.Ctx(ctx)

	refreshed, err := v.provider.Refresh(ctx, credential)
	if err != nil {
		middleware.SessionRefreshes.WithLabelValues("failed").Inc()
		logger.Debug().Err(err).Msg("Session refresh failed")
		if errors.Is(err, domain.ErrProviderUnavailable) || errors.Is(err, domain.ErrProviderTimeout) {
			return nil, mapDomainError(err)
		}
		return nil, ErrSessionExpired.wrap(fmt.Errorf("refresh: %w", err))
	}

	newCredential := refreshed.SealedSession
	session, err := v.authenticate(ctx, newCredential, v.cacheKey(newCredential))
	if err != nil {
		middleware.SessionRefreshes.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrSessionExpired) {
			return nil, ErrSessionExpired.wrap(fmt.Errorf("revalidate refreshed session: %w", err))
		}
		return nil, mapDomainError(fmt.Errorf("revalidate refreshed session: %w", err))
	}

	// The old credential is dead once rotated.
	v.evict(ctx, v.cacheKey(credential))

	middleware.SessionRefreshes.WithLabelValues("succeeded").Inc()
	logger.Debug().Msg("Session refreshed")
	return &SessionResult{Session: session, RefreshedCredential: newCredential}, nil
}

// cacheKey is a keyed BLAKE2b-256 hash of the raw credential.
func (v *SessionValidator) cacheKey(credential string) string {
	h, _ := blake2b.New256(v.hashKey)
	h.Write([]byte(credential))
	return sessionKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
