package v1

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/duynhne/sync-gateway/internal/core/domain"
	"github.com/duynhne/sync-gateway/middleware"
)

// AccessContextBuilder computes everything an internal user may access.
type AccessContextBuilder struct {
	access domain.AccessRepository
}

// NewAccessContextBuilder creates a new AccessContextBuilder.
func NewAccessContextBuilder(access domain.AccessRepository) *AccessContextBuilder {
	return &AccessContextBuilder{access: access}
}

// Build runs the four membership reads concurrently and joins them. Any
// failed read fails the build; a partial context is never returned.
func (b *AccessContextBuilder) Build(ctx context.Context, userID string) (*domain.AccessContext, error) {
	ctx, span := middleware.StartSpan(ctx, "access.build_context", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("user.id", userID),
	))
	defer span.End()

	if userID == "" {
		return nil, errors.New("build access context: user id is required")
	}

	var organizationIDs, memberIDs, channelIDs, coOrganizationUserIDs []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		organizationIDs, err = b.access.ListOrganizationIDs(gctx, userID)
		if err != nil {
			return fmt.Errorf("list organizations: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		memberIDs, err = b.access.ListMemberIDs(gctx, userID)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		channelIDs, err = b.access.ListChannelIDs(gctx, userID)
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		coOrganizationUserIDs, err = b.access.ListCoOrganizationUserIDs(gctx, userID)
		if err != nil {
			return fmt.Errorf("list co-organization users: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("build access context for user %q: %w", userID, err)
	}

	ac := domain.NewAccessContext(userID, organizationIDs, channelIDs, memberIDs, coOrganizationUserIDs)
	span.SetAttributes(
		attribute.Int("access.organizations", len(ac.OrganizationIDs)),
		attribute.Int("access.channels", len(ac.ChannelIDs)),
		attribute.Int("access.members", len(ac.MemberIDs)),
		attribute.Int("access.co_organization_users", len(ac.CoOrganizationUserIDs)),
	)
	return ac, nil
}
