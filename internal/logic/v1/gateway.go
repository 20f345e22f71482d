package v1

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/sync-gateway/internal/core/domain"
	"github.com/duynhne/sync-gateway/middleware"
)

// ShapeGrant is the outcome of a successful authorization: the table and the
// predicate the upstream request must carry.
type ShapeGrant struct {
	Table               domain.Table
	Where               string
	User                *domain.AuthenticatedUser
	RefreshedCredential string
}

// GatewayService authorizes shape requests. It depends on repository
// interfaces and MUST NOT access the database or SQL directly.
type GatewayService struct {
	sessions *SessionValidator
	users    domain.UserRepository
	access   *AccessContextBuilder
	policy   *PolicyEngine
}

// NewGatewayService creates a new GatewayService.
func NewGatewayService(sessions *SessionValidator, users domain.UserRepository, access *AccessContextBuilder, policy *PolicyEngine) *GatewayService {
	return &GatewayService{
		sessions: sessions,
		users:    users,
		access:   access,
		policy:   policy,
	}
}

// Authorize runs credential check, table check, session validation, user
// resolution, access context and predicate construction in order. Each step
// returns early; the first two do no I/O.
func (s *GatewayService) Authorize(ctx context.Context, credential, tableName string) (*ShapeGrant, error) {
	ctx, span := middleware.StartSpan(ctx, "gateway.authorize", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	if credential == "" {
		span.SetAttributes(attribute.Bool("auth.present", false))
		return nil, ErrSessionNotProvided
	}

	table, err := CheckTable(tableName)
	if err != nil {
		middleware.PolicyDecisions.WithLabelValues("invalid", "rejected").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("shape.table", string(table)))

	result, err := s.sessions.Validate(ctx, credential)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	user, err := s.resolveUser(ctx, result.Session)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ac, err := s.access.Build(ctx, user.InternalUserID)
	if err != nil {
		span.RecordError(err)
		return nil, ErrRecordsUnavailable.wrap(err)
	}
	user.Access = ac

	where, err := s.policy.Predicate(table, ac)
	if err != nil {
		span.RecordError(err)
		middleware.PolicyDecisions.WithLabelValues(string(table), "denied").Inc()
		return nil, err
	}
	middleware.PolicyDecisions.WithLabelValues(string(table), "granted").Inc()
	span.SetAttributes(attribute.String("user.id", user.InternalUserID))

	return &ShapeGrant{
		Table:               table,
		Where:               where,
		User:                user,
		RefreshedCredential: result.RefreshedCredential,
	}, nil
}

// resolveUser binds the session to its internal user. There is no default
// user: a principal without a record is rejected even though the identity
// provider accepted it.
func (s *GatewayService) resolveUser(ctx context.Context, session *domain.ValidatedSession) (*domain.AuthenticatedUser, error) {
	row, err := s.users.GetByExternalID(ctx, session.PrincipalID)
	if err != nil {
		return nil, ErrRecordsUnavailable.wrap(fmt.Errorf("query user by external id: %w", err))
	}
	if row == nil || row.ID == "" {
		return nil, ErrUserNotProvisioned.wrap(errors.New("no internal user for principal"))
	}

	return &domain.AuthenticatedUser{
		ExternalPrincipalID: session.PrincipalID,
		InternalUserID:      row.ID,
		Email:               session.Email,
		OrganizationID:      session.OrganizationID,
		Role:                session.Role,
	}, nil
}
