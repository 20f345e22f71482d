// Package v1 provides the sync gateway's authorization logic for API version 1.
//
// Error Handling:
// Every failure that can reach a client is a *GatewayError of exactly one
// Kind. Lower layers return domain sentinels wrapped with fmt.Errorf("%w");
// this package translates them with AsGatewayError so raw internal errors never
// reach a response body.
//
// Error Checking (in handlers):
//
//	gwErr := logicv1.AsGatewayError(err)
//	c.JSON(gwErr.Status(), gin.H{"error": gwErr})
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// Kind is the closed error taxonomy of the gateway.
type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindTableAccess    Kind = "table_access_error"
	KindUpstream       Kind = "upstream_error"
)

// GatewayError is a client-safe error. Err holds the internal cause for logs
// and errors.Is; it is never serialized.
type GatewayError struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	status  int
	Err     error `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is matches another *GatewayError by Code so sentinels below work with errors.Is.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Code == e.Code
}

// Status returns the HTTP status for the error.
func (e *GatewayError) Status() int {
	return e.status
}

func (e *GatewayError) wrap(err error) *GatewayError {
	out := *e
	out.Err = err
	return &out
}

func (e *GatewayError) withDetail(detail string) *GatewayError {
	out := *e
	out.Detail = detail
	return &out
}

func newError(kind Kind, status int, code, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message, status: status}
}

// Sentinel errors. Compare with errors.Is; returned errors are copies that
// carry the underlying cause.
var (
	// ErrSessionNotProvided: no credential in cookie or header.
	// HTTP Status: 401 Unauthorized
	ErrSessionNotProvided = newError(KindAuthentication, http.StatusUnauthorized, "session_not_provided", "Session credential required")

	// ErrInvalidSession: the credential could not be opened or parsed.
	// HTTP Status: 401 Unauthorized
	ErrInvalidSession = newError(KindAuthentication, http.StatusUnauthorized, "invalid_session", "Invalid session")

	// ErrSessionExpired: expired and not refreshable.
	// HTTP Status: 401 Unauthorized
	ErrSessionExpired = newError(KindAuthentication, http.StatusUnauthorized, "session_expired", "Session expired")

	// ErrAuthenticationFailed: the identity provider rejected the session.
	// HTTP Status: 401 Unauthorized
	ErrAuthenticationFailed = newError(KindAuthentication, http.StatusUnauthorized, "authentication_failed", "Authentication failed")

	// ErrUserNotProvisioned: the provider accepted the principal but no
	// internal user is linked to it.
	// HTTP Status: 401 Unauthorized
	ErrUserNotProvisioned = newError(KindAuthentication, http.StatusUnauthorized, "user_not_provisioned", "Authentication failed")

	// ErrMissingTable: no table query parameter.
	// HTTP Status: 400 Bad Request
	ErrMissingTable = newError(KindTableAccess, http.StatusBadRequest, "missing_table", "Missing table parameter")

	// ErrTableNotAllowed: the table is not in the allow-list.
	// HTTP Status: 400 Bad Request
	ErrTableNotAllowed = newError(KindTableAccess, http.StatusBadRequest, "table_not_allowed", "Table not allowed")

	// ErrNoPolicyForTable: allow-listed table without a rule. A server
	// configuration defect; still denies.
	// HTTP Status: 403 Forbidden
	ErrNoPolicyForTable = newError(KindTableAccess, http.StatusForbidden, "no_policy_for_table", "Table access denied")

	// ErrInvalidAccessValue: an id in the access context cannot be safely
	// embedded in a predicate.
	// HTTP Status: 403 Forbidden
	ErrInvalidAccessValue = newError(KindTableAccess, http.StatusForbidden, "invalid_access_value", "Table access denied")

	// ErrIdentityUnavailable: identity provider unreachable or failing.
	// HTTP Status: 502 Bad Gateway
	ErrIdentityUnavailable = newError(KindUpstream, http.StatusBadGateway, "identity_unavailable", "Identity provider unavailable")

	// ErrIdentityTimeout: identity provider did not answer in time.
	// HTTP Status: 504 Gateway Timeout
	ErrIdentityTimeout = newError(KindUpstream, http.StatusGatewayTimeout, "identity_timeout", "Identity provider timed out")

	// ErrShapeUnavailable: the shape service is unreachable.
	// HTTP Status: 502 Bad Gateway
	ErrShapeUnavailable = newError(KindUpstream, http.StatusBadGateway, "shape_service_unavailable", "Sync service unavailable")

	// ErrShapeTimeout: the shape service did not send headers in time.
	// HTTP Status: 504 Gateway Timeout
	ErrShapeTimeout = newError(KindUpstream, http.StatusGatewayTimeout, "shape_service_timeout", "Sync service timed out")

	// ErrRecordsUnavailable: a system-of-record read failed.
	// HTTP Status: 502 Bad Gateway
	ErrRecordsUnavailable = newError(KindUpstream, http.StatusBadGateway, "records_unavailable", "User records unavailable")

	// ErrInternal: anything else. Never carries internal text to the client.
	// HTTP Status: 502 Bad Gateway
	ErrInternal = newError(KindUpstream, http.StatusBadGateway, "internal_error", "Gateway could not complete the request")
)

// AsGatewayError maps any error to exactly one taxonomy member.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return mapDomainError(err)
}

// mapDomainError translates identity provider and shape service sentinels.
func mapDomainError(err error) *GatewayError {
	switch {
	case errors.Is(err, domain.ErrInvalidSessionPayload):
		return ErrInvalidSession.wrap(err)
	case errors.Is(err, domain.ErrSessionExpired):
		return ErrSessionExpired.wrap(err)
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return ErrAuthenticationFailed.wrap(err)
	case errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrIdentityTimeout.wrap(err)
	case errors.Is(err, domain.ErrProviderUnavailable):
		return ErrIdentityUnavailable.wrap(err)
	case errors.Is(err, domain.ErrShapeServiceTimeout):
		return ErrShapeTimeout.wrap(err)
	case errors.Is(err, domain.ErrShapeServiceUnavailable):
		return ErrShapeUnavailable.wrap(err)
	default:
		return ErrInternal.wrap(err)
	}
}
