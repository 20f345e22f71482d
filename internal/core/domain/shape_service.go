package domain

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Shape service failures.
var (
	ErrShapeServiceUnavailable = errors.New("shape service unavailable")
	ErrShapeServiceTimeout     = errors.New("shape service timeout")
)

// ShapeRequest is one scoped upstream request. ClientParams is the raw client
// query; implementations copy only the protocol's own parameters out of it.
type ShapeRequest struct {
	Table        Table
	Where        string
	ClientParams url.Values
}

// ShapeService defines the contract of the upstream shape service.
type ShapeService interface {
	// Fetch sends the request and returns the upstream response unread.
	// The caller closes the body.
	Fetch(ctx context.Context, req ShapeRequest) (*http.Response, error)
}
