// Package electric is the client of the upstream shape service.
package electric

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// ShapePath is the shape endpoint on the upstream service.
const ShapePath = "/v1/shape"

// ProtocolParams are the client query parameters forwarded upstream. Anything
// else, table and where included, is dropped.
var ProtocolParams = []string{
	"live",
	"live_sse",
	"handle",
	"offset",
	"cursor",
	"expired_handle",
	"log",
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	SourceID string
	Secret   string
	// ResponseHeaderTimeout bounds the wait for upstream headers. The body
	// is unbounded: live requests are long polls.
	ResponseHeaderTimeout time.Duration
	HTTPClient            *http.Client
}

// Client sends scoped shape requests upstream.
type Client struct {
	endpoint *url.URL
	sourceID string
	secret   string
	http     *http.Client
}

// NewClient creates a new Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("shape service url is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse shape service url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
		httpClient = &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &Client{
		endpoint: base.JoinPath(ShapePath),
		sourceID: opts.SourceID,
		secret:   opts.Secret,
		http:     httpClient,
	}, nil
}

// URL returns the upstream URL for req. Server-owned parameters are set after
// the client ones so they can never be overridden.
func (c *Client) URL(req domain.ShapeRequest) string {
	q := url.Values{}
	for _, name := range ProtocolParams {
		if values, ok := req.ClientParams[name]; ok && len(values) > 0 {
			q.Set(name, values[0])
		}
	}
	q.Set("table", string(req.Table))
	q.Set("where", req.Where)
	if c.sourceID != "" {
		q.Set("source_id", c.sourceID)
	}
	if c.secret != "" {
		q.Set("secret", c.secret)
	}

	u := *c.endpoint
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch sends req upstream, bound to ctx so a client disconnect cancels it.
func (c *Client) Fetch(ctx context.Context, req domain.ShapeRequest) (*http.Response, error) {
	if req.Table == "" || req.Where == "" {
		return nil, errors.New("shape request requires table and where")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("build shape request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", domain.ErrShapeServiceTimeout, redact(err))
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrShapeServiceUnavailable, redact(err))
	}
	return resp, nil
}

// redact drops the request URL from transport errors; it carries the secret.
func redact(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op + ": " + urlErr.Err.Error()
	}
	return err.Error()
}
