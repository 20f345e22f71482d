// Package identity is the adapter for the upstream identity provider.
//
// Session credentials are sealed cookies holding the provider's access and
// refresh tokens. Authenticate asks the provider to vouch for the access token;
// Refresh trades the refresh token for a rotated pair and reseals it.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

const (
	defaultTimeout      = 5 * time.Second
	maxErrorBodyBytes   = 4 << 10
	codeSessionExpired  = "session_expired"
	codeInvalidGrant    = "invalid_grant"
	grantTypeRefreshTok = "refresh_token"
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	ClientID       string
	CookiePassword string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Now            func() time.Time
}

// Client implements domain.IdentityProvider over the provider's HTTP API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	clientID   string
	sealer     *Sealer
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

// NewClient validates options and builds a Client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("identity provider base url is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("identity provider api key is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("identity provider client id is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid identity provider url: %w", err)
	}
	sealer, err := NewSealer(opts.CookiePassword)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:    base,
		apiKey:     opts.APIKey,
		clientID:   opts.ClientID,
		sealer:     sealer,
		httpClient: httpClient,
		timeout:    timeout,
		now:        now,
	}, nil
}

// Sealer exposes the session sealer, used to mint credentials after login.
func (c *Client) Sealer() *Sealer {
	return c.sealer
}

type authenticateSessionRequest struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authenticateSessionResponse struct {
	User userResponse `json:"user"`
}

// Authenticate validates a sealed session. An access token past its exp is
// reported as domain.ErrSessionExpired without contacting the provider.
func (c *Client) Authenticate(ctx context.Context, sealedSession string) (*domain.ProviderSession, error) {
	tokens, err := c.sealer.Unseal(sealedSession)
	if err != nil {
		return nil, fmt.Errorf("unseal session: %w: %w", domain.ErrInvalidSessionPayload, err)
	}
	claims, err := parseAccessToken(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w: %w", domain.ErrInvalidSessionPayload, err)
	}
	expiresAt := claims.ExpiresAt.Time
	if !c.now().Before(expiresAt) {
		return nil, fmt.Errorf("access token expired at %s: %w", expiresAt.UTC().Format(time.RFC3339), domain.ErrSessionExpired)
	}

	var resp authenticateSessionResponse
	err = c.post(ctx, "/user_management/sessions/authenticate", authenticateSessionRequest{
		ClientID:    c.clientID,
		AccessToken: tokens.AccessToken,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("authenticate session: %w", err)
	}
	if resp.User.ID == "" || resp.User.ID != claims.Subject {
		return nil, fmt.Errorf("provider user does not match token subject: %w", domain.ErrAuthenticationFailed)
	}

	return &domain.ProviderSession{
		UserID:         resp.User.ID,
		Email:          resp.User.Email,
		SessionID:      claims.SessionID,
		OrganizationID: claims.OrganizationID,
		Role:           claims.Role,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		ExpiresAt:      expiresAt,
	}, nil
}

type refreshRequest struct {
	GrantType      string `json:"grant_type"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	RefreshToken   string `json:"refresh_token"`
	OrganizationID string `json:"organization_id,omitempty"`
}

type refreshResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

// Refresh exchanges the session's refresh token and reseals the rotated pair.
func (c *Client) Refresh(ctx context.Context, sealedSession string) (*domain.RefreshedSession, error) {
	tokens, err := c.sealer.Unseal(sealedSession)
	if err != nil {
		return nil, fmt.Errorf("unseal session: %w: %w", domain.ErrInvalidSessionPayload, err)
	}
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("session has no refresh token: %w", domain.ErrSessionExpired)
	}

	var organizationID string
	if claims, err := parseAccessToken(tokens.AccessToken); err == nil {
		organizationID = claims.OrganizationID
	}

	var resp refreshResponse
	err = c.post(ctx, "/user_management/authenticate", refreshRequest{
		GrantType:      grantTypeRefreshTok,
		ClientID:       c.clientID,
		ClientSecret:   c.apiKey,
		RefreshToken:   tokens.RefreshToken,
		OrganizationID: organizationID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("refresh returned no access token: %w", domain.ErrAuthenticationFailed)
	}

	sealed, err := c.sealer.Seal(SessionTokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("seal refreshed session: %w", err)
	}
	return &domain.RefreshedSession{SealedSession: sealed}, nil
}

type organizationResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
}

// GetOrganization fetches organization metadata by provider id.
func (c *Client) GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error) {
	if organizationID == "" {
		return nil, errors.New("organization id is required")
	}
	var resp organizationResponse
	if err := c.get(ctx, "/organizations/"+url.PathEscape(organizationID), &resp); err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &domain.Organization{ID: resp.ID, Name: resp.Name, ExternalID: resp.ExternalID}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

type errorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do runs one provider call under the client timeout and maps its outcome
// onto the domain error set.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrProviderTimeout)
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrProviderUnavailable)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodyBytes)).Decode(&apiErr)
		code := apiErr.Code
		if code == "" {
			code = apiErr.Error
		}
		switch strings.ToLower(code) {
		case codeSessionExpired, codeInvalidGrant:
			return fmt.Errorf("%s %s: %s: %w", method, path, code, domain.ErrSessionExpired)
		default:
			return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, domain.ErrAuthenticationFailed)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrProviderTimeout)
		}
		return fmt.Errorf("%s %s: decode response: %w: %w", method, path, domain.ErrProviderUnavailable, err)
	}
	return nil
}

var _ domain.IdentityProvider = (*Client)(nil)
