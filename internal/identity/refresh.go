package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRefreshTimeout bounds a single token exchange request.
	DefaultRefreshTimeout = 15 * time.Second

	// DefaultExpiryMargin refreshes this long before the token actually
	// expires, so in-flight requests never ride a dying token.
	DefaultExpiryMargin = 30 * time.Second
)

// RefreshProvider exchanges a long-lived refresh credential for short-lived
// access tokens over HTTP and caches them until shortly before expiry.
type RefreshProvider struct {
	endpoint     string
	refreshToken string
	client       *http.Client
	margin       time.Duration
	timeNow      func() time.Time // Injectable for testing

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// RefreshOption customizes a RefreshProvider
type RefreshOption func(*RefreshProvider)

// WithHTTPClient overrides the HTTP client used for token exchanges
func WithHTTPClient(client *http.Client) RefreshOption {
	return func(p *RefreshProvider) { p.client = client }
}

// WithExpiryMargin overrides how early tokens are considered stale
func WithExpiryMargin(margin time.Duration) RefreshOption {
	return func(p *RefreshProvider) { p.margin = margin }
}

// NewRefreshProvider creates a provider that refreshes against endpoint
func NewRefreshProvider(endpoint, refreshToken string, opts ...RefreshOption) (*RefreshProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("refresh endpoint is required")
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required: %w", ErrNoToken)
	}

	p := &RefreshProvider{
		endpoint:     endpoint,
		refreshToken: refreshToken,
		client:       &http.Client{Timeout: DefaultRefreshTimeout},
		margin:       DefaultExpiryMargin,
		timeNow:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// tokenResponse is the standard OAuth token endpoint payload
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns the cached access token, refreshing when it is within the
// expiry margin. Concurrent callers share one refresh.
func (p *RefreshProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.timeNow().Before(p.expiresAt.Add(-p.margin)) {
		return p.token, nil
	}

	token, expiresIn, err := p.refresh(ctx)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expiresAt = p.timeNow().Add(time.Duration(expiresIn) * time.Second)
	return p.token, nil
}

func (p *RefreshProvider) refresh(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token refresh returned HTTP %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("refresh response missing access_token: %w", ErrNoToken)
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = 3600
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}
