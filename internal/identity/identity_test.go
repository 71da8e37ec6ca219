package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()

	token, err := NewStaticProvider("abc123").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	_, err = NewStaticProvider("").Token(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("APPLY_TEST_TOKEN", "env-token")
	p, err := FromEnv("APPLY_TEST_TOKEN")
	require.NoError(t, err)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)

	_, err = FromEnv("APPLY_TEST_TOKEN_MISSING")
	assert.ErrorIs(t, err, ErrNoToken)
}

func newTokenServer(t *testing.T, calls *atomic.Int64, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-secret", r.Form.Get("refresh_token"))

		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestRefreshProviderCachesUntilMargin(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, 3600)
	defer srv.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewRefreshProvider(srv.URL, "refresh-secret", WithExpiryMargin(60*time.Second))
	require.NoError(t, err)
	p.timeNow = func() time.Time { return now }

	ctx := context.Background()

	// First call refreshes
	token, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int64(1), calls.Load())

	// Within the validity window the cached token is reused
	now = now.Add(30 * time.Minute)
	token, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, int64(1), calls.Load())

	// Inside the expiry margin a fresh token is fetched
	now = now.Add(29*time.Minute + 30*time.Second)
	token, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRefreshProviderDefaultsExpiry(t *testing.T) {
	var calls atomic.Int64
	// expires_in of 0 must not poison the cache into refreshing every call
	srv := newTokenServer(t, &calls, 0)
	defer srv.Close()

	p, err := NewRefreshProvider(srv.URL, "refresh-secret")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.Token(ctx)
	require.NoError(t, err)
	_, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRefreshProviderErrorPaths(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		_, err := NewRefreshProvider("", "x")
		assert.Error(t, err)
		_, err = NewRefreshProvider("http://localhost", "")
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("http error surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		p, err := NewRefreshProvider(srv.URL, "refresh-secret")
		require.NoError(t, err)
		_, err = p.Token(context.Background())
		assert.ErrorContains(t, err, "HTTP 401")
	})

	t.Run("empty access token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
		}))
		defer srv.Close()

		p, err := NewRefreshProvider(srv.URL, "refresh-secret")
		require.NoError(t, err)
		_, err = p.Token(context.Background())
		assert.ErrorIs(t, err, ErrNoToken)
	})
}

func TestTokenSourceAdapter(t *testing.T) {
	src := TokenSource(context.Background(), NewStaticProvider("adapted"))
	token, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "adapted", token.AccessToken)
}
