// Package identity supplies bearer tokens for side integrations like the
// tracking spreadsheet. The orchestration core never authenticates; only
// outbound collaborators consume these providers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// ErrNoToken indicates a provider has no token to hand out
var ErrNoToken = errors.New("no token available")

// TokenProvider is an abstraction over bearer token sources
type TokenProvider interface {
	// Token returns a currently valid bearer token
	Token(ctx context.Context) (string, error)
}

// StaticProvider hands out a fixed token, typically loaded from env
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider around a fixed token
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// FromEnv builds a static provider from an environment variable
func FromEnv(key string) (*StaticProvider, error) {
	token := os.Getenv(key)
	if token == "" {
		return nil, fmt.Errorf("environment variable %s not set: %w", key, ErrNoToken)
	}
	return &StaticProvider{token: token}, nil
}

// Token returns the fixed token
func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoToken
	}
	return p.token, nil
}

// tokenSource adapts a TokenProvider to oauth2.TokenSource so Google API
// clients can consume it via option.WithTokenSource.
type tokenSource struct {
	ctx      context.Context
	provider TokenProvider
}

// TokenSource wraps provider for use with Google API client options. The
// context bounds every token fetch the source performs.
func TokenSource(ctx context.Context, provider TokenProvider) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, provider: provider}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.provider.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token}, nil
}
