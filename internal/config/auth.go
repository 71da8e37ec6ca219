// Package config: control-API authentication settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// JWTConfig holds configuration for control-API token generation and
// validation.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// NewJWTConfig creates a new JWT configuration from environment variables.
// It reads JWT_SECRET (required) and JWT_EXPIRATION_HOURS (default: 24).
func NewJWTConfig() (*JWTConfig, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	expirationHours := 24
	if s := os.Getenv("JWT_EXPIRATION_HOURS"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %v", err)
		}
		expirationHours = parsed
	}

	cfg := &JWTConfig{Secret: secret, ExpirationHours: expirationHours}
	if cfg.ExpirationHours < 1 {
		return nil, fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", cfg.ExpirationHours)
	}
	return cfg, nil
}

// APIAuth verifies the shared control-API password. The engine is a
// single-operator tool: one bcrypt hash (APPLY_API_PASSWORD_HASH) gates token
// issuance, with an optional pepper mixed in before hashing.
type APIAuth struct {
	PasswordHash string
	Pepper       string
	BcryptCost   int
}

// NewAPIAuth creates API auth settings from environment variables. It reads
// APPLY_API_PASSWORD_HASH (required), PASSWORD_PEPPER (optional), and
// BCRYPT_COST (default: 12, used when minting new hashes).
func NewAPIAuth() (*APIAuth, error) {
	hash := os.Getenv("APPLY_API_PASSWORD_HASH")
	if hash == "" {
		return nil, fmt.Errorf("APPLY_API_PASSWORD_HASH is required but not set")
	}

	cost := bcrypt.DefaultCost + 2
	if s := os.Getenv("BCRYPT_COST"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid BCRYPT_COST: %v", err)
		}
		cost = parsed
	}
	if cost < 10 || cost > 14 {
		return nil, fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", cost)
	}

	return &APIAuth{
		PasswordHash: hash,
		Pepper:       os.Getenv("PASSWORD_PEPPER"),
		BcryptCost:   cost,
	}, nil
}

// HashPassword hashes a password with bcrypt (pepper applied when set).
// Exposed so the CLI can mint APPLY_API_PASSWORD_HASH values.
func (a *APIAuth) HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw+a.Pepper), a.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether pw matches the configured hash.
func (a *APIAuth) VerifyPassword(pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(pw+a.Pepper)) == nil
}
