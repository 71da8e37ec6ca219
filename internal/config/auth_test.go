package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTConfig_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := NewJWTConfig()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestNewJWTConfig_DefaultExpiration(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	cfg, err := NewJWTConfig()
	require.NoError(t, err)
	assert.Equal(t, "test-secret", cfg.Secret)
	assert.Equal(t, 24, cfg.ExpirationHours)
}

func TestNewJWTConfig_InvalidExpiration(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	tests := []struct {
		name  string
		value string
	}{
		{"not a number", "abc"},
		{"zero hours", "0"},
		{"negative", "-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_EXPIRATION_HOURS", tt.value)
			_, err := NewJWTConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewAPIAuth_RequiresHash(t *testing.T) {
	t.Setenv("APPLY_API_PASSWORD_HASH", "")

	auth, err := NewAPIAuth()
	assert.Error(t, err)
	assert.Nil(t, auth)
}

func TestNewAPIAuth_CostRange(t *testing.T) {
	t.Setenv("APPLY_API_PASSWORD_HASH", "$2a$12$placeholder")

	t.Setenv("BCRYPT_COST", "9")
	_, err := NewAPIAuth()
	assert.Error(t, err)

	t.Setenv("BCRYPT_COST", "15")
	_, err = NewAPIAuth()
	assert.Error(t, err)

	t.Setenv("BCRYPT_COST", "10")
	auth, err := NewAPIAuth()
	require.NoError(t, err)
	assert.Equal(t, 10, auth.BcryptCost)
}

func TestAPIAuth_HashAndVerify(t *testing.T) {
	auth := &APIAuth{BcryptCost: 10}

	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	auth.PasswordHash = hash
	assert.True(t, auth.VerifyPassword("correct horse"))
	assert.False(t, auth.VerifyPassword("wrong horse"))
}

func TestAPIAuth_PepperChangesVerification(t *testing.T) {
	withPepper := &APIAuth{BcryptCost: 10, Pepper: "sprinkle"}

	hash, err := withPepper.HashPassword("pw")
	require.NoError(t, err)
	withPepper.PasswordHash = hash

	assert.True(t, withPepper.VerifyPassword("pw"))

	// Same password, no pepper: must not verify.
	withoutPepper := &APIAuth{BcryptCost: 10, PasswordHash: hash}
	assert.False(t, withoutPepper.VerifyPassword("pw"))
}
