package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Username: "ops", Password: "s3cret", JWTSecret: "k"})
	require.NoError(t, err)

	token, exp, err := a.Authenticate("ops", "s3cret")
	require.NoError(t, err)
	assert.Greater(t, exp, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, "vigil", claims.Issuer)

	_, _, err = a.Authenticate("ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBcryptHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	a, err := NewAuthenticator(Config{Enabled: true, Password: hash})
	require.NoError(t, err)
	_, _, err = a.Authenticate("admin", "pw")
	assert.NoError(t, err)
}

func TestDisabledAndMisconfigured(t *testing.T) {
	a, err := NewAuthenticator(Config{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())
	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewAuthenticator(Config{Enabled: true})
	assert.Error(t, err)
}

func TestTokenExpiryAndTampering(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }

	token, _, err := m.GenerateToken("ops")
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other := NewJWTManager("different", time.Minute)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
