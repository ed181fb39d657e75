package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-service-secret-for-tests"

func signToken(t *testing.T, secret string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestGateBypassedWithoutSecret(t *testing.T) {
	gate := NewGate("", nil, nil)
	assert.False(t, gate.Enabled())
	assert.NoError(t, gate.Admit(""))
	assert.NoError(t, gate.Admit("Bearer anything-at-all"))
}

func TestGateAdmitsValidToken(t *testing.T) {
	gate := NewGate(testSecret, nil, nil)
	require.True(t, gate.Enabled())

	token := signToken(t, testSecret, time.Hour)
	assert.NoError(t, gate.Admit("Bearer "+token))
	// The raw token without the scheme prefix works too.
	assert.NoError(t, gate.Admit(token))
}

func TestGateRejectsMissingToken(t *testing.T) {
	gate := NewGate(testSecret, nil, nil)

	err := gate.Admit("")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestGateRejectsForeignToken(t *testing.T) {
	gate := NewGate(testSecret, nil, nil)

	token := signToken(t, "some-other-secret", time.Hour)
	err := gate.Admit("Bearer " + token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGateRejectsExpiredToken(t *testing.T) {
	gate := NewGate(testSecret, nil, nil)

	token := signToken(t, testSecret, -time.Hour)
	err := gate.Admit("Bearer " + token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestPermanentTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.dat")

	tokens, err := NewTokenStore(path, testSecret)
	require.NoError(t, err)

	plaintext, err := tokens.Issue("deploy")
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)

	assert.True(t, tokens.Verify(plaintext))
	assert.False(t, tokens.Verify("not-the-token"))

	gate := NewGate(testSecret, tokens, nil)
	assert.NoError(t, gate.Admit("Bearer "+plaintext))

	// The store round-trips through its encrypted file.
	reloaded, err := NewTokenStore(path, testSecret)
	require.NoError(t, err)
	assert.True(t, reloaded.Verify(plaintext))
	assert.Equal(t, []string{"deploy"}, reloaded.ListTokens())

	require.NoError(t, reloaded.Revoke("deploy"))
	assert.False(t, reloaded.Verify(plaintext))
}

func TestTokenStoreRejectsWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.dat")

	tokens, err := NewTokenStore(path, testSecret)
	require.NoError(t, err)
	_, err = tokens.Issue("deploy")
	require.NoError(t, err)

	_, err = NewTokenStore(path, "a-completely-different-key")
	require.Error(t, err)
}
