package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticatorToken(t *testing.T) {
	a, err := NewAuthenticator(DefaultToken, "")
	require.NoError(t, err)

	assert.NoError(t, a.Verify("alice", "secret123"))
	assert.ErrorIs(t, a.Verify("alice", "secret1234"), ErrInvalidToken)
	assert.ErrorIs(t, a.Verify("alice", ""), ErrAuthentication)
	assert.ErrorIs(t, a.Verify("", "secret123"), ErrEmptyUsername)
}

func TestAuthenticatorTokenHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	// The hash wins over the plain token
	a, err := NewAuthenticator(DefaultToken, string(hash))
	require.NoError(t, err)

	assert.NoError(t, a.Verify("alice", "hunter2"))
	assert.ErrorIs(t, a.Verify("alice", DefaultToken), ErrInvalidToken)
}

func TestNewAuthenticatorErrors(t *testing.T) {
	_, err := NewAuthenticator(DefaultToken, "not-a-bcrypt-hash")
	assert.Error(t, err)

	_, err = NewAuthenticator("", "")
	assert.Error(t, err)
}

func TestAuthErrorsWrap(t *testing.T) {
	for _, err := range []error{ErrInvalidToken, ErrEmptyUsername, ErrUsernameTaken} {
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.NotErrorIs(t, err, ErrStateViolation)
	}
}
