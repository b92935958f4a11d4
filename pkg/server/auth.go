package server

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultToken is the shared secret clients present in the AUTH Token header
const DefaultToken = "secret123"

var (
	// ErrAuthentication is the root of every AUTH rejection. The connection is
	// closed after the ERROR response.
	ErrAuthentication = errors.New("authentication failed")
	ErrInvalidToken   = fmt.Errorf("%w: invalid token", ErrAuthentication)
	ErrEmptyUsername  = fmt.Errorf("%w: empty username", ErrAuthentication)
	ErrUsernameTaken  = fmt.Errorf("%w: username already in use", ErrAuthentication)

	// ErrStateViolation is returned for a command that is not legal in the
	// connection's current state. The connection stays open.
	ErrStateViolation = errors.New("command not allowed in current state")

	// ErrClientDisconnecting is returned when the client leaves the room
	ErrClientDisconnecting = errors.New("client disconnecting")
)

// Authenticator checks AUTH credentials against the configured shared token.
type Authenticator struct {
	token     []byte
	tokenHash []byte
}

// NewAuthenticator creates an authenticator. When tokenHash is set it must be
// a bcrypt hash and takes precedence over token.
func NewAuthenticator(token, tokenHash string) (*Authenticator, error) {
	a := &Authenticator{token: []byte(token)}
	if tokenHash != "" {
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, fmt.Errorf("invalid token hash: %w", err)
		}
		a.tokenHash = []byte(tokenHash)
	} else if token == "" {
		return nil, errors.New("no auth token configured")
	}
	return a, nil
}

// Verify checks a username and token pair
func (a *Authenticator) Verify(username, token string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	if a.tokenHash != nil {
		if err := bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)); err != nil {
			return ErrInvalidToken
		}
		return nil
	}

	if subtle.ConstantTimeCompare(a.token, []byte(token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
