// Package auth manages user accounts and the opaque bearer tokens the sync
// API authenticates with. The server consumes it through the narrow
// SessionProvider capability; wiring no provider at startup simply disables
// authenticated endpoints.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
)

const bcryptCost = 10

var (
	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserExists is returned when registering a taken username.
	ErrUserExists = errors.New("username already taken")
	// ErrInvalidToken marks a bearer token with no live session.
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError reports unacceptable registration input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// SessionProvider resolves a bearer token to a username. It is the only
// auth capability the HTTP layer depends on.
type SessionProvider interface {
	UserForToken(ctx context.Context, token string) (string, error)
}

// Registry is the full account surface: register, login, token lookup.
type Registry interface {
	SessionProvider
	Register(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// UserDataInitializer creates the empty per-user state document at
// registration time.
type UserDataInitializer interface {
	EnsureUser(ctx context.Context, username string) error
}

var usernameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// normalizeUsername lowercases and validates a registration username.
func normalizeUsername(username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < 3 {
		return "", &ValidationError{Msg: "username must be at least 3 characters"}
	}
	if !usernameRe.MatchString(username) {
		return "", &ValidationError{Msg: "username may only contain lowercase letters, digits, and underscores"}
	}
	return username, nil
}

func validatePassword(password string) error {
	if len(password) < 4 {
		return &ValidationError{Msg: "password must be at least 4 characters"}
	}
	return nil
}

// newToken returns a 32-byte random token, hex encoded.
func newToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
