package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const dbTimeout = 5 * time.Second

// PostgresRegistry stores accounts in the users table.
type PostgresRegistry struct {
	pool *pgxpool.Pool
	init UserDataInitializer
}

// NewPostgresRegistry creates a postgres-backed registry. init may be nil.
func NewPostgresRegistry(pool *pgxpool.Pool, init UserDataInitializer) (*PostgresRegistry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresRegistry{pool: pool, init: init}, nil
}

func (r *PostgresRegistry) Register(ctx context.Context, username, password string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	token := newToken()
	cmd, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, token, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (username) DO NOTHING`,
		username, string(hash), token,
	)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return "", ErrUserExists
	}

	if r.init != nil {
		if err := r.init.EnsureUser(ctx, username); err != nil {
			return "", fmt.Errorf("initialize user data: %w", err)
		}
	}
	return token, nil
}

func (r *PostgresRegistry) Login(ctx context.Context, username, password string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var hash string
	err = r.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE username = $1`,
		username,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token := newToken()
	if _, err := r.pool.Exec(ctx,
		`UPDATE users SET token = $2, last_login = now() WHERE username = $1`,
		username, token,
	); err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	return token, nil
}

func (r *PostgresRegistry) UserForToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var username string
	err := r.pool.QueryRow(ctx,
		`SELECT username FROM users WHERE token = $1`,
		token,
	).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("look up token: %w", err)
	}
	return username, nil
}
