package userdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medprep/qbank/internal/progress"
)

const dbTimeout = 5 * time.Second

// PostgresStore keeps each user's document as a jsonb column in the
// user_data table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed document store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, username string) error {
	doc, err := json.Marshal(emptyDocument())
	if err != nil {
		return fmt.Errorf("encoding empty document: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_data (username, doc, last_sync)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (username) DO NOTHING`,
		username, string(doc),
	)
	if err != nil {
		return fmt.Errorf("ensure user document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, username string) (progress.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var raw []byte
	var lastSync time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT doc, last_sync FROM user_data WHERE username = $1`,
		username,
	).Scan(&raw, &lastSync)
	if errors.Is(err, pgx.ErrNoRows) {
		return progress.Document{}, nil
	}
	if err != nil {
		return progress.Document{}, fmt.Errorf("load user document: %w", err)
	}

	var doc progress.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return progress.Document{}, fmt.Errorf("decoding user document: %w", err)
	}
	doc.LastSync = lastSync
	return doc, nil
}

func (s *PostgresStore) Update(ctx context.Context, username string, upd Update) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	doc := emptyDocument()
	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM user_data WHERE username = $1 FOR UPDATE`,
		username,
	).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// fresh document below
	case err != nil:
		return time.Time{}, fmt.Errorf("load user document: %w", err)
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return time.Time{}, fmt.Errorf("decoding user document: %w", err)
		}
	}

	if err := apply(&doc, upd); err != nil {
		return time.Time{}, err
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return time.Time{}, fmt.Errorf("encoding user document: %w", err)
	}

	var lastSync time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO user_data (username, doc, last_sync)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (username) DO UPDATE SET doc = EXCLUDED.doc, last_sync = now()
		 RETURNING last_sync`,
		username, string(encoded),
	).Scan(&lastSync)
	if err != nil {
		return time.Time{}, fmt.Errorf("save user document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit update: %w", err)
	}
	return lastSync, nil
}
