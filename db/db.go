// Package db provides the Postgres connection, schema migration, and the
// durable key-value document store backing alert and reminder state.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection using the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, s := range migrationStatements() {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

func migrationStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
}

// GetKV reads a value from the kv table. The second return value reports
// whether the key exists; a missing key is a recognized first-run condition,
// not an error.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (string, bool, error) {
	var value string
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, true, nil
}

// SetKV upserts a value into the kv table.
func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES($1,$2,NOW())
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

// KVStore adapts the kv table to the document-store interface consumed by the
// alerts and reminders packages.
type KVStore struct{ DB *sql.DB }

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	return GetKV(ctx, s.DB, key)
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	return SetKV(ctx, s.DB, key, value)
}
