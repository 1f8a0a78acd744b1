package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a single versioned schema change. DDL differs per
// dialect because SQLite and PostgreSQL disagree on key generation and
// column types.
type Migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQLite: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					username TEXT NOT NULL UNIQUE,
					first_name TEXT,
					last_name TEXT,
					email TEXT,
					activated BOOLEAN NOT NULL DEFAULT FALSE,
					admin BOOLEAN NOT NULL DEFAULT FALSE,
					activation_code TEXT UNIQUE,
					salt TEXT,
					crypted_password TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
			Postgres: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					first_name VARCHAR(255),
					last_name VARCHAR(255),
					email VARCHAR(255),
					activated BOOLEAN NOT NULL DEFAULT FALSE,
					admin BOOLEAN NOT NULL DEFAULT FALSE,
					activation_code VARCHAR(64) UNIQUE,
					salt VARCHAR(64),
					crypted_password VARCHAR(64),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create identities table",
			SQLite: `
				CREATE TABLE IF NOT EXISTS identities (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					username TEXT NOT NULL UNIQUE,
					email TEXT,
					first_name TEXT,
					last_name TEXT,
					salt TEXT NOT NULL,
					crypted_password TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
			Postgres: `
				CREATE TABLE IF NOT EXISTS identities (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					first_name VARCHAR(255),
					last_name VARCHAR(255),
					salt VARCHAR(64) NOT NULL,
					crypted_password VARCHAR(64) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create authentications table",
			SQLite: `
				CREATE TABLE IF NOT EXISTS authentications (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					provider TEXT NOT NULL,
					uid TEXT NOT NULL,
					user_id INTEGER NOT NULL REFERENCES users(id),
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(provider, uid)
				);
				CREATE INDEX IF NOT EXISTS idx_authentications_user_id ON authentications(user_id);
			`,
			Postgres: `
				CREATE TABLE IF NOT EXISTS authentications (
					id BIGSERIAL PRIMARY KEY,
					provider VARCHAR(255) NOT NULL,
					uid VARCHAR(255) NOT NULL,
					user_id BIGINT NOT NULL REFERENCES users(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(provider, uid)
				);
				CREATE INDEX IF NOT EXISTS idx_authentications_user_id ON authentications(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create approvals table",
			SQLite: `
				CREATE TABLE IF NOT EXISTS approvals (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL REFERENCES users(id),
					trust_root TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(user_id, trust_root)
				);
				CREATE INDEX IF NOT EXISTS idx_approvals_user_id ON approvals(user_id);
			`,
			Postgres: `
				CREATE TABLE IF NOT EXISTS approvals (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id),
					trust_root VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, trust_root)
				);
				CREATE INDEX IF NOT EXISTS idx_approvals_user_id ON approvals(user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create sessions table",
			SQLite: `
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					data TEXT NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
			Postgres: `
				CREATE TABLE IF NOT EXISTS sessions (
					id VARCHAR(64) PRIMARY KEY,
					data TEXT NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
	}
}

// SQL returns the DDL for the requested dialect
func (m Migration) SQL(d Dialect) string {
	if d == DialectPostgres {
		return m.Postgres
	}
	return m.SQLite
}

// Migrate applies all pending migrations, tracking progress in the
// schema_migrations table
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range GetMigrations() {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, dialect, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL(dialect)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}
