package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		full_name     TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('admin', 'teacher', 'student')),
		password_hash TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS auth_sessions (
		id                 BIGSERIAL PRIMARY KEY,
		user_id            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		session_token_hash TEXT NOT NULL UNIQUE,
		expires_at         TIMESTAMPTZ NOT NULL,
		revoked_at         TIMESTAMPTZ,
		ip_address         TEXT,
		user_agent         TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS auth_sessions_user_idx ON auth_sessions (user_id)`,
	`CREATE TABLE IF NOT EXISTS questions (
		id                BIGSERIAL PRIMARY KEY,
		question          TEXT NOT NULL,
		question_key      TEXT NOT NULL,
		subject           TEXT NOT NULL,
		question_use      TEXT NOT NULL,
		responses         JSONB NOT NULL,
		remark            TEXT,
		metadata          JSONB NOT NULL,
		date_creation     TIMESTAMPTZ NOT NULL,
		date_modification TIMESTAMPTZ,
		active            BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS questions_identity_uniq
		ON questions (subject, question_use, question_key)`,
	`CREATE INDEX IF NOT EXISTS questions_active_idx ON questions (active, subject, question_use)`,
}

// Migrate creates the tables used by the question store and auth.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
