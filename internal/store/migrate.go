package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "users and sessions",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				display_name TEXT,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token TEXT NOT NULL UNIQUE,
				expires_at TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL,
				last_seen_at TIMESTAMP NOT NULL,
				ip TEXT,
				user_agent TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id)`,
		},
	},
	{
		version: 2,
		name:    "pens and revisions",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS pens (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				slug TEXT UNIQUE,
				visibility TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS pens_owner_updated_idx ON pens (owner_id, updated_at)`,
			`CREATE TABLE IF NOT EXISTS pen_revisions (
				id TEXT PRIMARY KEY,
				pen_id TEXT NOT NULL REFERENCES pens(id) ON DELETE CASCADE,
				author_id TEXT NOT NULL REFERENCES users(id),
				rev_number INTEGER NOT NULL,
				kind TEXT NOT NULL,
				html TEXT NOT NULL,
				css TEXT NOT NULL,
				js TEXT NOT NULL,
				preprocessors TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (pen_id, rev_number)
			)`,
		},
	},
}

// SchemaVersion is the newest migration version.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate applies pending migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if _, err := s.exec(ctx, s.db, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("store: create schema_migrations: %w", err)
	}

	current, err := s.currentVersion(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := s.exec(ctx, tx, stmt); err != nil {
					return fmt.Errorf("store: migration %d (%s): %w", m.version, m.name, err)
				}
			}
			_, err := s.exec(ctx, tx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, s.timestamp())
			return err
		})
		if err != nil {
			return applied, err
		}
		log.Printf("[Store] Applied migration %d: %s", m.version, m.name)
		applied++
	}
	return applied, nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.queryRow(ctx, s.db, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return int(v.Int64), nil
}
