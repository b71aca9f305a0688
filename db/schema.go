package db

import (
	"context"
	"fmt"
)

// DDL statements are kept here so that the initdb command and tests can use
// them. Every unique constraint below is an idempotency boundary: write races
// between overlapping processes are resolved by conflict semantics, not by
// application-level locks.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id         SERIAL PRIMARY KEY,
		full_name  TEXT NOT NULL UNIQUE,
		owner      TEXT NOT NULL,
		repo_name  TEXT NOT NULL,
		language   TEXT NOT NULL DEFAULT 'unknown',
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		added_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS versions (
		id             SERIAL PRIMARY KEY,
		project_id     INTEGER NOT NULL REFERENCES projects(id),
		commit_sha     TEXT NOT NULL,
		commit_message TEXT NOT NULL DEFAULT '',
		committed_at   TIMESTAMPTZ NOT NULL,
		discovered_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		default_branch TEXT NOT NULL,
		metadata       JSONB NOT NULL DEFAULT '{}',
		UNIQUE (project_id, commit_sha)
	)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		id            SERIAL PRIMARY KEY,
		version_id    INTEGER NOT NULL REFERENCES versions(id),
		project_id    INTEGER NOT NULL REFERENCES projects(id),
		status        TEXT NOT NULL DEFAULT 'pending',
		started_at    TIMESTAMPTZ,
		finished_at   TIMESTAMPTZ,
		error_message TEXT,
		results       JSONB,
		UNIQUE (version_id)
	)`,
	`CREATE TABLE IF NOT EXISTS quality_gates (
		id                     SERIAL PRIMARY KEY,
		project_id             INTEGER NOT NULL REFERENCES projects(id),
		run_at                 TIMESTAMPTZ NOT NULL,
		community              DOUBLE PRECISION,
		continuous_integration DOUBLE PRECISION,
		documentation          DOUBLE PRECISION,
		history                DOUBLE PRECISION,
		management             DOUBLE PRECISION,
		license                DOUBLE PRECISION,
		unit_test              DOUBLE PRECISION,
		pull                   DOUBLE PRECISION,
		releases               DOUBLE PRECISION,
		score                  INTEGER NOT NULL,
		passed                 BOOLEAN NOT NULL,
		UNIQUE (project_id)
	)`,
}

var dropStatements = []string{
	`DROP TABLE IF EXISTS quality_gates`,
	`DROP TABLE IF EXISTS analyses`,
	`DROP TABLE IF EXISTS versions`,
	`DROP TABLE IF EXISTS projects`,
}

// InitSchema creates all tables if they do not exist. Safe to call on every
// startup.
func (db *DB) InitSchema(ctx context.Context) error {
	safeLogInfo("Initialising database schema")
	for _, stmt := range ddlStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	safeLogInfo("Schema initialisation complete")
	return nil
}

// ResetSchema drops and recreates all tables. Destructive; guarded behind an
// explicit CLI flag.
func (db *DB) ResetSchema(ctx context.Context) error {
	safeLogInfo("Resetting database schema")
	for _, stmt := range dropStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
	}
	return db.InitSchema(ctx)
}
