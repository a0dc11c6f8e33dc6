package repository

import (
	"context"
	"fmt"
	"strings"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id {{uuid}} PRIMARY KEY,
		credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
		created_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id {{pk}},
		user_id {{uuid}} NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		cv_id BIGINT,
		charge_key TEXT UNIQUE,
		created_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id {{pk}},
		user_id {{uuid}} NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		keywords_snapshot TEXT NOT NULL DEFAULT '',
		total_files INTEGER NOT NULL DEFAULT 0,
		processed_files INTEGER NOT NULL DEFAULT 0,
		failed_files INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'processing',
		created_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cv_analyses (
		id {{pk}},
		submission_id BIGINT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
		user_id {{uuid}} NOT NULL,
		original_filename TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		technical_score INTEGER,
		keyword_score INTEGER,
		final_score INTEGER,
		candidate_name TEXT,
		candidate_email TEXT,
		candidate_phone TEXT,
		extracted_text TEXT,
		ai_analysis_data {{json}},
		resolved_as TEXT,
		analysis_completed_at {{time}},
		created_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cv_analyses_submission ON cv_analyses (submission_id)`,
	`CREATE TABLE IF NOT EXISTS experiences (
		id {{pk}},
		cv_id BIGINT NOT NULL REFERENCES cv_analyses(id) ON DELETE CASCADE,
		title TEXT,
		company TEXT,
		start_date TEXT,
		end_date TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS educations (
		id {{pk}},
		cv_id BIGINT NOT NULL REFERENCES cv_analyses(id) ON DELETE CASCADE,
		institution TEXT,
		degree TEXT,
		start_date TEXT,
		end_date TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS skills (
		id {{pk}},
		cv_id BIGINT NOT NULL REFERENCES cv_analyses(id) ON DELETE CASCADE,
		name TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_experiences_cv ON experiences (cv_id)`,
	`CREATE INDEX IF NOT EXISTS idx_educations_cv ON educations (cv_id)`,
	`CREATE INDEX IF NOT EXISTS idx_skills_cv ON skills (cv_id)`,
}

func (db *DB) ddl() *strings.Replacer {
	if db.Dialect == Postgres {
		return strings.NewReplacer(
			"{{pk}}", "BIGSERIAL PRIMARY KEY",
			"{{uuid}}", "UUID",
			"{{json}}", "JSONB",
			"{{time}}", "TIMESTAMPTZ",
		)
	}
	return strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{uuid}}", "TEXT",
		"{{json}}", "TEXT",
		"{{time}}", "TIMESTAMP",
	)
}

// Migrate creates the tables if they are missing. Safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	r := db.ddl()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	db.logger.Info("database schema ready", "dialect", db.Dialect)
	return nil
}
