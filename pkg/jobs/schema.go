package jobs

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_jobs (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		workflow_state TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error_message TEXT,
		user_email TEXT NOT NULL,
		last_log TEXT,
		html_fetched_at TIMESTAMPTZ,
		video_fetched_at TIMESTAMPTZ,
		metadata_edited_at TIMESTAMPTZ,
		transcript_edited_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingest_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_email ON ingest_jobs (user_email)`,
	`CREATE TABLE IF NOT EXISTS edited_metadata (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		job_id BIGINT NOT NULL UNIQUE REFERENCES ingest_jobs (id) ON DELETE CASCADE,
		title TEXT,
		date TEXT,
		youtube_id TEXT,
		source TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS edited_transcripts (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		job_id BIGINT NOT NULL REFERENCES ingest_jobs (id) ON DELETE CASCADE,
		segment_hash TEXT,
		text TEXT,
		speaker TEXT,
		company TEXT,
		start_time INTEGER,
		end_time INTEGER,
		subjects TEXT[],
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edited_transcripts_job ON edited_transcripts (job_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		workflow_state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error_message TEXT,
		user_email TEXT NOT NULL,
		last_log TEXT,
		html_fetched_at TIMESTAMP,
		video_fetched_at TIMESTAMP,
		metadata_edited_at TIMESTAMP,
		transcript_edited_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingest_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_email ON ingest_jobs (user_email)`,
	`CREATE TABLE IF NOT EXISTS edited_metadata (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL UNIQUE REFERENCES ingest_jobs (id) ON DELETE CASCADE,
		title TEXT,
		date TEXT,
		youtube_id TEXT,
		source TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS edited_transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL REFERENCES ingest_jobs (id) ON DELETE CASCADE,
		segment_hash TEXT,
		text TEXT,
		speaker TEXT,
		company TEXT,
		start_time INTEGER,
		end_time INTEGER,
		subjects TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edited_transcripts_job ON edited_transcripts (job_id)`,
}

// EnsureSchema creates the job and edit-override tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect.Name() == "postgres" {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply job schema: %w", err)
		}
	}
	return nil
}
