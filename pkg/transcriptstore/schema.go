package transcriptstore

import (
	"context"
	"fmt"
)

const schemaVersion = 2

var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		segment_hash TEXT PRIMARY KEY,
		title TEXT,
		date TIMESTAMP,
		youtube_id TEXT,
		source TEXT,
		speaker TEXT,
		company TEXT,
		start_time INTEGER,
		end_time INTEGER,
		duration INTEGER,
		subjects TEXT[],
		download TEXT,
		text TEXT,
		text_vector vector(384),
		search_vector tsvector GENERATED ALWAYS AS (
			to_tsvector('english',
				coalesce(title, '') || ' ' || coalesce(speaker, '') || ' ' ||
				coalesce(company, '') || ' ' || coalesce(text, ''))
		) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_youtube_id ON transcripts (youtube_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_date ON transcripts (date)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_search ON transcripts USING gin (search_vector)`,
	`CREATE TABLE IF NOT EXISTS ingest_results (
		name TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		segment_hash TEXT PRIMARY KEY,
		title TEXT,
		date TIMESTAMP,
		youtube_id TEXT,
		source TEXT,
		speaker TEXT,
		company TEXT,
		start_time INTEGER,
		end_time INTEGER,
		duration INTEGER,
		subjects TEXT,
		download TEXT,
		text TEXT,
		text_vector TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_youtube_id ON transcripts (youtube_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transcripts_date ON transcripts (date)`,
	`CREATE TABLE IF NOT EXISTS ingest_results (
		name TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// EnsureSchema creates the transcript tables and indexes if they are missing
// and records the schema version.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect.Name() == "postgres" {
		stmts = postgresSchema
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	ins := s.dialect.Builder().Insert("schema_version").Columns("version").Values(schemaVersion)
	if _, err := ins.RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
