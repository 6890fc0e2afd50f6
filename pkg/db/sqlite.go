package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures a local SQLite database.
type SQLiteConfig struct {
	// DSN is a path or a file: URI, e.g. "file:talk-archive.db?_pragma=busy_timeout(5000)".
	// ":memory:" gives a private in-memory database.
	DSN string
}

// SQLiteClient wraps a modernc.org/sqlite handle.
type SQLiteClient struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// NewSQLiteClient constructs an unconnected client.
func NewSQLiteClient(cfg SQLiteConfig) *SQLiteClient {
	return &SQLiteClient{cfg: cfg}
}

// Connect opens the database and verifies it answers.
func (c *SQLiteClient) Connect(ctx context.Context) error {
	if c.cfg.DSN == "" {
		return fmt.Errorf("sqlite DSN is required")
	}
	db, err := sql.Open("sqlite", c.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer. Also keeps ":memory:" on one connection so every query sees the same database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	c.db = db
	return nil
}

// Close closes the underlying handle.
func (c *SQLiteClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteClient) DB() *sql.DB {
	return c.db
}

func (c *SQLiteClient) Dialect() Dialect {
	return SQLite
}
