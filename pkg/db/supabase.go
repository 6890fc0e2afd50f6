package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseConfig describes a Supabase project. SQL access needs either
// ConnectionString or SupabaseURL plus Password. SupabaseKey enables the SDK,
// which clip storage can share.
type SupabaseConfig struct {
	ConnectionString string
	SupabaseURL      string
	SupabaseKey      string
	Password         string

	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
	ConnMaxLife  time.Duration
}

// SupabaseClient is a Postgres client for a Supabase project database.
type SupabaseClient struct {
	db  *sql.DB
	sdk *supabase.Client
	cfg SupabaseConfig
}

var errNoSupabaseDSN = errors.New("supabase: a connection string or project URL and database password is required")

func NewSupabaseClient(cfg SupabaseConfig) *SupabaseClient {
	return &SupabaseClient{cfg: cfg}
}

// Connect opens the project database and, when a key is set, the SDK client.
func (c *SupabaseClient) Connect(ctx context.Context) error {
	dsn, err := supabaseDSN(c.cfg)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open supabase postgres: %w", err)
	}
	tunePool(db, c.cfg.MaxOpenConns, c.cfg.MaxIdleConns, c.cfg.ConnMaxIdle, c.cfg.ConnMaxLife)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping supabase postgres: %w", err)
	}

	if c.cfg.SupabaseURL != "" && c.cfg.SupabaseKey != "" {
		sdk, err := supabase.NewClient(c.cfg.SupabaseURL, c.cfg.SupabaseKey, nil)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("initialize supabase SDK: %w", err)
		}
		c.sdk = sdk
	}
	c.db = db
	return nil
}

func (c *SupabaseClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SupabaseClient) DB() *sql.DB { return c.db }

// Dialect is Postgres; Supabase runs plain Postgres with pgvector.
func (c *SupabaseClient) Dialect() Dialect { return Postgres }

// SDK returns the project SDK client, or nil when no key was configured.
func (c *SupabaseClient) SDK() *supabase.Client { return c.sdk }

// supabaseDSN returns the configured connection string, or derives the direct
// database host db.<ref>.supabase.co from the project URL. pgx's statement
// cache is disabled because the Supabase pooler does not keep prepared
// statements across sessions.
func supabaseDSN(cfg SupabaseConfig) (string, error) {
	dsn := cfg.ConnectionString
	if dsn == "" {
		if cfg.SupabaseURL == "" || cfg.Password == "" {
			return "", errNoSupabaseDSN
		}
		u, err := url.Parse(cfg.SupabaseURL)
		if err != nil {
			return "", fmt.Errorf("parse supabase URL: %w", err)
		}
		ref, _, ok := strings.Cut(u.Hostname(), ".")
		if !ok || ref == "" {
			return "", fmt.Errorf("supabase URL %q is not <project-ref>.supabase.co", cfg.SupabaseURL)
		}
		dsn = (&url.URL{
			Scheme:   "postgresql",
			User:     url.UserPassword("postgres", cfg.Password),
			Host:     "db." + ref + ".supabase.co:5432",
			Path:     "/postgres",
			RawQuery: "sslmode=require",
		}).String()
	}
	dsn = withParam(dsn, "statement_cache_capacity", "0")
	return withParam(dsn, "default_query_exec_mode", "simple_protocol"), nil
}

func withParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}
