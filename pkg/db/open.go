package db

import (
	"context"
	"fmt"
	"time"

	"talk-archive/pkg/config"
)

// Open connects the SQL backend selected by cfg.Database.Driver.
func Open(ctx context.Context, cfg *config.Config) (Closer, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		c := NewSQLiteClient(SQLiteConfig{DSN: cfg.Database.DSN})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case "postgres":
		c := NewPostgresClient(PostgresConfig{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			ConnMaxIdle:  5 * time.Minute,
			ConnMaxLife:  cfg.Database.ConnMaxLife,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case "supabase":
		c := NewSupabaseClient(SupabaseConfig{
			ConnectionString: cfg.Database.DSN,
			SupabaseURL:      cfg.Supabase.URL,
			SupabaseKey:      cfg.Supabase.Key,
			Password:         cfg.Supabase.Password,
			MaxOpenConns:     cfg.Database.MaxOpenConns,
			MaxIdleConns:     cfg.Database.MaxIdleConns,
			ConnMaxLife:      cfg.Database.ConnMaxLife,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
