package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "TALK_ARCHIVE_CONFIG"

// Config holds every setting the ingestion tools need. It is built once in main
// and passed down to constructors.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Database  DatabaseConfig  `yaml:"database"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Storage   StorageConfig   `yaml:"storage"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Batch     BatchConfig     `yaml:"batch"`
	Clips     ClipsConfig     `yaml:"clips"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig lists the working directories for cached artifacts, clips and logs.
type PathsConfig struct {
	CacheDir string `yaml:"cache_dir" validate:"required"`
	ClipDir  string `yaml:"clip_dir" validate:"required"`
	LogDir   string `yaml:"log_dir" validate:"required"`
}

// DatabaseConfig selects the SQL backend for transcripts and jobs.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver" validate:"oneof=postgres supabase sqlite"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
}

// SupabaseConfig carries the project URL and keys used for database and storage access.
type SupabaseConfig struct {
	URL      string `yaml:"url"`
	Key      string `yaml:"key"`
	Password string `yaml:"password"`
	Bucket   string `yaml:"bucket"`
}

// MongoConfig points at the optional raw-result document store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// StorageConfig selects where generated clips are uploaded.
type StorageConfig struct {
	Backend          string  `yaml:"backend" validate:"oneof=supabase local"`
	LocalDir         string  `yaml:"local_dir"`
	UploadsPerSecond float64 `yaml:"uploads_per_second" validate:"gte=0"`
}

// FetchConfig controls page rendering.
type FetchConfig struct {
	Renderer    string        `yaml:"renderer" validate:"oneof=chrome http"`
	Quiescence  time.Duration `yaml:"quiescence"`
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BatchConfig controls the batch orchestrator.
type BatchConfig struct {
	Size       int           `yaml:"size" validate:"min=1"`
	Delay      time.Duration `yaml:"delay"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ClipsConfig controls clip generation.
type ClipsConfig struct {
	Workers     int `yaml:"workers" validate:"min=1"`
	MinDuration int `yaml:"min_duration" validate:"gte=0"`

	// MergeContinuations folds bare timestamp markers into the running speaker's segment.
	MergeContinuations bool `yaml:"merge_continuations"`
}

// EmbeddingConfig points at the optional embedding service.
type EmbeddingConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// NotifyConfig holds SMTP settings for job notifications. Empty host disables mail.
type NotifyConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"omitempty,email"`
}

// LoggingConfig controls the console level and log file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

// envOverrides lists the variables that take precedence over file settings.
type envOverrides struct {
	DatabaseDriver   string `env:"DATABASE_DRIVER"`
	DatabaseDSN      string `env:"DATABASE_DSN"`
	SupabaseURL      string `env:"SUPABASE_URL"`
	SupabaseKey      string `env:"SUPABASE_KEY"`
	SupabasePassword string `env:"SUPABASE_PASSWORD"`
	SupabaseBucket   string `env:"SUPABASE_BUCKET"`
	MongoURI         string `env:"MONGO_URI"`
	EmbeddingAPIKey  string `env:"EMBEDDING_API_KEY"`
	SMTPPassword     string `env:"SMTP_PASSWORD"`
	LogLevel         string `env:"LOG_LEVEL"`
	CacheDir         string `env:"CACHE_DIR"`
}

// Load reads the YAML file named by TALK_ARCHIVE_CONFIG (if set) and applies
// environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom builds a Config from defaults, the YAML file at path (optional), a
// .env file in the working directory (optional) and the process environment.
func LoadFrom(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			slog.Warn("config: cannot read file, using defaults", "path", path, "error", err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			slog.Warn("config: cannot parse file, using defaults", "path", path, "error", err)
			cfg = defaultConfig()
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: cannot load .env", "error", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		slog.Warn("config: cannot parse environment", "error", err)
	}

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}

	if o.DatabaseDriver != "" {
		c.Database.Driver = o.DatabaseDriver
	}
	if o.DatabaseDSN != "" {
		c.Database.DSN = o.DatabaseDSN
	}
	if o.SupabaseURL != "" {
		c.Supabase.URL = o.SupabaseURL
	}
	if o.SupabaseKey != "" {
		c.Supabase.Key = o.SupabaseKey
	}
	if o.SupabasePassword != "" {
		c.Supabase.Password = o.SupabasePassword
	}
	if o.SupabaseBucket != "" {
		c.Supabase.Bucket = o.SupabaseBucket
	}
	if o.MongoURI != "" {
		c.Mongo.URI = o.MongoURI
	}
	if o.EmbeddingAPIKey != "" {
		c.Embedding.APIKey = o.EmbeddingAPIKey
	}
	if o.SMTPPassword != "" {
		c.Notify.Password = o.SMTPPassword
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.CacheDir != "" {
		c.Paths.CacheDir = o.CacheDir
	}
	return nil
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("invalid config: database.dsn is required for driver %q", c.Database.Driver)
		}
	case "supabase":
		if c.Database.DSN == "" && (c.Supabase.URL == "" || c.Supabase.Password == "") {
			return fmt.Errorf("invalid config: supabase driver needs database.dsn or supabase.url and supabase.password")
		}
	}
	if c.Storage.Backend == "supabase" && (c.Supabase.URL == "" || c.Supabase.Key == "" || c.Supabase.Bucket == "") {
		return fmt.Errorf("invalid config: supabase storage needs supabase.url, supabase.key and supabase.bucket")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("invalid config: storage.local_dir is required for local storage")
	}
	return nil
}

// EnsureDirs creates the cache, clip and log directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.ClipDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir != "" {
		if err := os.MkdirAll(c.Storage.LocalDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", c.Storage.LocalDir, err)
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			CacheDir: "cache",
			ClipDir:  "clip",
			LogDir:   "logs",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:talk-archive.db?_pragma=busy_timeout(5000)",
			MaxOpenConns: 4,
			MaxIdleConns: 2,
		},
		Mongo: MongoConfig{
			Database:   "talkarchive",
			Collection: "ingest_results",
		},
		Storage: StorageConfig{
			Backend:          "local",
			LocalDir:         "storage",
			UploadsPerSecond: 4,
		},
		Fetch: FetchConfig{
			Renderer:    "chrome",
			Quiescence:  2 * time.Second,
			MaxAttempts: 3,
			Timeout:     60 * time.Second,
		},
		Batch: BatchConfig{
			Size:       3,
			Delay:      time.Second,
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
		},
		Clips: ClipsConfig{
			Workers:     4,
			MinDuration: 10,
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}
