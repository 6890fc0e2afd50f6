// Package app wires configuration into the stores, pipeline and job service
// shared by the command line tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"talk-archive/pkg/archive"
	"talk-archive/pkg/cache"
	"talk-archive/pkg/config"
	"talk-archive/pkg/content"
	"talk-archive/pkg/db"
	"talk-archive/pkg/embedding"
	"talk-archive/pkg/fetcher"
	"talk-archive/pkg/ingest"
	"talk-archive/pkg/jobs"
	"talk-archive/pkg/logging"
	"talk-archive/pkg/manager"
	"talk-archive/pkg/media"
	"talk-archive/pkg/replication"
	"talk-archive/pkg/storage"
	"talk-archive/pkg/transcriptstore"
	"talk-archive/pkg/worker"
)

// Application holds the wired components. Close releases them.
type Application struct {
	Config      config.Config
	Cache       *cache.Cache
	Transcripts *transcriptstore.Store
	Workflow    *jobs.Workflow
	Jobs        *jobs.Service
	Processor   *ingest.Processor
	Logger      *slog.Logger

	sql   db.Closer
	mongo *db.Client
	pool  *worker.Pool
}

// New builds every component from cfg. The SQL schemas are created if missing.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	a := &Application{Config: cfg, Logger: baseLogger}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	var err error
	a.sql, err = db.Open(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var rawSavers []transcriptstore.RawResultSaver
	if cfg.Mongo.URI != "" {
		mc := db.NewClient(cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err := mc.Connect(ctx); err != nil {
			baseLogger.Warn("raw result store unavailable", "error", err)
			_ = mc.Close(ctx)
		} else {
			a.mongo = mc
			rawSavers = append(rawSavers, mc)
		}
	}

	a.Transcripts = transcriptstore.New(a.sql, transcriptstore.Config{
		MinDuration: cfg.Clips.MinDuration,
		Embedder:    embedding.New(cfg.Embedding.Endpoint, cfg.Embedding.APIKey),
		RawSavers:   rawSavers,
		Logger:      baseLogger,
	})
	if err := a.Transcripts.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	a.Cache, err = cache.New(cfg.Paths.CacheDir, baseLogger)
	if err != nil {
		return nil, err
	}

	objects, err := openObjectStore(cfg, a.sql)
	if err != nil {
		return nil, err
	}

	jobStore := jobs.NewStore(a.sql, nil)
	if err := jobStore.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.Workflow = jobs.NewWorkflow(jobStore, a.Transcripts, objects, a.Cache, baseLogger)
	a.Transcripts.SetSuperseder(a.Workflow)

	renderer, err := fetcher.NewRenderer(cfg.Fetch.Renderer, cfg.Fetch.Quiescence, cfg.Fetch.Timeout)
	if err != nil {
		return nil, err
	}

	a.pool = worker.NewPool(cfg.Clips.Workers, baseLogger)
	rotation := logging.Rotation{MaxSizeMB: cfg.Logging.MaxSizeMB, MaxBackups: cfg.Logging.MaxBackups}

	a.Processor = ingest.New(ingest.Deps{
		Cache:     a.Cache,
		Fetcher:   fetcher.New(renderer, fetcher.Options{MaxAttempts: cfg.Fetch.MaxAttempts}, baseLogger),
		Extractor: content.NewExtractor(newSegmenter(cfg.Clips, baseLogger), baseLogger),
		Acquirer:  media.NewAcquirer(a.Cache, &media.YtDlp{}, baseLogger),
		Clips: media.NewGenerator(a.pool, &media.FFmpeg{ClipDir: cfg.Paths.ClipDir, Logger: baseLogger},
			objects, cfg.Paths.ClipDir, cfg.Storage.UploadsPerSecond, baseLogger),
		Prober:      &media.FFprobe{},
		Store:       a.Transcripts,
		Reporter:    a.Workflow,
		LogDir:      cfg.Paths.LogDir,
		LogRotation: rotation,
		Logger:      baseLogger,
	})

	a.Jobs = jobs.NewService(a.Workflow, a.Processor, jobs.NewNotifier(cfg.Notify, baseLogger), baseLogger)

	ok = true
	return a, nil
}

func newSegmenter(cfg config.ClipsConfig, logger *slog.Logger) *content.Segmenter {
	return &content.Segmenter{
		Classifier:         content.NewKeywordClassifier(),
		MergeContinuations: cfg.MergeContinuations,
		Logger:             logger,
	}
}

// openObjectStore reuses the SDK of a Supabase SQL connection when there is one.
func openObjectStore(cfg config.Config, sqlClient db.Closer) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "supabase":
		if sc, ok := sqlClient.(*db.SupabaseClient); ok && sc.SDK() != nil {
			return storage.NewSupabaseStore(sc.SDK(), cfg.Supabase.Bucket)
		}
		return storage.NewSupabaseStoreFromKey(cfg.Supabase.URL, cfg.Supabase.Key, cfg.Supabase.Bucket)
	case "local":
		return storage.NewLocalStore(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Manager returns a batch orchestrator over the processor.
func (a *Application) Manager() *manager.Manager {
	return manager.NewManager(a.Processor, a.Config.Batch, a.Logger)
}

// Importer returns an archive importer that ingests into the transcript store
// and seeds the cache directory.
func (a *Application) Importer(tempDir string) *archive.Importer {
	return archive.NewImporter(a.Processor, a.Cache.Dir(), tempDir, a.Logger)
}

// Replicator copies raw results between the SQL table and the Mongo
// collection. toMongo selects the direction.
func (a *Application) Replicator(toMongo bool) (*replication.Replicator, error) {
	if a.mongo == nil {
		return nil, errors.New("mongo is not configured or unreachable")
	}
	cfg := replication.Config{Source: a.Transcripts, Target: a.mongo, Logger: a.Logger}
	if !toMongo {
		cfg.Source, cfg.Target = a.mongo, a.Transcripts
	}
	return replication.NewReplicator(cfg)
}

// Close waits for background jobs and releases the pool and connections.
func (a *Application) Close(ctx context.Context) error {
	if a.Jobs != nil {
		a.Jobs.Wait()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	var errs []error
	if a.mongo != nil {
		errs = append(errs, a.mongo.Close(ctx))
	}
	if a.sql != nil {
		errs = append(errs, a.sql.Close())
	}
	return errors.Join(errs...)
}
