// Package replication copies raw ingestion results between result stores, e.g.
// from the SQL ingest_results table into the Mongo collection after Mongo was
// unavailable during a run.
package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"talk-archive/pkg/logging"
)

const (
	defaultBatchSize = 100
	defaultWorkers   = 5
)

// ResultStore is a keyed store of raw result JSON.
// *transcriptstore.Store and *db.Client implement it.
type ResultStore interface {
	RawResultNames(ctx context.Context) (map[string]bool, error)
	RawResult(ctx context.Context, name string) ([]byte, error)
	SaveRawResult(ctx context.Context, name string, raw []byte) error
}

// Config wires the replication dependencies.
type Config struct {
	Source ResultStore
	Target ResultStore

	BatchSize int
	Workers   int
	Logger    *slog.Logger
}

// Report counts what a run did.
type Report struct {
	Total   int
	Copied  int
	Skipped int
}

// Replicator copies results the target does not have yet.
type Replicator struct {
	source    ResultStore
	target    ResultStore
	batchSize int
	workers   int
	logger    *slog.Logger
}

func NewReplicator(cfg Config) (*Replicator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("target store is required")
	}
	r := &Replicator{
		source:    cfg.Source,
		target:    cfg.Target,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		logger:    logging.OrDefault(cfg.Logger).With("component", "replication"),
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	return r, nil
}

// Replicate copies every source result whose name is missing in the target.
// Existing target results are never overwritten. The first copy error stops
// the run.
func (r *Replicator) Replicate(ctx context.Context) (Report, error) {
	all, err := r.source.RawResultNames(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list source results: %w", err)
	}
	existing, err := r.target.RawResultNames(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list target results: %w", err)
	}

	missing := missingNames(all, existing)
	report := Report{Total: len(all), Skipped: len(all) - len(missing)}
	r.logger.Info("starting replication", "total", report.Total, "missing", len(missing))

	copied, err := r.processBatches(ctx, missing)
	report.Copied = copied
	if err != nil {
		return report, err
	}
	r.logger.Info("replication complete", "copied", report.Copied, "skipped", report.Skipped)
	return report, nil
}

func missingNames(all, existing map[string]bool) []string {
	out := make([]string, 0, len(all))
	for name := range all {
		if !existing[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// processBatches spreads names over the workers in batches and returns how
// many results were copied. A worker that fails stops the whole run.
func (r *Replicator) processBatches(ctx context.Context, names []string) (int, error) {
	var copied atomic.Int64
	batches := make(chan []string)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		for start := 0; start < len(names); start += r.batchSize {
			select {
			case batches <- names[start:min(start+r.batchSize, len(names))]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for batch := range batches {
				n, err := r.copyBatch(ctx, batch)
				copied.Add(int64(n))
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return int(copied.Load()), err
}

func (r *Replicator) copyBatch(ctx context.Context, batch []string) (int, error) {
	copied := 0
	for _, name := range batch {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		raw, err := r.source.RawResult(ctx, name)
		if err != nil {
			return copied, fmt.Errorf("read result %s: %w", name, err)
		}
		if err := r.target.SaveRawResult(ctx, name, raw); err != nil {
			return copied, fmt.Errorf("save result %s: %w", name, err)
		}
		copied++
	}
	r.logger.Debug("copied batch", "results", copied)
	return copied, nil
}
