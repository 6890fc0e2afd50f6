// Package manager drives many URLs through the ingestion pipeline in bounded
// concurrent batches and retries the ones that fail.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"talk-archive/pkg/config"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

// URLProcessor ingests one URL. A nil result without an error counts as a failure.
type URLProcessor interface {
	ProcessURL(ctx context.Context, url string, jobID int64) (*domain.VideoInfo, error)
}

// Report summarizes a run.
type Report struct {
	RunID       string
	Total       int
	Succeeded   int
	Failed      []string
	RetryRounds int
}

// Manager runs URLs in batches of cfg.Size.
type Manager struct {
	processor URLProcessor
	cfg       config.BatchConfig
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewManager creates a new manager
func NewManager(p URLProcessor, cfg config.BatchConfig, logger *slog.Logger) *Manager {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	return &Manager{
		processor: p,
		cfg:       cfg,
		logger:    logging.OrDefault(logger).With("component", "manager"),
		sleep:     sleepContext,
	}
}

// ProcessURLs processes urls batch by batch, waiting cfg.Delay between batches,
// then retries the failures up to cfg.MaxRetries rounds. One URL failing never
// stops the others. Only cancellation of ctx ends the run early.
func (m *Manager) ProcessURLs(ctx context.Context, urls []string) (Report, error) {
	report := Report{RunID: uuid.NewString(), Total: len(urls)}
	logger := m.logger.With("run_id", report.RunID)
	size := m.cfg.Size
	batches := (len(urls) + size - 1) / size

	var failed []string
	for start := 0; start < len(urls); start += size {
		batch := urls[start:min(start+size, len(urls))]
		num := start/size + 1
		logger.Info("processing batch", "batch", num, "batches", batches, "urls", len(batch))

		began := time.Now()
		failed = append(failed, m.runBatch(ctx, logger, batch)...)
		if err := ctx.Err(); err != nil {
			return m.finish(report, append(failed, urls[start+len(batch):]...)), err
		}
		logger.Info("batch completed", "batch", num, "batches", batches, "elapsed", time.Since(began).Round(time.Millisecond))

		if start+size < len(urls) {
			if err := m.sleep(ctx, m.cfg.Delay); err != nil {
				return m.finish(report, append(failed, urls[start+size:]...)), err
			}
		}
	}

	for len(failed) > 0 && report.RetryRounds < m.cfg.MaxRetries {
		report.RetryRounds++
		logger.Info("retrying failed urls", "round", report.RetryRounds, "max_retries", m.cfg.MaxRetries, "urls", len(failed))

		failed = m.runBatch(ctx, logger, failed)
		if err := ctx.Err(); err != nil {
			return m.finish(report, failed), err
		}
		if len(failed) > 0 && report.RetryRounds < m.cfg.MaxRetries {
			logger.Warn("urls still failing", "round", report.RetryRounds, "urls", len(failed))
			if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
				return m.finish(report, failed), err
			}
		}
	}

	report = m.finish(report, failed)
	for _, url := range report.Failed {
		logger.Error("failed url", "url", url)
	}
	logger.Info("completed", "succeeded", report.Succeeded, "failed", len(report.Failed), "total", report.Total, "retry_rounds", report.RetryRounds)
	return report, nil
}

func (m *Manager) finish(r Report, failed []string) Report {
	r.Failed = failed
	r.Succeeded = r.Total - len(failed)
	return r
}

// runBatch processes urls with at most cfg.Size in flight and returns the ones
// that failed, in input order.
func (m *Manager) runBatch(ctx context.Context, logger *slog.Logger, urls []string) []string {
	ok := make([]bool, len(urls))
	var g errgroup.Group
	g.SetLimit(m.cfg.Size)
	for i, url := range urls {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok[i] = m.processOne(ctx, logger, url)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, url := range urls {
		if !ok[i] {
			failed = append(failed, url)
		}
	}
	return failed
}

func (m *Manager) processOne(ctx context.Context, logger *slog.Logger, url string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing url", "url", url, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	info, err := m.processor.ProcessURL(ctx, url, 0)
	switch {
	case err != nil:
		logger.Error("failed to process url", "url", url, "error", err)
		return false
	case info == nil:
		logger.Warn("no results for url", "url", url)
		return false
	}
	logger.Info("processed url", "url", url)
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
