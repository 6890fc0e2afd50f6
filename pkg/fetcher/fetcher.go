package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

// DefaultMaxAttempts bounds Fetch retries.
const DefaultMaxAttempts = 3

var ErrEmptyDocument = errors.New("rendered document is empty")

// Renderer turns a URL into its fully rendered document.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Options tunes the retry policy.
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Fetcher renders pages with bounded exponential backoff.
type Fetcher struct {
	renderer Renderer
	opts     Options
	logger   *slog.Logger
}

// New creates a Fetcher over renderer. Zero options fall back to three attempts
// starting one second apart.
func New(renderer Renderer, opts Options, logger *slog.Logger) *Fetcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	return &Fetcher{
		renderer: renderer,
		opts:     opts,
		logger:   logging.OrDefault(logger).With("component", "fetcher"),
	}
}

// Fetch renders url, retrying any failure until MaxAttempts is reached. Once the
// attempts are exhausted the last error is returned with KindTransient.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	attempt := 0
	operation := func() (string, error) {
		attempt++
		html, err := f.renderer.Render(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			f.logger.Warn("render failed", "url", url, "attempt", attempt, "error", err)
			return "", err
		}
		if strings.TrimSpace(html) == "" {
			f.logger.Warn("render returned empty document", "url", url, "attempt", attempt)
			return "", ErrEmptyDocument
		}
		return html, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.opts.InitialInterval
	bo.MaxInterval = f.opts.MaxInterval

	html, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(f.opts.MaxAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.E(domain.KindTransient, "fetcher.Fetch",
			fmt.Errorf("fetch %s after %d attempts: %w", url, attempt, err))
	}
	return html, nil
}
