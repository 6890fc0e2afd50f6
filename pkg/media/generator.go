package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"golang.org/x/time/rate"

	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
	"talk-archive/pkg/storage"
	"talk-archive/pkg/worker"
)

var ErrUploadFailed = errors.New("failed to upload clips")

// Generator cuts clips on the worker pool and uploads them to object storage.
type Generator struct {
	pool    *worker.Pool
	cutter  Cutter
	store   storage.ObjectStore
	clipDir string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGenerator creates a Generator. uploadsPerSecond <= 0 disables rate limiting.
func NewGenerator(pool *worker.Pool, cutter Cutter, store storage.ObjectStore, clipDir string, uploadsPerSecond float64, logger *slog.Logger) *Generator {
	limit := rate.Inf
	if uploadsPerSecond > 0 {
		limit = rate.Limit(uploadsPerSecond)
	}
	return &Generator{
		pool:    pool,
		cutter:  cutter,
		store:   store,
		clipDir: clipDir,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logging.OrDefault(logger).With("component", "clips"),
	}
}

// GenerateAndUpload cuts clips for info from the video in srcDir and uploads
// every clip of the video. The first failed upload stops the run; clips already
// uploaded stay in storage.
func (g *Generator) GenerateAndUpload(ctx context.Context, srcDir string, info *domain.VideoInfo) (*domain.VideoInfo, error) {
	const op = "media.GenerateAndUpload"
	videoID := info.Metadata.YoutubeID

	g.logger.Info("generating clips", "youtube_id", videoID, "segments", len(info.Transcript))
	future, err := worker.Submit(ctx, g.pool, func(ctx context.Context) (*domain.VideoInfo, error) {
		return g.cutter.Cut(ctx, srcDir, info)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := future.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	clips, err := filepath.Glob(filepath.Join(g.clipDir, videoID+"_*.mp4"))
	if err != nil {
		return nil, fmt.Errorf("%s: list clips: %w", op, err)
	}
	sort.Strings(clips)

	for _, clip := range clips {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		key := filepath.Base(clip)
		if err := g.store.Put(ctx, clip, key); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Error("failed to upload clip", "clip", key, "error", err)
			return nil, domain.E(domain.KindFatal, op, fmt.Errorf("%w: %s: %v", ErrUploadFailed, key, err))
		}
	}
	g.logger.Info("uploaded clips", "youtube_id", videoID, "clips", len(clips))
	return out, nil
}
