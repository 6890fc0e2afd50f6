package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

var ErrDownloadFailed = errors.New("video download failed")

// Downloader fetches the source video for videoID into dir as <videoID>.mp4.
type Downloader interface {
	Download(ctx context.Context, dir, videoID string) error
}

// YtDlp downloads with the yt-dlp command line tool.
type YtDlp struct {
	// Bin defaults to "yt-dlp".
	Bin string
	run runFunc
}

var _ Downloader = (*YtDlp)(nil)

func (y *YtDlp) Download(ctx context.Context, dir, videoID string) error {
	bin := y.Bin
	if bin == "" {
		bin = "yt-dlp"
	}
	run := y.run
	if run == nil {
		run = runCommand
	}
	_, err := run(ctx, bin,
		"-f", "mp4",
		"--no-playlist",
		"-o", filepath.Join(dir, videoID+".mp4"),
		"https://www.youtube.com/watch?v="+videoID,
	)
	return err
}

// Acquirer makes sure a complete source video is in the cache.
type Acquirer struct {
	cache      *cache.Cache
	downloader Downloader
	logger     *slog.Logger
}

func NewAcquirer(c *cache.Cache, d Downloader, logger *slog.Logger) *Acquirer {
	return &Acquirer{cache: c, downloader: d, logger: logging.OrDefault(logger).With("component", "acquirer")}
}

// EnsureVideo returns the path of a valid cached video, downloading it first if
// needed. It reports whether a download happened.
func (a *Acquirer) EnsureVideo(ctx context.Context, videoID string) (string, bool, error) {
	const op = "media.EnsureVideo"
	path := a.cache.VideoPath(videoID)
	if cache.IsValid(path, cache.MinVideoSize) {
		a.logger.Info("video already cached", "youtube_id", videoID, "path", path)
		return path, false, nil
	}
	// A partial file would make yt-dlp try to resume it.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("%s: remove partial video: %w", op, err)
	}

	a.logger.Info("downloading video", "youtube_id", videoID)
	if err := a.downloader.Download(ctx, a.cache.Dir(), videoID); err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, domain.E(domain.KindFatal, op, fmt.Errorf("%w: %s: %v", ErrDownloadFailed, videoID, err))
	}
	if !cache.IsValid(path, cache.MinVideoSize) {
		return "", false, domain.E(domain.KindFatal, op, fmt.Errorf("%w: %s: file missing or smaller than %d bytes", ErrDownloadFailed, videoID, cache.MinVideoSize))
	}
	return path, true, nil
}
