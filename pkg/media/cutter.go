package media

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

// Cutter produces one clip per timed segment of info from the source video in
// srcDir and returns info with each segment's download set to its clip name.
type Cutter interface {
	Cut(ctx context.Context, srcDir string, info *domain.VideoInfo) (*domain.VideoInfo, error)
}

// Prober reports the length of a media file in whole seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (int, error)
}

// ClipName is the file and object name of a segment clip.
func ClipName(videoID string, start, end int) string {
	return fmt.Sprintf("%s_%d_%d.mp4", videoID, start, end)
}

// FFmpeg cuts clips with stream copy, so cutting is fast but snaps to keyframes.
type FFmpeg struct {
	ClipDir string
	// Bin defaults to "ffmpeg".
	Bin    string
	Logger *slog.Logger
	run    runFunc
}

var _ Cutter = (*FFmpeg)(nil)

func (f *FFmpeg) Cut(ctx context.Context, srcDir string, info *domain.VideoInfo) (*domain.VideoInfo, error) {
	videoID := info.Metadata.YoutubeID
	if videoID == "" {
		return nil, fmt.Errorf("cut clips: video id is empty")
	}
	bin := f.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	run := f.run
	if run == nil {
		run = runCommand
	}
	logger := logging.OrDefault(f.Logger)
	src := filepath.Join(srcDir, videoID+".mp4")

	out := &domain.VideoInfo{
		Metadata:   info.Metadata,
		Transcript: make([]domain.TranscriptSegment, len(info.Transcript)),
	}
	copy(out.Transcript, info.Transcript)

	for i := range out.Transcript {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := &out.Transcript[i]
		start, end := seg.Metadata.StartTimestamp, seg.Metadata.EndTimestamp
		if end <= start {
			seg.Metadata.Download = ""
			continue
		}
		name := ClipName(videoID, start, end)
		dst := filepath.Join(f.ClipDir, name)
		if !cache.IsValid(dst, 1) {
			_, err := run(ctx, bin,
				"-y", "-loglevel", "error",
				"-ss", strconv.Itoa(start),
				"-i", src,
				"-t", strconv.Itoa(end-start),
				"-c", "copy",
				dst,
			)
			if err != nil {
				return nil, fmt.Errorf("cut %s: %w", name, err)
			}
			logger.Debug("cut clip", "clip", name)
		}
		seg.Metadata.Download = name
	}
	return out, nil
}

// FFprobe reads durations with ffprobe.
type FFprobe struct {
	// Bin defaults to "ffprobe".
	Bin string
	run runFunc
}

var _ Prober = (*FFprobe)(nil)

func (p *FFprobe) Duration(ctx context.Context, path string) (int, error) {
	bin := p.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	run := p.run
	if run == nil {
		run = runCommand
	}
	raw, err := run(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration of %s: %w", filepath.Base(path), err)
	}
	return int(secs), nil
}
