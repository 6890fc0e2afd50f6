package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/worker"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeTool records invocations and writes size bytes to the path given as the
// final argument, the way yt-dlp and ffmpeg leave their output.
type fakeTool struct {
	mu    sync.Mutex
	calls [][]string
	size  int
	err   error
	out   []byte
}

func (f *fakeTool) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	dst := args[len(args)-1]
	if strings.HasPrefix(dst, "https://") {
		for i, a := range args {
			if a == "-o" {
				dst = args[i+1]
			}
		}
	}
	return nil, os.WriteFile(dst, bytes.Repeat([]byte{'x'}, f.size), 0o644)
}

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir(), quiet())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	return c
}

func TestEnsureVideoDownloadsOnce(t *testing.T) {
	c := newCache(t)
	tool := &fakeTool{size: cache.MinVideoSize}
	a := NewAcquirer(c, &YtDlp{run: tool.run}, quiet())

	path, downloaded, err := a.EnsureVideo(context.Background(), "abc123")
	if err != nil || !downloaded {
		t.Fatalf("EnsureVideo = %q, %v, %v", path, downloaded, err)
	}
	if path != c.VideoPath("abc123") {
		t.Errorf("path = %q", path)
	}
	if got := tool.calls[0][len(tool.calls[0])-1]; got != "https://www.youtube.com/watch?v=abc123" {
		t.Errorf("downloaded %q", got)
	}

	if _, downloaded, err := a.EnsureVideo(context.Background(), "abc123"); err != nil || downloaded {
		t.Fatalf("second EnsureVideo downloaded=%v err=%v", downloaded, err)
	}
	if len(tool.calls) != 1 {
		t.Errorf("tool ran %d times, want 1", len(tool.calls))
	}
}

func TestEnsureVideoReplacesPartialFile(t *testing.T) {
	c := newCache(t)
	if err := os.WriteFile(c.VideoPath("abc"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := &fakeTool{size: cache.MinVideoSize + 10}
	a := NewAcquirer(c, &YtDlp{run: tool.run}, quiet())
	if _, downloaded, err := a.EnsureVideo(context.Background(), "abc"); err != nil || !downloaded {
		t.Fatalf("EnsureVideo downloaded=%v err=%v", downloaded, err)
	}
}

func TestEnsureVideoFailures(t *testing.T) {
	tests := []struct {
		name string
		tool *fakeTool
	}{
		{"tool error", &fakeTool{err: errors.New("exit status 1: video unavailable")}},
		{"truncated file", &fakeTool{size: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAcquirer(newCache(t), &YtDlp{run: tt.tool.run}, quiet())
			_, _, err := a.EnsureVideo(context.Background(), "abc")
			if !errors.Is(err, ErrDownloadFailed) {
				t.Fatalf("expected ErrDownloadFailed, got %v", err)
			}
			if !domain.IsKind(err, domain.KindFatal) {
				t.Errorf("kind = %v, want fatal", domain.KindOf(err))
			}
		})
	}
}

func sampleInfo() *domain.VideoInfo {
	seg := func(start, end int) domain.TranscriptSegment {
		return domain.TranscriptSegment{
			Metadata: domain.SegmentMetadata{StartTimestamp: start, EndTimestamp: end},
			Text:     "t",
		}
	}
	return &domain.VideoInfo{
		Metadata:   domain.VideoMetadata{Title: "Talk", YoutubeID: "vid"},
		Transcript: []domain.TranscriptSegment{seg(0, 30), seg(30, 95), seg(95, 95)},
	}
}

func TestFFmpegCut(t *testing.T) {
	clipDir := t.TempDir()
	tool := &fakeTool{size: 10}
	cutter := &FFmpeg{ClipDir: clipDir, run: tool.run, Logger: quiet()}

	info := sampleInfo()
	out, err := cutter.Cut(context.Background(), "/videos", info)
	if err != nil {
		t.Fatalf("Cut: %v", err)
	}
	wantNames := []string{"vid_0_30.mp4", "vid_30_95.mp4", ""}
	for i, want := range wantNames {
		if got := out.Transcript[i].Metadata.Download; got != want {
			t.Errorf("segment %d download = %q, want %q", i, got, want)
		}
	}
	if info.Transcript[0].Metadata.Download != "" {
		t.Error("Cut modified its input")
	}
	if len(tool.calls) != 2 {
		t.Fatalf("ffmpeg ran %d times, want 2", len(tool.calls))
	}
	args := strings.Join(tool.calls[1], " ")
	for _, part := range []string{"-ss 30", "-i /videos/vid.mp4", "-t 65", "-c copy"} {
		if !strings.Contains(args, part) {
			t.Errorf("ffmpeg args %q missing %q", args, part)
		}
	}

	// Existing clips are reused.
	if _, err := cutter.Cut(context.Background(), "/videos", info); err != nil {
		t.Fatalf("second Cut: %v", err)
	}
	if len(tool.calls) != 2 {
		t.Errorf("ffmpeg re-ran for existing clips: %d calls", len(tool.calls))
	}
}

func TestFFmpegCutRequiresVideoID(t *testing.T) {
	cutter := &FFmpeg{ClipDir: t.TempDir(), run: (&fakeTool{}).run}
	if _, err := cutter.Cut(context.Background(), "/videos", &domain.VideoInfo{}); err == nil {
		t.Fatal("expected error for empty video id")
	}
}

func TestFFprobeDuration(t *testing.T) {
	p := &FFprobe{run: (&fakeTool{out: []byte("1234.567000\n")}).run}
	got, err := p.Duration(context.Background(), "/videos/vid.mp4")
	if err != nil || got != 1234 {
		t.Fatalf("Duration = %d, %v; want 1234", got, err)
	}

	bad := &FFprobe{run: (&fakeTool{out: []byte("N/A\n")}).run}
	if _, err := bad.Duration(context.Background(), "/videos/vid.mp4"); err == nil {
		t.Fatal("expected parse error")
	}
}

type fakeStore struct {
	mu     sync.Mutex
	keys   []string
	failOn string
}

func (s *fakeStore) Put(_ context.Context, localPath, key string) error {
	if key == s.failOn {
		return errors.New("413 payload too large")
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return nil
}

func (s *fakeStore) Get(context.Context, string) (string, []byte, error) { return "", nil, nil }

func (s *fakeStore) DeleteByPrefix(context.Context, string) (int, error) { return 0, nil }

func newGenerator(t *testing.T, store *fakeStore) (*Generator, string) {
	t.Helper()
	pool := worker.NewPool(2, quiet())
	t.Cleanup(pool.Close)
	clipDir := t.TempDir()
	cutter := &FFmpeg{ClipDir: clipDir, run: (&fakeTool{size: 10}).run}
	return NewGenerator(pool, cutter, store, clipDir, 0, quiet()), clipDir
}

func TestGenerateAndUpload(t *testing.T) {
	store := &fakeStore{}
	g, clipDir := newGenerator(t, store)
	// A clip of another video must not be uploaded.
	if err := os.WriteFile(filepath.Join(clipDir, "video_0_10.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := g.GenerateAndUpload(context.Background(), "/videos", sampleInfo())
	if err != nil {
		t.Fatalf("GenerateAndUpload: %v", err)
	}
	if out.Transcript[1].Metadata.Download != "vid_30_95.mp4" {
		t.Errorf("download = %q", out.Transcript[1].Metadata.Download)
	}
	sort.Strings(store.keys)
	want := []string{"vid_0_30.mp4", "vid_30_95.mp4"}
	if strings.Join(store.keys, ",") != strings.Join(want, ",") {
		t.Errorf("uploaded %v, want %v", store.keys, want)
	}
}

func TestGenerateAndUploadStopsOnFirstFailure(t *testing.T) {
	store := &fakeStore{failOn: "vid_0_30.mp4"}
	g, _ := newGenerator(t, store)

	_, err := g.GenerateAndUpload(context.Background(), "/videos", sampleInfo())
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if !domain.IsKind(err, domain.KindFatal) {
		t.Errorf("kind = %v, want fatal", domain.KindOf(err))
	}
	if len(store.keys) != 0 {
		t.Errorf("uploads continued after failure: %v", store.keys)
	}
}

func TestGenerateAndUploadCutFailure(t *testing.T) {
	pool := worker.NewPool(1, quiet())
	defer pool.Close()
	clipDir := t.TempDir()
	cutter := &FFmpeg{ClipDir: clipDir, run: (&fakeTool{err: errors.New("invalid data found")}).run}
	g := NewGenerator(pool, cutter, &fakeStore{}, clipDir, 5, quiet())

	if _, err := g.GenerateAndUpload(context.Background(), "/videos", sampleInfo()); err == nil {
		t.Fatal("expected cut error")
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("warning: x\nERROR: unavailable\n"); got != "ERROR: unavailable" {
		t.Errorf("lastLine = %q", got)
	}
	if got := lastLine("single"); got != "single" {
		t.Errorf("lastLine = %q", got)
	}
}
