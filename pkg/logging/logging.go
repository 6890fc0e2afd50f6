package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation controls size-based rotation of log files.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
}

// DefaultRotation keeps five 10 MiB backups per file.
var DefaultRotation = Rotation{MaxSizeMB: 10, MaxBackups: 5}

// New creates a text slog.Logger writing to w with the provided level string.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LevelFromString(level),
	})
	return slog.New(handler)
}

// LevelFromString maps debug|info|warn|error to a slog level. Unknown values mean info.
func LevelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// RotatingFile returns a size-rotated writer for path.
func RotatingFile(path string, rot Rotation) *lumberjack.Logger {
	if rot.MaxSizeMB <= 0 {
		rot = DefaultRotation
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
	}
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// JobLog is a per-job log file. Records written through Logger go both to the
// job file and to the base logger.
type JobLog struct {
	path   string
	file   *lumberjack.Logger
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// JobLogPath returns the file a job's log is written to.
func JobLogPath(dir string, jobID int64) string {
	return filepath.Join(dir, fmt.Sprintf("job_%d.log", jobID))
}

// OpenJobLog opens (appending) the log file for jobID under dir.
func OpenJobLog(dir string, jobID int64, base *slog.Logger, rot Rotation) (*JobLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	base = OrDefault(base)
	path := JobLogPath(dir, jobID)
	file := RotatingFile(path, rot)

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(teeHandler{handlers: []slog.Handler{base.Handler(), fileHandler}}).
		With("job_id", jobID)

	return &JobLog{path: path, file: file, logger: logger}, nil
}

// Logger returns the job-scoped logger.
func (j *JobLog) Logger() *slog.Logger { return j.logger }

// Path returns the job log file path.
func (j *JobLog) Path() string { return j.path }

// Contents reads back everything written to the current job log file.
func (j *JobLog) Contents() (string, error) {
	raw, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read job log: %w", err)
	}
	return string(raw), nil
}

// Close flushes and closes the job log file. It is safe to call more than once.
func (j *JobLog) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// teeHandler fans records out to several handlers.
type teeHandler struct {
	handlers []slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return teeHandler{handlers: next}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return teeHandler{handlers: next}
}
