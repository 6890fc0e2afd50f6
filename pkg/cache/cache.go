package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

// MinVideoSize is the smallest video file accepted as a completed download.
const MinVideoSize = 1_000_000

var ErrNotCached = errors.New("not cached")

// Cache is a file-backed store of fetched documents, downloaded videos and
// produced results. A file counts as present only when IsValid says so.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// New creates dir if needed and sweeps partial artifacts left by an interrupted run.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{dir: dir, logger: logging.OrDefault(logger).With("component", "cache")}
	if _, err := c.InvalidateStale(); err != nil {
		c.logger.Error("stale sweep incomplete", "error", err)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// BaseName canonicalizes a URL into a file name stem.
func BaseName(url string) string {
	name := strings.ReplaceAll(url, "://", "_")
	return strings.ReplaceAll(name, "/", "_")
}

// Paths returns the document and result paths for url.
func (c *Cache) Paths(url string) (docPath, resultPath string) {
	base := filepath.Join(c.dir, BaseName(url))
	return base + ".html", base + ".json"
}

// VideoPath returns the cached video path for an external content id.
func (c *Cache) VideoPath(contentID string) string {
	return filepath.Join(c.dir, contentID+".mp4")
}

// IsValid reports whether path is a regular, non-empty file of at least minSize bytes.
func IsValid(path string, minSize int64) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return fi.Size() > 0 && fi.Size() >= minSize
}

// InvalidateStale unlinks empty documents and results and videos under MinVideoSize.
// Per-file failures are logged and joined; the sweep continues past them.
func (c *Cache) InvalidateStale() (int, error) {
	sweeps := []struct {
		pattern string
		minSize int64
	}{
		{"*.html", 1},
		{"*.json", 1},
		{"*.mp4", MinVideoSize},
	}

	var (
		removed int
		errs    []error
	)
	for _, s := range sweeps {
		matches, err := filepath.Glob(filepath.Join(c.dir, s.pattern))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, path := range matches {
			fi, err := os.Stat(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !fi.Mode().IsRegular() || fi.Size() >= s.minSize {
				continue
			}
			if err := os.Remove(path); err != nil {
				c.logger.Warn("remove partial file failed", "path", path, "error", err)
				errs = append(errs, err)
				continue
			}
			c.logger.Info("removed partial file", "path", path, "size", fi.Size())
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// ReadDocument returns the cached document for url, or ErrNotCached.
func (c *Cache) ReadDocument(url string) (string, error) {
	doc, _ := c.Paths(url)
	if !IsValid(doc, 1) {
		return "", ErrNotCached
	}
	raw, err := os.ReadFile(doc)
	if err != nil {
		return "", fmt.Errorf("read cached document: %w", err)
	}
	return string(raw), nil
}

// WriteDocument stores the rendered document for url.
func (c *Cache) WriteDocument(url, content string) error {
	doc, _ := c.Paths(url)
	return writeAtomic(doc, []byte(content))
}

// WriteResult stores info as indented JSON under url's result path.
func (c *Cache) WriteResult(url string, info *domain.VideoInfo) error {
	_, result := c.Paths(url)
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return writeAtomic(result, raw)
}

// LoadResult reads a previously written result for url.
func (c *Cache) LoadResult(url string) (*domain.VideoInfo, error) {
	_, result := c.Paths(url)
	if !IsValid(result, 1) {
		return nil, ErrNotCached
	}
	return ReadResultFile(result)
}

// ReadResultFile decodes a VideoInfo JSON file.
func ReadResultFile(path string) (*domain.VideoInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var info domain.VideoInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", filepath.Base(path), err)
	}
	return &info, nil
}

// Remove deletes the cached document and result for url. Missing files are ignored.
func (c *Cache) Remove(url string) error {
	doc, result := c.Paths(url)
	var errs []error
	for _, p := range []string{doc, result} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResultFiles lists every valid result JSON file in the cache.
func (c *Cache) ResultFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if IsValid(m, 1) {
			files = append(files, m)
		}
	}
	return files, nil
}

// writeAtomic writes to a temp file in the same directory and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
