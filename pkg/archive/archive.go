// Package archive moves ingestion results in and out of zip files.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"talk-archive/pkg/cache"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

var ErrUnsafePath = errors.New("zip entry escapes the extraction directory")

// Sink stores a decoded result.
type Sink interface {
	Ingest(ctx context.Context, name string, info *domain.VideoInfo) error
}

// Importer loads result archives produced by an earlier run.
type Importer struct {
	sink     Sink
	cacheDir string
	tempDir  string
	logger   *slog.Logger
}

// NewImporter creates an Importer that copies imported results into cacheDir.
// Archives are extracted under tempDir, or os.TempDir() when empty.
func NewImporter(sink Sink, cacheDir, tempDir string, logger *slog.Logger) *Importer {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Importer{
		sink:     sink,
		cacheDir: cacheDir,
		tempDir:  tempDir,
		logger:   logging.OrDefault(logger).With("component", "archive"),
	}
}

// ImportZip extracts zipPath and ingests every top-level *.json result in it.
// A file that fails is logged and skipped; the joined per-file errors are
// returned along with the number of results ingested.
func (im *Importer) ImportZip(ctx context.Context, zipPath string) (int, error) {
	dir := filepath.Join(im.tempDir, "talk-archive-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create extraction dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			im.logger.Error("failed to remove extraction dir", "dir", dir, "error", err)
		}
	}()

	im.logger.Info("extracting archive", "zip", zipPath, "dir", dir)
	if err := extract(zipPath, dir); err != nil {
		return 0, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	im.logger.Info("found results to import", "files", len(files))

	ingested := 0
	var errs []error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}
		name := filepath.Base(file)
		if err := im.importFile(ctx, file); err != nil {
			im.logger.Error("failed to import result", "file", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		ingested++
		im.logger.Info("imported result", "file", name)
	}
	return ingested, errors.Join(errs...)
}

func (im *Importer) importFile(ctx context.Context, path string) error {
	info, err := cache.ReadResultFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if err := im.sink.Ingest(ctx, name, info); err != nil {
		return err
	}
	return copyFile(path, filepath.Join(im.cacheDir, name))
}

func extract(zipPath, dir string) error {
	r, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return fmt.Errorf("%w: %s", ErrUnsafePath, zipPath)
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		dst := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(dst, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, dst); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copy to cache: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to cache: %w", err)
	}
	return out.Close()
}

// ZipResults writes files into a new zip at dst, flat, under their base names.
func ZipResults(dst string, files []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	zw := zip.NewWriter(out)
	for _, file := range files {
		if err := addFile(zw, file); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func addFile(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("add %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Summary counts how many urls have a valid result in c.
type Summary struct {
	Total     int
	Succeeded int
	Missing   []string
}

func Summarize(urls []string, c *cache.Cache) Summary {
	s := Summary{Total: len(urls)}
	for _, u := range urls {
		_, result := c.Paths(u)
		if cache.IsValid(result, 1) {
			s.Succeeded++
			continue
		}
		s.Missing = append(s.Missing, u)
	}
	return s
}
