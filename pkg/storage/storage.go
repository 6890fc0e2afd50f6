package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"talk-archive/pkg/domain"
)

// ObjectStore holds generated clips under flat keys.
type ObjectStore interface {
	// Put uploads the file at localPath under key, replacing any existing object.
	Put(ctx context.Context, localPath, key string) error
	// Get returns a URL for key and the object's bytes.
	Get(ctx context.Context, key string) (string, []byte, error)
	// DeleteByPrefix removes every object whose key starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

var ErrEmptyPrefix = errors.New("refusing to delete with an empty prefix")

// LocalStore keeps objects in a directory. It backs local runs and tests.
type LocalStore struct {
	dir string
}

var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *LocalStore) Put(ctx context.Context, localPath, key string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", key, err)
	}
	return out.Close()
}

func (s *LocalStore) Get(ctx context.Context, key string) (string, []byte, error) {
	p, err := s.path(key)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, domain.E(domain.KindNotFound, "storage.Get", fmt.Errorf("object %s: %w", key, domain.ErrNotFound))
	}
	if err != nil {
		return "", nil, err
	}
	return "file://" + p, data, nil
}

func (s *LocalStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
