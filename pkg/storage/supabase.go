package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	supabase "github.com/supabase-community/supabase-go"
)

const (
	listPageSize    = 1000
	removeChunk     = 100
	clipContentType = "video/mp4"
)

// bucketAPI is the subset of the Supabase storage client used here.
type bucketAPI interface {
	UploadFile(bucketId string, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	DownloadFile(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	ListFiles(bucketId string, queryPath string, options storage_go.FileSearchOptions) ([]storage_go.FileObject, error)
	RemoveFile(bucketId string, paths []string) ([]storage_go.FileUploadResponse, error)
}

// SupabaseStore keeps clips in a Supabase Storage bucket.
type SupabaseStore struct {
	api    bucketAPI
	bucket string
}

var _ ObjectStore = (*SupabaseStore)(nil)

// NewSupabaseStore uses the storage client of an initialized Supabase SDK client.
func NewSupabaseStore(sdk *supabase.Client, bucket string) (*SupabaseStore, error) {
	if sdk == nil || sdk.Storage == nil {
		return nil, errors.New("supabase SDK client with storage is required")
	}
	if bucket == "" {
		return nil, errors.New("supabase bucket is required")
	}
	return &SupabaseStore{api: sdk.Storage, bucket: bucket}, nil
}

// NewSupabaseStoreFromKey builds the SDK client from a project URL and service key.
func NewSupabaseStoreFromKey(projectURL, key, bucket string) (*SupabaseStore, error) {
	sdk, err := supabase.NewClient(projectURL, key, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase SDK: %w", err)
	}
	return NewSupabaseStore(sdk, bucket)
}

func (s *SupabaseStore) Put(ctx context.Context, localPath, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	upsert := true
	contentType := clipContentType
	if _, err := s.api.UploadFile(s.bucket, key, f, storage_go.FileOptions{
		Upsert:      &upsert,
		ContentType: &contentType,
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (s *SupabaseStore) Get(ctx context.Context, key string) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	data, err := s.api.DownloadFile(s.bucket, key)
	if err != nil {
		return "", nil, fmt.Errorf("download %s: %w", key, err)
	}
	return s.api.GetPublicUrl(s.bucket, key).SignedURL, data, nil
}

// DeleteByPrefix lists the bucket root page by page and removes matching keys in chunks.
func (s *SupabaseStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}

	var keys []string
	for offset := 0; ; offset += listPageSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		page, err := s.api.ListFiles(s.bucket, "", storage_go.FileSearchOptions{
			Limit:         listPageSize,
			Offset:        offset,
			SortByOptions: storage_go.SortBy{Column: "name", Order: "asc"},
		})
		if err != nil {
			return 0, fmt.Errorf("list bucket %s: %w", s.bucket, err)
		}
		for _, obj := range page {
			if strings.HasPrefix(obj.Name, prefix) {
				keys = append(keys, obj.Name)
			}
		}
		if len(page) < listPageSize {
			break
		}
	}

	removed := 0
	for start := 0; start < len(keys); start += removeChunk {
		end := min(start+removeChunk, len(keys))
		if _, err := s.api.RemoveFile(s.bucket, keys[start:end]); err != nil {
			return removed, fmt.Errorf("remove objects with prefix %s: %w", prefix, err)
		}
		removed += end - start
	}
	return removed, nil
}
