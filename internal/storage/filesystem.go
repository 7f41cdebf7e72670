package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pictrans/internal/domain"
)

// FileStore persists artifacts onto the local filesystem. It is intended
// for development and single-node deployments where an object storage
// service is not available.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath and creates
// the three bucket directories.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	for _, b := range []Bucket{BucketOrigin, BucketCrop, BucketCompose} {
		if err := os.MkdirAll(filepath.Join(basePath, string(b)), 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure bucket dir: %w", err)
		}
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) fullPath(bucket Bucket, filename string) (string, error) {
	if !bucket.Valid() {
		return "", fmt.Errorf("storage: unknown bucket %q", bucket)
	}
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	base := filepath.Join(s.basePath, string(bucket))
	full := filepath.Join(base, name)
	// Joining a bare name cannot escape, but keep the guard in case the
	// sanitization rules ever loosen.
	if !strings.HasPrefix(full, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path %q escapes base: %w", full, domain.ErrPathViolation)
	}
	return full, nil
}

// Save writes the artifact and returns the stored filename.
func (s *FileStore) Save(ctx context.Context, bucket Bucket, filename string, src io.Reader) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.fullPath(bucket, filename)
	if err != nil {
		return "", err
	}
	dst, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", full, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", full, err)
	}
	return filepath.Base(full), nil
}

// Load opens the artifact for reading.
func (s *FileStore) Load(ctx context.Context, bucket Bucket, filename string) (io.ReadCloser, error) {
	if s == nil {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(bucket, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: %s/%s: %w", bucket, filename, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: open %s: %w", full, err)
	}
	return f, nil
}

// Resolve returns a direct stream; the local backend has no redirect form.
func (s *FileStore) Resolve(ctx context.Context, bucket Bucket, filename string) (Resolved, error) {
	rc, err := s.Load(ctx, bucket, filename)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Reader: rc}, nil
}

// Delete removes the artifact.
func (s *FileStore) Delete(ctx context.Context, bucket Bucket, filename string) error {
	if s == nil {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.fullPath(bucket, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("storage: %s/%s: %w", bucket, filename, domain.ErrNotFound)
		}
		return fmt.Errorf("storage: remove %s: %w", full, err)
	}
	return nil
}
