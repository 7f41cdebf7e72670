package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"pictrans/internal/domain"
)

// Bucket names one of the three storage areas an image artifact can live in.
type Bucket string

const (
	BucketOrigin  Bucket = "origin"
	BucketCrop    Bucket = "crop"
	BucketCompose Bucket = "compose"
)

// Valid reports whether the bucket is one of the named storage areas.
func (b Bucket) Valid() bool {
	switch b {
	case BucketOrigin, BucketCrop, BucketCompose:
		return true
	}
	return false
}

// ParseBucket validates a client-supplied bucket name.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(s)
	if !b.Valid() {
		return "", fmt.Errorf("storage: unknown bucket %q: %w", s, domain.ErrNotFound)
	}
	return b, nil
}

// Resolved is the retrievable reference for a stored artifact. Exactly
// one of the two fields is set: RedirectURL for backends that serve
// objects directly (time-limited), Reader for backends that stream
// through this process. Callers own closing the reader.
type Resolved struct {
	RedirectURL string
	Reader      io.ReadCloser
}

// Store is the capability interface for image persistence across the
// three named areas. Implementations are selected by deployment
// configuration, never by runtime type inspection.
type Store interface {
	Save(ctx context.Context, bucket Bucket, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, bucket Bucket, filename string) (io.ReadCloser, error)
	Resolve(ctx context.Context, bucket Bucket, filename string) (Resolved, error)
	Delete(ctx context.Context, bucket Bucket, filename string) error
}

// sanitizeFilename reduces a client-supplied filename to a bare name.
// Separators and traversal sequences are rejected rather than silently
// rewritten, so a crafted name can never address another bucket.
func sanitizeFilename(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("storage: empty filename: %w", domain.ErrPathViolation)
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if name != path.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("storage: filename %q escapes its bucket: %w", filename, domain.ErrPathViolation)
	}
	return name, nil
}

// ErrNotConfigured is returned by the nil store guard paths.
var ErrNotConfigured = errors.New("storage: no store configured")
