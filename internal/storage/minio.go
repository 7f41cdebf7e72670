package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pictrans/internal/domain"
)

// MinioOptions configures the object-storage backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Expiry bounds the lifetime of presigned resolve URLs.
	Expiry time.Duration
}

// MinioStore persists artifacts in a single object-storage bucket, with
// one key prefix per storage area.
type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioStore connects to the object store and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: make bucket %s: %w", opts.Bucket, err)
		}
	}

	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinioStore{client: client, bucket: opts.Bucket, expiry: expiry}, nil
}

func (s *MinioStore) key(bucket Bucket, filename string) (string, error) {
	if !bucket.Valid() {
		return "", fmt.Errorf("storage: unknown bucket %q", bucket)
	}
	name, err := sanitizeFilename(filename)
	if err != nil {
		return "", err
	}
	return string(bucket) + "/" + name, nil
}

// Save uploads the artifact under the area-prefixed key.
func (s *MinioStore) Save(ctx context.Context, bucket Bucket, filename string, src io.Reader) (string, error) {
	key, err := s.key(bucket, filename)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, src, -1, minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	return filename, nil
}

// Load streams the artifact from the object store.
func (s *MinioStore) Load(ctx context.Context, bucket Bucket, filename string) (io.ReadCloser, error) {
	key, err := s.key(bucket, filename)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("storage: %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: stat %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return obj, nil
}

// Resolve returns a time-limited presigned URL for direct retrieval.
func (s *MinioStore) Resolve(ctx context.Context, bucket Bucket, filename string) (Resolved, error) {
	key, err := s.key(bucket, filename)
	if err != nil {
		return Resolved{}, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Resolved{}, fmt.Errorf("storage: %s: %w", key, domain.ErrNotFound)
		}
		return Resolved{}, fmt.Errorf("storage: stat %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-type", "image/png")
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, params)
	if err != nil {
		return Resolved{}, fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return Resolved{RedirectURL: u.String()}, nil
}

// Delete removes the artifact.
func (s *MinioStore) Delete(ctx context.Context, bucket Bucket, filename string) error {
	key, err := s.key(bucket, filename)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}
