// Package storage persists captured evidence (snapshots, clips) in an
// S3-compatible object store and hands out time-limited URLs that alerts can
// reference.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MediaStore is the contract the capture trigger depends on.
type MediaStore interface {
	// Save uploads one media object and returns a URL usable in alerts.
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// StorageError wraps a failed store operation with enough context to log.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MinIOConfig configures the MinIO-backed store.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	// Retry settings for uploads.
	MaxRetries   int
	RetryBackoff time.Duration

	// URLExpiry bounds the validity of returned media URLs.
	URLExpiry time.Duration
}

// MinIOStore implements MediaStore against MinIO.
type MinIOStore struct {
	client *minio.Client
	config MinIOConfig
	logger *zap.Logger
}

// NewMinIOStore connects to the object store and ensures the bucket exists.
func NewMinIOStore(config MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.URLExpiry <= 0 {
		config.URLExpiry = 24 * time.Hour
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client: client,
		config: config,
		logger: logger.Named("media-store"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		store.logger.Info("created media bucket", zap.String("bucket", config.Bucket))
	}

	return store, nil
}

// Save uploads the object with retry and returns a presigned URL.
func (s *MinIOStore) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Fresh backoff per operation.
	ebo := backoff.NewExponentialBackOff()
	if s.config.RetryBackoff > 0 {
		ebo.InitialInterval = s.config.RetryBackoff
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(s.config.MaxRetries)), ctx)

	op := func() error {
		_, err := s.client.PutObject(ctx, s.config.Bucket, key,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return "", &StorageError{Op: "put", Key: key, Err: err}
	}

	u, err := s.client.PresignedGetObject(ctx, s.config.Bucket, key, s.config.URLExpiry, nil)
	if err != nil {
		return "", &StorageError{Op: "presign", Key: key, Err: err}
	}

	s.logger.Debug("media uploaded",
		zap.String("key", key),
		zap.Int("size", len(data)))
	return u.String(), nil
}

// HealthCheck verifies the bucket is reachable.
func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	if !exists {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("bucket %s does not exist", s.config.Bucket)}
	}
	return nil
}
