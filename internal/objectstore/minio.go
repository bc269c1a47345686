// Package objectstore implements persist.Store on an S3-compatible object
// store through the MinIO client, so several hosts can share one campaign
// state.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ameyarj/pica-testing-sub000/internal/config"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
)

const contentType = "application/json"

// MinioStore keeps every key as an object in one bucket, optionally under a
// key prefix.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// Validate checks the fields a connection needs.
func Validate(cfg config.MinioConfig) error {
	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return errors.NewValidationError("minio endpoint is required").WithField("minio.endpoint")
	case strings.TrimSpace(cfg.Bucket) == "":
		return errors.NewValidationError("minio bucket is required").WithField("minio.bucket")
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return errors.NewValidationError("minio credentials are required").WithField("minio.access_key")
	}
	return nil
}

// New connects to the object store described by cfg. Keys are stored under
// prefix, which may be empty.
func New(cfg config.MinioConfig, prefix string) (*MinioStore, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, prefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *minio.Client, bucket, prefix string) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, errors.NewValidationError("minio bucket is required").WithField("minio.bucket")
	}
	return &MinioStore{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Bucket returns the bucket name.
func (s *MinioStore) Bucket() string {
	return s.bucket
}

// Save uploads data under key. A single PUT either lands whole or not at all.
func (s *MinioStore) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Load downloads the object stored under key.
func (s *MinioStore) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(key, "get", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(key, "get", err)
	}
	return data, nil
}

// Delete removes key. S3 deletes are idempotent, so absence is checked first.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewNotFoundError("object", key)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// List returns every key that starts with prefix.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		keys = append(keys, s.keyName(info.Key))
	}
	return keys, nil
}

// Exists reports whether key is present.
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

func (s *MinioStore) objectName(key string) string {
	return s.prefix + strings.TrimPrefix(key, "/")
}

func (s *MinioStore) keyName(object string) string {
	return strings.TrimPrefix(object, s.prefix)
}

func (s *MinioStore) mapError(key, op string, err error) error {
	if isNotFound(err) {
		return errors.NewNotFoundError("object", key)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		if resp.Code == "NoSuchBucket" {
			return false
		}
		return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
	}
	return false
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ persist.Store = (*MinioStore)(nil)
