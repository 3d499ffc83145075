package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ruteri/tf-state-backend/interfaces"
)

// MinioBackend implements a blob store on a MinIO (or any S3-compatible) server.
type MinioBackend struct {
	client      *minio.Client
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewMinioBackend connects to endpoint (host:port, no scheme) with static credentials.
func NewMinioBackend(endpoint, bucket, prefix, accessKey, secretKey, region string, useSSL bool, log *slog.Logger) (*MinioBackend, error) {
	if strings.Contains(endpoint, "://") {
		return nil, fmt.Errorf("endpoint must not include scheme: %q", endpoint)
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return NewMinioBackendWithClient(client, bucket, prefix, log), nil
}

// NewMinioBackendWithClient wraps an existing client.
func NewMinioBackendWithClient(client *minio.Client, bucket, prefix string, log *slog.Logger) *MinioBackend {
	prefix = strings.Trim(prefix, "/")
	return &MinioBackend{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("minio://%s/%s/%s", client.EndpointURL().Host, bucket, prefix),
	}
}

func (b *MinioBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	objectKey := b.objectKey(key)

	obj, err := b.client.GetObject(ctx, b.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from MinIO: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinioNotFound(err) {
			b.log.Debug("Blob not found in MinIO",
				slog.String("bucket", b.bucket),
				slog.String("key", objectKey),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrNotFound
		}
		b.log.Error("Failed to read object from MinIO",
			slog.String("bucket", b.bucket),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read object from MinIO: %w", err)
	}

	b.log.Debug("Fetched blob from MinIO",
		slog.String("bucket", b.bucket),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

func (b *MinioBackend) Put(ctx context.Context, key string, data []byte) error {
	objectKey := b.objectKey(key)

	_, err := b.client.PutObject(ctx, b.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		b.log.Error("Failed to upload object to MinIO",
			slog.String("bucket", b.bucket),
			slog.String("key", objectKey),
			"err", err)
		return fmt.Errorf("failed to upload object to MinIO: %w", err)
	}

	b.log.Debug("Stored blob in MinIO",
		slog.String("bucket", b.bucket),
		slog.String("key", objectKey),
		slog.Int("size", len(data)))

	return nil
}

func (b *MinioBackend) Delete(ctx context.Context, key string) error {
	err := b.client.RemoveObject(ctx, b.bucket, b.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("failed to delete object from MinIO: %w", err)
	}
	return nil
}

func (b *MinioBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.objectKey(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects in MinIO: %w", obj.Err)
		}
		if key := b.logicalKey(obj.Key); key != "" {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Available checks that the bucket exists and is reachable.
func (b *MinioBackend) Available(ctx context.Context) bool {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil || !exists {
		b.log.Warn("MinIO backend unavailable",
			slog.String("bucket", b.bucket),
			slog.Bool("exists", exists),
			"err", err)
		return false
	}
	return true
}

func (b *MinioBackend) Name() string {
	return fmt.Sprintf("minio-%s", b.bucket)
}

func (b *MinioBackend) LocationURI() string {
	return b.locationURI
}

func (b *MinioBackend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *MinioBackend) logicalKey(objectKey string) string {
	if b.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, b.prefix+"/")
}

func isMinioNotFound(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
}
