package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	CreateBucket    bool
	Presigned       bool
	PresignedTTL    time.Duration
}

// ObjectStorage хранит скриншоты в MinIO
type ObjectStorage struct {
	client       *minio.Client
	bucket       string
	baseURL      string
	presigned    bool
	presignedTTL time.Duration
}

func NewObjectStorage(ctx context.Context, cfg Config, log *logger.Logger) (*ObjectStorage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	// minio-go ожидает host:port без схемы
	host, secure := splitEndpoint(endpoint, cfg.UseSSL)

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	storage := &ObjectStorage{
		client:       client,
		bucket:       strings.TrimSpace(cfg.Bucket),
		baseURL:      baseURL(host, secure),
		presigned:    cfg.Presigned,
		presignedTTL: cfg.PresignedTTL,
	}
	if storage.presignedTTL <= 0 {
		storage.presignedTTL = 15 * time.Minute
	}

	if cfg.CreateBucket {
		if err := storage.ensureBucket(ctx, cfg.Region, log); err != nil {
			return nil, err
		}
	}

	return storage, nil
}

func (s *ObjectStorage) ensureBucket(ctx context.Context, region string, log *logger.Logger) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("error checking if bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("error creating bucket: %w", err)
	}
	log.Info("Created bucket", "bucket", s.bucket)
	return nil
}

func (s *ObjectStorage) PutObject(ctx context.Context, key, contentType string, body []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object failed: %w", err)
	}

	return s.GetObjectURL(ctx, key)
}

func (s *ObjectStorage) GetObjectURL(ctx context.Context, key string) (string, error) {
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return "", fmt.Errorf("object key is required")
	}

	if !s.presigned {
		return objectURL(s.baseURL, s.bucket, normalizedKey), nil
	}

	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, normalizedKey, s.presignedTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}
	return presignedURL.String(), nil
}

func (s *ObjectStorage) ListObjects(ctx context.Context, prefix string, limit int) ([]port.StoredObject, error) {
	if limit <= 0 {
		limit = 12
	}

	objects := make([]port.StoredObject, 0, limit)
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects failed: %w", object.Err)
		}
		objectURL, _ := s.GetObjectURL(ctx, object.Key)
		objects = append(objects, port.StoredObject{
			Key:          object.Key,
			URL:          objectURL,
			SizeBytes:    object.Size,
			LastModified: object.LastModified.UTC(),
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	if len(objects) > limit {
		objects = objects[:limit]
	}

	return objects, nil
}

func (s *ObjectStorage) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimRight(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimRight(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimRight(endpoint, "/"), useSSL
	}
}

func baseURL(host string, secure bool) string {
	if secure {
		return "https://" + host
	}
	return "http://" + host
}

func objectURL(base, bucket, key string) string {
	escapedKey := strings.ReplaceAll(url.PathEscape(key), "%2F", "/")
	return fmt.Sprintf("%s/%s/%s", base, bucket, escapedKey)
}
