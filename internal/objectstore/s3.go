package objectstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/princekumarofficial/transcode-service/internal/config"
)

// S3Storage uploads to an S3-compatible endpoint.
type S3Storage struct {
	client        *minio.Client
	publicBaseURL string

	mu      sync.Mutex
	buckets map[string]bool
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(cfg config.S3) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &S3Storage{
		client:        client,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		buckets:       make(map[string]bool),
	}, nil
}

// ensureBucket checks once per bucket that it exists. Buckets come from row
// URLs, so a missing one is an error rather than something to create.
func (s *S3Storage) ensureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	known := s.buckets[bucket]
	s.mu.Unlock()
	if known {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", bucket)
	}

	s.mu.Lock()
	s.buckets[bucket] = true
	s.mu.Unlock()
	return nil
}

func (s *S3Storage) Upload(ctx context.Context, loc Location, filePath, contentType string) (string, error) {
	if err := s.ensureBucket(ctx, loc.Bucket); err != nil {
		return "", err
	}

	_, err := s.client.FPutObject(ctx, loc.Bucket, loc.Path, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", loc, err)
	}
	return s.PublicURL(loc), nil
}

// PublicURL returns the public URL for accessing an object. Without a
// configured public base it points at the endpoint directly.
func (s *S3Storage) PublicURL(loc Location) string {
	base := s.publicBaseURL
	if base == "" {
		base = s.client.EndpointURL().String()
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), escapePath(loc.Bucket), escapePath(loc.Path))
}

var _ Uploader = (*S3Storage)(nil)
