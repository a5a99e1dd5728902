package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// S3Storage stores objects in any S3-compatible service via the MinIO client.
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage connects to the configured endpoint and creates the bucket
// if it does not exist yet.
func NewS3Storage(ctx context.Context, cfg config.StorageConfig) (*S3Storage, error) {
	client, err := minio.New(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	s := &S3Storage{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket %q: %v", ErrUnavailable, s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: create bucket %q: %v", ErrUnavailable, s.bucket, err)
	}
	return nil
}

func (s *S3Storage) Bucket() string {
	return s.bucket
}

func (s *S3Storage) Put(ctx context.Context, ownerID uuid.UUID, filename string, data []byte, contentType string) (models.ImageLocator, error) {
	key := ObjectKey(ownerID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return models.ImageLocator{}, fmt.Errorf("%w: put object %q: %v", ErrUnavailable, key, err)
	}
	return models.ImageLocator{Bucket: s.bucket, Key: key, Filename: filename}, nil
}

func (s *S3Storage) Get(ctx context.Context, loc models.ImageLocator) ([]byte, error) {
	bucket := loc.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	obj, err := s.client.GetObject(ctx, bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get object %q: %v", ErrUnavailable, loc.Key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		// GetObject is lazy; a missing key only surfaces on read.
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: read object %q: %v", ErrUnavailable, loc.Key, err)
	}
	return data, nil
}

var _ Storage = (*S3Storage)(nil)
