package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// FilesystemStorage keeps objects under <baseDir>/<bucket>/<key> on local disk.
type FilesystemStorage struct {
	baseDir string
	bucket  string
}

// NewFilesystemStorage creates the base directory if needed.
func NewFilesystemStorage(cfg config.StorageConfig) (*FilesystemStorage, error) {
	root := filepath.Join(cfg.BaseDir, cfg.Bucket)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %q: %w", root, err)
	}
	return &FilesystemStorage{baseDir: cfg.BaseDir, bucket: cfg.Bucket}, nil
}

func (s *FilesystemStorage) Bucket() string {
	return s.bucket
}

func (s *FilesystemStorage) path(bucket, key string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	root := filepath.Join(s.baseDir, bucket)
	p := filepath.Join(root, filepath.FromSlash(key))
	// Keys are generated server-side, but never follow one outside the root.
	if !strings.HasPrefix(p, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

func (s *FilesystemStorage) Put(ctx context.Context, ownerID uuid.UUID, filename string, data []byte, contentType string) (models.ImageLocator, error) {
	key := ObjectKey(ownerID, filename)
	p, err := s.path(s.bucket, key)
	if err != nil {
		return models.ImageLocator{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return models.ImageLocator{}, fmt.Errorf("%w: create object dir: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return models.ImageLocator{}, fmt.Errorf("%w: write object %q: %v", ErrUnavailable, key, err)
	}
	return models.ImageLocator{Bucket: s.bucket, Key: key, Filename: filename}, nil
}

func (s *FilesystemStorage) Get(ctx context.Context, loc models.ImageLocator) ([]byte, error) {
	p, err := s.path(loc.Bucket, loc.Key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: read object %q: %v", ErrUnavailable, loc.Key, err)
	}
	return data, nil
}

var _ Storage = (*FilesystemStorage)(nil)
