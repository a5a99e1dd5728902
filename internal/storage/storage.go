// Package storage persists snapshot images. Two backends are provided:
// an S3-compatible object store (MinIO, AWS S3) for deployments and a
// local filesystem store for development and tests.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/pkg/models"
)

var (
	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnavailable is returned when the backend cannot serve the request,
	// for instance when the object store is unreachable. Callers should
	// treat it as transient.
	ErrUnavailable = errors.New("storage unavailable")
)

// Storage reads and writes image blobs under a single bucket fixed at
// construction time. Put derives the object key from the owner and filename
// and returns the locator the caller persists alongside the snapshot row.
// Implementations must be safe for concurrent use.
type Storage interface {
	Put(ctx context.Context, ownerID uuid.UUID, filename string, data []byte, contentType string) (models.ImageLocator, error)
	Get(ctx context.Context, loc models.ImageLocator) ([]byte, error)
	Bucket() string
}

// ObjectKey builds the canonical object key for a user's snapshot image.
func ObjectKey(ownerID uuid.UUID, filename string) string {
	return fmt.Sprintf("snapshots/user-%s/%s", ownerID, filename)
}

// New builds the storage backend named by the config and makes sure its
// bucket (or base directory) exists.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Storage(ctx, cfg)
	case "filesystem":
		return NewFilesystemStorage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: s3, filesystem)", cfg.Backend)
	}
}
