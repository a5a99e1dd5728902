package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition rejects a snapshot status update that is not an edge
// of models.ValidSnapshotTransition.
var ErrInvalidTransition = errors.New("invalid snapshot status transition")

// Queue sentinels. ErrDuplicateJob means a job of that type already exists
// for the snapshot; ErrNoJobAvailable means nothing is claimable right now;
// ErrJobActive rejects a re-queue while the existing job is still live.
var ErrDuplicateJob = errors.New("job already exists for snapshot")
var ErrNoJobAvailable = errors.New("no job available")
var ErrJobActive = errors.New("job is still queued or running")

// Backoff computes the delay before retry number attempt (1-based).
type Backoff func(attempt int) time.Duration

// Store is the data access interface. All database operations go through here.
// WithTx runs fn against a transaction-bound Store; every call made on the
// argument commits or rolls back together.
type Store interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshot(ctx context.Context, id uuid.UUID) (*models.Snapshot, error)
	GetSnapshotForUser(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Snapshot, error)
	GetSnapshotForUpdate(ctx context.Context, id uuid.UUID) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, userID uuid.UUID, filter SnapshotFilter) ([]*models.Snapshot, int, error)
	LatestSnapshot(ctx context.Context, userID uuid.UUID, status string) (*models.Snapshot, error)
	UpdateSnapshotStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
	SetSnapshotRawOutput(ctx context.Context, id uuid.UUID, raw string) error

	GetOrCreateProduct(ctx context.Context, name string) (*models.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, int, error)
	ListUncategorizedProducts(ctx context.Context, limit int) ([]*models.Product, error)
	UpdateProductCategory(ctx context.Context, id uuid.UUID, category string) error

	InsertItem(ctx context.Context, item *models.Item) error
	DeleteItemsForSnapshot(ctx context.Context, snapshotID uuid.UUID) error
	ListItemsBySnapshot(ctx context.Context, snapshotID uuid.UUID) ([]*models.Item, error)
	LatestInventory(ctx context.Context, userID uuid.UUID) (*models.Snapshot, []models.InventoryEntry, error)
	SnapshotComposition(ctx context.Context, snapshotID uuid.UUID) ([]models.CategoryCount, error)

	EnqueueJob(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobForSnapshot(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error)
	ClaimNextJob(ctx context.Context, jobType string, workerID string, now time.Time) (*models.Job, error)
	MarkJobDone(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, cause string) error
	RescheduleOrFail(ctx context.Context, id uuid.UUID, cause string, maxAttempts int, backoff Backoff) (*models.Job, error)
	RequeueJob(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error)
}

type SnapshotFilter struct {
	Status string
	Page   int
	Limit  int
}

type ProductFilter struct {
	Category string
	Page     int
	Limit    int
}
