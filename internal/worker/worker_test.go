package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/internal/ingest"
	"github.com/coldcrate/fridgevision/internal/storage"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/internal/store/storetest"
	"github.com/coldcrate/fridgevision/internal/vision"
	"github.com/coldcrate/fridgevision/internal/vision/mock"
	"github.com/coldcrate/fridgevision/internal/worker"
	"github.com/coldcrate/fridgevision/pkg/models"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46}

// fakeCache records status mirrors and invalidations.
type fakeCache struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]string
	jobs      map[uuid.UUID]string
	deleted   map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		snapshots: make(map[uuid.UUID]string),
		jobs:      make(map[uuid.UUID]string),
		deleted:   make(map[string]int),
	}
}

func (f *fakeCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (f *fakeCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (f *fakeCache) Ping(context.Context) error                               { return nil }
func (f *fakeCache) Close() error                                             { return nil }

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[key]++
	return nil
}

func (f *fakeCache) SetSnapshotStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[id] = status
	return nil
}

func (f *fakeCache) GetSnapshotStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[id]
	return s, ok, nil
}

func (f *fakeCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id] = status
	return nil
}

func (f *fakeCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.jobs[id]
	return s, ok, nil
}

func (f *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (f *fakeCache) snapshotStatus(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[id]
}

func (f *fakeCache) deletions(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[key]
}

var _ cache.Cache = (*fakeCache)(nil)

// env bundles the fakes one pool test needs.
type env struct {
	store *storetest.MemoryStore
	cache *fakeCache
	blobs *storage.FilesystemStorage
	user  *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	blobs, err := storage.NewFilesystemStorage(config.StorageConfig{Bucket: "test-bucket", BaseDir: t.TempDir()})
	require.NoError(t, err)

	st := storetest.NewMemoryStore()
	now := time.Now().UTC()
	user := &models.User{ID: uuid.New(), Email: "worker@example.com", Name: "Worker Test", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateUser(context.Background(), user))

	return &env{store: st, cache: newFakeCache(), blobs: blobs, user: user}
}

// addSnapshot creates a pending snapshot with its image uploaded and a
// queued job.
func (e *env) addSnapshot(t *testing.T) (*models.Snapshot, *models.Job) {
	t.Helper()
	ctx := context.Background()
	loc, err := e.blobs.Put(ctx, e.user.ID, uuid.NewString()+".jpg", jpegBytes, "image/jpeg")
	require.NoError(t, err)

	now := time.Now().UTC()
	snap := &models.Snapshot{
		ID:            uuid.New(),
		UserID:        e.user.ID,
		ImageBucket:   loc.Bucket,
		ImageKey:      loc.Key,
		ImageFilename: loc.Filename,
		Status:        models.SnapshotStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, e.store.CreateSnapshot(ctx, snap))
	job, err := e.store.EnqueueJob(ctx, models.JobTypeProcessSnapshot, snap.ID)
	require.NoError(t, err)
	return snap, job
}

// completeSnapshot walks a pending snapshot through the legal edges to
// complete, as a finished first run leaves it.
func (e *env) completeSnapshot(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpdateSnapshotStatus(ctx, id, models.SnapshotStatusProcessing, nil))
	require.NoError(t, e.store.UpdateSnapshotStatus(ctx, id, models.SnapshotStatusComplete, nil))
}

func (e *env) startPool(t *testing.T, provider models.VisionProvider, cfg worker.Config) {
	t.Helper()
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	pipeline := ingest.NewPipeline(provider, "", 0)
	pool := worker.NewPool(e.store, e.cache, e.blobs, pipeline, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pool did not stop after cancel")
		}
	})
}

func jobStatusIs(e *env, id uuid.UUID, want string) func() bool {
	return func() bool {
		j, err := e.store.GetJob(context.Background(), id)
		return err == nil && j.Status == want
	}
}

// --- Pool Tests ---

func TestPool_ProcessesSnapshot(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)

	provider := mock.NewStaticProvider(`Here you go: {"Milk": 2, "milks": 1, "egg": "12"}`)
	e.startPool(t, provider, worker.Config{})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusDone), 3*time.Second, 20*time.Millisecond)

	ctx := context.Background()
	got, err := e.store.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusComplete, got.Status)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.RawModelOutput)
	assert.Contains(t, *got.RawModelOutput, "Milk")

	latest, entries, err := e.store.LatestInventory(ctx, e.user.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snap.ID, latest.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "egg", entries[0].Name)
	assert.Equal(t, 12, entries[0].Quantity)
	assert.Equal(t, "milk", entries[1].Name)
	assert.Equal(t, 1, entries[1].Quantity, "later duplicate key must win")

	assert.Equal(t, string(models.SnapshotStatusComplete), e.cache.snapshotStatus(snap.ID))
	assert.Equal(t, 1, e.cache.deletions(cache.LatestInventoryKey(e.user.ID)),
		"completing a snapshot must invalidate the cached inventory")
}

func TestPool_RequeuesOnRetryableFailure(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)

	provider := mock.NewFailingProvider(vision.ErrProviderUnreachable)
	// A huge backoff keeps the retry from running during the test.
	e.startPool(t, provider, worker.Config{MaxAttempts: 3, Backoff: worker.Linear(time.Hour)})

	require.Eventually(t, func() bool {
		j, err := e.store.GetJob(context.Background(), job.ID)
		return err == nil && j.Attempts == 1
	}, 3*time.Second, 20*time.Millisecond)

	j, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, j.Status)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "unreachable")
	assert.True(t, j.RunAt.After(time.Now().Add(30*time.Minute)))

	got, err := e.store.GetSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusPending, got.Status, "requeued work leaves the snapshot pending")
	require.NotNil(t, got.Error, "the failure reason must be visible while the retry waits")
	assert.Contains(t, *got.Error, "unreachable")
}

func TestPool_ExhaustsAttemptsToFailed(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)

	provider := mock.NewFailingProvider(vision.ErrInferenceTimeout)
	e.startPool(t, provider, worker.Config{MaxAttempts: 2, Backoff: worker.Linear(0)})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusFailed), 3*time.Second, 20*time.Millisecond)

	j, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "timeout")

	got, err := e.store.GetSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "timeout")

	assert.Equal(t, string(models.SnapshotStatusFailed), e.cache.snapshotStatus(snap.ID))
}

func TestPool_MalformedOutputKeepsRawText(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)

	provider := mock.NewStaticProvider("I cannot quite make out the contents of this fridge.")
	e.startPool(t, provider, worker.Config{MaxAttempts: 1, Backoff: worker.Linear(0)})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusFailed), 3*time.Second, 20*time.Millisecond)

	got, err := e.store.GetSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusFailed, got.Status)
	require.NotNil(t, got.RawModelOutput, "raw model output must survive a parse failure")
	assert.Contains(t, *got.RawModelOutput, "cannot quite make out")
}

func TestPool_MissingSnapshotFailsJob(t *testing.T) {
	e := newEnv(t)
	job, err := e.store.EnqueueJob(context.Background(), models.JobTypeProcessSnapshot, uuid.New())
	require.NoError(t, err)

	e.startPool(t, mock.NewMockProvider(), worker.Config{MaxAttempts: 3, Backoff: worker.Linear(0)})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusFailed), 3*time.Second, 20*time.Millisecond)

	j, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "snapshot missing", *j.LastError)
	assert.Equal(t, 0, j.Attempts, "a missing snapshot must not consume retry attempts")
}

func TestPool_AcksAlreadyCompleteSnapshot(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)
	e.completeSnapshot(t, snap.ID)

	var called atomic.Bool
	provider := &mock.MockProvider{
		Name_: "spy",
		AnalyzeImageFunc: func(context.Context, models.VisionRequest) (models.VisionResult, error) {
			called.Store(true)
			return models.VisionResult{Text: "{}"}, nil
		},
	}
	e.startPool(t, provider, worker.Config{})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusDone), 3*time.Second, 20*time.Millisecond)

	assert.False(t, called.Load(), "a complete snapshot must not be re-analyzed")
	items, err := e.store.ListItemsBySnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPool_ReprocessesRetriedCompleteSnapshot(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)

	var calls atomic.Int32
	provider := &mock.MockProvider{
		Name_: "two-runs",
		AnalyzeImageFunc: func(context.Context, models.VisionRequest) (models.VisionResult, error) {
			if calls.Add(1) == 1 {
				return models.VisionResult{Text: `{"milk": 2, "egg": 6}`, Model: "mock-v1"}, nil
			}
			return models.VisionResult{Text: `{"milk": 1, "butter": 1}`, Model: "mock-v1"}, nil
		},
	}
	e.startPool(t, provider, worker.Config{MaxAttempts: 2, Backoff: worker.Linear(0)})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusDone), 3*time.Second, 20*time.Millisecond)

	ctx := context.Background()
	// Re-queue the done job the way the retry endpoint does.
	require.NoError(t, e.store.WithTx(ctx, func(tx store.Store) error {
		if _, err := tx.RequeueJob(ctx, models.JobTypeProcessSnapshot, snap.ID); err != nil {
			return err
		}
		return tx.UpdateSnapshotStatus(ctx, snap.ID, models.SnapshotStatusPending, nil)
	}))

	require.Eventually(t, func() bool {
		j, err := e.store.GetJob(ctx, job.ID)
		s, serr := e.store.GetSnapshot(ctx, snap.ID)
		return err == nil && serr == nil &&
			j.Status == models.JobStatusDone && s.Status == models.SnapshotStatusComplete
	}, 3*time.Second, 20*time.Millisecond)

	// The second run's inventory replaces the first run's wholesale.
	latest, entries, err := e.store.LatestInventory(ctx, e.user.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snap.ID, latest.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "butter", entries[0].Name)
	assert.Equal(t, 1, entries[0].Quantity)
	assert.Equal(t, "milk", entries[1].Name)
	assert.Equal(t, 1, entries[1].Quantity)

	j, err := e.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, j.LastError)
	assert.Equal(t, int32(2), calls.Load())
}

// failingReadStore serves snapshot reads an error while everything else
// hits the in-memory store.
type failingReadStore struct {
	*storetest.MemoryStore
	readErr error
}

func (s *failingReadStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *failingReadStore) GetSnapshotForUpdate(context.Context, uuid.UUID) (*models.Snapshot, error) {
	return nil, s.readErr
}

func TestPool_SnapshotReadFailureStillFailsJob(t *testing.T) {
	e := newEnv(t)
	snap, job := e.addSnapshot(t)
	st := &failingReadStore{MemoryStore: e.store, readErr: errors.New("connection reset by peer")}

	pipeline := ingest.NewPipeline(mock.NewMockProvider(), "", 0)
	pool := worker.NewPool(st, e.cache, e.blobs, pipeline,
		worker.Config{Concurrency: 1, PollInterval: 10 * time.Millisecond, MaxAttempts: 1, Backoff: worker.Linear(0)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pool did not stop after cancel")
		}
	})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusFailed), 3*time.Second, 20*time.Millisecond)

	j, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "connection reset")

	// The snapshot never reached processing, so it stays pending; the job
	// must still be booked as failed rather than stranded in running.
	got, err := e.store.GetSnapshot(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotStatusPending, got.Status)
}

func TestPool_MissingImageIsRetryable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	snap := &models.Snapshot{
		ID: uuid.New(), UserID: e.user.ID, ImageBucket: e.blobs.Bucket(),
		ImageKey: "snapshots/user-x/vanished.jpg", ImageFilename: "vanished.jpg",
		Status: models.SnapshotStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.CreateSnapshot(ctx, snap))
	job, err := e.store.EnqueueJob(ctx, models.JobTypeProcessSnapshot, snap.ID)
	require.NoError(t, err)

	e.startPool(t, mock.NewMockProvider(), worker.Config{MaxAttempts: 1, Backoff: worker.Linear(0)})

	require.Eventually(t, jobStatusIs(e, job.ID, models.JobStatusFailed), 3*time.Second, 20*time.Millisecond)

	j, err := e.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "fetch image")
}

func TestPool_StopsOnCancel(t *testing.T) {
	e := newEnv(t)
	pipeline := ingest.NewPipeline(mock.NewMockProvider(), "", 0)
	pool := worker.NewPool(e.store, e.cache, e.blobs, pipeline, worker.Config{Concurrency: 3, PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
