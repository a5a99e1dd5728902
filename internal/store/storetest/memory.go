// Package storetest provides an in-memory Store implementation for tests
// that do not want a real Postgres container. Queue claim ordering,
// uniqueness rules, and status transitions match the SQL store;
// transactional rollback is intentionally not reproduced.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// MemoryStore implements store.Store over plain maps guarded by a mutex.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
	apiKeys   map[uuid.UUID]*models.APIKey
	snapshots map[uuid.UUID]*models.Snapshot
	products  map[uuid.UUID]*models.Product
	items     []*models.Item
	jobs      map[uuid.UUID]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]*models.User),
		apiKeys:   make(map[uuid.UUID]*models.APIKey),
		snapshots: make(map[uuid.UUID]*models.Snapshot),
		products:  make(map[uuid.UUID]*models.Product),
		jobs:      make(map[uuid.UUID]*models.Job),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// WithTx runs fn against the same store. There is no rollback: tests that
// need real transactional behavior belong in the Postgres suite.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

// --- Users ---

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrDuplicateKey
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// --- API Keys ---

func (m *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.UserID == key.UserID && k.Name == key.Name && k.DeletedAt == nil {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	m.apiKeys[key.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return nil
}

func (m *MemoryStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RevokeAPIKey(ctx context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.UserID != userID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Snapshots ---

func (m *MemoryStore) CreateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[snap.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSnapshotForUser(ctx context.Context, id, userID uuid.UUID) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSnapshotForUpdate(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	return m.GetSnapshot(ctx, id)
}

func (m *MemoryStore) ListSnapshots(ctx context.Context, userID uuid.UUID, filter store.SnapshotFilter) ([]*models.Snapshot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Snapshot
	for _, s := range m.snapshots {
		if s.UserID != userID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return []*models.Snapshot{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) LatestSnapshot(ctx context.Context, userID uuid.UUID, status string) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Snapshot
	for _, s := range m.snapshots {
		if s.UserID != userID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) UpdateSnapshotStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return store.ErrNotFound
	}
	if !models.ValidSnapshotTransition(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, s.Status, status)
	}
	s.Status = status
	s.Error = errMsg
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetSnapshotRawOutput(ctx context.Context, id uuid.UUID, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return store.ErrNotFound
	}
	s.RawModelOutput = &raw
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Products ---

func (m *MemoryStore) GetOrCreateProduct(ctx context.Context, name string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	now := time.Now().UTC()
	p := &models.Product{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	m.products[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProducts(ctx context.Context, filter store.ProductFilter) ([]*models.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Product
	for _, p := range m.products {
		if filter.Category != "" && (p.Category == nil || *p.Category != filter.Category) {
			continue
		}
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := len(all)
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	start := (page - 1) * limit
	if start >= total {
		return []*models.Product{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) ListUncategorizedProducts(ctx context.Context, limit int) ([]*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Product
	for _, p := range m.products {
		if p.Category == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateProductCategory(ctx context.Context, id uuid.UUID, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Category = &category
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Items ---

func (m *MemoryStore) InsertItem(ctx context.Context, item *models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.SnapshotID == item.SnapshotID && it.ProductID == item.ProductID {
			return store.ErrDuplicateKey
		}
	}
	cp := *item
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemoryStore) DeleteItemsForSnapshot(ctx context.Context, snapshotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	for _, it := range m.items {
		if it.SnapshotID != snapshotID {
			kept = append(kept, it)
		}
	}
	m.items = kept
	return nil
}

func (m *MemoryStore) ListItemsBySnapshot(ctx context.Context, snapshotID uuid.UUID) ([]*models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Item
	for _, it := range m.items {
		if it.SnapshotID == snapshotID {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) LatestInventory(ctx context.Context, userID uuid.UUID) (*models.Snapshot, []models.InventoryEntry, error) {
	snap, err := m.LatestSnapshot(ctx, userID, models.SnapshotStatusComplete)
	if err == store.ErrNotFound {
		return nil, []models.InventoryEntry{}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := []models.InventoryEntry{}
	for _, it := range m.items {
		if it.SnapshotID != snap.ID {
			continue
		}
		p := m.products[it.ProductID]
		if p == nil {
			continue
		}
		entries = append(entries, models.InventoryEntry{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Unit:      p.Unit,
			Quantity:  it.Quantity,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return snap, entries, nil
}

func (m *MemoryStore) SnapshotComposition(ctx context.Context, snapshotID uuid.UUID) ([]models.CategoryCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCategory := map[string]int{}
	for _, it := range m.items {
		if it.SnapshotID != snapshotID {
			continue
		}
		category := "uncategorized"
		if p := m.products[it.ProductID]; p != nil && p.Category != nil {
			category = *p.Category
		}
		byCategory[category] += it.Quantity
	}
	out := make([]models.CategoryCount, 0, len(byCategory))
	for c, q := range byCategory {
		out = append(out, models.CategoryCount{Category: c, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// --- Jobs ---

func (m *MemoryStore) EnqueueJob(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.JobType == jobType && j.SnapshotID == snapshotID {
			return nil, store.ErrDuplicateJob
		}
	}
	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		JobType:    jobType,
		SnapshotID: snapshotID,
		Status:     models.JobStatusQueued,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) GetJobForSnapshot(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.JobType == jobType && j.SnapshotID == snapshotID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) ClaimNextJob(ctx context.Context, jobType, workerID string, now time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *models.Job
	for _, j := range m.jobs {
		if j.JobType != jobType || j.Status != models.JobStatusQueued || j.RunAt.After(now) {
			continue
		}
		if next == nil || claimBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, store.ErrNoJobAvailable
	}
	next.Status = models.JobStatusRunning
	next.LockedBy = &workerID
	lockedAt := now
	next.LockedAt = &lockedAt
	next.UpdatedAt = now
	cp := *next
	return &cp, nil
}

func claimBefore(a, b *models.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (m *MemoryStore) MarkJobDone(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	j.Status = models.JobStatusDone
	j.LastError = nil
	j.LockedBy = nil
	j.LockedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) FailJob(ctx context.Context, id uuid.UUID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	j.Status = models.JobStatusFailed
	j.LastError = &cause
	j.LockedBy = nil
	j.LockedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) RescheduleOrFail(ctx context.Context, id uuid.UUID, cause string, maxAttempts int, backoff store.Backoff) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	j.Attempts++
	j.LastError = &cause
	j.LockedBy = nil
	j.LockedAt = nil
	j.UpdatedAt = now
	if j.Attempts >= maxAttempts {
		j.Status = models.JobStatusFailed
	} else {
		j.Status = models.JobStatusQueued
		j.RunAt = now.Add(backoff(j.Attempts))
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) RequeueJob(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.JobType != jobType || j.SnapshotID != snapshotID {
			continue
		}
		if !j.Terminal() {
			return nil, store.ErrJobActive
		}
		now := time.Now().UTC()
		j.Status = models.JobStatusQueued
		j.Attempts = 0
		j.RunAt = now
		j.LastError = nil
		j.LockedBy = nil
		j.LockedAt = nil
		j.UpdatedAt = now
		cp := *j
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

var _ store.Store = (*MemoryStore)(nil)
