package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coldcrate/fridgevision/pkg/models"
)

// DBTX is the subset of *pgxpool.Pool and pgx.Tx the store queries through.
// Binding every method to it lets the same code run on the pool or inside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn with a Store bound to a single transaction. The transaction
// commits when fn returns nil and rolls back otherwise. Calling WithTx on an
// already transaction-bound store reuses the open transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if _, ok := s.db.(pgx.Tx); ok {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{pool: s.pool, db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Users ---

const userColumns = `id, email, name, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Snapshots ---

const snapshotColumns = `id, user_id, image_bucket, image_key, image_filename, raw_model_output, status, error, created_at, updated_at`

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := row.Scan(&snap.ID, &snap.UserID, &snap.ImageBucket, &snap.ImageKey, &snap.ImageFilename,
		&snap.RawModelOutput, &snap.Status, &snap.Error, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO snapshots (id, user_id, image_bucket, image_key, image_filename, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.UserID, snap.ImageBucket, snap.ImageKey, snap.ImageFilename,
		snap.Status, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) GetSnapshotForUser(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot for user: %w", err)
	}
	return snap, nil
}

// GetSnapshotForUpdate locks the snapshot row for the rest of the enclosing
// transaction. Only meaningful inside WithTx.
func (s *PostgresStore) GetSnapshotForUpdate(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot for update: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, userID uuid.UUID, filter SnapshotFilter) ([]*models.Snapshot, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM snapshots WHERE " + where
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM snapshots WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		snapshotColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, total, rows.Err()
}

// LatestSnapshot returns the user's most recent snapshot, optionally
// restricted to one status. Status "" matches any.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, userID uuid.UUID, status string) (*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	snap, err := scanSnapshot(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// UpdateSnapshotStatus moves the snapshot to status and stores errMsg in the
// error column (nil clears it). Illegal transitions are rejected; the legal
// edges live in models.ValidSnapshotTransition.
func (s *PostgresStore) UpdateSnapshotStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	var currentStatus string
	err := s.db.QueryRow(ctx, `SELECT status FROM snapshots WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get snapshot status: %w", err)
	}

	if !models.ValidSnapshotTransition(currentStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	_, err = s.db.Exec(ctx,
		`UPDATE snapshots SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		id, status, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update snapshot status: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSnapshotRawOutput(ctx context.Context, id uuid.UUID, raw string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE snapshots SET raw_model_output = $2, updated_at = NOW() WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("set snapshot raw output: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Products ---

const productColumns = `id, name, category, unit, created_at, updated_at`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Unit, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreateProduct returns the catalog product with the given normalized
// name, inserting it first if absent. The no-op ON CONFLICT update makes
// RETURNING yield the existing row, so concurrent callers all get the same
// product.
func (s *PostgresStore) GetOrCreateProduct(ctx context.Context, name string) (*models.Product, error) {
	now := time.Now().UTC()
	product, err := scanProduct(s.db.QueryRow(ctx,
		`INSERT INTO products (id, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (name) DO UPDATE SET updated_at = products.updated_at
		 RETURNING `+productColumns,
		uuid.New(), name, now))
	if err != nil {
		return nil, fmt.Errorf("get or create product: %w", err)
	}
	return product, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, int, error) {
	conditions := []string{"1 = 1"}
	args := []any{}
	argIdx := 1

	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, filter.Category)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM products WHERE " + where
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM products WHERE %s ORDER BY name LIMIT $%d OFFSET $%d`,
		productColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (s *PostgresStore) ListUncategorizedProducts(ctx context.Context, limit int) ([]*models.Product, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE category IS NULL ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) UpdateProductCategory(ctx context.Context, id uuid.UUID, category string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE products SET category = $2, updated_at = NOW() WHERE id = $1`, id, category)
	if err != nil {
		return fmt.Errorf("update product category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Items ---

func (s *PostgresStore) InsertItem(ctx context.Context, item *models.Item) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO items (id, snapshot_id, product_id, quantity, raw_payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.SnapshotID, item.ProductID, item.Quantity, item.RawPayload,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// DeleteItemsForSnapshot clears a snapshot's item rows. Reprocessing a
// snapshot replaces its inventory wholesale, so the previous run's rows go
// first. Deleting zero rows is not an error.
func (s *PostgresStore) DeleteItemsForSnapshot(ctx context.Context, snapshotID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM items WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return fmt.Errorf("delete items for snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListItemsBySnapshot(ctx context.Context, snapshotID uuid.UUID) ([]*models.Item, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, snapshot_id, product_id, quantity, raw_payload, created_at, updated_at
		 FROM items WHERE snapshot_id = $1 ORDER BY created_at, id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list items by snapshot: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.SnapshotID, &it.ProductID, &it.Quantity, &it.RawPayload,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// LatestInventory returns the user's newest complete snapshot with its items
// joined against the catalog. A user with no complete snapshot gets a nil
// snapshot and an empty entry list, not an error.
func (s *PostgresStore) LatestInventory(ctx context.Context, userID uuid.UUID) (*models.Snapshot, []models.InventoryEntry, error) {
	snap, err := s.LatestSnapshot(ctx, userID, models.SnapshotStatusComplete)
	if errors.Is(err, ErrNotFound) {
		return nil, []models.InventoryEntry{}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.name, p.category, p.unit, i.quantity
		 FROM items i
		 JOIN products p ON p.id = i.product_id
		 WHERE i.snapshot_id = $1
		 ORDER BY p.name`, snap.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("latest inventory: %w", err)
	}
	defer rows.Close()

	entries := []models.InventoryEntry{}
	for rows.Next() {
		var e models.InventoryEntry
		if err := rows.Scan(&e.ProductID, &e.Name, &e.Category, &e.Unit, &e.Quantity); err != nil {
			return nil, nil, fmt.Errorf("scan inventory entry: %w", err)
		}
		entries = append(entries, e)
	}
	return snap, entries, rows.Err()
}

// SnapshotComposition aggregates a snapshot's item quantities by product
// category. Uncategorized products count under "uncategorized".
func (s *PostgresStore) SnapshotComposition(ctx context.Context, snapshotID uuid.UUID) ([]models.CategoryCount, error) {
	rows, err := s.db.Query(ctx,
		`SELECT COALESCE(p.category, 'uncategorized') AS category, SUM(i.quantity)::int AS quantity
		 FROM items i
		 JOIN products p ON p.id = i.product_id
		 WHERE i.snapshot_id = $1
		 GROUP BY 1
		 ORDER BY 2 DESC, 1`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot composition: %w", err)
	}
	defer rows.Close()

	counts := []models.CategoryCount{}
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Quantity); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
