package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbarros/product-catalog-service/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// Domain-style errors mapped to HTTP codes in the API layer and to
// invariant-violation handling in the pipeline.
var (
	// ErrNotFound is returned when a record or snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a conditional update's expected
	// version does not match the stored record.
	ErrVersionConflict = errors.New("version conflict")

	// ErrVersionRegression is returned when a latest-pointer swap would move
	// the pointer backwards. Published versions only ever increase.
	ErrVersionRegression = errors.New("snapshot version regression")
)

const (
	productPrefix  = "PRODUCT#"
	categoryPrefix = "CATEGORY#"

	entityProduct  = "PRODUCT"
	entityCategory = "CATEGORY"
)

// PostgresStore is the durable persistence layer: owned records, sequence
// counters, processed-event marks, snapshot versions and latest pointers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool for collaborators that share the
// same database (the delivery queue).
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --------------------------------------------------
// Products
// --------------------------------------------------

// CreateProduct persists a new product record.
func (p *PostgresStore) CreateProduct(ctx context.Context, prod models.Product) (models.Product, error) {
	now := time.Now().UTC()
	prod.Version = 1
	prod.CreatedAt = now
	prod.UpdatedAt = now

	_, err := p.pool.Exec(ctx, `
		INSERT INTO catalog_entities(owner_id, sk, entity_type, id, title, description, price, category_id, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, prod.OwnerID, productPrefix+prod.ID, entityProduct, prod.ID,
		prod.Title, prod.Description, prod.Price, prod.CategoryID,
		prod.Version, prod.CreatedAt, prod.UpdatedAt)
	if err != nil {
		return models.Product{}, err
	}
	return prod, nil
}

// GetProduct fetches one product record.
func (p *PostgresStore) GetProduct(ctx context.Context, ownerID, productID string) (models.Product, error) {
	var prod models.Product
	err := p.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, description, price, category_id, version, created_at, updated_at
		FROM catalog_entities
		WHERE owner_id=$1 AND sk=$2
	`, ownerID, productPrefix+productID).Scan(
		&prod.ID, &prod.OwnerID, &prod.Title, &prod.Description,
		&prod.Price, &prod.CategoryID, &prod.Version, &prod.CreatedAt, &prod.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, ErrNotFound
	}
	if err != nil {
		return models.Product{}, err
	}
	return prod, nil
}

// UpdateProduct applies a conditional update: it succeeds only when the stored
// version equals req.Version, and bumps the version by one.
func (p *PostgresStore) UpdateProduct(ctx context.Context, ownerID, productID string, req models.ProductUpdateRequest) (models.Product, error) {
	var prod models.Product
	err := p.pool.QueryRow(ctx, `
		UPDATE catalog_entities SET
			title       = COALESCE($4, title),
			description = COALESCE($5, description),
			price       = COALESCE($6, price),
			category_id = COALESCE($7, category_id),
			version     = version + 1,
			updated_at  = now()
		WHERE owner_id=$1 AND sk=$2 AND version=$3
		RETURNING id, owner_id, title, description, price, category_id, version, created_at, updated_at
	`, ownerID, productPrefix+productID, req.Version,
		req.Title, req.Description, req.Price, req.CategoryID).Scan(
		&prod.ID, &prod.OwnerID, &prod.Title, &prod.Description,
		&prod.Price, &prod.CategoryID, &prod.Version, &prod.CreatedAt, &prod.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, p.conditionFailure(ctx, ownerID, productPrefix+productID)
	}
	if err != nil {
		return models.Product{}, err
	}
	return prod, nil
}

// DeleteProduct removes a product record. Returns ErrNotFound when absent.
func (p *PostgresStore) DeleteProduct(ctx context.Context, ownerID, productID string) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM catalog_entities WHERE owner_id=$1 AND sk=$2
	`, ownerID, productPrefix+productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --------------------------------------------------
// Categories
// --------------------------------------------------

// CreateCategory persists a new category record.
func (p *PostgresStore) CreateCategory(ctx context.Context, cat models.Category) (models.Category, error) {
	now := time.Now().UTC()
	cat.Version = 1
	cat.CreatedAt = now
	cat.UpdatedAt = now

	_, err := p.pool.Exec(ctx, `
		INSERT INTO catalog_entities(owner_id, sk, entity_type, id, title, description, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, cat.OwnerID, categoryPrefix+cat.ID, entityCategory, cat.ID,
		cat.Title, cat.Description, cat.Version, cat.CreatedAt, cat.UpdatedAt)
	if err != nil {
		return models.Category{}, err
	}
	return cat, nil
}

// GetCategory fetches one category record.
func (p *PostgresStore) GetCategory(ctx context.Context, ownerID, categoryID string) (models.Category, error) {
	var cat models.Category
	err := p.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, description, version, created_at, updated_at
		FROM catalog_entities
		WHERE owner_id=$1 AND sk=$2
	`, ownerID, categoryPrefix+categoryID).Scan(
		&cat.ID, &cat.OwnerID, &cat.Title, &cat.Description,
		&cat.Version, &cat.CreatedAt, &cat.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, ErrNotFound
	}
	if err != nil {
		return models.Category{}, err
	}
	return cat, nil
}

// UpdateCategory applies a conditional, version-checked update.
func (p *PostgresStore) UpdateCategory(ctx context.Context, ownerID, categoryID string, req models.CategoryUpdateRequest) (models.Category, error) {
	var cat models.Category
	err := p.pool.QueryRow(ctx, `
		UPDATE catalog_entities SET
			title       = COALESCE($4, title),
			description = COALESCE($5, description),
			version     = version + 1,
			updated_at  = now()
		WHERE owner_id=$1 AND sk=$2 AND version=$3
		RETURNING id, owner_id, title, description, version, created_at, updated_at
	`, ownerID, categoryPrefix+categoryID, req.Version, req.Title, req.Description).Scan(
		&cat.ID, &cat.OwnerID, &cat.Title, &cat.Description,
		&cat.Version, &cat.CreatedAt, &cat.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, p.conditionFailure(ctx, ownerID, categoryPrefix+categoryID)
	}
	if err != nil {
		return models.Category{}, err
	}
	return cat, nil
}

// DeleteCategory removes a category record. Returns ErrNotFound when absent.
func (p *PostgresStore) DeleteCategory(ctx context.Context, ownerID, categoryID string) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM catalog_entities WHERE owner_id=$1 AND sk=$2
	`, ownerID, categoryPrefix+categoryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// conditionFailure disambiguates a zero-row conditional update: missing record
// versus stale expected version.
func (p *PostgresStore) conditionFailure(ctx context.Context, ownerID, sk string) error {
	var one int
	err := p.pool.QueryRow(ctx, `
		SELECT 1 FROM catalog_entities WHERE owner_id=$1 AND sk=$2
	`, ownerID, sk).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrVersionConflict
}

// --------------------------------------------------
// Catalog builder reads
// --------------------------------------------------

// ListEntities returns all product and category records for the owner.
// This is the full-rebuild read path; the pipeline never reads diffs.
func (p *PostgresStore) ListEntities(ctx context.Context, ownerID string) ([]models.Product, []models.Category, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT entity_type, id, owner_id, title, description, price, category_id, version, created_at, updated_at
		FROM catalog_entities
		WHERE owner_id=$1
		ORDER BY sk
	`, ownerID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var products []models.Product
	var categories []models.Category
	for rows.Next() {
		var (
			entityType  string
			id          string
			owner       string
			title       string
			description string
			price       float64
			categoryID  string
			version     int64
			createdAt   time.Time
			updatedAt   time.Time
		)
		if err := rows.Scan(&entityType, &id, &owner, &title, &description, &price, &categoryID, &version, &createdAt, &updatedAt); err != nil {
			return nil, nil, err
		}
		switch entityType {
		case entityProduct:
			products = append(products, models.Product{
				ID: id, OwnerID: owner, Title: title, Description: description,
				Price: price, CategoryID: categoryID, Version: version,
				CreatedAt: createdAt, UpdatedAt: updatedAt,
			})
		case entityCategory:
			categories = append(categories, models.Category{
				ID: id, OwnerID: owner, Title: title, Description: description,
				Version: version, CreatedAt: createdAt, UpdatedAt: updatedAt,
			})
		}
	}
	return products, categories, rows.Err()
}

// --------------------------------------------------
// Sequence counter
// --------------------------------------------------

// NextSequence atomically increments and returns the owner-scoped event
// sequence counter. Concurrent emitters for the same owner serialize on the
// counter row, so returned values are unique and increasing per owner.
func (p *PostgresStore) NextSequence(ctx context.Context, ownerID string) (uint64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO owner_sequences(owner_id, n) VALUES ($1, 1)
		ON CONFLICT (owner_id) DO UPDATE SET n = owner_sequences.n + 1
		RETURNING n
	`, ownerID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// --------------------------------------------------
// Idempotency tracker
// --------------------------------------------------

// IsProcessed reports whether (ownerID, seq) already contributed to a
// published snapshot.
func (p *PostgresStore) IsProcessed(ctx context.Context, ownerID string, seq uint64) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx, `
		SELECT 1 FROM processed_events WHERE owner_id=$1 AND sequence=$2
	`, ownerID, int64(seq)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProcessed records that (ownerID, seq) has been reflected in a published
// snapshot. Re-marking after a redelivery race is not an error.
func (p *PostgresStore) MarkProcessed(ctx context.Context, ownerID string, seq uint64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO processed_events(owner_id, sequence) VALUES ($1,$2)
		ON CONFLICT (owner_id, sequence) DO NOTHING
	`, ownerID, int64(seq))
	return err
}

// --------------------------------------------------
// Snapshots
// --------------------------------------------------

// InsertSnapshot writes a new immutable snapshot version and returns the
// version number. The version is allocated from the current maximum, so a
// redelivered publish produces a distinct row rather than an overwrite;
// whichever pointer swap runs last decides "latest".
func (p *PostgresStore) InsertSnapshot(ctx context.Context, ownerID string, generatedAt time.Time, productCount int, payload []byte) (int64, error) {
	if !json.Valid(payload) {
		return 0, fmt.Errorf("snapshot payload is not valid JSON")
	}
	var version int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO catalog_snapshots(owner_id, version, generated_at, product_count, payload)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		FROM catalog_snapshots WHERE owner_id=$1
		RETURNING version
	`, ownerID, generatedAt, productCount, payload).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// AdvanceLatest swaps the owner's latest pointer to version. The swap is
// conditional: it only ever moves the pointer forward. A regression attempt
// returns ErrVersionRegression.
func (p *PostgresStore) AdvanceLatest(ctx context.Context, ownerID string, version int64) error {
	var v int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO catalog_latest(owner_id, version) VALUES ($1,$2)
		ON CONFLICT (owner_id) DO UPDATE SET version = EXCLUDED.version
		WHERE catalog_latest.version < EXCLUDED.version
		RETURNING version
	`, ownerID, version).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionRegression
	}
	return err
}

// LatestSnapshot reads the currently published snapshot through the latest
// pointer. Readers never observe a partially written snapshot: the row is
// inserted in full before the pointer references it.
func (p *PostgresStore) LatestSnapshot(ctx context.Context, ownerID string) (models.CatalogSnapshot, error) {
	var snap models.CatalogSnapshot
	err := p.pool.QueryRow(ctx, `
		SELECT s.owner_id, s.version, s.generated_at, s.product_count, s.payload
		FROM catalog_latest l
		JOIN catalog_snapshots s ON s.owner_id = l.owner_id AND s.version = l.version
		WHERE l.owner_id=$1
	`, ownerID).Scan(&snap.OwnerID, &snap.Version, &snap.GeneratedAt, &snap.ProductCount, &snap.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CatalogSnapshot{}, ErrNotFound
	}
	if err != nil {
		return models.CatalogSnapshot{}, err
	}
	return snap, nil
}
