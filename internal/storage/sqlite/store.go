// Package sqlite provides a single-file SQLite backend for local crawls.
// The schema is created on open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	parent_id INTEGER NULL REFERENCES categories(id),
	CHECK (parent_id IS NULL OR parent_id <> id)
);

CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	price TEXT NOT NULL,
	currency TEXT NOT NULL,
	brand TEXT NULL,
	image_url TEXT NULL,
	product_url TEXT NOT NULL,
	category_id INTEGER NOT NULL REFERENCES categories(id),
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
`

const upsertConflict = ` ON CONFLICT (external_id) DO UPDATE SET
	name = excluded.name,
	price = excluded.price,
	currency = excluded.currency,
	image_url = excluded.image_url,
	product_url = excluded.product_url,
	category_id = excluded.category_id,
	updated_at = excluded.updated_at`

// Options configures the SQLite store.
type Options struct {
	Path      string
	ChunkSize int
	Clock     crawler.Clock
}

// Store implements crawler.CategoryStore and crawler.ProductStore on SQLite.
type Store struct {
	db        *sql.DB
	chunkSize int
	clock     crawler.Clock
	logger    *zap.Logger
}

// Open opens or creates the database file at opts.Path.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", opts.Path+"?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the crawl is single threaded anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = storage.DefaultChunkSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, chunkSize: chunk, clock: clock, logger: logger.Named("sqlite")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks that the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// UpsertBatch writes items in chunks, one multi-row statement per chunk.
func (s *Store) UpsertBatch(ctx context.Context, items []crawler.ProductData, category crawler.Category) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	items = storage.Dedupe(items)
	now := s.clock.Now()
	var total int64
	for i, chunk := range storage.Chunk(items, s.chunkSize) {
		query, args := upsertStatement(chunk, category.ID, now)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			var n int64
			n, err = res.RowsAffected()
			total += n
		}
		if err != nil {
			offset := i * s.chunkSize
			s.logger.Error("product batch upsert failed",
				zap.Int("offset", offset),
				zap.Int("rows", len(chunk)),
				zap.String("first_external_id", chunk[0].ExternalID),
				zap.Error(err),
			)
			return total, &crawler.PersistenceError{
				ExternalID: chunk[0].ExternalID,
				ProductURL: chunk[0].ProductURL,
				Err:        fmt.Errorf("upsert chunk at offset %d: %w", offset, err),
			}
		}
	}
	return total, nil
}

// Upsert writes one item and returns the stored row.
func (s *Store) Upsert(ctx context.Context, item crawler.ProductData, category crawler.Category) (crawler.Product, error) {
	query, args := upsertStatement([]crawler.ProductData{item}, category.ID, s.clock.Now())
	query += ` RETURNING id, external_id, name, price, currency, brand, image_url, product_url, category_id, updated_at`
	var (
		p            crawler.Product
		price, at    string
		brand, image sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.ExternalID, &p.Name, &price, &p.Currency, &brand, &image, &p.ProductURL, &p.CategoryID, &at,
	)
	if err == nil {
		p.Price, err = decimal.NewFromString(price)
	}
	if err == nil {
		p.UpdatedAt, err = time.Parse(time.RFC3339Nano, at)
	}
	if err != nil {
		s.logger.Error("product upsert failed",
			zap.String("external_id", item.ExternalID),
			zap.String("product_url", item.ProductURL),
			zap.Error(err),
		)
		return crawler.Product{}, &crawler.PersistenceError{ExternalID: item.ExternalID, ProductURL: item.ProductURL, Err: err}
	}
	p.Brand = nullable(brand)
	p.ImageURL = nullable(image)
	return p, nil
}

func upsertStatement(items []crawler.ProductData, categoryID int64, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO products (external_id, name, price, currency, brand, image_url, product_url, category_id, updated_at) VALUES ")
	args := make([]any, 0, len(items)*9)
	stamp := now.UTC().Format(time.RFC3339Nano)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, it.ExternalID, it.Name, it.Price.StringFixed(2), it.Currency,
			it.Brand, it.ImageURL, it.ProductURL, categoryID, stamp)
	}
	b.WriteString(upsertConflict)
	return b.String(), args
}

// GetBySlug returns the category with slug or crawler.ErrNotFound.
func (s *Store) GetBySlug(ctx context.Context, slug string) (crawler.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, slug, parent_id FROM categories WHERE slug = ?`, slug)
	return scanCategory(row, slug)
}

// GetByID returns the category with id or crawler.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (crawler.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, slug, parent_id FROM categories WHERE id = ?`, id)
	return scanCategory(row, fmt.Sprint(id))
}

func scanCategory(row *sql.Row, key string) (crawler.Category, error) {
	var (
		c      crawler.Category
		parent sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Category{}, fmt.Errorf("category %s: %w", key, crawler.ErrNotFound)
		}
		return crawler.Category{}, fmt.Errorf("select category %s: %w", key, err)
	}
	if parent.Valid {
		c.ParentID = &parent.Int64
	}
	return c, nil
}

// Create inserts a category and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, c crawler.Category) (crawler.Category, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories (name, slug, parent_id) VALUES (?, ?, ?)`, c.Name, c.Slug, c.ParentID)
	if err != nil {
		return crawler.Category{}, fmt.Errorf("insert category %q: %w", c.Slug, err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return crawler.Category{}, fmt.Errorf("insert category %q: %w", c.Slug, err)
	}
	return c, nil
}

// SetParent re-links id under parentID, or detaches it when parentID is nil.
func (s *Store) SetParent(ctx context.Context, id int64, parentID *int64) error {
	if parentID != nil && *parentID == id {
		return fmt.Errorf("category %d: %w", id, crawler.ErrSelfParent)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE categories SET parent_id = ? WHERE id = ?`, parentID, id)
	if err != nil {
		return fmt.Errorf("update category %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update category %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("category %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// ChildIDs returns the ids of every category whose parent is in parentIDs.
func (s *Store) ChildIDs(ctx context.Context, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(parentIDs)), ", ")
	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM categories WHERE parent_id IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select child categories: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child category: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child categories: %w", err)
	}
	return ids, nil
}

// ProductCount returns the number of stored products.
func (s *Store) ProductCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
