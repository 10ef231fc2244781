// Package postgres provides the Postgres-backed category and product stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// productColumns is the insert column order; updated_at is set by the database.
const productColumns = "external_id, name, price, currency, brand, image_url, product_url, category_id"

const productArgs = 8

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ProductsTable   string
	CategoriesTable string
	ChunkSize       int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements crawler.CategoryStore and crawler.ProductStore on Postgres.
type Store struct {
	pool       pool
	products   string
	categories string
	chunkSize  int
	logger     *zap.Logger
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	products := cfg.ProductsTable
	if products == "" {
		products = "products"
	}
	categories := cfg.CategoriesTable
	if categories == "" {
		categories = "categories"
	}
	for _, table := range []string{products, categories} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = storage.DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:       p,
		products:   products,
		categories: categories,
		chunkSize:  chunk,
		logger:     logger.Named("postgres"),
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// UpsertBatch writes items in chunks, one multi-row statement per chunk.
// Chunks written before a failing one stay committed.
func (s *Store) UpsertBatch(ctx context.Context, items []crawler.ProductData, category crawler.Category) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	items = storage.Dedupe(items)
	var total int64
	for i, chunk := range storage.Chunk(items, s.chunkSize) {
		query, args := s.upsertStatement(chunk, category.ID, "")
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			offset := i * s.chunkSize
			s.logger.Error("product batch upsert failed",
				zap.Int("offset", offset),
				zap.Int("rows", len(chunk)),
				zap.String("first_external_id", chunk[0].ExternalID),
				zap.String("first_product_url", chunk[0].ProductURL),
				zap.Error(err),
			)
			return total, &crawler.PersistenceError{
				ExternalID: chunk[0].ExternalID,
				ProductURL: chunk[0].ProductURL,
				Err:        fmt.Errorf("upsert chunk at offset %d: %w", offset, err),
			}
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// Upsert writes one item and returns the stored row.
func (s *Store) Upsert(ctx context.Context, item crawler.ProductData, category crawler.Category) (crawler.Product, error) {
	query, args := s.upsertStatement([]crawler.ProductData{item}, category.ID,
		" RETURNING id, external_id, name, price::text, currency, COALESCE(brand, ''), COALESCE(image_url, ''), product_url, category_id, updated_at")
	var (
		p            crawler.Product
		price        string
		brand, image string
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.ExternalID, &p.Name, &price, &p.Currency, &brand, &image, &p.ProductURL, &p.CategoryID, &p.UpdatedAt,
	)
	if err == nil {
		p.Price, err = decimalFromText(price)
	}
	if err != nil {
		s.logger.Error("product upsert failed",
			zap.String("external_id", item.ExternalID),
			zap.String("product_url", item.ProductURL),
			zap.Error(err),
		)
		return crawler.Product{}, &crawler.PersistenceError{ExternalID: item.ExternalID, ProductURL: item.ProductURL, Err: err}
	}
	p.Brand = optional(brand)
	p.ImageURL = optional(image)
	return p, nil
}

func (s *Store) upsertStatement(items []crawler.ProductData, categoryID int64, suffix string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s, updated_at) VALUES ", s.products, productColumns)
	args := make([]any, 0, len(items)*productArgs)
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * productArgs
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, now())", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, it.ExternalID, it.Name, it.Price, it.Currency, it.Brand, it.ImageURL, it.ProductURL, categoryID)
	}
	b.WriteString(` ON CONFLICT (external_id) DO UPDATE SET
	name = EXCLUDED.name,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	image_url = EXCLUDED.image_url,
	product_url = EXCLUDED.product_url,
	category_id = EXCLUDED.category_id,
	updated_at = EXCLUDED.updated_at`)
	b.WriteString(suffix)
	return b.String(), args
}

// GetBySlug returns the category with slug or crawler.ErrNotFound.
func (s *Store) GetBySlug(ctx context.Context, slug string) (crawler.Category, error) {
	query := fmt.Sprintf(`SELECT id, name, slug, COALESCE(parent_id, 0) FROM %s WHERE slug = $1`, s.categories)
	return s.scanCategory(s.pool.QueryRow(ctx, query, slug), slug)
}

// GetByID returns the category with id or crawler.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (crawler.Category, error) {
	query := fmt.Sprintf(`SELECT id, name, slug, COALESCE(parent_id, 0) FROM %s WHERE id = $1`, s.categories)
	return s.scanCategory(s.pool.QueryRow(ctx, query, id), fmt.Sprint(id))
}

func (s *Store) scanCategory(row pgx.Row, key string) (crawler.Category, error) {
	var (
		c      crawler.Category
		parent int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Slug, &parent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Category{}, fmt.Errorf("category %s: %w", key, crawler.ErrNotFound)
		}
		return crawler.Category{}, fmt.Errorf("select category %s: %w", key, err)
	}
	if parent != 0 {
		c.ParentID = &parent
	}
	return c, nil
}

// Create inserts a category and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, c crawler.Category) (crawler.Category, error) {
	query := fmt.Sprintf(`INSERT INTO %s (name, slug, parent_id) VALUES ($1, $2, $3) RETURNING id`, s.categories)
	if err := s.pool.QueryRow(ctx, query, c.Name, c.Slug, c.ParentID).Scan(&c.ID); err != nil {
		return crawler.Category{}, fmt.Errorf("insert category %q: %w", c.Slug, err)
	}
	return c, nil
}

// SetParent re-links id under parentID, or detaches it when parentID is nil.
func (s *Store) SetParent(ctx context.Context, id int64, parentID *int64) error {
	if parentID != nil && *parentID == id {
		return fmt.Errorf("category %d: %w", id, crawler.ErrSelfParent)
	}
	query := fmt.Sprintf(`UPDATE %s SET parent_id = $2 WHERE id = $1`, s.categories)
	tag, err := s.pool.Exec(ctx, query, id, parentID)
	if err != nil {
		return fmt.Errorf("update category %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("category %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// ChildIDs returns the ids of every category whose parent is in parentIDs.
func (s *Store) ChildIDs(ctx context.Context, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id FROM %s WHERE parent_id = ANY($1) ORDER BY id`, s.categories)
	rows, err := s.pool.Query(ctx, query, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("select child categories: %w", err)
	}
	defer rows.Close()
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
