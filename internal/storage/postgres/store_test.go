package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func newMockStore(t *testing.T, cfg Config) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, cfg, zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func item(id string, price string) crawler.ProductData {
	return crawler.ProductData{
		ExternalID: id,
		Name:       "TV " + id,
		ProductURL: "https://shop.example/p/" + id,
		Price:      decimal.RequireFromString(price),
		Currency:   "EUR",
	}
}

func argsFor(items []crawler.ProductData, categoryID int64) []any {
	var args []any
	for _, it := range items {
		args = append(args, it.ExternalID, it.Name, it.Price, it.Currency, it.Brand, it.ImageURL, it.ProductURL, categoryID)
	}
	return args
}

func TestNewWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, Config{ProductsTable: "products; DROP TABLE x"}, nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, Config{}, nil)
	require.Error(t, err)
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	n, err := store.UpsertBatch(context.Background(), nil, crawler.Category{ID: 1})
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchChunksAndDedupes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{ChunkSize: 2})
	items := []crawler.ProductData{item("a", "1.00"), item("b", "2.00"), item("a", "3.00"), item("c", "4.00")}
	deduped := []crawler.ProductData{items[2], items[1], items[3]}

	mock.ExpectExec(`INSERT INTO products .* VALUES \(\$1, .*\), \(\$9, .*\) ON CONFLICT \(external_id\) DO UPDATE SET`).
		WithArgs(argsFor(deduped[:2], 7)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO products .* VALUES \(\$1, .*now\(\)\) ON CONFLICT`).
		WithArgs(argsFor(deduped[2:], 7)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.UpsertBatch(context.Background(), items, crawler.Category{ID: 7})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchReportsFailingChunk(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{ChunkSize: 1})
	items := []crawler.ProductData{item("a", "1.00"), item("b", "2.00")}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(argsFor(items[:1], 3)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO products").
		WithArgs(argsFor(items[1:], 3)...).
		WillReturnError(errors.New("deadlock detected"))

	n, err := store.UpsertBatch(context.Background(), items, crawler.Category{ID: 3})
	require.Error(t, err)
	require.EqualValues(t, 1, n)
	var perr *crawler.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "b", perr.ExternalID)
	require.Contains(t, err.Error(), "offset 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReturnsStoredRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	it := item("a", "449.99")
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO products .* RETURNING id").
		WithArgs(argsFor([]crawler.ProductData{it}, 5)...).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "external_id", "name", "price", "currency", "brand", "image_url", "product_url", "category_id", "updated_at",
		}).AddRow(int64(11), "a", it.Name, "449.99", "EUR", "Samsung", "", it.ProductURL, int64(5), now))

	p, err := store.Upsert(context.Background(), it, crawler.Category{ID: 5})
	require.NoError(t, err)
	require.Equal(t, int64(11), p.ID)
	require.Equal(t, "449.99", p.Price.StringFixed(2))
	require.Equal(t, "Samsung", *p.Brand)
	require.Nil(t, p.ImageURL)
	require.Equal(t, now, p.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	it := item("a", "1.00")
	mock.ExpectQuery("INSERT INTO products").WillReturnError(errors.New("connection refused"))

	_, err := store.Upsert(context.Background(), it, crawler.Category{ID: 5})
	var perr *crawler.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "a", perr.ExternalID)
	require.Equal(t, it.ProductURL, perr.ProductURL)
}

func TestGetBySlug(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	mock.ExpectQuery(`SELECT id, name, slug, COALESCE\(parent_id, 0\) FROM categories WHERE slug = \$1`).
		WithArgs("oled").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "parent_id"}).AddRow(int64(2), "OLED", "oled", int64(1)))
	mock.ExpectQuery("FROM categories WHERE slug").
		WithArgs("tv").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "slug", "parent_id"}).AddRow(int64(1), "TV", "tv", int64(0)))
	mock.ExpectQuery("FROM categories WHERE slug").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	oled, err := store.GetBySlug(context.Background(), "oled")
	require.NoError(t, err)
	require.Equal(t, int64(1), *oled.ParentID)

	tv, err := store.GetBySlug(context.Background(), "tv")
	require.NoError(t, err)
	require.True(t, tv.IsRoot())

	_, err = store.GetBySlug(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCategory(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	parent := int64(1)
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs("OLED", "oled", &parent).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	c, err := store.Create(context.Background(), crawler.Category{Name: "OLED", Slug: "oled", ParentID: &parent})
	require.NoError(t, err)
	require.Equal(t, int64(9), c.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetParent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	parent := int64(1)
	mock.ExpectExec("UPDATE categories SET parent_id").
		WithArgs(int64(2), &parent).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE categories SET parent_id").
		WithArgs(int64(3), &parent).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetParent(context.Background(), 2, &parent))
	require.ErrorIs(t, store.SetParent(context.Background(), 3, &parent), crawler.ErrNotFound)

	self := int64(4)
	require.ErrorIs(t, store.SetParent(context.Background(), 4, &self), crawler.ErrSelfParent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChildIDs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	mock.ExpectQuery(`SELECT id FROM categories WHERE parent_id = ANY\(\$1\)`).
		WithArgs([]int64{1, 2}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(4)))

	ids, err := store.ChildIDs(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4}, ids)

	none, err := store.ChildIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t, Config{})
	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("conn refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
