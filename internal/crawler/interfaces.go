package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher retrieves the rendered HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// CategoryExtractor finds whitelisted subcategory links in a listing page.
type CategoryExtractor interface {
	ExtractSubcategories(html string) []Subcategory
}

// ProductExtractor finds product cards and parses them into records.
type ProductExtractor interface {
	FindProductNodes(doc *goquery.Document) []*goquery.Selection
	ParseItem(node *goquery.Selection) (ProductData, bool)
}

// ProductStore idempotently persists extracted products.
type ProductStore interface {
	UpsertBatch(ctx context.Context, items []ProductData, category Category) (int64, error)
	Upsert(ctx context.Context, item ProductData, category Category) (Product, error)
}

// CategoryStore persists category records and their parent links.
type CategoryStore interface {
	GetBySlug(ctx context.Context, slug string) (Category, error)
	GetByID(ctx context.Context, id int64) (Category, error)
	Create(ctx context.Context, category Category) (Category, error)
	SetParent(ctx context.Context, id int64, parentID *int64) error
	ChildIDs(ctx context.Context, parentIDs []int64) ([]int64, error)
}

// CategoryResolver applies the parent-resolution rules when a subcategory is discovered.
type CategoryResolver interface {
	Discover(ctx context.Context, found Subcategory, crawling Category) (Category, error)
}

// Invalidator signals the read-side cache that tagged entries are stale.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

// Pacer blocks between page fetches to stay under anti-bot thresholds.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Reporter receives progress callbacks while a crawl runs.
type Reporter interface {
	PageDone(report PageReport)
	CategoryDone(report CategoryReport)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
