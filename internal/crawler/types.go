// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is a node of the persisted category tree.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// IsRoot reports whether the category has no parent.
func (c Category) IsRoot() bool {
	return c.ParentID == nil
}

// Product is a persisted product row keyed by ExternalID.
type Product struct {
	ID         int64           `json:"id"`
	ExternalID string          `json:"external_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Brand      *string         `json:"brand,omitempty"`
	ImageURL   *string         `json:"image_url,omitempty"`
	ProductURL string          `json:"product_url"`
	CategoryID int64           `json:"category_id"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ProductData is a single product extracted from a listing page. Name,
// ProductURL, ExternalID, Price and Currency are always set; Brand and
// ImageURL are nil when the card did not carry them.
type ProductData struct {
	Name       string
	ProductURL string
	ExternalID string
	Price      decimal.Decimal
	Currency   string
	Brand      *string
	ImageURL   *string
}

// Subcategory is a category link discovered on a listing page.
type Subcategory struct {
	Name string
	Slug string
	URL  string
}

// Page is the result returned by a Fetcher implementation.
type Page struct {
	URL          string
	StatusCode   int
	HTML         string
	Elapsed      time.Duration
	Blocked      bool
	UsedHeadless bool
}

// PageReport describes the outcome of one listing page.
type PageReport struct {
	SessionID string
	Category  string
	Depth     int
	Page      int
	URL       string
	Nodes     int
	Items     int
	Saved     int64
	Blocked   bool
	Elapsed   time.Duration
}

// CategoryReport summarizes a finished category invocation.
type CategoryReport struct {
	SessionID     string
	Category      string
	Depth         int
	Pages         int
	Imported      int
	Subcategories int
	StopReason    StopReason
}

// StopReason records why a category's pagination loop ended.
type StopReason string

// Stop reasons for a category pagination loop.
const (
	StopMaxPages    StopReason = "max_pages"
	StopEmptyStreak StopReason = "empty_streak"
	StopFetchError  StopReason = "fetch_error"
	StopStoreError  StopReason = "store_error"
	StopCanceled    StopReason = "canceled"
	StopVisited     StopReason = "visited"
	StopMaxDepth    StopReason = "max_depth"
)

// Result is returned from a top-level crawl.
type Result struct {
	SessionID     string
	Imported      int
	Pages         int
	Blocked       int
	Categories    int
	Subcategories int
}
