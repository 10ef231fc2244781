// Package memory provides in-process category and product stores for tests
// and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// Store implements crawler.CategoryStore and crawler.ProductStore.
type Store struct {
	mu         sync.RWMutex
	clock      crawler.Clock
	nextCat    int64
	nextProd   int64
	categories map[int64]crawler.Category
	slugs      map[string]int64
	products   map[string]crawler.Product
}

// NewStore constructs an empty Store. A nil clock uses the system clock.
func NewStore(clock crawler.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{
		clock:      clock,
		categories: make(map[int64]crawler.Category),
		slugs:      make(map[string]int64),
		products:   make(map[string]crawler.Product),
	}
}

// GetBySlug returns the category with slug or crawler.ErrNotFound.
func (s *Store) GetBySlug(_ context.Context, slug string) (crawler.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.slugs[slug]
	if !ok {
		return crawler.Category{}, fmt.Errorf("category %q: %w", slug, crawler.ErrNotFound)
	}
	return cloneCategory(s.categories[id]), nil
}

// GetByID returns the category with id or crawler.ErrNotFound.
func (s *Store) GetByID(_ context.Context, id int64) (crawler.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return crawler.Category{}, fmt.Errorf("category %d: %w", id, crawler.ErrNotFound)
	}
	return cloneCategory(c), nil
}

// Create inserts a category and returns it with its assigned id.
func (s *Store) Create(_ context.Context, c crawler.Category) (crawler.Category, error) {
	if c.Slug == "" {
		return crawler.Category{}, errors.New("category slug is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slugs[c.Slug]; exists {
		return crawler.Category{}, fmt.Errorf("category %q already exists", c.Slug)
	}
	if c.ParentID != nil {
		if _, ok := s.categories[*c.ParentID]; !ok {
			return crawler.Category{}, fmt.Errorf("parent %d: %w", *c.ParentID, crawler.ErrNotFound)
		}
	}
	s.nextCat++
	c.ID = s.nextCat
	c = cloneCategory(c)
	s.categories[c.ID] = c
	s.slugs[c.Slug] = c.ID
	return cloneCategory(c), nil
}

// SetParent re-links id under parentID, or detaches it when parentID is nil.
func (s *Store) SetParent(_ context.Context, id int64, parentID *int64) error {
	if parentID != nil && *parentID == id {
		return fmt.Errorf("category %d: %w", id, crawler.ErrSelfParent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return fmt.Errorf("category %d: %w", id, crawler.ErrNotFound)
	}
	if parentID != nil {
		if _, ok := s.categories[*parentID]; !ok {
			return fmt.Errorf("parent %d: %w", *parentID, crawler.ErrNotFound)
		}
		p := *parentID
		c.ParentID = &p
	} else {
		c.ParentID = nil
	}
	s.categories[id] = c
	return nil
}

// ChildIDs returns the ids of every category whose parent is in parentIDs,
// in ascending order.
func (s *Store) ChildIDs(_ context.Context, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	want := make(map[int64]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		want[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for id, c := range s.categories {
		if c.ParentID == nil {
			continue
		}
		if _, ok := want[*c.ParentID]; ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// UpsertBatch inserts or refreshes items under category.
func (s *Store) UpsertBatch(_ context.Context, items []crawler.ProductData, category crawler.Category) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	items = storage.Dedupe(items)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[category.ID]; !ok {
		return 0, &crawler.PersistenceError{Err: fmt.Errorf("category %d: %w", category.ID, crawler.ErrNotFound)}
	}
	now := s.clock.Now()
	for _, it := range items {
		s.upsertLocked(it, category.ID, now)
	}
	return int64(len(items)), nil
}

// Upsert inserts or refreshes a single item and returns the stored row.
func (s *Store) Upsert(_ context.Context, item crawler.ProductData, category crawler.Category) (crawler.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[category.ID]; !ok {
		return crawler.Product{}, &crawler.PersistenceError{
			ExternalID: item.ExternalID,
			ProductURL: item.ProductURL,
			Err:        fmt.Errorf("category %d: %w", category.ID, crawler.ErrNotFound),
		}
	}
	return s.upsertLocked(item, category.ID, s.clock.Now()), nil
}

func (s *Store) upsertLocked(it crawler.ProductData, categoryID int64, now time.Time) crawler.Product {
	p, exists := s.products[it.ExternalID]
	if !exists {
		s.nextProd++
		p = crawler.Product{ID: s.nextProd, ExternalID: it.ExternalID, Brand: cloneString(it.Brand)}
	}
	p.Name = it.Name
	p.Price = it.Price
	p.Currency = it.Currency
	p.ImageURL = cloneString(it.ImageURL)
	p.ProductURL = it.ProductURL
	p.CategoryID = categoryID
	p.UpdatedAt = now
	s.products[it.ExternalID] = p
	return p
}

// Product returns the stored row for externalID.
func (s *Store) Product(externalID string) (crawler.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[externalID]
	return p, ok
}

// ProductCount returns the number of stored products.
func (s *Store) ProductCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

func cloneCategory(c crawler.Category) crawler.Category {
	if c.ParentID != nil {
		p := *c.ParentID
		c.ParentID = &p
	}
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
