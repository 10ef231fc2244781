// Package tree maintains the category hierarchy: creating categories as
// they are discovered, resolving their parent and walking descendants.
package tree

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Tree resolves categories against a crawler.CategoryStore. It implements
// crawler.CategoryResolver.
type Tree struct {
	store  crawler.CategoryStore
	logger *zap.Logger
}

// New constructs a Tree.
func New(store crawler.CategoryStore, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{store: store, logger: logger.Named("tree")}
}

// DescendantIDs returns every category reachable below id. The walk is
// breadth-first with one store query per level and stops on ids it has
// already seen, so a corrupted cycle cannot loop forever. id itself is not
// part of the result.
func (t *Tree) DescendantIDs(ctx context.Context, id int64) (map[int64]struct{}, error) {
	seen := map[int64]struct{}{id: {}}
	out := make(map[int64]struct{})
	frontier := []int64{id}
	for len(frontier) > 0 {
		children, err := t.store.ChildIDs(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load children of %v: %w", frontier, err)
		}
		next := frontier[:0:0]
		for _, child := range children {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			out[child] = struct{}{}
			next = append(next, child)
		}
		frontier = next
	}
	return out, nil
}

// ResolveParentOnDiscovery decides the parent of existing when it is found
// again while crawling. An assigned parent is never changed. An unparented
// category is claimed by a root crawl outright, otherwise by crawling unless
// crawling sits below it, which would close a cycle.
func (t *Tree) ResolveParentOnDiscovery(ctx context.Context, existing, crawling crawler.Category) (*int64, error) {
	if existing.ParentID != nil {
		return existing.ParentID, nil
	}
	if existing.ID == crawling.ID {
		return nil, fmt.Errorf("category %d: %w", existing.ID, crawler.ErrSelfParent)
	}
	if crawling.IsRoot() {
		return &crawling.ID, nil
	}
	below, err := t.DescendantIDs(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if _, cycle := below[crawling.ID]; cycle {
		t.logger.Warn("parent assignment would create a cycle, keeping category detached",
			zap.String("category", existing.Slug),
			zap.String("crawling", crawling.Slug),
		)
		return existing.ParentID, nil
	}
	return &crawling.ID, nil
}

// Discover returns the stored category for found, creating it under
// crawling when it is new and re-resolving its parent otherwise.
func (t *Tree) Discover(ctx context.Context, found crawler.Subcategory, crawling crawler.Category) (crawler.Category, error) {
	existing, err := t.store.GetBySlug(ctx, found.Slug)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		parent := crawling.ID
		created, err := t.store.Create(ctx, crawler.Category{Name: found.Name, Slug: found.Slug, ParentID: &parent})
		if err != nil {
			return crawler.Category{}, fmt.Errorf("create category %q: %w", found.Slug, err)
		}
		t.logger.Info("category created",
			zap.String("category", created.Slug),
			zap.Int64("id", created.ID),
			zap.Int64("parent_id", parent),
		)
		return created, nil
	case err != nil:
		return crawler.Category{}, fmt.Errorf("lookup category %q: %w", found.Slug, err)
	}

	parentID, err := t.ResolveParentOnDiscovery(ctx, existing, crawling)
	if err != nil {
		return crawler.Category{}, err
	}
	if samePtr(parentID, existing.ParentID) {
		return existing, nil
	}
	if err := t.SetParent(ctx, existing.ID, parentID); err != nil {
		return crawler.Category{}, err
	}
	existing.ParentID = parentID
	t.logger.Info("category parent assigned",
		zap.String("category", existing.Slug),
		zap.Int64("parent_id", *parentID),
	)
	return existing, nil
}

// SetParent validates and stores a parent link.
func (t *Tree) SetParent(ctx context.Context, id int64, parentID *int64) error {
	if parentID != nil && *parentID == id {
		return fmt.Errorf("category %d: %w", id, crawler.ErrSelfParent)
	}
	if err := t.store.SetParent(ctx, id, parentID); err != nil {
		return fmt.Errorf("set parent of %d: %w", id, err)
	}
	return nil
}

// EnsureRoot returns the category with slug, creating it without a parent
// if needed. An existing category keeps whatever parent it has.
func (t *Tree) EnsureRoot(ctx context.Context, slug, name string) (crawler.Category, error) {
	existing, err := t.store.GetBySlug(ctx, slug)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return crawler.Category{}, fmt.Errorf("lookup category %q: %w", slug, err)
	}
	if name == "" {
		name = slug
	}
	created, err := t.store.Create(ctx, crawler.Category{Name: name, Slug: slug})
	if err != nil {
		return crawler.Category{}, fmt.Errorf("create category %q: %w", slug, err)
	}
	return created, nil
}

func samePtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
