package tree

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

func newTree(t *testing.T) (*Tree, *memory.Store) {
	t.Helper()
	store := memory.NewStore(nil)
	return New(store, zap.NewNop()), store
}

func create(t *testing.T, s *memory.Store, slug string, parent *int64) crawler.Category {
	t.Helper()
	c, err := s.Create(context.Background(), crawler.Category{Name: slug, Slug: slug, ParentID: parent})
	require.NoError(t, err)
	return c
}

func TestDescendantIDs(t *testing.T) {
	t.Parallel()

	tr, s := newTree(t)
	root := create(t, s, "tv", nil)
	a := create(t, s, "oled", &root.ID)
	b := create(t, s, "lcd", &root.ID)
	c := create(t, s, "oled-55", &a.ID)
	create(t, s, "audio", nil)

	got, err := tr.DescendantIDs(context.Background(), root.ID)
	require.NoError(t, err)
	require.Equal(t, map[int64]struct{}{a.ID: {}, b.ID: {}, c.ID: {}}, got)

	leaf, err := tr.DescendantIDs(context.Background(), c.ID)
	require.NoError(t, err)
	require.Empty(t, leaf)
}

func TestDescendantIDsTerminatesOnCorruptedCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, s := newTree(t)
	a := create(t, s, "a", nil)
	b := create(t, s, "b", &a.ID)
	// Corrupt the graph into A -> B -> A behind the tree's back.
	require.NoError(t, s.SetParent(ctx, a.ID, &b.ID))

	got, err := tr.DescendantIDs(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, map[int64]struct{}{b.ID: {}}, got)
}

func TestSetParentRejectsSelf(t *testing.T) {
	t.Parallel()

	tr, s := newTree(t)
	a := create(t, s, "a", nil)

	err := tr.SetParent(context.Background(), a.ID, &a.ID)
	require.ErrorIs(t, err, crawler.ErrSelfParent)
}

func TestDiscoverCreatesUnderCrawlingCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, s := newTree(t)
	root := create(t, s, "tv", nil)

	got, err := tr.Discover(ctx, crawler.Subcategory{Name: "OLED", Slug: "oled"}, root)
	require.NoError(t, err)
	require.NotZero(t, got.ID)
	require.Equal(t, root.ID, *got.ParentID)

	again, err := tr.Discover(ctx, crawler.Subcategory{Name: "OLED", Slug: "oled"}, root)
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestDiscoverExistingParentWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, s := newTree(t)
	root := create(t, s, "root", nil)
	other := create(t, s, "other", nil)
	create(t, s, "child", &other.ID)

	got, err := tr.Discover(ctx, crawler.Subcategory{Name: "child", Slug: "child"}, root)
	require.NoError(t, err)
	require.Equal(t, other.ID, *got.ParentID)

	stored, err := s.GetBySlug(ctx, "child")
	require.NoError(t, err)
	require.Equal(t, other.ID, *stored.ParentID)
}

func TestDiscoverRootClaimsUnparentedChild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, s := newTree(t)
	root := create(t, s, "root", nil)
	orphan := create(t, s, "orphan", nil)

	got, err := tr.Discover(ctx, crawler.Subcategory{Name: "orphan", Slug: "orphan"}, root)
	require.NoError(t, err)
	require.Equal(t, root.ID, *got.ParentID)

	stored, err := s.GetByID(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, *stored.ParentID)
}

func TestDiscoverRefusesToCloseCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, s := newTree(t)
	// "top" has no parent but "mid" sits below it; crawling "mid" must not
	// adopt "top".
	top := create(t, s, "top", nil)
	mid := create(t, s, "mid", &top.ID)

	got, err := tr.Discover(ctx, crawler.Subcategory{Name: "top", Slug: "top"}, mid)
	require.NoError(t, err)
	require.True(t, got.IsRoot())

	stored, err := s.GetByID(ctx, top.ID)
	require.NoError(t, err)
	require.True(t, stored.IsRoot())
}

func TestEnsureRoot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr, _ := newTree(t)

	created, err := tr.EnsureRoot(ctx, "tv", "")
	require.NoError(t, err)
	require.Equal(t, "tv", created.Name)
	require.True(t, created.IsRoot())

	again, err := tr.EnsureRoot(ctx, "tv", "Televizorji")
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)
}

type failingStore struct {
	crawler.CategoryStore
}

func (failingStore) GetBySlug(context.Context, string) (crawler.Category, error) {
	return crawler.Category{}, errors.New("connection reset")
}

func (failingStore) ChildIDs(context.Context, []int64) ([]int64, error) {
	return nil, errors.New("connection reset")
}

func TestStoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	tr := New(failingStore{}, nil)
	_, err := tr.Discover(context.Background(), crawler.Subcategory{Slug: "x"}, crawler.Category{ID: 1})
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrNotFound)

	_, err = tr.DescendantIDs(context.Background(), 1)
	require.Error(t, err)
}
