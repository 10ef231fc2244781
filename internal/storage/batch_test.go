package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestDedupeKeepsLastValueAtFirstPosition(t *testing.T) {
	t.Parallel()

	got := Dedupe([]crawler.ProductData{
		{ExternalID: "a", Name: "old"},
		{ExternalID: "b", Name: "b"},
		{ExternalID: "a", Name: "new"},
	})

	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ExternalID)
	require.Equal(t, "new", got[0].Name)
	require.Equal(t, "b", got[1].ExternalID)
}

func TestChunk(t *testing.T) {
	t.Parallel()

	items := make([]crawler.ProductData, 2500)
	chunks := Chunk(items, 1000)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 1000)
	require.Len(t, chunks[2], 500)

	require.Empty(t, Chunk(nil, 10))
	require.Len(t, Chunk(items, 0), 3)
}
