// Package storage holds helpers shared by the product store backends.
package storage

import "github.com/JakeFAU/catalog-crawler/internal/crawler"

// DefaultChunkSize bounds the number of rows in one upsert statement.
const DefaultChunkSize = 1000

// Dedupe drops repeated external ids, keeping the last occurrence at the
// position of the first. A single upsert statement cannot touch the same
// row twice.
func Dedupe(items []crawler.ProductData) []crawler.ProductData {
	index := make(map[string]int, len(items))
	out := make([]crawler.ProductData, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ExternalID]; ok {
			out[i] = it
			continue
		}
		index[it.ExternalID] = len(out)
		out = append(out, it)
	}
	return out
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk(items []crawler.ProductData, size int) [][]crawler.ProductData {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]crawler.ProductData
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
