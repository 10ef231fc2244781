// Package sha256 derives product identities from canonical product URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ExternalID is the stable identity of a product: the digest of its
// canonical URL. Cosmetic URL differences map to the same id.
func ExternalID(productURL string) string {
	return Sum([]byte(crawler.CanonicalURL(productURL)))
}
