package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"paged listing", "https://www.shop.si/televizorji?page=3", "www.shop.si"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersInitializeLazily(t *testing.T) {
	ObservePage("https://counter.test/a", OutcomeBlocked)
	ObservePage("https://counter.test/b", OutcomeBlocked)
	ObserveFetch(true, 250*time.Millisecond)
	AddProductsUpserted(3)
	AddProductsUpserted(0)
	AddItemsSkipped(2)
	IncCategoriesDiscovered()
	ObserveCacheInvalidation(false)
	ObserveRateLimitDelay(time.Second)

	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("counter.test", OutcomeBlocked)); val != 2 {
		t.Errorf("expected 2 blocked pages for counter.test, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerCacheInvalidations.WithLabelValues("error")); val < 1 {
		t.Errorf("expected failed invalidation to be counted, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

func TestObserveHTTPRequest(t *testing.T) {
	ObserveHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)

	if val := testutil.ToFloat64(opsHTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200")); val < 1 {
		t.Errorf("expected ops request to be counted, got %f", val)
	}
}
