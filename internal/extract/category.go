// Package extract pulls subcategory links and product cards out of catalog
// listing pages with goquery. Extraction is best-effort and never fails.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// CategoryConfig configures subcategory extraction.
type CategoryConfig struct {
	// BaseURL is any URL on the site; relative links resolve against its origin.
	BaseURL string
	// Whitelist holds the category path fragments or names worth following.
	Whitelist []string
}

// CategoryExtractor finds whitelisted subcategory links. It implements
// crawler.CategoryExtractor.
type CategoryExtractor struct {
	origin    *url.URL
	whitelist []string
}

// NewCategoryExtractor validates cfg and builds an extractor.
func NewCategoryExtractor(cfg CategoryConfig) (*CategoryExtractor, error) {
	origin, err := crawler.Origin(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("category extractor base url: %w", err)
	}
	whitelist := make([]string, 0, len(cfg.Whitelist))
	for _, entry := range cfg.Whitelist {
		if slug := Slugify(entry); slug != "" {
			whitelist = append(whitelist, slug)
		}
	}
	return &CategoryExtractor{origin: origin, whitelist: whitelist}, nil
}

// ExtractSubcategories returns whitelisted links in document order,
// deduplicated by canonical absolute URL.
func (e *CategoryExtractor) ExtractSubcategories(html string) []crawler.Subcategory {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var (
		out  []crawler.Subcategory
		seen = make(map[string]struct{})
	)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		name := collapseSpace(a.Text())
		if name == "" {
			name = collapseSpace(a.AttrOr("title", ""))
		}
		href, _ := a.Attr("href")
		link := crawler.ResolveURL(e.origin, href)
		if name == "" || link == "" {
			return
		}
		slug := Slugify(name)
		if slug == "" || !e.allowed(link, slug) {
			return
		}
		key := crawler.CanonicalURL(link)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, crawler.Subcategory{Name: name, Slug: slug, URL: link})
	})
	return out
}

// allowed matches a link when its path contains a whitelisted fragment or
// its display name slugs to a whitelisted entry.
func (e *CategoryExtractor) allowed(link, slug string) bool {
	path := ""
	if u, err := url.Parse(link); err == nil {
		path = strings.ToLower(u.Path)
	}
	for _, entry := range e.whitelist {
		if slug == entry || (path != "" && strings.Contains(path, entry)) {
			return true
		}
	}
	return false
}
