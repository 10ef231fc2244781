package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
)

// Defaults for product extraction.
var (
	DefaultProductSelector = ".product-item, .product-card, article.product"
	DefaultCTAPhrases      = []string{"primerjaj cene", "compare prices", "v košarico", "add to cart", "kupi", "buy now"}
	DefaultBrands          = []string{"Samsung", "LG", "Sony", "Philips", "Panasonic", "Hisense", "TCL", "Xiaomi", "Grundig", "Sharp", "Toshiba", "Vivax", "Gorenje", "Tesla"}
)

// DefaultCurrency is used when a card carries no currency marker.
const DefaultCurrency = "EUR"

var (
	backgroundImage = regexp.MustCompile(`background-image\s*:\s*url\(\s*['"]?([^'")]+?)['"]?\s*\)`)
	blockTags       = map[string]struct{}{"div": {}, "article": {}, "li": {}, "section": {}, "tr": {}}
)

// ProductConfig configures product card extraction. Empty fields fall back
// to the package defaults.
type ProductConfig struct {
	BaseURL         string
	Selector        string
	CTAPhrases      []string
	Brands          []string
	DefaultCurrency string
}

// ProductExtractor locates product cards and parses them into
// crawler.ProductData. It implements crawler.ProductExtractor.
type ProductExtractor struct {
	origin   *url.URL
	selector string
	cta      map[string]struct{}
	brands   map[string]string
	brandRE  *regexp.Regexp
	currency string
}

// Extraction is the outcome of parsing one listing page.
type Extraction struct {
	Nodes int
	Items []crawler.ProductData
}

// NewProductExtractor builds a ProductExtractor from cfg.
func NewProductExtractor(cfg ProductConfig) (*ProductExtractor, error) {
	origin, err := crawler.Origin(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("product extractor base url: %w", err)
	}
	selector := strings.TrimSpace(cfg.Selector)
	if selector == "" {
		selector = DefaultProductSelector
	}
	phrases := cfg.CTAPhrases
	if len(phrases) == 0 {
		phrases = DefaultCTAPhrases
	}
	brandList := cfg.Brands
	if len(brandList) == 0 {
		brandList = DefaultBrands
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = DefaultCurrency
	}

	e := &ProductExtractor{
		origin:   origin,
		selector: selector,
		cta:      make(map[string]struct{}, len(phrases)),
		brands:   make(map[string]string, len(brandList)),
		currency: currency,
	}
	for _, p := range phrases {
		e.cta[strings.ToLower(collapseSpace(p))] = struct{}{}
	}
	quoted := make([]string, 0, len(brandList))
	for _, b := range brandList {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		e.brands[strings.ToLower(b)] = b
		quoted = append(quoted, regexp.QuoteMeta(b))
	}
	if len(quoted) > 0 {
		e.brandRE = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return e, nil
}

// Extract parses html and returns every product card it could read.
func (e *ProductExtractor) Extract(htmlText string) Extraction {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return Extraction{}
	}
	nodes := e.FindProductNodes(doc)
	out := Extraction{Nodes: len(nodes)}
	for _, n := range nodes {
		if item, ok := e.ParseItem(n); ok {
			out.Items = append(out.Items, item)
		}
	}
	return out
}

// FindProductNodes returns the product card containers of doc. The
// configured selector is tried first; when it matches nothing, cards are
// found by walking up from call-to-action links.
func (e *ProductExtractor) FindProductNodes(doc *goquery.Document) []*goquery.Selection {
	var nodes []*goquery.Selection
	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, s)
	})
	if len(nodes) > 0 {
		return nodes
	}
	return e.fallbackNodes(doc)
}

func (e *ProductExtractor) fallbackNodes(doc *goquery.Document) []*goquery.Selection {
	var (
		nodes []*goquery.Selection
		seen  = make(map[*html.Node]struct{})
	)
	doc.Find("a, button").Each(func(_ int, s *goquery.Selection) {
		if !e.isCTA(s.Text()) {
			return
		}
		for p := s.Parent(); p.Length() > 0; p = p.Parent() {
			if _, block := blockTags[goquery.NodeName(p)]; !block {
				continue
			}
			if !e.hasProductAnchor(p) {
				continue
			}
			if _, dup := seen[p.Get(0)]; !dup {
				seen[p.Get(0)] = struct{}{}
				nodes = append(nodes, p)
			}
			return
		}
	})
	return nodes
}

func (e *ProductExtractor) hasProductAnchor(s *goquery.Selection) bool {
	found := false
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if text := anchorText(a); text != "" && !e.isCTA(text) {
			found = true
			return false
		}
		return true
	})
	return found
}

// ParseItem reads one product card. It reports false for nodes without a
// product name or link; such nodes are decorative, not errors.
func (e *ProductExtractor) ParseItem(node *goquery.Selection) (crawler.ProductData, bool) {
	name, link := e.nameAndLink(node)
	if name == "" || link == "" {
		return crawler.ProductData{}, false
	}
	price, currency := ParsePrice(cardText(node))
	if currency == "" {
		currency = e.currency
	}
	return crawler.ProductData{
		Name:       name,
		ProductURL: link,
		ExternalID: sha256.ExternalID(link),
		Price:      price,
		Currency:   currency,
		Brand:      e.brand(node, name),
		ImageURL:   e.image(node),
	}, true
}

func (e *ProductExtractor) nameAndLink(node *goquery.Selection) (string, string) {
	var name, link string
	node.Find("a").AddBack().Filter("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := anchorText(a)
		if text == "" || e.isCTA(text) {
			return true
		}
		name = text
		link = crawler.ResolveURL(e.origin, a.AttrOr("href", ""))
		return false
	})
	return name, link
}

func (e *ProductExtractor) brand(node *goquery.Selection, name string) *string {
	if b := strings.TrimSpace(node.AttrOr("data-brand", "")); b != "" {
		return &b
	}
	if b := strings.TrimSpace(node.Find("[data-brand]").First().AttrOr("data-brand", "")); b != "" {
		return &b
	}
	if e.brandRE == nil {
		return nil
	}
	m := e.brandRE.FindString(name)
	if m == "" {
		return nil
	}
	canonical := e.brands[strings.ToLower(m)]
	return &canonical
}

func (e *ProductExtractor) image(node *goquery.Selection) *string {
	if src := firstSrcset(node.Find("source[srcset]").First().AttrOr("srcset", "")); e.usableImage(src) {
		return e.absolute(src)
	}
	var hit string
	node.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, candidate := range []string{
			img.AttrOr("data-src", ""),
			img.AttrOr("data-original", ""),
			firstSrcset(img.AttrOr("srcset", "")),
			img.AttrOr("src", ""),
		} {
			if e.usableImage(candidate) {
				hit = candidate
				return false
			}
		}
		return true
	})
	if hit != "" {
		return e.absolute(hit)
	}
	node.Find("[style]").AddBack().Filter("[style]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := backgroundImage.FindStringSubmatch(s.AttrOr("style", "")); m != nil && e.usableImage(m[1]) {
			hit = m[1]
			return false
		}
		return true
	})
	if hit != "" {
		return e.absolute(hit)
	}
	return nil
}

func (e *ProductExtractor) usableImage(src string) bool {
	src = strings.TrimSpace(src)
	return src != "" && !strings.HasPrefix(strings.ToLower(src), "data:")
}

func (e *ProductExtractor) absolute(src string) *string {
	abs := crawler.ResolveURL(e.origin, src)
	if abs == "" {
		return nil
	}
	return &abs
}

func (e *ProductExtractor) isCTA(text string) bool {
	_, ok := e.cta[strings.ToLower(collapseSpace(text))]
	return ok
}

// cardText joins the text nodes under node with spaces. Selection.Text
// concatenates them, gluing a model number to the price next to it.
func cardText(node *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			parts = append(parts, n.Data)
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range node.Nodes {
		walk(n)
	}
	return collapseSpace(strings.Join(parts, " "))
}

func anchorText(a *goquery.Selection) string {
	if text := collapseSpace(a.Text()); text != "" {
		return text
	}
	return collapseSpace(a.AttrOr("title", ""))
}

// firstSrcset returns the URL of the first srcset candidate.
func firstSrcset(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
