package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Orchestrator drives the crawl of one category tree: pagination, recursion
// into subcategories, pacing, empty-streak termination and cache invalidation.
type Orchestrator struct {
	fetcher    Fetcher
	categories CategoryExtractor
	products   ProductExtractor
	store      ProductStore
	resolver   CategoryResolver
	cache      Invalidator
	pacer      Pacer
	ids        IDGenerator
	reporter   Reporter
	opts       Options
	logger     *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. cache, pacer, ids and reporter
// are optional.
func NewOrchestrator(
	fetcher Fetcher,
	categories CategoryExtractor,
	products ProductExtractor,
	store ProductStore,
	resolver CategoryResolver,
	cache Invalidator,
	pacer Pacer,
	ids IDGenerator,
	reporter Reporter,
	opts Options,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || categories == nil || products == nil || store == nil || resolver == nil {
		return nil, errors.New("orchestrator requires a fetcher, both extractors, a product store and a resolver")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:    fetcher,
		categories: categories,
		products:   products,
		store:      store,
		resolver:   resolver,
		cache:      cache,
		pacer:      pacer,
		ids:        ids,
		reporter:   reporter,
		opts:       opts,
		logger:     logger,
	}, nil
}

// Crawl walks root and every subcategory reachable from its first page. It
// never fails: fetch and store errors end the affected category early and the
// accumulated counts are returned.
func (o *Orchestrator) Crawl(ctx context.Context, root Category, baseURL string) Result {
	sess := NewSession(o.newSessionID())
	o.logger.Info("crawl started",
		zap.String("session_id", sess.ID),
		zap.String("category", root.Slug),
		zap.String("url", baseURL),
		zap.Int("max_pages", o.opts.MaxPages),
		zap.Int("max_depth", o.opts.MaxDepth),
	)
	sess.TotalImported = o.crawlCategory(ctx, sess, root, baseURL, 0)
	res := sess.result()
	o.logger.Info("crawl finished",
		zap.String("session_id", sess.ID),
		zap.Int("imported", res.Imported),
		zap.Int("pages", res.Pages),
		zap.Int("categories", res.Categories),
		zap.Int("blocked", res.Blocked),
	)
	return res
}

// Discover fetches only the first page of root and resolves the subcategories
// it links to, without recursing or extracting products.
func (o *Orchestrator) Discover(ctx context.Context, root Category, baseURL string) ([]Category, error) {
	page, err := o.fetcher.Fetch(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", baseURL, err)
	}
	if page.Blocked {
		return nil, fmt.Errorf("fetch %s: blocked (status %d)", baseURL, page.StatusCode)
	}
	var found []Category
	for _, sub := range o.categories.ExtractSubcategories(page.HTML) {
		if !o.eligible(sub, root, nil) {
			continue
		}
		child, err := o.resolver.Discover(ctx, sub, root)
		if err != nil {
			o.logger.Error("resolve subcategory failed", zap.String("slug", sub.Slug), zap.Error(err))
			continue
		}
		metrics.IncCategoriesDiscovered()
		found = append(found, child)
	}
	o.invalidate(ctx, o.logger)
	return found, nil
}

func (o *Orchestrator) crawlCategory(ctx context.Context, sess *Session, cat Category, baseURL string, depth int) int {
	logger := o.logger.With(
		zap.String("session_id", sess.ID),
		zap.String("category", cat.Slug),
		zap.Int("depth", depth),
	)
	if depth > o.opts.MaxDepth {
		logger.Warn("max depth exceeded, skipping branch", zap.String("url", baseURL), zap.Int("max_depth", o.opts.MaxDepth))
		o.reportCategory(CategoryReport{SessionID: sess.ID, Category: cat.Slug, Depth: depth, StopReason: StopMaxDepth})
		return 0
	}
	if !sess.MarkIfNew(baseURL) {
		logger.Debug("category url already visited", zap.String("url", baseURL))
		o.reportCategory(CategoryReport{SessionID: sess.ID, Category: cat.Slug, Depth: depth, StopReason: StopVisited})
		return 0
	}
	sess.Categories++
	defer o.invalidate(ctx, logger)

	run := categoryRun{cat: cat, baseURL: baseURL, depth: depth, reason: StopMaxPages}
	for page := 1; page <= o.opts.MaxPages; page++ {
		if !o.crawlPage(ctx, sess, &run, page, logger) {
			break
		}
	}

	logger.Info("category finished",
		zap.Int("pages", run.pages),
		zap.Int("imported", run.imported),
		zap.Int("subcategories", run.subcategories),
		zap.String("stop_reason", string(run.reason)),
	)
	o.reportCategory(CategoryReport{
		SessionID:     sess.ID,
		Category:      cat.Slug,
		Depth:         depth,
		Pages:         run.pages,
		Imported:      run.imported,
		Subcategories: run.subcategories,
		StopReason:    run.reason,
	})
	return run.imported
}

// categoryRun is the pagination state of one category invocation.
type categoryRun struct {
	cat           Category
	baseURL       string
	depth         int
	pages         int
	streak        int
	imported      int
	subcategories int
	reason        StopReason
}

// crawlPage processes one listing page and reports whether pagination continues.
func (o *Orchestrator) crawlPage(ctx context.Context, sess *Session, run *categoryRun, page int, logger *zap.Logger) bool {
	if ctx.Err() != nil {
		run.reason = StopCanceled
		return false
	}
	pageURL, err := PageURL(run.baseURL, page)
	if err != nil {
		logger.Error("build page url failed", zap.Int("page", page), zap.Error(err))
		run.reason = StopFetchError
		return false
	}
	if err := o.pace(ctx, sess); err != nil {
		run.reason = StopCanceled
		return false
	}

	report := PageReport{SessionID: sess.ID, Category: run.cat.Slug, Depth: run.depth, Page: page, URL: pageURL}
	result, err := o.fetcher.Fetch(ctx, pageURL)
	run.pages++
	sess.Pages++
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == FetchInvalidContent {
			logger.Warn("page content unusable", zap.String("url", pageURL), zap.Error(err))
			metrics.ObservePage(pageURL, metrics.OutcomeEmpty)
			sess.pause = true
			o.reportPage(report)
			return o.bumpStreak(run, logger)
		}
		logger.Error("page fetch failed, stopping category", zap.String("url", pageURL), zap.Error(err))
		metrics.ObservePage(pageURL, metrics.OutcomeError)
		run.reason = StopFetchError
		if ctx.Err() != nil {
			run.reason = StopCanceled
		}
		o.reportPage(report)
		return false
	}
	sess.pause = true
	report.Elapsed = result.Elapsed
	metrics.ObserveFetch(result.UsedHeadless, result.Elapsed)

	if result.Blocked {
		logger.Warn("page blocked by anti-bot defenses", zap.String("url", pageURL), zap.Int("status_code", result.StatusCode))
		metrics.ObservePage(pageURL, metrics.OutcomeBlocked)
		sess.Blocked++
		report.Blocked = true
		o.reportPage(report)
		return o.bumpStreak(run, logger)
	}

	doc, err := parseDocument(result.HTML)
	if err != nil {
		logger.Warn("page html unusable", zap.String("url", pageURL), zap.Error(err))
		metrics.ObservePage(pageURL, metrics.OutcomeEmpty)
		o.reportPage(report)
		return o.bumpStreak(run, logger)
	}

	if page == 1 {
		imported, found := o.descend(ctx, sess, run.cat, result.HTML, run.depth, logger)
		run.imported += imported
		run.subcategories += found
		sess.Subcategories += found
	}

	nodes := o.products.FindProductNodes(doc)
	items := make([]ProductData, 0, len(nodes))
	for _, node := range nodes {
		if item, ok := o.products.ParseItem(node); ok {
			items = append(items, item)
		}
	}
	report.Nodes = len(nodes)
	report.Items = len(items)
	metrics.AddItemsSkipped(len(nodes) - len(items))

	if len(items) == 0 {
		logger.Debug("page yielded no products", zap.String("url", pageURL), zap.Int("nodes", len(nodes)))
		metrics.ObservePage(pageURL, metrics.OutcomeEmpty)
		o.reportPage(report)
		return o.bumpStreak(run, logger)
	}
	run.streak = 0

	saved, err := o.store.UpsertBatch(ctx, items, run.cat)
	if err != nil {
		logger.Error("persist products failed, stopping category", zap.String("url", pageURL), zap.Error(err))
		metrics.ObservePage(pageURL, metrics.OutcomeError)
		run.reason = StopStoreError
		o.reportPage(report)
		return false
	}
	metrics.ObservePage(pageURL, metrics.OutcomeOK)
	metrics.AddProductsUpserted(saved)
	run.imported += int(saved)
	report.Saved = saved
	logger.Debug("page persisted",
		zap.String("url", pageURL),
		zap.Int("nodes", len(nodes)),
		zap.Int("items", len(items)),
		zap.Int64("saved", saved),
	)
	o.reportPage(report)
	return true
}

func (o *Orchestrator) bumpStreak(run *categoryRun, logger *zap.Logger) bool {
	run.streak++
	if run.streak >= o.opts.EmptyStreakLimit {
		logger.Info("empty page streak reached, assuming end of catalog", zap.Int("streak", run.streak))
		run.reason = StopEmptyStreak
		return false
	}
	return true
}

// descend resolves and crawls the subcategories linked from a first page.
func (o *Orchestrator) descend(
	ctx context.Context,
	sess *Session,
	cat Category,
	html string,
	depth int,
	logger *zap.Logger,
) (int, int) {
	imported, found := 0, 0
	for _, sub := range o.categories.ExtractSubcategories(html) {
		if !o.eligible(sub, cat, sess) {
			continue
		}
		child, err := o.resolver.Discover(ctx, sub, cat)
		if err != nil {
			logger.Error("resolve subcategory failed", zap.String("slug", sub.Slug), zap.String("url", sub.URL), zap.Error(err))
			continue
		}
		found++
		metrics.IncCategoriesDiscovered()
		logger.Debug("descending into subcategory", zap.String("slug", child.Slug), zap.String("url", sub.URL))
		imported += o.crawlCategory(ctx, sess, child, sub.URL, depth+1)
		if ctx.Err() != nil {
			break
		}
	}
	return imported, found
}

func (o *Orchestrator) eligible(sub Subcategory, cat Category, sess *Session) bool {
	if sub.Slug == "" || sub.Slug == cat.Slug {
		return false
	}
	link := strings.TrimSpace(sub.URL)
	if link == "" || strings.HasPrefix(link, "#") {
		return false
	}
	if sess != nil && sess.Seen(link) {
		return false
	}
	return true
}

func (o *Orchestrator) pace(ctx context.Context, sess *Session) error {
	if !sess.pause || !o.opts.RateLimit || o.pacer == nil {
		return nil
	}
	sess.pause = false
	if err := o.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pace: %w", err)
	}
	return nil
}

func (o *Orchestrator) invalidate(ctx context.Context, logger *zap.Logger) {
	if o.cache == nil || len(o.opts.InvalidateTags) == 0 {
		return
	}
	if err := o.cache.Invalidate(ctx, o.opts.InvalidateTags...); err != nil {
		metrics.ObserveCacheInvalidation(false)
		logger.Warn("cache invalidation failed", zap.Strings("tags", o.opts.InvalidateTags), zap.Error(err))
		return
	}
	metrics.ObserveCacheInvalidation(true)
}

func (o *Orchestrator) newSessionID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("generate session id failed", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) reportPage(report PageReport) {
	if o.reporter != nil {
		o.reporter.PageDone(report)
	}
}

func (o *Orchestrator) reportCategory(report CategoryReport) {
	if o.reporter != nil {
		o.reporter.CategoryDone(report)
	}
}

func parseDocument(html string) (*goquery.Document, error) {
	if strings.TrimSpace(html) == "" {
		return nil, errors.New("empty html")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if doc.Find("body").Length() == 0 {
		return nil, errors.New("html has no body")
	}
	return doc, nil
}
