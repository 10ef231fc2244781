// Package headless implements crawler.Fetcher with a chromedp-driven browser
// for listings that only render client side.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/policy/retry"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultConnectTimeout    = 15 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// RemoteURL selects a running browser (ws:// or http:// devtools endpoint)
	// instead of launching a local one.
	RemoteURL         string
	MaxParallel       int
	UserAgent         string
	AcceptLanguage    string
	Referer           string
	Headers           map[string]string
	ConnectTimeout    time.Duration
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	BlockedStatuses   []int
	MaxRetries        int
	RetryDelay        time.Duration
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
// One browser is shared by every call; each fetch runs in its own tab.
type Fetcher struct {
	cfg       Config
	slots     chan struct{}
	blocked   crawler.StatusSet
	detector  *detector.Interstitial
	limiter   *ratelimit.Limiter
	retry     *retry.Executor
	logger    *zap.Logger
	allocator context.Context

	mu            sync.Mutex
	started       bool
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// New creates a headless fetcher. The browser is started on the first fetch.
// detector and limiter are optional.
func New(cfg Config, det *detector.Interstitial, limiter *ratelimit.Limiter, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	statuses := cfg.BlockedStatuses
	if len(statuses) == 0 {
		statuses = []int{http.StatusForbidden, http.StatusTooManyRequests}
	}
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		blocked:     crawler.NewStatusSet(statuses),
		detector:    det,
		limiter:     limiter,
		retry:       retry.New(retry.Config{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay}, logger),
		logger:      logger.Named("headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser and its allocator.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCancel != nil {
		f.browserCancel()
	}
	f.allocCancel()
}

// Fetch renders url in a fresh tab, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	return f.retry.Do(ctx, func(ctx context.Context) (crawler.Page, error) {
		return f.fetchOnce(ctx, url)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (crawler.Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return crawler.Page{URL: url}, err
		}
	}
	release, err := f.acquire(ctx)
	if err != nil {
		return crawler.Page{URL: url}, err
	}
	defer release()

	browserCtx, err := f.browser(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Page{URL: url}, err
		}
		return crawler.Page{URL: url}, &crawler.FetchError{Kind: crawler.FetchConnectionFailed, URL: url, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancelTask()

	stop := context.AfterFunc(ctx, cancelTask)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, url)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Page{URL: url}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		kind := crawler.FetchConnectionFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			kind = crawler.FetchTimeout
		}
		return crawler.Page{URL: url}, &crawler.FetchError{Kind: kind, URL: url, Err: err}
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	page, err := f.classify(url, responseURL, status, html)
	page.Elapsed = elapsed
	page.UsedHeadless = true
	return page, err
}

func (f *Fetcher) classify(url, finalURL string, status int, html string) (crawler.Page, error) {
	page, err := crawler.ClassifyResponse(url, finalURL, status, html, f.blocked)
	if page.Blocked {
		f.logger.Warn("request blocked", zap.String("url", url), zap.Int("status_code", status))
		return page, nil
	}
	if err == nil && f.detector != nil {
		if v := f.detector.Inspect(html); v.Interstitial {
			f.logger.Warn("anti-bot interstitial detected",
				zap.String("url", url),
				zap.String("marker", v.Marker),
				zap.Bool("script_heavy", v.ScriptHeavy),
			)
		}
	}
	return page, err
}

// browser starts the shared browser once, bounded by the connect timeout.
func (f *Fetcher) browser(ctx context.Context) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return f.browserCtx, nil
	}

	browserCtx, browserCancel := chromedp.NewContext(f.allocator)
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			browserCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(f.cfg.ConnectTimeout):
		browserCancel()
		return nil, fmt.Errorf("start browser: no connection after %s", f.cfg.ConnectTimeout)
	case <-ctx.Done():
		browserCancel()
		return nil, fmt.Errorf("start browser canceled: %w", ctx.Err())
	}

	f.browserCtx = browserCtx
	f.browserCancel = browserCancel
	f.started = true
	return browserCtx, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(f.cfg.UserAgent)
			if f.cfg.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(f.cfg.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if headers := f.extraHeaders(); len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) extraHeaders() network.Headers {
	headers := network.Headers{}
	if f.cfg.AcceptLanguage != "" {
		headers["Accept-Language"] = f.cfg.AcceptLanguage
	}
	if f.cfg.Referer != "" {
		headers["Referer"] = f.cfg.Referer
	}
	for key, value := range f.cfg.Headers {
		if value != "" {
			headers[key] = value
		}
	}
	return headers
}

func (f *Fetcher) acquire(ctx context.Context) (func(), error) {
	if f.slots == nil {
		return func() {}, nil
	}
	select {
	case f.slots <- struct{}{}:
		return func() { <-f.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

// capture records the first document response; redirects and frames that
// follow do not overwrite it.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
