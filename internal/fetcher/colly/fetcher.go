// Package collyfetcher implements crawler.Fetcher with plain HTTP requests
// issued through gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/policy/retry"
)

const defaultTimeout = 20 * time.Second

// DefaultBlockedStatuses are the statuses treated as anti-bot blocks.
var DefaultBlockedStatuses = []int{http.StatusForbidden, http.StatusTooManyRequests}

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	AcceptLanguage  string
	Referer         string
	Headers         map[string]string
	Timeout         time.Duration
	BlockedStatuses []int
	MaxRetries      int
	RetryDelay      time.Duration
	RespectRobots   bool
}

// Fetcher implements crawler.Fetcher using the Colly collector. All
// requests share one cookie jar so session cookies survive across pages.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	blocked       crawler.StatusSet
	retry         *retry.Executor
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is what the collector callbacks capture for one request.
type response struct {
	status int
	body   []byte
	url    string
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	statuses := cfg.BlockedStatuses
	if len(statuses) == 0 {
		statuses = DefaultBlockedStatuses
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetCookieJar(jar)
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		blocked:       crawler.NewStatusSet(statuses),
		retry:         retry.New(retry.Config{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay}, logger),
		logger:        logger.Named("colly"),
	}, nil
}

// Fetch retrieves url, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Page, error) {
	return f.retry.Do(ctx, func(ctx context.Context) (crawler.Page, error) {
		return f.fetchOnce(ctx, url)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (crawler.Page, error) {
	var resp response
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &resp)

	if err := f.runCollector(ctx, collector, url); err != nil {
		if ctx.Err() != nil {
			return crawler.Page{URL: url}, err
		}
		if resp.err == nil {
			resp.err = err
		}
	}
	page, err := f.classify(url, resp)
	page.Elapsed = time.Since(start)
	if page.Blocked {
		f.logger.Warn("request blocked", zap.String("url", url), zap.Int("status_code", page.StatusCode))
	}
	return page, err
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnRequest(func(r *colly.Request) {
		f.applyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			resp.url = r.Request.URL.String()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			resp.status = r.StatusCode
			resp.body = append([]byte(nil), r.Body...)
		}
		resp.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) applyHeaders(r *colly.Request) {
	if f.cfg.AcceptLanguage != "" {
		r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	}
	if f.cfg.Referer != "" {
		r.Headers.Set("Referer", f.cfg.Referer)
	}
	for key, value := range f.cfg.Headers {
		r.Headers.Set(key, value)
	}
}

// classify maps a captured response onto a page or a typed fetch error.
func (f *Fetcher) classify(url string, resp response) (crawler.Page, error) {
	if resp.status == 0 {
		kind := crawler.FetchConnectionFailed
		if isTimeout(resp.err) {
			kind = crawler.FetchTimeout
		}
		if resp.err == nil {
			resp.err = errors.New("no response received")
		}
		return crawler.Page{URL: url}, &crawler.FetchError{Kind: kind, URL: url, Err: resp.err}
	}
	page, err := crawler.ClassifyResponse(url, resp.url, resp.status, string(resp.body), f.blocked)
	var fe *crawler.FetchError
	if errors.As(err, &fe) && fe.Err == nil {
		fe.Err = resp.err
	}
	return page, err
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
