// Package retry wraps page fetches in a failsafe-go retry policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Config controls how transient fetch failures are retried.
type Config struct {
	MaxRetries int
	Delay      time.Duration
}

// Executor retries transient fetch failures with a fixed delay.
type Executor struct {
	exec failsafe.Executor[crawler.Page]
}

// New builds an Executor. A negative retry count is treated as zero.
func New(cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	builder := retrypolicy.NewBuilder[crawler.Page]().
		HandleIf(func(_ crawler.Page, err error) bool {
			return crawler.IsTransientFetch(err)
		}).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[crawler.Page]) {
			logger.Warn("retrying page fetch",
				zap.Int("attempt", e.Attempts()),
				zap.Error(e.LastError()),
			)
		})
	if cfg.Delay > 0 {
		builder = builder.WithDelay(cfg.Delay)
	}
	return &Executor{exec: failsafe.With[crawler.Page](builder.Build())}
}

// Do runs fn until it succeeds, fails permanently or the retries run out.
func (e *Executor) Do(ctx context.Context, fn func(context.Context) (crawler.Page, error)) (crawler.Page, error) {
	page, err := e.exec.WithContext(ctx).Get(func() (crawler.Page, error) {
		return fn(ctx)
	})
	if err != nil {
		return crawler.Page{}, fmt.Errorf("fetch with retry: %w", err)
	}
	return page, nil
}
