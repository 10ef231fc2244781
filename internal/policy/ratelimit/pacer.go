package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Pacer sleeps a fixed delay plus a random jitter. It implements
// crawler.Pacer; the orchestrator decides when a pause is due.
type Pacer struct {
	delay  time.Duration
	jitter time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPacer builds a Pacer. Negative durations are treated as zero.
func NewPacer(delay, jitter time.Duration) *Pacer {
	if delay < 0 {
		delay = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Pacer{delay: delay, jitter: jitter, sleep: sleepCtx}
}

// Wait sleeps for the next pause or returns early when ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Next()
	if err := p.sleep(ctx, d); err != nil {
		return err
	}
	metrics.ObserveRateLimitDelay(d)
	return nil
}

// Next returns the duration of the next pause, in [delay, delay+jitter).
func (p *Pacer) Next() time.Duration {
	return p.delay + randomJitter(p.jitter)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
