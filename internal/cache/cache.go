// Package cache signals read-side cache invalidation after a crawl
// changes products or categories.
package cache

import (
	"context"

	"go.uber.org/zap"
)

// Noop is used when no tag-capable cache backend is configured. It never
// flushes anything.
type Noop struct {
	logger *zap.Logger
}

// NewNoop constructs a Noop invalidator.
func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{logger: logger.Named("cache")}
}

// Invalidate logs the tags and returns nil.
func (n *Noop) Invalidate(_ context.Context, tags ...string) error {
	n.logger.Debug("cache backend has no tag support, skipping invalidation", zap.Strings("tags", tags))
	return nil
}
