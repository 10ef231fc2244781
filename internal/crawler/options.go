package crawler

import "fmt"

// Default crawl bounds.
const (
	DefaultMaxPages         = 25
	DefaultMaxDepth         = 5
	DefaultEmptyStreakLimit = 3
)

// DefaultInvalidateTags are the read-side cache tags touched by a crawl.
var DefaultInvalidateTags = []string{"products", "categories"}

// Options bounds a crawl. All values originate from configuration or CLI
// overrides so tests can construct them directly.
type Options struct {
	MaxPages         int
	MaxDepth         int
	EmptyStreakLimit int
	RateLimit        bool
	InvalidateTags   []string
}

// DefaultOptions returns the standard crawl bounds.
func DefaultOptions() Options {
	return Options{
		MaxPages:         DefaultMaxPages,
		MaxDepth:         DefaultMaxDepth,
		EmptyStreakLimit: DefaultEmptyStreakLimit,
		RateLimit:        true,
		InvalidateTags:   append([]string(nil), DefaultInvalidateTags...),
	}
}

// Validate checks for obviously bad bounds.
func (o Options) Validate() error {
	if o.MaxPages <= 0 {
		return fmt.Errorf("max pages must be > 0")
	}
	if o.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}
	if o.EmptyStreakLimit <= 0 {
		return fmt.Errorf("empty streak limit must be > 0")
	}
	return nil
}
