package sinks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// ConsoleSink prints one human readable line per page and category.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink writes progress lines to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Consume formats each event; crawl totals are left to the caller.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		line := FormatLine(evt)
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(s.w, line); err != nil {
			return fmt.Errorf("write progress line: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

// FormatLine renders a page or category event. Other stages render as "".
func FormatLine(evt progress.Event) string {
	indent := strings.Repeat("  ", max(evt.Depth, 0))
	switch evt.Stage {
	case progress.StagePageDone:
		if evt.Blocked {
			return fmt.Sprintf("%s[%s p%d] blocked", indent, evt.Category, evt.Page)
		}
		return fmt.Sprintf("%s[%s p%d] %d nodes, %d items, saved %d (%s)",
			indent, evt.Category, evt.Page, evt.Nodes, evt.Items, evt.Saved, evt.Dur.Round(time.Millisecond))
	case progress.StageCategoryDone:
		return fmt.Sprintf("%s%s: %d pages, %d products (%s)",
			indent, evt.Category, evt.Pages, evt.Imported, evt.StopReason)
	default:
		return ""
	}
}
