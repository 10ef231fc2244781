package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StagePageDone     Stage = "PAGE_DONE"
	StageCategoryDone Stage = "CATEGORY_DONE"
	StageCrawlDone    Stage = "CRAWL_DONE"
)

// Event captures a single crawl milestone.
type Event struct {
	SessionID string
	TS        time.Time
	Stage     Stage
	// Category is the slug being paginated.
	Category string
	Depth    int
	// Page is the 1-based page number for StagePageDone.
	Page  int
	URL   string
	Nodes int
	Items int
	// Saved is the number of rows the store reported for the page.
	Saved   int64
	Blocked bool
	Dur     time.Duration
	// Pages and Imported are category or crawl totals.
	Pages      int
	Imported   int
	StopReason crawler.StopReason
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
		if e.Category == "" {
			return errors.New("page done requires category")
		}
	case StageCategoryDone:
		if e.Category == "" {
			return errors.New("category done requires category")
		}
	case StageCrawlDone:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PageEvent converts an orchestrator page report.
func PageEvent(r crawler.PageReport, ts time.Time) Event {
	return Event{
		SessionID: r.SessionID,
		TS:        ts,
		Stage:     StagePageDone,
		Category:  r.Category,
		Depth:     r.Depth,
		Page:      r.Page,
		URL:       r.URL,
		Nodes:     r.Nodes,
		Items:     r.Items,
		Saved:     r.Saved,
		Blocked:   r.Blocked,
		Dur:       r.Elapsed,
	}
}

// CategoryEvent converts an orchestrator category report.
func CategoryEvent(r crawler.CategoryReport, ts time.Time) Event {
	return Event{
		SessionID:  r.SessionID,
		TS:         ts,
		Stage:      StageCategoryDone,
		Category:   r.Category,
		Depth:      r.Depth,
		Pages:      r.Pages,
		Imported:   r.Imported,
		StopReason: r.StopReason,
	}
}

// CrawlEvent converts a finished crawl result.
func CrawlEvent(r crawler.Result, ts time.Time) Event {
	return Event{
		SessionID: r.SessionID,
		TS:        ts,
		Stage:     StageCrawlDone,
		Pages:     r.Pages,
		Imported:  r.Imported,
	}
}
