// Package progress turns orchestrator page and category reports into events
// and fans them out to sinks on a background goroutine. The Hub satisfies
// crawler.Reporter and never blocks the crawl.
package progress
