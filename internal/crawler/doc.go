// Package crawler implements the crawl-and-ingest pipeline: the category
// orchestrator, the per-crawl session, and the core types and collaborator
// interfaces shared by the fetchers, extractors, tree and stores.
package crawler
