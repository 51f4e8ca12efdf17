// Package crawler implements the incremental listing crawl: the per-item
// extractor, the watermark and batch-size stopping policy, and the loop that
// paginates the listing and visits each item's detail view.
package crawler
