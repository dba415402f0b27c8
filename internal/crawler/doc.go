// Package crawler holds the domain types shared by every crawl component:
// tasks, raw pages, extracted items, the per-task crawl context, classified
// crawl errors, URL helpers, and the capability interfaces (fetcher, item
// sink, blob store, publisher) the engine is assembled from.
package crawler
