// Package progress provides the crawl event primitives and the Bus that fans
// them out to listeners. A Bus delivers either inline on the publishing
// goroutine or through a bounded set of background delivery goroutines that
// never block publishers.
package progress
