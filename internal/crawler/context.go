package crawler

import (
	"errors"
	"maps"
	"time"
)

// ErrPageAlreadySet is returned when a second page is attached to a context.
var ErrPageAlreadySet = errors.New("page already set")

// Well-known mark names recorded on a CrawlContext.
const (
	MarkFetched = "fetched"
	MarkParsed  = "parsed"
)

// CrawlContext is the per-task scratch state carried through the pipeline.
// It is owned by a single worker and is not safe for concurrent use.
type CrawlContext struct {
	task    Task
	page    *RawPage
	attrs   map[string]any
	marks   map[string]time.Time
	started time.Time
	now     func() time.Time
}

// NewCrawlContext builds the context for one processing pass of task.
func NewCrawlContext(task Task) *CrawlContext {
	return &CrawlContext{
		task:    task,
		attrs:   make(map[string]any),
		marks:   make(map[string]time.Time),
		started: time.Now(),
		now:     time.Now,
	}
}

// URL returns the task URL.
func (c *CrawlContext) URL() string { return c.task.URL }

// Task returns the task being processed.
func (c *CrawlContext) Task() Task { return c.task }

// Retry returns the retry attempt of the task, zero for the first attempt.
func (c *CrawlContext) Retry() int { return c.task.Retry }

// Started returns when processing began.
func (c *CrawlContext) Started() time.Time { return c.started }

// Elapsed returns the time spent since processing began.
func (c *CrawlContext) Elapsed() time.Duration { return c.now().Sub(c.started) }

// SetPage attaches the fetched page. A page can only be set once.
func (c *CrawlContext) SetPage(page RawPage) error {
	if c.page != nil {
		return ErrPageAlreadySet
	}
	c.page = &page
	c.Mark(MarkFetched)
	return nil
}

// Page returns a copy of the fetched page.
func (c *CrawlContext) Page() (RawPage, bool) {
	if c.page == nil {
		return RawPage{}, false
	}
	return *c.page, true
}

// Set stores a free-form attribute.
func (c *CrawlContext) Set(key string, value any) {
	c.attrs[key] = value
}

// Get returns an attribute.
func (c *CrawlContext) Get(key string) (any, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// GetString returns a string attribute or "".
func (c *CrawlContext) GetString(key string) string {
	v, _ := c.attrs[key].(string)
	return v
}

// Attributes returns a copy of all attributes.
func (c *CrawlContext) Attributes() map[string]any {
	return maps.Clone(c.attrs)
}

// Mark records the current time under name.
func (c *CrawlContext) Mark(name string) {
	c.marks[name] = c.now()
}

// Marked returns the time recorded under name.
func (c *CrawlContext) Marked(name string) (time.Time, bool) {
	t, ok := c.marks[name]
	return t, ok
}
