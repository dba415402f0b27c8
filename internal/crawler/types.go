package crawler

import (
	"strings"
	"time"
)

// Task is one unit of frontier work: a URL plus its retry bookkeeping.
type Task struct {
	URL        string
	Retry      int
	EnqueuedAt time.Time
}

// NewTask builds a first-attempt task for url.
func NewTask(url string) Task {
	return Task{URL: strings.TrimSpace(url), EnqueuedAt: time.Now().UTC()}
}

// Next returns the task for the following retry attempt.
func (t Task) Next() Task {
	return Task{URL: t.URL, Retry: t.Retry + 1, EnqueuedAt: time.Now().UTC()}
}

// RawPage is fetched page content prior to extraction. Content is already
// decoded to UTF-8; Charset names the encoding it was decoded from.
type RawPage struct {
	URL         string
	Charset     string
	Content     string
	StatusCode  int
	ContentType string
}

// Size returns the content length in bytes.
func (p RawPage) Size() int {
	return len(p.Content)
}

// FetchRequest describes a single call to a Fetcher.
type FetchRequest struct {
	URL     string
	Headers map[string]string
}

// Item is a record extracted from a page by a strategy.
type Item struct {
	URL         string         `json:"url"`
	Strategy    string         `json:"strategy"`
	Fields      map[string]any `json:"fields"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// Empty reports whether the item carries no fields.
func (i Item) Empty() bool {
	return len(i.Fields) == 0
}
