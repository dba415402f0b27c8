package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a concrete crawl failure.
type Kind uint8

// Failure kinds grouped by category.
const (
	KindNetwork Kind = iota + 1
	KindHTTPStatus
	KindTimeout
	KindContentFormat
	KindSelector
	KindDataExtraction
	KindFile
	KindDatabase
)

// Category groups failure kinds by the crawl phase that produced them.
type Category uint8

// Failure categories.
const (
	CategoryUnknown Category = iota
	CategoryFetch
	CategoryParse
	CategoryStorage
)

// Category returns the phase a kind belongs to.
func (k Kind) Category() Category {
	switch k {
	case KindNetwork, KindHTTPStatus, KindTimeout:
		return CategoryFetch
	case KindContentFormat, KindSelector, KindDataExtraction:
		return CategoryParse
	case KindFile, KindDatabase:
		return CategoryStorage
	default:
		return CategoryUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	case KindTimeout:
		return "timeout"
	case KindContentFormat:
		return "content_format"
	case KindSelector:
		return "selector"
	case KindDataExtraction:
		return "data_extraction"
	case KindFile:
		return "file"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

func (c Category) String() string {
	switch c {
	case CategoryFetch:
		return "fetch"
	case CategoryParse:
		return "parse"
	case CategoryStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified crawl failure. Only the fields relevant to Kind are
// populated: StatusCode for KindHTTPStatus, Path for KindFile, Table for
// KindDatabase.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Path       string
	Table      string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Category().String())
	b.WriteString(" ")
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	switch {
	case e.URL != "":
		fmt.Fprintf(&b, " for %s", e.URL)
	case e.Path != "":
		fmt.Fprintf(&b, " for %s", e.Path)
	case e.Table != "":
		fmt.Fprintf(&b, " on table %s", e.Table)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewNetworkError reports a transport failure.
func NewNetworkError(url string, err error) *Error {
	return &Error{Kind: KindNetwork, URL: url, Err: err}
}

// NewHTTPStatusError reports a non-success response status.
func NewHTTPStatusError(url string, code int) *Error {
	return &Error{Kind: KindHTTPStatus, URL: url, StatusCode: code, Msg: fmt.Sprintf("status %d", code)}
}

// NewTimeoutError reports a fetch that exceeded its deadline.
func NewTimeoutError(url string, err error) *Error {
	return &Error{Kind: KindTimeout, URL: url, Err: err}
}

// NewContentFormatError reports content that cannot be parsed as expected.
func NewContentFormatError(url, msg string) *Error {
	return &Error{Kind: KindContentFormat, URL: url, Msg: msg}
}

// NewSelectorError reports an invalid or unusable selector.
func NewSelectorError(url, selector string, err error) *Error {
	return &Error{Kind: KindSelector, URL: url, Msg: fmt.Sprintf("selector %q", selector), Err: err}
}

// NewExtractionError reports a failure while extracting data.
func NewExtractionError(url string, err error) *Error {
	return &Error{Kind: KindDataExtraction, URL: url, Err: err}
}

// NewFileError reports a filesystem storage failure.
func NewFileError(path string, err error) *Error {
	return &Error{Kind: KindFile, Path: path, Err: err}
}

// NewDatabaseError reports a database storage failure.
func NewDatabaseError(table string, err error) *Error {
	return &Error{Kind: KindDatabase, Table: table, Err: err}
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
