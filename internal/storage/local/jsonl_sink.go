package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// ItemsFile is the file name JSONLSink writes under its directory.
const ItemsFile = "items.jsonl"

// JSONLSink appends one JSON document per item to a file.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
}

// NewJSONLSink opens (or creates) dir/items.jsonl for appending.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := ensureWritableDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, ItemsFile)
	// #nosec G304 -- path is built from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, crawler.NewFileError(path, fmt.Errorf("open items file: %w", err))
	}
	return &JSONLSink{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Path returns the file being written.
func (s *JSONLSink) Path() string { return s.path }

// Store implements crawler.ItemSink. Each item is flushed before returning.
func (s *JSONLSink) Store(ctx context.Context, item crawler.Item) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store item: %w", err)
	}
	line, err := json.Marshal(item)
	if err != nil {
		return crawler.NewFileError(s.path, fmt.Errorf("encode item: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return crawler.NewFileError(s.path, os.ErrClosed)
	}
	if _, err := s.buf.Write(append(line, '\n')); err != nil {
		return crawler.NewFileError(s.path, err)
	}
	if err := s.buf.Flush(); err != nil {
		return crawler.NewFileError(s.path, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close items file: %w", err)
	}
	return nil
}
