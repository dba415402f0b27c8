// Package sqlite persists extracted items in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

const table = "crawl_items"

const schema = `
CREATE TABLE IF NOT EXISTS crawl_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	strategy TEXT NOT NULL,
	fields TEXT NOT NULL,
	extracted_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_items_url ON crawl_items(url);
`

// ItemStore writes items to SQLite.
type ItemStore struct {
	db *sql.DB
}

// Open creates the database file (and parent directories) when missing and
// applies the schema.
func Open(path string) (*ItemStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage.sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, crawler.NewFileError(path, fmt.Errorf("create database directory: %w", err))
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, crawler.NewDatabaseError(table, fmt.Errorf("open database: %w", err))
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, crawler.NewDatabaseError(table, fmt.Errorf("create schema: %w", err))
	}
	return &ItemStore{db: db}, nil
}

// Store implements crawler.ItemSink.
func (s *ItemStore) Store(ctx context.Context, item crawler.Item) error {
	fields := item.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return crawler.NewDatabaseError(table, fmt.Errorf("marshal fields: %w", err))
	}
	extractedAt := item.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_items (url, strategy, fields, extracted_at) VALUES (?, ?, ?, ?)`,
		item.URL, item.Strategy, string(encoded), extractedAt.UTC(),
	); err != nil {
		return crawler.NewDatabaseError(table, fmt.Errorf("insert item: %w", err))
	}
	return nil
}

// Items reads back every item stored for url, oldest first.
func (s *ItemStore) Items(ctx context.Context, url string) ([]crawler.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, strategy, fields, extracted_at FROM crawl_items WHERE url = ? ORDER BY id ASC`, url)
	if err != nil {
		return nil, crawler.NewDatabaseError(table, fmt.Errorf("query items: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var items []crawler.Item
	for rows.Next() {
		var (
			item   crawler.Item
			fields string
		)
		if err := rows.Scan(&item.URL, &item.Strategy, &fields, &item.ExtractedAt); err != nil {
			return nil, crawler.NewDatabaseError(table, fmt.Errorf("scan item: %w", err))
		}
		if err := json.Unmarshal([]byte(fields), &item.Fields); err != nil {
			return nil, crawler.NewDatabaseError(table, fmt.Errorf("decode fields: %w", err))
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.NewDatabaseError(table, err)
	}
	return items, nil
}

// Count returns the number of stored items.
func (s *ItemStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_items`).Scan(&n); err != nil {
		return 0, crawler.NewDatabaseError(table, fmt.Errorf("count items: %w", err))
	}
	return n, nil
}

// Close closes the database.
func (s *ItemStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
