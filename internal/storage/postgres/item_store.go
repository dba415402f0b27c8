// Package postgres persists extracted items in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// DefaultTable receives items when Config.Table is empty.
const DefaultTable = "crawl_items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for item rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ItemStore writes extracted items into Postgres.
type ItemStore struct {
	pool  execCloser
	table string
	newID func() (uuid.UUID, error)
}

// New connects a pool, creates the item table when missing, and returns the
// store.
func New(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &ItemStore{pool: pool, table: table, newID: uuid.NewV7}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*ItemStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ItemStore{pool: pool, table: name, newID: uuid.NewV7}, nil
}

func tableName(raw string) (string, error) {
	if raw == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(raw) {
		return "", fmt.Errorf("invalid table name %q", raw)
	}
	return raw, nil
}

// Table returns the destination table name.
func (s *ItemStore) Table() string { return s.table }

// EnsureSchema creates the item table if it does not exist.
func (s *ItemStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	url text NOT NULL,
	strategy text NOT NULL,
	fields jsonb NOT NULL,
	extracted_at timestamptz NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return crawler.NewDatabaseError(s.table, fmt.Errorf("create table: %w", err))
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Store implements crawler.ItemSink.
func (s *ItemStore) Store(ctx context.Context, item crawler.Item) error {
	if s == nil || s.pool == nil {
		return crawler.NewDatabaseError(DefaultTable, errors.New("item store is not configured"))
	}
	fields := item.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return crawler.NewDatabaseError(s.table, fmt.Errorf("marshal fields: %w", err))
	}
	id, err := s.newID()
	if err != nil {
		return crawler.NewDatabaseError(s.table, fmt.Errorf("generate id: %w", err))
	}
	extractedAt := item.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, url, strategy, fields, extracted_at) VALUES ($1,$2,$3,$4,$5)`,
		s.table,
	)
	if _, err := s.pool.Exec(ctx, query, id, item.URL, item.Strategy, fieldsJSON, extractedAt); err != nil {
		return crawler.NewDatabaseError(s.table, fmt.Errorf("insert item: %w", err))
	}
	return nil
}
