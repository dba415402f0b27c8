// Package storage resolves item sink and blob store backends from
// configuration tags.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/storage/gcs"
	"github.com/JakeFAU/politecrawler/internal/storage/local"
	"github.com/JakeFAU/politecrawler/internal/storage/memory"
	"github.com/JakeFAU/politecrawler/internal/storage/postgres"
	"github.com/JakeFAU/politecrawler/internal/storage/sqlite"
)

// SinkConfig selects an item sink.
type SinkConfig struct {
	Type       string
	Path       string
	Postgres   postgres.Config
	SQLitePath string
}

// BlobConfig selects a blob store for archived pages.
type BlobConfig struct {
	Type      string
	LocalDir  string
	GCSBucket string
}

// Sink is an item sink and the function that releases it.
type Sink struct {
	crawler.ItemSink
	Close func() error
}

// Blobs is a blob store and the function that releases it. A nil BlobStore
// means archiving is disabled.
type Blobs struct {
	crawler.BlobStore
	Close func() error
}

type sinkFactory func(ctx context.Context, cfg SinkConfig) (crawler.ItemSink, func() error, error)

type blobFactory func(ctx context.Context, cfg BlobConfig) (crawler.BlobStore, func() error, error)

func noClose() error { return nil }

var sinks = map[string]sinkFactory{
	"noop": func(context.Context, SinkConfig) (crawler.ItemSink, func() error, error) {
		return Noop{}, noClose, nil
	},
	"memory": func(context.Context, SinkConfig) (crawler.ItemSink, func() error, error) {
		return memory.NewItemSink(), noClose, nil
	},
	"file": func(_ context.Context, cfg SinkConfig) (crawler.ItemSink, func() error, error) {
		s, err := local.NewJSONLSink(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	},
	"postgres": func(ctx context.Context, cfg SinkConfig) (crawler.ItemSink, func() error, error) {
		s, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	},
	"sqlite": func(_ context.Context, cfg SinkConfig) (crawler.ItemSink, func() error, error) {
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	},
}

var blobs = map[string]blobFactory{
	"noop": func(context.Context, BlobConfig) (crawler.BlobStore, func() error, error) {
		return nil, noClose, nil
	},
	"memory": func(context.Context, BlobConfig) (crawler.BlobStore, func() error, error) {
		return memory.NewBlobStore(), noClose, nil
	},
	"local": func(_ context.Context, cfg BlobConfig) (crawler.BlobStore, func() error, error) {
		s, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, nil, err
		}
		return s, noClose, nil
	},
	"gcs": func(ctx context.Context, cfg BlobConfig) (crawler.BlobStore, func() error, error) {
		s, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	},
}

// SinkTypes lists the registered item sink tags.
func SinkTypes() []string { return keys(sinks) }

// BlobTypes lists the registered blob store tags.
func BlobTypes() []string { return keys(blobs) }

// NewSink builds the item sink named by cfg.Type.
func NewSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	build, ok := sinks[normalize(cfg.Type)]
	if !ok {
		return Sink{}, fmt.Errorf("unknown storage type %q (want one of %s)", cfg.Type, strings.Join(SinkTypes(), ", "))
	}
	s, closeFn, err := build(ctx, cfg)
	if err != nil {
		return Sink{}, fmt.Errorf("open %s storage: %w", normalize(cfg.Type), err)
	}
	return Sink{ItemSink: s, Close: closeFn}, nil
}

// NewBlobs builds the blob store named by cfg.Type.
func NewBlobs(ctx context.Context, cfg BlobConfig) (Blobs, error) {
	build, ok := blobs[normalize(cfg.Type)]
	if !ok {
		return Blobs{}, fmt.Errorf("unknown archive type %q (want one of %s)", cfg.Type, strings.Join(BlobTypes(), ", "))
	}
	s, closeFn, err := build(ctx, cfg)
	if err != nil {
		return Blobs{}, fmt.Errorf("open %s archive: %w", normalize(cfg.Type), err)
	}
	return Blobs{BlobStore: s, Close: closeFn}, nil
}

// Noop discards items.
type Noop struct{}

// Store implements crawler.ItemSink.
func (Noop) Store(context.Context, crawler.Item) error { return nil }

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
