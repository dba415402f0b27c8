package local_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/storage/local"
)

func TestJSONLSinkAppendsItems(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := local.NewJSONLSink(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, local.ItemsFile), sink.Path())

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, u := range []string{"https://a.example", "https://b.example"} {
		require.NoError(t, sink.Store(context.Background(), crawler.Item{
			URL:         u,
			Strategy:    "html",
			Fields:      map[string]any{"title": "t"},
			ExtractedAt: at,
		}))
	}
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(sink.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var item crawler.Item
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
		require.Equal(t, "t", item.Fields["title"])
		urls = append(urls, item.URL)
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, urls)
}

func TestJSONLSinkAfterClose(t *testing.T) {
	t.Parallel()

	sink, err := local.NewJSONLSink(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	err = sink.Store(context.Background(), crawler.Item{URL: "https://a.example"})
	cerr, ok := crawler.AsError(err)
	require.True(t, ok)
	require.Equal(t, crawler.KindFile, cerr.Kind)
	require.Equal(t, crawler.CategoryStorage, cerr.Kind.Category())
}
