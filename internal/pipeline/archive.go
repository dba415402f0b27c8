package pipeline

import (
	"context"
	"encoding/hex"
	"path"
	"strings"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// ArchiveStage writes the raw page to a blob store. Write failures are
// logged and never fail the chain.
type ArchiveStage struct {
	store  crawler.BlobStore
	prefix string
	logger *zap.Logger
}

// NewArchiveStage builds an ArchiveStage writing under prefix.
func NewArchiveStage(store crawler.BlobStore, prefix string, logger *zap.Logger) *ArchiveStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveStage{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Name implements Stage.
func (s *ArchiveStage) Name() string { return "archive" }

// Process implements Stage.
func (s *ArchiveStage) Process(ctx context.Context, cc *crawler.CrawlContext) Result {
	page, ok := cc.Page()
	if !ok || s.store == nil {
		return Succeed()
	}
	name := ObjectName(s.prefix, page)
	contentType := page.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := s.store.PutObject(ctx, name, contentType, strings.NewReader(page.Content))
	if err != nil {
		s.logger.Warn("archive page failed", zap.String("url", page.URL), zap.String("object", name), zap.Error(err))
		return Succeed()
	}
	cc.Set(AttrArchiveURI, uri)
	return Succeed()
}

// ObjectName derives a content-addressed object path for page:
// <prefix>/<host>/<blake3 of content>.html.
func ObjectName(prefix string, page crawler.RawPage) string {
	sum := blake3.Sum256([]byte(page.Content))
	host := crawler.Host(page.URL)
	if host == "" {
		host = "unknown"
	}
	return path.Join(prefix, host, hex.EncodeToString(sum[:])+".html")
}
