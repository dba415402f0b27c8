package listeners

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/progress"
)

// Log writes every event to a zap logger. Lifecycle and success events log at
// info, failures at warn, and queue traffic at debug.
type Log struct {
	logger *zap.Logger
}

// NewLog wires a Zap logger to the listener interface.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Name implements progress.Listener.
func (l *Log) Name() string { return "logging" }

// Interests implements progress.Listener.
func (l *Log) Interests() []progress.Type { return nil }

// OnEvent implements progress.Listener.
func (l *Log) OnEvent(_ context.Context, evt progress.Event) error {
	fields := eventFields(evt)
	switch evt.Type {
	case progress.CrawlerStarted, progress.CrawlerStopped:
		l.logger.Info("crawler lifecycle", fields...)
	case progress.PageFetchSuccess, progress.PageParseSuccess:
		l.logger.Info("page processed", fields...)
	case progress.PageFetchFailed, progress.PageParseFailed, progress.ErrorOccurred:
		l.logger.Warn("page failed", fields...)
	default:
		l.logger.Debug("crawl event", fields...)
	}
	return nil
}

func eventFields(evt progress.Event) []zap.Field {
	data := evt.Data()
	fields := make([]zap.Field, 0, len(data)+3)
	fields = append(fields, zap.String("type", string(evt.Type)))
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, data[k]))
	}
	if evt.Err != nil {
		fields = append(fields, zap.Error(evt.Err))
	}
	return fields
}
