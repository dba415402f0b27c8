package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/pipeline"
	"github.com/JakeFAU/politecrawler/internal/progress"
	"github.com/JakeFAU/politecrawler/internal/retry"
)

func (e *Engine) runWorker(id int) {
	defer e.workers.Done()
	defer e.live.Add(-1)
	logger := e.logger.With(zap.Int("worker", id))
	logger.Debug("worker started")
	for e.running.Load() {
		task, ok := e.frontier.Dequeue(e.stopCtx, e.cfg.PollInterval)
		if !ok {
			continue
		}
		e.pending.Add(1)
		e.process(task, logger)
		e.pending.Add(-1)
		if !e.pause(e.cfg.Delay) {
			break
		}
	}
	logger.Debug("worker stopped")
}

// pause sleeps for d and reports false when the engine stopped meanwhile.
func (e *Engine) pause(d time.Duration) bool {
	if d <= 0 {
		return e.running.Load()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stopCtx.Done():
		return false
	}
}

// process runs one task end to end. Anything unexpected is recovered and
// published as ERROR_OCCURRED so the worker keeps going.
func (e *Engine) process(task crawler.Task, logger *zap.Logger) {
	e.metrics.WorkerBusy()
	defer e.metrics.WorkerIdle()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker panic: %v", r)
			e.metrics.WorkerError()
			logger.Error("recovered from worker panic", zap.String("url", task.URL), zap.Error(err))
			e.bus.Publish(progress.NewEvent(progress.ErrorOccurred).WithURL(task.URL).WithErr(err))
		}
	}()

	ctx, span := e.tracer.Start(e.workCtx, "crawl.task", trace.WithAttributes(
		attribute.String("url.full", task.URL),
		attribute.Int("crawl.retry", task.Retry),
	))
	defer span.End()

	cc := crawler.NewCrawlContext(task)
	e.bus.Publish(progress.NewEvent(progress.PageFetchStarted).
		WithURL(task.URL).
		With(progress.KeyRetry, task.Retry))

	result := e.pipeline.Process(ctx, cc)
	elapsed := cc.Elapsed()

	if result.Success {
		evt := progress.NewEvent(progress.PageFetchSuccess).
			WithURL(task.URL).
			With(progress.KeyElapsed, elapsed).
			With(progress.KeyRetry, task.Retry)
		if page, ok := cc.Page(); ok {
			evt = evt.With(progress.KeyStatusCode, page.StatusCode).With(progress.KeyBytes, page.Size())
			span.SetAttributes(attribute.Int("http.response.status_code", page.StatusCode))
		}
		if result.Message != "" {
			evt = evt.With(progress.KeyMessage, result.Message)
		}
		if name := cc.GetString(pipeline.AttrStrategy); name != "" {
			evt = evt.With(progress.KeyStrategy, name)
		}
		e.bus.Publish(evt)
		return
	}

	err := result.Err()
	span.RecordError(err)
	span.SetStatus(codes.Error, result.Message)
	e.bus.Publish(progress.NewEvent(progress.PageFetchFailed).
		WithURL(task.URL).
		WithErr(err).
		With(progress.KeyElapsed, elapsed).
		With(progress.KeyRetry, task.Retry).
		With(progress.KeyMessage, result.Message))

	decision := e.classifier.Classify(err)
	span.SetAttributes(attribute.String("crawl.decision", decision.Action.String()))
	e.scheduleRetry(task, decision, logger)
}

// scheduleRetry re-enqueues task after a backoff when the decision asks for
// it and the attempt budget allows. The budget is the matching strategy's
// MaxRetries, or the decision's, capped by Config.MaxRetries.
func (e *Engine) scheduleRetry(task crawler.Task, decision retry.Decision, logger *zap.Logger) {
	if !decision.ShouldRetry() {
		logger.Debug("not retrying",
			zap.String("url", task.URL),
			zap.Stringer("action", decision.Action),
			zap.String("reason", decision.Message),
		)
		return
	}
	limit := decision.MaxRetries
	if st := e.strategies.Select(task.URL); st != nil {
		limit = st.MaxRetries()
	}
	limit = min(limit, e.cfg.MaxRetries)
	if task.Retry >= limit {
		logger.Info("retry budget exhausted",
			zap.String("url", task.URL),
			zap.Int("attempts", task.Retry+1),
			zap.String("reason", decision.Message),
		)
		return
	}

	delay := retry.Backoff(decision.Delay, task.Retry, e.cfg.MaxRetryDelay)
	next := task.Next()
	e.metrics.RetryScheduled()
	logger.Debug("retry scheduled",
		zap.String("url", task.URL),
		zap.Int("retry", next.Retry),
		zap.Duration("delay", delay),
		zap.String("reason", decision.Message),
	)

	e.retries.Add(1)
	e.pending.Add(1)
	go func(stop context.Context) {
		defer e.retries.Done()
		defer e.pending.Add(-1)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-stop.Done():
			return
		case <-timer.C:
		}
		if e.running.Load() {
			e.frontier.Enqueue(next)
		}
	}(e.stopCtx)
}
