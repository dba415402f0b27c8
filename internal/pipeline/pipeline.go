// Package pipeline runs a crawl context through an ordered chain of stages.
//
// A stage either lets the chain continue, stops it successfully, or fails
// it. Stages are added and removed at runtime; each run works on a snapshot
// of the chain so mutations never disturb an in-flight task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/politecrawler/internal/crawler"
)

// Context attribute keys written by the built-in stages.
const (
	AttrStrategy   = "strategy"
	AttrArchiveURI = "archive_uri"
	AttrSkipped    = "skipped"
)

// Stage is one unit of per-task work.
type Stage interface {
	Name() string
	Process(ctx context.Context, cc *crawler.CrawlContext) Result
}

// Func adapts a function to the Stage interface.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, cc *crawler.CrawlContext) Result
}

// Name implements Stage.
func (f Func) Name() string { return f.StageName }

// Process implements Stage.
func (f Func) Process(ctx context.Context, cc *crawler.CrawlContext) Result {
	if f.Fn == nil {
		return Succeed()
	}
	return f.Fn(ctx, cc)
}

// Result is the outcome of a stage or of a whole pipeline run. A failed
// result never continues the chain.
type Result struct {
	Success  bool
	Continue bool
	Message  string
	Cause    error
}

// Succeed lets the chain proceed to the next stage.
func Succeed() Result {
	return Result{Success: true, Continue: true}
}

// Stop ends the chain successfully.
func Stop(msg string) Result {
	return Result{Success: true, Message: msg}
}

// Fail ends the chain with an error.
func Fail(msg string, cause error) Result {
	return Result{Message: msg, Cause: cause}
}

// Err returns the failure as an error, or nil for successful results.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	switch {
	case r.Cause != nil && r.Message != "":
		return fmt.Errorf("%s: %w", r.Message, r.Cause)
	case r.Cause != nil:
		return r.Cause
	case r.Message != "":
		return errors.New(r.Message)
	}
	return errors.New("stage failed")
}

// Pipeline is an ordered, mutable list of stages. It is safe for concurrent
// use.
type Pipeline struct {
	mu     sync.RWMutex
	stages []Stage
}

// New builds a pipeline from stages, skipping nils.
func New(stages ...Stage) *Pipeline {
	p := &Pipeline{}
	for _, s := range stages {
		p.Add(s)
	}
	return p
}

// Add appends a stage.
func (p *Pipeline) Add(s Stage) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.stages = append(p.stages, s)
	p.mu.Unlock()
}

// InsertBefore places s ahead of the first stage called name, or appends it
// when no such stage exists.
func (p *Pipeline) InsertBefore(name string, s Stage) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := slices.IndexFunc(p.stages, func(st Stage) bool { return st.Name() == name })
	if idx < 0 {
		p.stages = append(p.stages, s)
		return
	}
	p.stages = slices.Insert(p.stages, idx, s)
}

// Remove drops every stage called name and reports whether any was removed.
func (p *Pipeline) Remove(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := len(p.stages)
	p.stages = slices.DeleteFunc(slices.Clone(p.stages), func(st Stage) bool { return st.Name() == name })
	return len(p.stages) != before
}

// Stages returns a snapshot of the chain.
func (p *Pipeline) Stages() []Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.stages)
}

// Names lists stage names in order.
func (p *Pipeline) Names() []string {
	stages := p.Stages()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}

// Process runs cc through the chain. It stops at the first failure or at
// the first result that does not continue, and returns that result. An
// empty pipeline succeeds. Process never panics.
func (p *Pipeline) Process(ctx context.Context, cc *crawler.CrawlContext) Result {
	result := Succeed()
	for _, stage := range p.Stages() {
		if err := ctx.Err(); err != nil {
			return Fail("pipeline canceled", err)
		}
		result = run(ctx, stage, cc)
		if !result.Success {
			result.Continue = false
			return result
		}
		if !result.Continue {
			return result
		}
	}
	return result
}

func run(ctx context.Context, stage Stage, cc *crawler.CrawlContext) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Sprintf("stage %s panicked", stage.Name()), fmt.Errorf("panic: %v", r))
		}
	}()
	return stage.Process(ctx, cc)
}
