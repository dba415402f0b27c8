package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/politecrawler/internal/crawler"
	"github.com/JakeFAU/politecrawler/internal/policy/robots"
)

// RobotsStage stops the chain for URLs excluded by robots.txt.
type RobotsStage struct {
	policy robots.Policy
	logger *zap.Logger
}

// NewRobotsStage builds a RobotsStage. A nil policy allows everything.
func NewRobotsStage(policy robots.Policy, logger *zap.Logger) *RobotsStage {
	if policy == nil {
		policy = robots.AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsStage{policy: policy, logger: logger}
}

// Name implements Stage.
func (s *RobotsStage) Name() string { return "robots" }

// Process implements Stage.
func (s *RobotsStage) Process(ctx context.Context, cc *crawler.CrawlContext) Result {
	if s.policy.Allowed(ctx, cc.URL()) {
		return Succeed()
	}
	s.logger.Info("skipping url disallowed by robots.txt", zap.String("url", cc.URL()))
	cc.Set(AttrSkipped, "robots")
	return Stop("disallowed by robots.txt")
}
