package main

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/monitoring"
	"github.com/sells-group/vose-cli/internal/orchestrator"
)

// newScheduler parses a standard 5-field cron spec and registers job on it.
// Overlapping firings are skipped and panics are recovered.
func newScheduler(spec string, job func()) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, eris.Wrapf(err, "schedule: parse cron spec %q", spec)
	}
	return c, nil
}

// scheduledRun runs every source once and evaluates alerts afterwards.
func scheduledRun(ctx context.Context, orch *orchestrator.Orchestrator, checker *monitoring.Checker) {
	result := orch.Run(ctx, nil)
	zap.L().Info("scheduled run complete",
		zap.String("run_id", result.RunID),
		zap.Bool("success", result.Success),
		zap.Int("showtimes", len(result.Showtimes)),
	)
	if checker == nil {
		return
	}
	if _, err := checker.Check(ctx); err != nil {
		zap.L().Error("scheduled alert check failed", zap.Error(err))
	}
}
