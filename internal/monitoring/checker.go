package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates persisted pipeline state on an interval and forwards
// alerts to the webhook.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker wires a collector and alerter together.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

// Run checks once immediately and then every check interval until ctx is
// done.
func (c *Checker) Run(ctx context.Context) {
	interval := defaultCheckInterval
	if c.cfg.CheckIntervalSecs > 0 {
		interval = time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_runs", c.cfg.LookbackRuns),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			if _, err := c.Check(ctx); err != nil {
				log.Error("monitoring: check failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot, evaluates it and sends any alerts. The
// triggered alerts are returned whether or not delivery succeeded.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackRuns)
	if err != nil {
		return nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: alerts evaluated",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
		zap.Strings("open_breakers", snap.OpenBreakers),
	)
	return alerts, nil
}
