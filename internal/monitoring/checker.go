package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker periodically snapshots pipeline health from the store and
// routes threshold breaches to the alerter. The worker runs one per
// process; the drift recorder handles per-extraction signals, the
// checker handles the slow-moving ones (failure rate, DLQ backlog).
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker builds a checker from the monitoring config. Interval and
// lookback default to 5 minutes and 24 hours.
func NewChecker(collector *Collector, alerter *Alerter, interval time.Duration, lookbackHours int) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookbackHours,
	}
}

// Run checks once immediately, then on every tick until ctx is done. A
// crash-looping worker should alert on restart, not one interval later.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	c.check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("health snapshot failed", zap.Error(err))
		return
	}

	log.Debug("pipeline health",
		zap.Int("docs_total", snap.DocsTotal),
		zap.Int("docs_failed", snap.DocsFailed),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("dlq_depth", snap.DLQDepth),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("pipeline health alerts",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", sent),
	)
}
