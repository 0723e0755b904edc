package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/config"
)

// Checker evaluates fusion health on a ticker inside `serve`. An alert is
// posted when its threshold is first breached and again only after it has
// cleared; every breach is logged.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	zap.L().Info("monitoring: checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects a snapshot and returns the alerts it breaches. Only alerts
// that were not already firing at the previous check are posted.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		zap.L().Warn("monitoring: "+a.Message,
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
		)
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for typ := range c.firing {
		if !now[typ] {
			zap.L().Info("monitoring: alert cleared", zap.String("type", string(typ)))
		}
	}
	c.firing = now

	if len(fresh) > 0 {
		sent := c.alerter.SendAlerts(ctx, fresh)
		zap.L().Info("monitoring: alerts posted", zap.Int("new", len(fresh)), zap.Int("sent", sent))
	}
	return alerts
}
