package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertRejectionRate  AlertType = "rejection_rate"
	AlertDLQDepth       AlertType = "dlq_depth"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule is one threshold check. It returns a message and details when the
// snapshot breaches the threshold.
type rule struct {
	typ      AlertType
	severity string
	check    func(snap *MetricsSnapshot, cfg config.MonitoringConfig) (string, map[string]any, bool)
}

// minFinishedRuns keeps a single failed run from raising a failure-rate alert.
const minFinishedRuns = 3

var rules = []rule{
	{AlertRunFailureRate, "high", func(snap *MetricsSnapshot, cfg config.MonitoringConfig) (string, map[string]any, bool) {
		finished := snap.RunsComplete + snap.RunsFailed
		if cfg.FailureRateThreshold <= 0 || finished < minFinishedRuns || snap.RunFailRate <= cfg.FailureRateThreshold {
			return "", nil, false
		}
		return fmt.Sprintf("%d of %d fusion runs failed in the last %dh (%.1f%%, threshold %.1f%%)",
				snap.RunsFailed, finished, snap.LookbackHours, snap.RunFailRate*100, cfg.FailureRateThreshold*100),
			map[string]any{"failure_rate": snap.RunFailRate, "failed": snap.RunsFailed, "finished": finished}, true
	}},
	{AlertRejectionRate, "medium", func(snap *MetricsSnapshot, cfg config.MonitoringConfig) (string, map[string]any, bool) {
		if cfg.RejectionRateThreshold <= 0 || snap.Records == 0 || snap.RejectionRate <= cfg.RejectionRateThreshold {
			return "", nil, false
		}
		return fmt.Sprintf("records carry %.2f rejections each over the last %dh (threshold %.2f)",
				snap.RejectionRate, snap.LookbackHours, cfg.RejectionRateThreshold),
			map[string]any{"rejection_rate": snap.RejectionRate, "rejections": snap.Rejections, "records": snap.Records}, true
	}},
	{AlertDLQDepth, "high", func(snap *MetricsSnapshot, cfg config.MonitoringConfig) (string, map[string]any, bool) {
		if cfg.DLQDepthThreshold <= 0 || snap.DLQDepth <= cfg.DLQDepthThreshold {
			return "", nil, false
		}
		return fmt.Sprintf("%d products wait in the dead letter queue (threshold %d)", snap.DLQDepth, cfg.DLQDepthThreshold),
			map[string]any{"dlq_depth": snap.DLQDepth}, true
	}},
}

// Alerter compares metrics snapshots with the configured thresholds and
// posts breaches to an optional webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns one alert per breached threshold, in rule order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	for _, r := range rules {
		msg, details, breached := r.check(snap, a.cfg)
		if !breached {
			continue
		}
		alerts = append(alerts, Alert{
			Type:      r.typ,
			Severity:  r.severity,
			Message:   msg,
			Details:   details,
			Timestamp: snap.CollectedAt,
		})
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Without a webhook nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
