package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/config"
	"github.com/sells-group/product-fusion/internal/model"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:   0.10,
		RejectionRateThreshold: 0.5,
		DLQDepthThreshold:      10,
		LookbackWindowHours:    24,
	}
}

func TestAlerter_Evaluate(t *testing.T) {
	tests := []struct {
		name string
		snap MetricsSnapshot
		want []AlertType
	}{
		{
			name: "healthy",
			snap: MetricsSnapshot{RunsComplete: 10, RunsFailed: 0, Records: 100, Rejections: 10, RejectionRate: 0.1, DLQDepth: 2},
		},
		{
			name: "failure rate",
			snap: MetricsSnapshot{RunsComplete: 3, RunsFailed: 2, RunFailRate: 0.4},
			want: []AlertType{AlertRunFailureRate},
		},
		{
			name: "failure rate needs enough finished runs",
			snap: MetricsSnapshot{RunsComplete: 1, RunsFailed: 1, RunFailRate: 0.5},
		},
		{
			name: "rejection rate",
			snap: MetricsSnapshot{Records: 10, Rejections: 20, RejectionRate: 2},
			want: []AlertType{AlertRejectionRate},
		},
		{
			name: "dlq depth",
			snap: MetricsSnapshot{DLQDepth: 11},
			want: []AlertType{AlertDLQDepth},
		},
		{
			name: "all",
			snap: MetricsSnapshot{RunsComplete: 2, RunsFailed: 2, RunFailRate: 0.5, Records: 1, Rejections: 3, RejectionRate: 3, DLQDepth: 50},
			want: []AlertType{AlertRunFailureRate, AlertRejectionRate, AlertDLQDepth},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := NewAlerter(testMonitoringConfig()).Evaluate(&tt.snap)
			var got []AlertType
			for _, a := range alerts {
				got = append(got, a.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlerter_Evaluate_Message(t *testing.T) {
	alerts := NewAlerter(testMonitoringConfig()).Evaluate(&MetricsSnapshot{
		RunsComplete: 6, RunsFailed: 4, RunFailRate: 0.4, LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "4 of 10 fusion runs failed in the last 24h (40.0%, threshold 10.0%)", alerts[0].Message)
	assert.Equal(t, 4, alerts[0].Details["failed"])
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertDLQDepth}}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{
		{Type: AlertDLQDepth, Severity: "high", Timestamp: time.Now()},
		{Type: AlertRejectionRate, Severity: "medium", Timestamp: time.Now()},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	assert.Equal(t, 0, NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertDLQDepth}}))
}

func TestChecker_Check(t *testing.T) {
	src := &mockRunSource{dlqCount: 25, runs: []model.Run{{ID: "1", Status: model.RunStatusComplete, CreatedAt: time.Now()}}}
	cfg := testMonitoringConfig()
	c := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	alerts := c.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDLQDepth, alerts[0].Type)
}

func TestChecker_PostsOnlyNewAlerts(t *testing.T) {
	var posted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		posted.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &mockRunSource{dlqCount: 25}
	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	c := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	require.Len(t, c.Check(context.Background()), 1)
	assert.Equal(t, int32(1), posted.Load())

	require.Len(t, c.Check(context.Background()), 1)
	assert.Equal(t, int32(1), posted.Load(), "still firing")

	src.dlqCount = 0
	assert.Empty(t, c.Check(context.Background()))

	src.dlqCount = 30
	require.Len(t, c.Check(context.Background()), 1)
	assert.Equal(t, int32(2), posted.Load(), "fired again after clearing")
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.CheckIntervalSecs = 1
	c := NewChecker(NewCollector(&mockRunSource{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
}
