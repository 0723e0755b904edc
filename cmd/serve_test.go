//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/monitoring"
	"github.com/sells-group/product-fusion/internal/resilience"
	"github.com/sells-group/product-fusion/internal/store"
)

func seededStore(t *testing.T) (store.Store, string) {
	t.Helper()
	setTestConfig(t)
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	run, err := st.CreateRun(ctx, "tv")
	require.NoError(t, err)

	rec := model.NewCanonicalRecord("P1")
	rec.VerticalID = "tv"
	rec.Attributes["COLOR"] = &model.AggregatedAttribute{
		Name: "COLOR", Value: "noir", Type: model.AttributeText, SourceCount: 1,
		Sources: []model.SourcedValue{{Source: "icecat", Value: "noir", Raw: "Noir", Timestamp: testNow}},
	}
	require.NoError(t, st.SaveRecords(ctx, run.ID, []*model.CanonicalRecord{rec}))
	require.NoError(t, st.SaveCardinalities(ctx, run.ID, map[string]model.Cardinality{
		"REPAIRABILITY_INDEX": {Count: 2, Min: 4, Max: 8, Avg: 6, Sum: 12},
	}))
	require.NoError(t, st.EnqueueDLQ(ctx, []resilience.DLQEntry{
		resilience.NewDLQEntry(run.ID, "", model.StageIngest, model.ErrNoIdentity, nil),
	}))
	require.NoError(t, st.UpdateRunResult(ctx, run.ID, model.RunStatusComplete, &model.RunResult{Records: 1, DeadLettered: 1}))
	return st, run.ID
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestBuildMux_HealthWithoutStore(t *testing.T) {
	mux := buildMux(nil, nil, serveOptions{})

	rr := get(t, mux, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/records/P1").Code)
}

func TestBuildMux_Records(t *testing.T) {
	st, runID := seededStore(t)
	mux := buildMux(st, nil, serveOptions{})

	rr := get(t, mux, "/records/P1")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec model.CanonicalRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "noir", rec.Attributes["COLOR"].Value)

	rr = get(t, mux, "/records?run="+runID)
	require.Equal(t, http.StatusOK, rr.Code)
	var records []model.CanonicalRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	rr = get(t, mux, "/records/P1/provenance")
	require.Equal(t, http.StatusOK, rr.Code)
	var prov []model.FieldProvenance
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &prov))
	require.NotEmpty(t, prov)
	assert.Equal(t, "COLOR", prov[0].FieldKey)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/records/unknown").Code)
	assert.Equal(t, http.StatusNotFound, get(t, mux, "/records/unknown/provenance").Code)
}

func TestBuildMux_Runs(t *testing.T) {
	st, runID := seededStore(t)
	mux := buildMux(st, nil, serveOptions{})

	rr := get(t, mux, "/runs/"+runID)
	require.Equal(t, http.StatusOK, rr.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusComplete, run.Status)

	rr = get(t, mux, "/runs?status=complete&limit=10")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rr = get(t, mux, "/runs/"+runID+"/cardinalities")
	require.Equal(t, http.StatusOK, rr.Code)
	var cards map[string]model.Cardinality
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cards))
	assert.Equal(t, int64(2), cards["REPAIRABILITY_INDEX"].Count)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/runs/unknown").Code)
}

func TestBuildMux_DLQAndMetrics(t *testing.T) {
	st, runID := seededStore(t)
	mux := buildMux(st, monitoring.NewCollector(st), serveOptions{LookbackHours: 24})

	rr := get(t, mux, "/dlq?run="+runID)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []resilience.DLQEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.ErrorFatal, entries[0].Category)

	rr = get(t, mux, "/metrics?hours=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.LookbackHours)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.DLQDepth)
}

func TestBuildMux_RateLimit(t *testing.T) {
	mux := buildMux(nil, nil, serveOptions{RateLimit: 0.001, Burst: 1})

	assert.Equal(t, http.StatusOK, get(t, mux, "/health").Code)
	rr := get(t, mux, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestQueryInt(t *testing.T) {
	assert.Equal(t, 10, queryInt("10"))
	assert.Equal(t, 0, queryInt(""))
	assert.Equal(t, 0, queryInt("-5"))
	assert.Equal(t, 0, queryInt("ten"))
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
	assert.Equal(t, 0, resolvePort(0, 0))
}

func TestStartServer_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mux := buildMux(nil, nil, serveOptions{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	errCh := make(chan error, 1)
	go func() {
		errCh <- startServer(ctx, mux, port)
	}()

	var ready bool
	for range 50 {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			_ = resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ready, "server did not become ready in time")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
