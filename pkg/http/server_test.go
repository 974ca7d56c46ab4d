package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bci-monitor/pkg/bci"
	"bci-monitor/pkg/confusion"
	"bci-monitor/pkg/features"
	"bci-monitor/pkg/metrics"
	"bci-monitor/pkg/monitor"
	"bci-monitor/pkg/signal"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := testLogger()
	metrics.Init(logger)

	state := monitor.NewState()
	source := bci.NewSimulatedSource(logger, 128, 0, bci.DefaultProfile())
	loop := monitor.NewLoop(
		logger,
		monitor.Config{},
		source,
		signal.NewConditioner(logger, signal.Config{SampleRate: 128}),
		features.NewExtractor(logger),
		confusion.NewScorer(logger, 0),
		nil,
		nil,
		nil,
		state,
	)
	hub := NewHub(logger, state, loop.GetStats)

	server := NewServer(logger, ServerConfig{EnableMetrics: true}, hub, loop)
	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(ts.Close)
	return server, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"], "source not connected yet")
	assert.Equal(t, false, body["device_connected"])
	assert.NotEmpty(t, body["version"])
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats monitor.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.NotEmpty(t, stats.SessionID)
	assert.Equal(t, monitor.DefaultThreshold, stats.Threshold)
}

func TestThresholdEndpoint(t *testing.T) {
	server, ts := newTestServer(t)

	t.Run("get default", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/threshold")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]float64
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, monitor.DefaultThreshold, body["threshold"])
	})

	t.Run("update", func(t *testing.T) {
		payload := bytes.NewBufferString(`{"threshold": 0.55}`)
		resp, err := http.Post(ts.URL+"/api/threshold", "application/json", payload)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 0.55, server.loop.State().Threshold())
	})

	t.Run("missing threshold", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/threshold", "application/json", bytes.NewBufferString(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("clamped", func(t *testing.T) {
		payload := bytes.NewBufferString(`{"threshold": -3}`)
		resp, err := http.Post(ts.URL+"/api/threshold", "application/json", payload)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 0.0, server.loop.State().Threshold())
	})
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
