package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chanrelay/internal/metrics"
	"chanrelay/internal/models"
	"chanrelay/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &models.Config{
		Channels:           []models.ChannelConfig{{ID: "chan-1", Name: "General"}},
		SenderType:         string(models.SenderKindWebhook),
		WebhookTargets:     []string{"https://hooks.example.com/a"},
		CheckIntervalSec:   3,
		MaxConcurrentPolls: 1,
	}

	router, err := service.NewRouter(cfg)
	require.NoError(t, err)

	registry := metrics.NewRegistry()
	scheduler := service.NewScheduler(cfg, nil, nil, service.NewDeduplicator(logger), nil, nil, router, registry, logger)

	return newServer(":0", scheduler, registry, logger)
}

func doRequest(t *testing.T, s *server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Degraded)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.registry.IncrementCounter("relay_polls_total", nil)

	rec := doRequest(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Counters, 1)
	assert.Equal(t, "relay_polls_total", snap.Counters[0].Name)
}

func TestUnknownMethodRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
