package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-adp-console/internal/service"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newMetricsRouter(h *MetricsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	r.GET("/system/metrics", h.Summary)
	return r
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	h := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{"catalog": ok, "cache": nil})

	w := serve(newMetricsRouter(h), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"catalog": "ok"}, body.Checks)
}

func TestMetricsHandlerReadyDegraded(t *testing.T) {
	checks := map[string]Pinger{
		"catalog": pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
		"cache":   pingerFunc(func(context.Context) error { return nil }),
	}
	w := serve(newMetricsRouter(NewMetricsHandler(nil, checks)), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), "dial tcp: refused")
}

func TestMetricsHandlerSummaryAndPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordStaleResult("subjects")
	metrics.RecordProbeAttempt("secondary", "/levels/secondary/sections", false)
	metrics.SetActiveSessions(2)
	r := newMetricsRouter(NewMetricsHandler(metrics, nil))

	w := serve(r, http.MethodGet, "/system/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data service.MetricsSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint64(1), body.Data.StaleResults)
	assert.Equal(t, uint64(1), body.Data.ProbeAttempts)
	assert.Equal(t, int64(2), body.Data.ActiveSessions)

	w = serve(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "form_stale_results_total")

	w = serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsHandlerPrometheusWithoutService(t *testing.T) {
	w := serve(newMetricsRouter(NewMetricsHandler(nil, nil)), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
