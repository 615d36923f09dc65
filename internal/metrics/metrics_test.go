package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.IncStep("install_node", "ok")
	m.IncStep("install_node", "ok")
	m.IncStep("install_node", "skipped")
	m.AddTunnelBytes("upstream", 10)
	m.AddTunnelBytes("upstream", 0)
	m.TunnelConnectionOpened()
	m.TunnelConnectionOpened()
	m.TunnelConnectionClosed()
	m.IncTunnelConnection("ok")
	m.ObserveProvision("ok", 2*time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `clawnetes_provision_steps_total{status="ok",step="install_node"} 2`)
	assert.Contains(t, body, `clawnetes_provision_steps_total{status="skipped",step="install_node"} 1`)
	assert.Contains(t, body, `clawnetes_tunnel_bytes_total{direction="upstream"} 10`)
	assert.Contains(t, body, "clawnetes_tunnel_active_connections 1")
	assert.Contains(t, body, `clawnetes_tunnel_connections_total{result="ok"} 1`)
	assert.Contains(t, body, `clawnetes_provision_duration_seconds_count{result="ok"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.IncStep("detect_os", "ok")

	assert.Contains(t, scrape(t, m), `clawnetes_provision_steps_total{status="ok",step="detect_os"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.IncStep("a", "b")
	m.ObserveProvision("ok", time.Second)
	m.IncTunnelConnection("ok")
	m.AddTunnelBytes("up", 3)
	m.TunnelConnectionOpened()
	m.TunnelConnectionClosed()
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
