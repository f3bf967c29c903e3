package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRecordsScanMetrics(t *testing.T) {
	m := NewManagerWithRegistry(prometheus.NewRegistry())
	pm := m.GetPrometheusMetrics()

	pm.RecordScan("success", 2*time.Second)
	pm.RecordScan("success", time.Second)
	pm.RecordEntriesAssigned("scan", 3)
	pm.RecordEntriesAssigned("scan", 0)
	pm.RecordBuysFiltered("blacklist", 2)
	pm.UpdateComponentHealth("storage", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.ScansTotal.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.EntriesAssigned.WithLabelValues("scan")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.BuysFilteredTotal.WithLabelValues("blacklist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.ComponentHealth.WithLabelValues("storage")))
}

func TestManagersDoNotCollide(t *testing.T) {
	first := NewManagerWithRegistry(prometheus.NewRegistry())
	second := NewManagerWithRegistry(prometheus.NewRegistry())
	require.NotSame(t, first.GetPrometheusMetrics(), second.GetPrometheusMetrics())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewManagerWithRegistry(prometheus.NewRegistry())
	m.UpdateSystemMetrics()
	m.GetPrometheusMetrics().RecordScan("partial", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `draw_scans_total{result="partial"} 1`)
	assert.Contains(t, rec.Body.String(), "draw_goroutines_count")
}
