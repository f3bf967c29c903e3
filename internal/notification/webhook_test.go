package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) (*WebhookSender, *metrics.Manager) {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	mm := metrics.NewManagerWithRegistry(prometheus.NewRegistry())
	sender := NewWebhookSender(config.NotifyConfig{
		Enabled:     true,
		WebhookURL:  server.URL + "/hooks/draws",
		Headers:     map[string]string{"Authorization": "Bearer secret"},
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, mm)
	return sender, mm
}

func TestNotifyPostsEvent(t *testing.T) {
	var received WebhookPayload
	sender, mm := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/hooks/draws", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	})

	err := sender.Notify(context.Background(), Event{
		Type:        EventDrawingCompleted,
		DrawingID:   7,
		FilledSlots: 69,
		TotalSlots:  69,
	})
	require.NoError(t, err)

	assert.Equal(t, EventDrawingCompleted, received.Event.Type)
	assert.Equal(t, int64(7), received.Event.DrawingID)
	assert.Equal(t, 69, received.Event.FilledSlots)
	assert.False(t, received.Event.Timestamp.IsZero())
	assert.Equal(t, "draw-scanner", received.Source)

	assert.Equal(t, uint64(1), sender.GetStats().Sent)
	sent := mm.GetPrometheusMetrics().NotificationsTotal.WithLabelValues(EventDrawingCompleted, "sent")
	assert.Equal(t, 1.0, testutil.ToFloat64(sent))
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	sender, _ := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, sender.Notify(context.Background(), Event{Type: EventScanFailed, DrawingID: 1}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifyGivesUpOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	sender, mm := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	})

	err := sender.Notify(context.Background(), Event{Type: EventScanFailed, DrawingID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 400")
	assert.Equal(t, int32(1), calls.Load())

	stats := sender.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	require.NotNil(t, stats.LastError)
	failed := mm.GetPrometheusMetrics().NotificationsTotal.WithLabelValues(EventScanFailed, "failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(failed))
}

func TestNotifyExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	sender, _ := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	assert.Error(t, sender.Notify(context.Background(), Event{Type: EventDrawingCompleted}))
	assert.Equal(t, int32(3), calls.Load())
}
