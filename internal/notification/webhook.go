// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// WebhookSender posts drawing events as JSON to a configured URL
type WebhookSender struct {
	config         config.NotifyConfig
	httpClient     *http.Client
	logger         *logrus.Entry
	metricsManager *metrics.Manager

	mu    sync.Mutex
	stats NotifierStats
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(cfg config.NotifyConfig, metricsManager *metrics.Manager) *WebhookSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &WebhookSender{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger:         utils.ComponentLogger("webhook_sender"),
		metricsManager: metricsManager,
	}
}

// Notify sends event, retrying transport errors, 429 and 5xx responses
func (ws *WebhookSender) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(&WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Source:    "draw-scanner",
		Version:   "1.0",
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	operation := func() error {
		return ws.send(ctx, body)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ws.config.RetryDelay
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		ws.logger.WithFields(logrus.Fields{
			"event":    event.Type,
			"retry_in": wait.String(),
			"error":    err,
		}).Warn("Webhook attempt failed, retrying")
	}

	err = backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(ws.config.MaxAttempts-1)), ctx), notify)
	ws.record(event, err)
	return err
}

func (ws *WebhookSender) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error()))
	}
	ws.setRequestHeaders(req)

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to send webhook", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Body snippet capped at 1 KiB
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	appErr := utils.NewAppError(utils.ErrCodeConnection,
		"Webhook returned non-success status",
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, snippet))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return appErr
	}
	return backoff.Permanent(appErr)
}

// setRequestHeaders sets HTTP request headers
func (ws *WebhookSender) setRequestHeaders(req *http.Request) {
	for key, value := range ws.config.Headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Draw-Scanner/1.0")
	}
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Request-ID", utils.GenerateID())
}

func (ws *WebhookSender) record(event Event, err error) {
	status := "sent"
	ws.mu.Lock()
	if err != nil {
		status = "failed"
		ws.stats.Failed++
		msg := err.Error()
		now := time.Now()
		ws.stats.LastError = &msg
		ws.stats.LastErrorTime = &now
	} else {
		ws.stats.Sent++
	}
	ws.mu.Unlock()

	if err != nil {
		ws.logger.WithFields(logrus.Fields{
			"event":      event.Type,
			"drawing_id": event.DrawingID,
			"error":      err,
		}).Error("Webhook delivery failed")
	} else {
		ws.logger.WithFields(logrus.Fields{
			"event":      event.Type,
			"drawing_id": event.DrawingID,
		}).Debug("Webhook delivered")
	}

	if ws.metricsManager != nil {
		ws.metricsManager.GetPrometheusMetrics().RecordNotification(event.Type, status)
	}
}

// GetStats returns delivery statistics
func (ws *WebhookSender) GetStats() NotifierStats {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.stats
}
