// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/monitor"
	"github.com/smartdevs17/solana-draw-scanner/internal/service"
	"github.com/smartdevs17/solana-draw-scanner/internal/storage"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         config.ServerConfig
	version        string
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	service        *service.ScanService
	monitor        monitor.Monitor
	metricsManager *metrics.Manager
	logger         *logrus.Entry

	// baseCtx outlives requests; monitors started over HTTP run on it
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewHTTPServer creates a new HTTP server. monitor and metricsManager may be nil.
func NewHTTPServer(
	cfg config.ServerConfig,
	version string,
	store storage.Storage,
	scanService *service.ScanService,
	drawMonitor monitor.Monitor,
	metricsManager *metrics.Manager,
) *HTTPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &HTTPServer{
		config:         cfg,
		version:        version,
		storage:        store,
		service:        scanService,
		monitor:        drawMonitor,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("server"),
		baseCtx:        ctx,
		cancel:         cancel,
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		if s.metricsManager != nil {
			s.router.Handle("/metrics", s.metricsManager.Handler())
		} else {
			s.router.Handle("/metrics", promhttp.Handler())
		}
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Drawing endpoints
	api.HandleFunc("/drawings", s.listDrawingsHandler).Methods("GET")
	api.HandleFunc("/drawings", s.createDrawingHandler).Methods("POST")
	api.HandleFunc("/drawings/scan-all", s.scanAllHandler).Methods("POST")
	api.HandleFunc("/drawings/{id:[0-9]+}", s.getDrawingHandler).Methods("GET")
	api.HandleFunc("/drawings/{id:[0-9]+}/cancel", s.cancelDrawingHandler).Methods("POST")
	api.HandleFunc("/drawings/{id:[0-9]+}/scan", s.scanDrawingHandler).Methods("POST")
	api.HandleFunc("/drawings/{id:[0-9]+}/entries", s.listEntriesHandler).Methods("GET")
	api.HandleFunc("/drawings/{id:[0-9]+}/entries", s.backfillEntryHandler).Methods("POST")
	api.HandleFunc("/drawings/{id:[0-9]+}/clean-blacklisted", s.cleanBlacklistedHandler).Methods("POST")
	api.HandleFunc("/drawings/{id:[0-9]+}/scan-history", s.scanHistoryHandler).Methods("GET")
	api.HandleFunc("/drawings/{id:[0-9]+}/scan-history", s.clearScanHistoryHandler).Methods("DELETE")
	api.HandleFunc("/drawings/{id:[0-9]+}/rejections", s.rejectionsHandler).Methods("GET")

	// Blacklist endpoints
	api.HandleFunc("/tokens/{token}/blacklist", s.listBlacklistHandler).Methods("GET")
	api.HandleFunc("/tokens/{token}/blacklist", s.addBlacklistHandler).Methods("POST")
	api.HandleFunc("/tokens/{token}/blacklist/{wallet}", s.removeBlacklistHandler).Methods("DELETE")

	// Managed token endpoints
	api.HandleFunc("/tokens", s.listTokensHandler).Methods("GET")
	api.HandleFunc("/tokens", s.saveTokenHandler).Methods("POST")

	// Monitor endpoints
	if s.monitor != nil {
		api.HandleFunc("/monitor/status", s.monitorStatusHandler).Methods("GET")
		api.HandleFunc("/monitor/start", s.startMonitorHandler).Methods("POST")
		api.HandleFunc("/monitor/stop", s.stopMonitorHandler).Methods("POST")
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.updateComponentMetrics()
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	m := s.metricsManager.GetPrometheusMetrics()
	m.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	if s.monitor != nil {
		m.UpdateComponentHealth("monitor", s.monitor.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns per component health
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	storageHealthy := true
	var storageError string
	if err := s.storage.Ping(); err != nil {
		storageHealthy = false
		storageError = err.Error()
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	components := map[string]interface{}{
		"storage": map[string]interface{}{
			"healthy": storageHealthy,
			"error":   storageError,
		},
	}
	if s.monitor != nil {
		health := s.monitor.GetHealth()
		components["monitor"] = health
		if !health.Healthy && status == "healthy" {
			status = "degraded"
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"version":    s.version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.service.GetStorageStats(r.Context())
	if err != nil {
		s.writeAppError(w, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"storage":         storageStats,
		"scanner":         s.service.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.monitor != nil {
		stats["monitor"] = s.monitor.GetStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// Monitor Handlers

// monitorStatusHandler gets monitor status
func (s *HTTPServer) monitorStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":   s.monitor.IsRunning(),
		"health":    s.monitor.GetHealth(),
		"stats":     s.monitor.GetStats(),
		"timestamp": time.Now(),
	})
}

// startMonitorHandler starts the monitor
func (s *HTTPServer) startMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor.IsRunning() {
		s.writeError(w, http.StatusConflict, "Monitor is already running", nil)
		return
	}

	if err := s.monitor.Start(s.baseCtx); err != nil {
		s.writeAppError(w, "Failed to start monitor", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Monitor started successfully",
	})
}

// stopMonitorHandler stops the monitor
func (s *HTTPServer) stopMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if !s.monitor.IsRunning() {
		s.writeError(w, http.StatusConflict, "Monitor is not running", nil)
		return
	}

	if err := s.monitor.Stop(); err != nil {
		s.writeAppError(w, "Failed to stop monitor", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Monitor stopped successfully",
	})
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		errorResponse["code"] = utils.CodeOf(err)

		entry := s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		})
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP error")
		} else {
			entry.Debug("HTTP request rejected")
		}
	}

	s.writeJSON(w, status, errorResponse)
}

// writeAppError writes err with the status its error code maps to
func (s *HTTPServer) writeAppError(w http.ResponseWriter, message string, err error) {
	s.writeError(w, utils.HTTPStatus(utils.CodeOf(err)), message, err)
}
