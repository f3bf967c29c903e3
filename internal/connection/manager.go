package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// Manager defines the connection manager interface
type Manager interface {
	Provider
	HealthCheck(ctx context.Context) error
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager serves Provider over one or more Solana RPC endpoints.
// A transient failure moves the manager to the next endpoint.
type ConnectionManager struct {
	config         *config.SolanaConfig
	urls           []string
	clients        []*rpc.Client
	currentIndex   int
	commitment     rpc.CommitmentType
	limiter        *rate.Limiter
	mu             sync.RWMutex
	logger         *logrus.Logger
	stats          ConnectionStats
	isHealthy      bool
	metricsManager *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Failovers       uint64    `json:"failovers"`
	CurrentURL      string    `json:"current_url"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.SolanaConfig) *ConnectionManager {
	urls := []string{cfg.RPCURL}
	urls = append(urls, cfg.BackupURLs...)

	clients := make([]*rpc.Client, len(urls))
	for i, url := range urls {
		clients[i] = rpc.New(url)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	commitment := rpc.CommitmentType(cfg.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}

	return &ConnectionManager{
		config:     cfg,
		urls:       urls,
		clients:    clients,
		commitment: commitment,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     utils.GetLogger(),
		stats: ConnectionStats{
			CurrentURL: cfg.RPCURL,
		},
	}
}

// SetMetricsManager attaches metrics recording
func (cm *ConnectionManager) SetMetricsManager(m *metrics.Manager) {
	cm.metricsManager = m
}

// GetSignatures returns one page of an address' signatures, newest first
func (cm *ConnectionManager) GetSignatures(ctx context.Context, address string, query SignatureQuery) ([]models.SignatureRef, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid address", address)
	}
	opts, err := signatureOpts(query, cm.commitment)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid signature cursor", err.Error())
	}

	var out []*rpc.TransactionSignature
	err = cm.call(ctx, "getSignaturesForAddress", func(ctx context.Context, client *rpc.Client) error {
		var callErr error
		out, callErr = client.GetSignaturesForAddressWithOpts(ctx, account, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return convertSignatures(out), nil
}

// GetTransaction returns a resolved transaction with its token balances
func (cm *ConnectionManager) GetTransaction(ctx context.Context, signature string) (*models.Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid signature", signature)
	}

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Commitment:                     cm.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var res *rpc.GetTransactionResult
	err = cm.call(ctx, "getTransaction", func(ctx context.Context, client *rpc.Client) error {
		var callErr error
		res, callErr = client.GetTransaction(ctx, sig, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, rpc.ErrNotFound
	}
	return convertTransaction(signature, res), nil
}

// call runs fn against the current endpoint, failing over on transient errors
func (cm *ConnectionManager) call(ctx context.Context, method string, fn func(ctx context.Context, client *rpc.Client) error) error {
	var lastErr error

	for attempt := 0; attempt < len(cm.clients); attempt++ {
		if err := cm.limiter.Wait(ctx); err != nil {
			return err
		}

		index, client := cm.current()
		callCtx, cancel := cm.withTimeout(ctx)
		start := time.Now()
		err := fn(callCtx, client)
		cancel()
		cm.recordRequest(method, err, time.Since(start))
		if err == nil {
			return nil
		}
		if errors.Is(err, rpc.ErrNotFound) || ctx.Err() != nil || !IsTransient(err) {
			return err
		}

		lastErr = err
		cm.logger.WithFields(logrus.Fields{
			"method": method,
			"url":    cm.urls[index],
			"error":  err,
		}).Warn("RPC call failed, trying next endpoint")
		cm.failover(index)
	}

	return lastErr
}

func (cm *ConnectionManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cm.config.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, cm.config.RequestTimeout)
}

func (cm *ConnectionManager) current() (int, *rpc.Client) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.currentIndex, cm.clients[cm.currentIndex]
}

// failover advances past the endpoint at index unless another caller already did
func (cm *ConnectionManager) failover(index int) {
	if len(cm.clients) < 2 {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.currentIndex != index {
		return
	}
	cm.currentIndex = (index + 1) % len(cm.clients)
	cm.stats.Failovers++
	cm.stats.CurrentURL = cm.urls[cm.currentIndex]
	cm.logger.WithField("url", cm.stats.CurrentURL).Info("Switched RPC endpoint")
}

func (cm *ConnectionManager) recordRequest(method string, err error, duration time.Duration) {
	status := "success"
	cm.mu.Lock()
	cm.stats.TotalRequests++
	if err != nil {
		cm.stats.FailedRequests++
		status = "error"
	}
	cm.mu.Unlock()

	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordRPCRequest(method, status, duration)
	}
}

// HealthCheck asks the current endpoint for its health
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	var health string
	err := cm.call(ctx, "getHealth", func(ctx context.Context, client *rpc.Client) error {
		var callErr error
		health, callErr = client.GetHealth(ctx)
		return callErr
	})

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.stats.LastHealthCheck = time.Now()

	if err == nil && health != "ok" {
		err = utils.NewAppError(utils.ErrCodeConnection, "Node reported unhealthy", health)
	}
	if err != nil {
		cm.isHealthy = false
		cm.stats.IsHealthy = false
		if _, ok := err.(*utils.AppError); ok {
			return err
		}
		return utils.NewAppError(utils.ErrCodeConnection, "Health check failed", err.Error())
	}

	cm.isHealthy = true
	cm.stats.IsHealthy = true
	cm.logger.WithField("url", cm.stats.CurrentURL).Debug("Health check passed")
	return nil
}

// IsConnected reports the result of the last health check
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isHealthy
}

// Close closes every endpoint client
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for _, client := range cm.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cm.isHealthy = false
	cm.logger.Info("Connection manager closed")
	return firstErr
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}
