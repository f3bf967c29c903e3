package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// CreateDrawing creates a drawing and records metrics
func (s *StorageWithMetrics) CreateDrawing(ctx context.Context, drawing *models.Drawing) error {
	start := time.Now()
	err := s.Storage.CreateDrawing(ctx, drawing)
	s.record("insert", "lotto_draws", start, err)
	return err
}

// GetEntries reads entries and records metrics
func (s *StorageWithMetrics) GetEntries(ctx context.Context, drawingID int64) ([]*models.Entry, error) {
	start := time.Now()
	entries, err := s.Storage.GetEntries(ctx, drawingID)
	s.record("select", "lotto_entries", start, err)
	return entries, err
}

// WithDrawingTx runs a drawing transaction and records metrics
func (s *StorageWithMetrics) WithDrawingTx(ctx context.Context, drawingID int64, fn func(tx DrawingTx) error) error {
	start := time.Now()
	err := s.Storage.WithDrawingTx(ctx, drawingID, fn)
	s.record("transaction", "lotto_entries", start, err)
	return err
}

// SaveScanRecord saves a scan record and records metrics
func (s *StorageWithMetrics) SaveScanRecord(ctx context.Context, record *models.ScanRecord) error {
	start := time.Now()
	err := s.Storage.SaveScanRecord(ctx, record)
	s.record("insert", "scan_history", start, err)
	return err
}

// AcquireScanLock takes the scan lease and records metrics
func (s *StorageWithMetrics) AcquireScanLock(ctx context.Context, drawingID int64, owner string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.Storage.AcquireScanLock(ctx, drawingID, owner, ttl)
	s.record("lock", "lotto_draws", start, err)
	return ok, err
}

// UpsertBlacklistEntry saves a blacklist entry and records metrics
func (s *StorageWithMetrics) UpsertBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	start := time.Now()
	err := s.Storage.UpsertBlacklistEntry(ctx, entry)
	s.record("upsert", "wallet_blacklist", start, err)
	return err
}
