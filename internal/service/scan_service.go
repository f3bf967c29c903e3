package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/solana-draw-scanner/internal/assignment"
	"github.com/smartdevs17/solana-draw-scanner/internal/blacklist"
	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/internal/notification"
	"github.com/smartdevs17/solana-draw-scanner/internal/scanner"
	"github.com/smartdevs17/solana-draw-scanner/internal/storage"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// BuyScanner produces the qualifying buys of a drawing
type BuyScanner interface {
	Scan(ctx context.Context, drawing *models.Drawing, resumeFrom string) (*scanner.Result, error)
}

// ScanService runs scans, backfills and administrative actions against drawings.
// Every entry mutation goes through the assignment engine inside a drawing
// transaction; scans additionally hold the drawing's persisted scan lease.
type ScanService struct {
	storage        storage.Storage
	scanner        BuyScanner
	engine         *assignment.Engine
	config         config.ScannerConfig
	logger         *logrus.Entry
	metricsManager *metrics.Manager
	notifier       notification.Notifier

	mu    sync.RWMutex
	stats *ServiceStats
	wg    sync.WaitGroup
}

// ServiceStats tracks scan activity of this process
type ServiceStats struct {
	ScansRun        uint64     `json:"scans_run"`
	ScansFailed     uint64     `json:"scans_failed"`
	ScansSkipped    uint64     `json:"scans_skipped"`
	EntriesAssigned uint64     `json:"entries_assigned"`
	EntriesBackfill uint64     `json:"entries_backfilled"`
	LastScanAt      *time.Time `json:"last_scan_at,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
	LastErrorAt     *time.Time `json:"last_error_at,omitempty"`
}

// DrawingScanResult is the outcome of one drawing in a scan-all pass
type DrawingScanResult struct {
	DrawingID int64              `json:"drawId"`
	Result    *models.ScanResult `json:"result,omitempty"`
	Skipped   bool               `json:"skipped"`
	Error     string             `json:"error,omitempty"`
	Code      string             `json:"code,omitempty"`
}

// CleanResult is returned by CleanBlacklisted
type CleanResult struct {
	DrawingID    int64 `json:"drawId"`
	Removed      int   `json:"removed"`
	TotalEntries int   `json:"totalEntries"`
}

// NewScanService creates a new scan service
func NewScanService(store storage.Storage, buyScanner BuyScanner, cfg config.ScannerConfig, metricsManager *metrics.Manager) *ScanService {
	if cfg.MaxConcurrentDrawings <= 0 {
		cfg.MaxConcurrentDrawings = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &ScanService{
		storage:        store,
		scanner:        buyScanner,
		engine:         assignment.NewEngine(),
		config:         cfg,
		logger:         utils.ComponentLogger("scan_service"),
		metricsManager: metricsManager,
		stats:          &ServiceStats{},
	}
}

// SetNotifier enables event delivery for completed drawings and failed scans
func (s *ScanService) SetNotifier(n notification.Notifier) {
	s.notifier = n
}

// ScanDrawing scans one drawing's venue and assigns tickets to new qualifying
// buys. A completed drawing returns an empty result without error.
func (s *ScanService) ScanDrawing(ctx context.Context, drawingID int64) (*models.ScanResult, error) {
	startTime := time.Now()
	log := s.logger.WithField("drawing_id", drawingID)

	drawing, err := s.storage.GetDrawing(ctx, drawingID)
	if err != nil {
		return nil, err
	}

	switch drawing.Status {
	case models.DrawingCompleted:
		return &models.ScanResult{
			DrawingID:    drawing.ID,
			TotalEntries: drawing.FilledSlots,
			TotalSlots:   drawing.TotalSlots,
			Message:      "Drawing is full",
		}, nil
	case models.DrawingActive:
	default:
		return nil, utils.NewAppError(utils.ErrCodeDrawingNotActive, "Drawing is not active", string(drawing.Status))
	}

	owner := uuid.NewString()
	acquired, err := s.storage.AcquireScanLock(ctx, drawingID, owner, s.config.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.recordSkip()
		return nil, utils.NewAppError(utils.ErrCodeScanInProgress, "Scan already in progress", strconv.FormatInt(drawingID, 10))
	}
	defer func() {
		// Release even when ctx is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.storage.ReleaseScanLock(releaseCtx, drawingID, owner); err != nil {
			log.WithError(err).Error("Failed to release scan lock")
		}
	}()

	var resumeFrom string
	latest, err := s.storage.GetLatestScan(ctx, drawingID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.LastSignature != nil {
		resumeFrom = *latest.LastSignature
	}

	scanned, err := s.scanner.Scan(ctx, drawing, resumeFrom)
	if err != nil {
		s.recordFailure(err, startTime)
		if errors.Is(err, utils.ErrUpstreamUnavailable) {
			s.notify(ctx, drawing, notification.EventScanFailed, err.Error())
		}
		return nil, err
	}

	var appended *assignment.AppendResult
	var completed *models.Drawing
	err = s.storage.WithDrawingTx(ctx, drawingID, func(tx storage.DrawingTx) error {
		if _, err := s.engine.RecordRejections(ctx, tx, scanned.Rejections); err != nil {
			return err
		}
		var err error
		appended, err = s.engine.AppendBuys(ctx, tx, scanned.Buys)
		if err == nil && tx.Drawing().Status == models.DrawingCompleted {
			completed = tx.Drawing()
		}
		return err
	})
	if err != nil {
		s.recordFailure(err, startTime)
		return nil, err
	}

	watermark := scanned.NewestSignature
	if watermark == "" {
		watermark = resumeFrom
	}
	record := &models.ScanRecord{
		DrawingID:         drawingID,
		TransactionsFound: scanned.TransactionsExamined,
		EntriesAdded:      len(appended.Added),
		EntriesFiltered:   scanned.Filtered,
		BelowMinimum:      scanned.BelowMinimum + appended.BelowMinimum,
		Completed:         !scanned.Partial,
	}
	if watermark != "" {
		record.LastSignature = &watermark
	}
	if err := s.storage.SaveScanRecord(ctx, record); err != nil {
		// Entries are committed; a lost watermark only costs a deeper rescan
		log.WithError(err).Warn("Failed to save scan record")
	}

	result := &models.ScanResult{
		DrawingID:              drawingID,
		NewEntries:             len(appended.Added),
		TotalEntries:           appended.Total,
		TotalSlots:             drawing.TotalSlots,
		QualifyingTransactions: len(scanned.Buys),
		FilteredWallets:        scanned.Filtered,
		TransactionsExamined:   scanned.TransactionsExamined,
		BelowMinimum:           record.BelowMinimum,
		Degraded:               scanned.Degraded,
		Partial:                scanned.Partial,
		LastSignature:          watermark,
	}
	switch {
	case appended.Closed && appended.Total >= drawing.TotalSlots:
		result.Message = "Drawing is full"
	case scanned.Degraded:
		result.Message = "USD price unavailable, new entries need manual verification"
	case scanned.Partial:
		result.Message = "Scan incomplete, the next scan resumes from the previous watermark"
	}

	s.recordSuccess(result, appended, startTime)
	if completed != nil {
		s.notify(ctx, completed, notification.EventDrawingCompleted, result.Message)
	}
	log.WithFields(logrus.Fields{
		"new_entries":   result.NewEntries,
		"total_entries": result.TotalEntries,
		"total_slots":   result.TotalSlots,
		"duplicates":    appended.Duplicates,
		"rejected":      appended.PreviouslyRejected,
		"partial":       result.Partial,
		"degraded":      result.Degraded,
		"duration":      time.Since(startTime),
	}).Info("Drawing scan completed")

	return result, nil
}

// ScanAllActive scans every active drawing with bounded concurrency. Failures
// are reported per drawing; a drawing whose lease is held is skipped.
func (s *ScanService) ScanAllActive(ctx context.Context) ([]DrawingScanResult, error) {
	drawings, err := s.storage.GetActiveDrawings(ctx)
	if err != nil {
		return nil, err
	}
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateActiveDrawings(len(drawings))
	}

	results := make([]DrawingScanResult, len(drawings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrentDrawings)

	for i, d := range drawings {
		results[i].DrawingID = d.ID
		if d.IsFull() {
			results[i].Skipped = true
			continue
		}
		g.Go(func() error {
			result, err := s.ScanDrawing(gctx, d.ID)
			switch {
			case err == nil:
				results[i].Result = result
			case errors.Is(err, utils.ErrScanInProgress):
				results[i].Skipped = true
				results[i].Code = utils.ErrCodeScanInProgress
			default:
				results[i].Error = err.Error()
				results[i].Code = utils.CodeOf(err)
				s.logger.WithFields(logrus.Fields{
					"drawing_id": d.ID,
					"error":      err,
				}).Error("Drawing scan failed")
			}
			// Only cancellation stops the pass
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// InsertBackfilledEntry inserts a manually supplied entry at its
// chronological position and returns it with its assigned ticket number
func (s *ScanService) InsertBackfilledEntry(ctx context.Context, drawingID int64, req assignment.BackfillRequest) (*models.Entry, error) {
	if !utils.IsValidAddress(req.WalletAddress) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid wallet address", req.WalletAddress)
	}
	if req.Signature != nil {
		if *req.Signature == "" {
			req.Signature = nil
		} else if !utils.IsValidSignature(*req.Signature) {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid transaction signature", *req.Signature)
		}
	}
	if req.EventTime.IsZero() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Event time is required", "")
	}
	if req.TokenAmount.IsNegative() || req.USDAmount.IsNegative() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Amounts must not be negative", "")
	}

	var entry *models.Entry
	var completed *models.Drawing
	err := s.storage.WithDrawingTx(ctx, drawingID, func(tx storage.DrawingTx) error {
		var err error
		entry, err = s.engine.InsertBackfilled(ctx, tx, req)
		if err == nil && tx.Drawing().Status == models.DrawingCompleted {
			completed = tx.Drawing()
		}
		return err
	})
	if err != nil {
		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().RecordBuysFiltered(filterReason(err), 1)
		}
		return nil, err
	}

	s.mu.Lock()
	s.stats.EntriesBackfill++
	s.mu.Unlock()
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordEntriesAssigned("backfill", 1)
	}
	if completed != nil {
		s.notify(ctx, completed, notification.EventDrawingCompleted, "Drawing is full")
	}
	return entry, nil
}

// CleanBlacklisted deletes the entries of currently blacklisted wallets and
// renumbers the survivors
func (s *ScanService) CleanBlacklisted(ctx context.Context, drawingID int64) (*CleanResult, error) {
	drawing, err := s.storage.GetDrawing(ctx, drawingID)
	if err != nil {
		return nil, err
	}
	filter, err := blacklist.Load(ctx, s.storage, drawing.TokenAddress)
	if err != nil {
		return nil, err
	}

	result := &CleanResult{DrawingID: drawingID}
	err = s.storage.WithDrawingTx(ctx, drawingID, func(tx storage.DrawingTx) error {
		var removed []models.Rejection
		var err error
		result.Removed, result.TotalEntries, err = s.engine.RemoveEntries(ctx, tx, func(e *models.Entry) bool {
			if !filter.Contains(e.WalletAddress) {
				return false
			}
			if e.Signature != nil {
				removed = append(removed, models.Rejection{
					Signature:     *e.Signature,
					WalletAddress: e.WalletAddress,
					Reason:        models.RejectionBlacklisted,
				})
			}
			return true
		})
		if err != nil {
			return err
		}
		// Removed buys must not come back on the next scan
		if _, err := s.engine.RecordRejections(ctx, tx, removed); err != nil {
			return err
		}
		drawing = tx.Drawing()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Removed > 0 {
		s.notify(ctx, drawing, notification.EventEntriesCleaned,
			strconv.Itoa(result.Removed)+" blacklisted entries removed")
	}

	s.logger.WithFields(logrus.Fields{
		"drawing_id":    drawingID,
		"removed":       result.Removed,
		"total_entries": result.TotalEntries,
		"blacklisted":   filter.Size(),
	}).Info("Blacklisted entries cleaned")
	return result, nil
}

// ClearScanHistory drops a drawing's watermarks and blacklist rejections so
// the next scan walks its whole history again
func (s *ScanService) ClearScanHistory(ctx context.Context, drawingID int64) (int64, error) {
	if _, err := s.storage.GetDrawing(ctx, drawingID); err != nil {
		return 0, err
	}
	n, err := s.storage.ClearScanHistory(ctx, drawingID)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"drawing_id": drawingID,
		"deleted":    n,
	}).Info("Scan history cleared")
	return n, nil
}

// GetScanHistory returns a drawing's most recent scan records
func (s *ScanService) GetScanHistory(ctx context.Context, drawingID int64, limit int) ([]*models.ScanRecord, error) {
	if _, err := s.storage.GetDrawing(ctx, drawingID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.storage.GetScanHistory(ctx, drawingID, limit)
}

// ListRejections returns the signatures scans of a drawing turned away
func (s *ScanService) ListRejections(ctx context.Context, drawingID int64) ([]*models.Rejection, error) {
	if _, err := s.storage.GetDrawing(ctx, drawingID); err != nil {
		return nil, err
	}
	return s.storage.GetRejections(ctx, drawingID)
}

// GetStats returns a copy of the service statistics
func (s *ScanService) GetStats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.stats
}

func (s *ScanService) recordSuccess(result *models.ScanResult, appended *assignment.AppendResult, startTime time.Time) {
	now := time.Now()
	s.mu.Lock()
	s.stats.ScansRun++
	s.stats.EntriesAssigned += uint64(result.NewEntries)
	s.stats.LastScanAt = &now
	s.mu.Unlock()

	if s.metricsManager == nil {
		return
	}
	m := s.metricsManager.GetPrometheusMetrics()
	status := "success"
	if result.Partial {
		status = "partial"
	}
	m.RecordScan(status, time.Since(startTime))
	m.RecordEntriesAssigned("scan", result.NewEntries)
	m.RecordBuysFiltered("duplicate", appended.Duplicates)
	m.RecordBuysFiltered("previously_rejected", appended.PreviouslyRejected)
}

func (s *ScanService) recordFailure(err error, startTime time.Time) {
	now := time.Now()
	msg := err.Error()
	s.mu.Lock()
	s.stats.ScansFailed++
	s.stats.LastError = &msg
	s.stats.LastErrorAt = &now
	s.mu.Unlock()

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordScan("error", time.Since(startTime))
	}
}

func (s *ScanService) recordSkip() {
	s.mu.Lock()
	s.stats.ScansSkipped++
	s.mu.Unlock()

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordScan("skipped", 0)
	}
}

// notify delivers an event in the background. Delivery failures are logged
// by the notifier and never fail the operation that produced the event.
func (s *ScanService) notify(ctx context.Context, drawing *models.Drawing, eventType, message string) {
	if s.notifier == nil {
		return
	}
	event := notification.Event{
		Type:         eventType,
		DrawingID:    drawing.ID,
		DrawingName:  drawing.Name,
		TokenAddress: drawing.TokenAddress,
		FilledSlots:  drawing.FilledSlots,
		TotalSlots:   drawing.TotalSlots,
		Timestamp:    time.Now().UTC(),
	}
	if eventType == notification.EventScanFailed {
		event.Error = message
	} else {
		event.Message = message
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		_ = s.notifier.Notify(notifyCtx, event)
	}()
}

// Wait blocks until pending notifications are delivered
func (s *ScanService) Wait() {
	s.wg.Wait()
}

func filterReason(err error) string {
	switch utils.CodeOf(err) {
	case utils.ErrCodeBelowMinimum:
		return "below_minimum"
	case utils.ErrCodeOutOfWindow:
		return "out_of_window"
	case utils.ErrCodeDuplicateSignature:
		return "duplicate"
	default:
		return "rejected"
	}
}
