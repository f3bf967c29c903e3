// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/service"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// Monitor defines the periodic drawing scan interface
type Monitor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// RunOnce performs one scan pass over all active drawings
	RunOnce(ctx context.Context) error

	// Statistics and monitoring
	GetStats() *MonitorStats
	GetHealth() *HealthStatus
}

// ActiveScanner scans every active drawing
type ActiveScanner interface {
	ScanAllActive(ctx context.Context) ([]service.DrawingScanResult, error)
}

// DrawMonitor scans all active drawings on a cron schedule
type DrawMonitor struct {
	// Dependencies
	scanner ActiveScanner
	logger  *logrus.Entry

	// Configuration
	config config.SchedulerConfig

	// State management
	mu      sync.RWMutex
	running bool
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats          *MonitorStats
	metricsManager *metrics.Manager
}

// MonitorStats provides scheduler statistics
type MonitorStats struct {
	StartTime       time.Time     `json:"start_time"`
	Uptime          time.Duration `json:"uptime"`
	IsRunning       bool          `json:"is_running"`
	Schedule        string        `json:"schedule"`
	Passes          uint64        `json:"passes"`
	DrawingsScanned uint64        `json:"drawings_scanned"`
	DrawingsSkipped uint64        `json:"drawings_skipped"`
	EntriesAssigned uint64        `json:"entries_assigned"`
	ErrorCount      uint64        `json:"error_count"`
	LastPass        *time.Time    `json:"last_pass,omitempty"`
	LastPassTime    time.Duration `json:"last_pass_duration"`
	NextPass        *time.Time    `json:"next_pass,omitempty"`
	LastError       *string       `json:"last_error,omitempty"`
	LastErrorTime   *time.Time    `json:"last_error_time,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy  bool       `json:"healthy"`
	Running  bool       `json:"running"`
	LastPass *time.Time `json:"last_pass,omitempty"`
	Issues   []string   `json:"issues,omitempty"`
}

// NewDrawMonitor creates a new draw monitor
func NewDrawMonitor(scanner ActiveScanner, cfg config.SchedulerConfig) *DrawMonitor {
	if cfg.Cron == "" {
		cfg.Cron = "*/2 * * * *"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &DrawMonitor{
		scanner: scanner,
		config:  cfg,
		logger:  utils.ComponentLogger("monitor"),
		stats: &MonitorStats{
			StartTime: time.Now(),
			Schedule:  cfg.Cron,
		},
	}
}

// SetMetricsManager sets the metrics manager
func (dm *DrawMonitor) SetMetricsManager(metricsManager *metrics.Manager) {
	dm.metricsManager = metricsManager
}

// Start schedules periodic scan passes. A pass that is still running when
// the next one is due is skipped.
func (dm *DrawMonitor) Start(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running", "")
	}

	cl := &cronLogger{logger: dm.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	dm.ctx, dm.cancel = context.WithCancel(ctx)
	id, err := c.AddFunc(dm.config.Cron, func() {
		if err := dm.RunOnce(dm.ctx); err != nil {
			dm.logger.WithError(err).Error("Scheduled scan pass failed")
		}
	})
	if err != nil {
		dm.cancel()
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid scheduler cron expression", err.Error())
	}

	dm.cron = c
	dm.entryID = id
	dm.running = true
	dm.stats.StartTime = time.Now()
	dm.stats.IsRunning = true
	c.Start()

	if dm.config.RunOnStart {
		dm.wg.Add(1)
		go func() {
			defer dm.wg.Done()
			if err := dm.RunOnce(dm.ctx); err != nil {
				dm.logger.WithError(err).Error("Initial scan pass failed")
			}
		}()
	}

	dm.logger.WithFields(logrus.Fields{
		"schedule":     dm.config.Cron,
		"run_on_start": dm.config.RunOnStart,
	}).Info("Draw monitor started")
	return nil
}

// Stop cancels any running pass and waits for it to return
func (dm *DrawMonitor) Stop() error {
	dm.mu.Lock()
	if !dm.running {
		dm.mu.Unlock()
		return nil
	}
	dm.logger.Info("Stopping draw monitor")
	dm.running = false
	dm.stats.IsRunning = false
	dm.cancel()
	stopped := dm.cron.Stop()
	dm.mu.Unlock()

	<-stopped.Done()
	dm.wg.Wait()

	dm.logger.Info("Draw monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (dm *DrawMonitor) IsRunning() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.running
}

// RunOnce scans all active drawings once, bounded by the configured timeout
func (dm *DrawMonitor) RunOnce(ctx context.Context) error {
	passCtx, cancel := context.WithTimeout(ctx, dm.config.Timeout)
	defer cancel()

	startTime := time.Now()
	results, err := dm.scanner.ScanAllActive(passCtx)
	duration := time.Since(startTime)

	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.stats.Passes++
	dm.stats.LastPass = &startTime
	dm.stats.LastPassTime = duration

	var scanned, skipped, failed, entries int
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Error != "":
			failed++
		case r.Result != nil:
			scanned++
			entries += r.Result.NewEntries
		}
	}
	dm.stats.DrawingsScanned += uint64(scanned)
	dm.stats.DrawingsSkipped += uint64(skipped)
	dm.stats.EntriesAssigned += uint64(entries)
	dm.stats.ErrorCount += uint64(failed)

	if err != nil {
		dm.recordError(err)
	}
	if dm.metricsManager != nil {
		dm.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("scheduler", err == nil && failed == 0)
	}

	dm.logger.WithFields(logrus.Fields{
		"drawings":    len(results),
		"scanned":     scanned,
		"skipped":     skipped,
		"failed":      failed,
		"new_entries": entries,
		"duration":    duration,
	}).Info("Scan pass finished")
	return err
}

// GetStats returns a snapshot of the monitor statistics
func (dm *DrawMonitor) GetStats() *MonitorStats {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	stats := *dm.stats
	if dm.running {
		stats.Uptime = time.Since(dm.stats.StartTime)
		if next := dm.cron.Entry(dm.entryID).Next; !next.IsZero() {
			stats.NextPass = &next
		}
	}
	return &stats
}

// GetHealth reports whether passes are running and succeeding
func (dm *DrawMonitor) GetHealth() *HealthStatus {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	health := &HealthStatus{
		Healthy:  true,
		Running:  dm.running,
		LastPass: dm.stats.LastPass,
	}
	if !dm.running {
		health.Healthy = false
		health.Issues = append(health.Issues, "Scheduler is not running")
	}
	if dm.stats.LastErrorTime != nil && dm.stats.LastPass != nil && !dm.stats.LastErrorTime.Before(*dm.stats.LastPass) {
		health.Healthy = false
		health.Issues = append(health.Issues, "Last scan pass failed: "+*dm.stats.LastError)
	}
	return health
}

// recordError must be called with dm.mu held
func (dm *DrawMonitor) recordError(err error) {
	now := time.Now()
	msg := err.Error()
	dm.stats.ErrorCount++
	dm.stats.LastError = &msg
	dm.stats.LastErrorTime = &now
}

// cronLogger routes cron's internal logging to logrus
type cronLogger struct {
	logger *logrus.Entry
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			f[key] = keysAndValues[i+1]
		}
	}
	return f
}
