// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/solana-draw-scanner/internal/models"
)

// Storage defines the persistence operations for drawings, entries and scans
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Drawing operations
	CreateDrawing(ctx context.Context, drawing *models.Drawing) error
	GetDrawing(ctx context.Context, id int64) (*models.Drawing, error)
	ListDrawings(ctx context.Context, filter models.DrawingFilter) ([]*models.Drawing, error)
	GetActiveDrawings(ctx context.Context) ([]*models.Drawing, error)
	UpdateDrawingStatus(ctx context.Context, id int64, status models.DrawingStatus) error

	// Scan lease. Acquire succeeds when the lease is free or expired.
	AcquireScanLock(ctx context.Context, drawingID int64, owner string, ttl time.Duration) (bool, error)
	ReleaseScanLock(ctx context.Context, drawingID int64, owner string) error

	// Entry reads
	GetEntries(ctx context.Context, drawingID int64) ([]*models.Entry, error)
	CountEntries(ctx context.Context, drawingID int64) (int, error)
	EntryExistsBySignature(ctx context.Context, drawingID int64, signature string) (bool, error)

	// Entry mutations happen inside a drawing transaction
	WithDrawingTx(ctx context.Context, drawingID int64, fn func(tx DrawingTx) error) error

	// Scan history
	SaveScanRecord(ctx context.Context, record *models.ScanRecord) error
	GetLatestScan(ctx context.Context, drawingID int64) (*models.ScanRecord, error)
	GetScanHistory(ctx context.Context, drawingID int64, limit int) ([]*models.ScanRecord, error)
	GetRejections(ctx context.Context, drawingID int64) ([]*models.Rejection, error)
	// ClearScanHistory drops scan records and blacklist rejections; it
	// returns the number of scan records deleted.
	ClearScanHistory(ctx context.Context, drawingID int64) (int64, error)

	// Blacklist
	UpsertBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error
	DeleteBlacklistEntry(ctx context.Context, tokenAddress, walletAddress string) (bool, error)
	GetBlacklist(ctx context.Context, tokenAddress string) ([]*models.BlacklistEntry, error)

	// Managed tokens
	SaveManagedToken(ctx context.Context, token *models.ManagedToken) error
	GetManagedTokens(ctx context.Context, activeOnly bool) ([]*models.ManagedToken, error)

	// Statistics
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// DrawingTx is a unit of work over one drawing's entry set. The drawing row
// is read when the transaction starts and stays locked until it ends.
type DrawingTx interface {
	Drawing() *models.Drawing
	Entries(ctx context.Context) ([]*models.Entry, error)
	SignatureExists(ctx context.Context, signature string) (bool, error)
	// InsertEntry returns utils.ErrDuplicateSignature when the signature is
	// already assigned in the drawing.
	InsertEntry(ctx context.Context, entry *models.Entry) error
	SetTicketNumber(ctx context.Context, entryID int64, number int) error
	DeleteEntry(ctx context.Context, entryID int64) error
	// SetFilledSlots stores the count and applies the completion rule.
	// EndTime is never touched; completion is tracked in CompletedAt.
	SetFilledSlots(ctx context.Context, filled int) error
	// RejectedSignatures maps the drawing's rejected signatures to their reason
	RejectedSignatures(ctx context.Context) (map[string]string, error)
	// RecordRejection is a no-op when the signature is already rejected
	RecordRejection(ctx context.Context, rejection *models.Rejection) error
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalDrawings    int64      `json:"total_drawings"`
	ActiveDrawings   int64      `json:"active_drawings"`
	TotalEntries     int64      `json:"total_entries"`
	TotalBlacklisted int64      `json:"total_blacklisted"`
	TotalScans       int64      `json:"total_scans"`
	LastScanAt       *time.Time `json:"last_scan_at,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
