// File: internal/storage/sql_store.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// dialect captures the differences between the SQL backends
type dialect struct {
	name              string
	numbered          bool   // $1 placeholders instead of ?
	forUpdate         string // row lock suffix for SELECT
	isUniqueViolation func(err error) bool
}

// sqlStore implements the shared part of Storage on database/sql
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logrus.Logger
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const drawingColumns = `id, draw_name, token_address, token_symbol, min_usd_amount,
	start_time, end_time, total_slots, filled_slots, status, completed_at, created_at`

const entryColumns = `id, draw_id, lotto_number, wallet_address, transaction_signature,
	token_amount, usd_amount, event_time, verified, notes, created_at`

const scanColumns = `id, draw_id, last_signature, transactions_found, entries_added,
	entries_filtered, below_minimum, completed, scanned_at`

// rebind rewrites ? placeholders for dialects with numbered parameters
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db, nil
}

// dbTime normalizes timestamps to the precision both backends keep
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func dbError(message string, err error) error {
	return utils.NewAppError(utils.ErrCodeDatabase, message, err.Error())
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return db.Ping()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.WithField("dialect", s.dialect.name).Info("Database connection closed")
		return err
	}
	return nil
}

func scanDrawing(row rowScanner) (*models.Drawing, error) {
	var d models.Drawing
	var status string
	if err := row.Scan(&d.ID, &d.Name, &d.TokenAddress, &d.TokenSymbol, &d.MinUSDAmount,
		&d.StartTime, &d.EndTime, &d.TotalSlots, &d.FilledSlots, &status, &d.CompletedAt, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Status = models.DrawingStatus(status)
	d.StartTime = d.StartTime.UTC()
	if d.EndTime != nil {
		end := d.EndTime.UTC()
		d.EndTime = &end
	}
	if d.CompletedAt != nil {
		completed := d.CompletedAt.UTC()
		d.CompletedAt = &completed
	}
	return &d, nil
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var e models.Entry
	if err := row.Scan(&e.ID, &e.DrawingID, &e.TicketNumber, &e.WalletAddress, &e.Signature,
		&e.TokenAmount, &e.USDAmount, &e.EventTime, &e.Verified, &e.Notes, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.EventTime = e.EventTime.UTC()
	return &e, nil
}

func scanRecord(row rowScanner) (*models.ScanRecord, error) {
	var r models.ScanRecord
	if err := row.Scan(&r.ID, &r.DrawingID, &r.LastSignature, &r.TransactionsFound, &r.EntriesAdded,
		&r.EntriesFiltered, &r.BelowMinimum, &r.Completed, &r.ScannedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateDrawing inserts a drawing and fills in its id
func (s *sqlStore) CreateDrawing(ctx context.Context, drawing *models.Drawing) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if drawing.TotalSlots <= 0 {
		drawing.TotalSlots = models.DefaultTotalSlots
	}
	if drawing.Status == "" {
		drawing.Status = models.DrawingActive
	}
	drawing.CreatedAt = dbTime(time.Now())
	drawing.StartTime = dbTime(drawing.StartTime)

	var endTime *time.Time
	if drawing.EndTime != nil {
		t := dbTime(*drawing.EndTime)
		endTime = &t
	}

	query := s.rebind(`
		INSERT INTO lotto_draws
		(draw_name, token_address, token_symbol, min_usd_amount, start_time, end_time,
		 total_slots, filled_slots, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err = db.QueryRowContext(ctx, query,
		drawing.Name, drawing.TokenAddress, drawing.TokenSymbol, drawing.MinUSDAmount.String(),
		drawing.StartTime, endTime, drawing.TotalSlots, drawing.FilledSlots,
		string(drawing.Status), drawing.CreatedAt).Scan(&drawing.ID)
	if err != nil {
		return dbError("Failed to create drawing", err)
	}
	return nil
}

// GetDrawing returns a drawing by id
func (s *sqlStore) GetDrawing(ctx context.Context, id int64) (*models.Drawing, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return s.getDrawing(ctx, db, id, "")
}

func (s *sqlStore) getDrawing(ctx context.Context, q queryer, id int64, suffix string) (*models.Drawing, error) {
	query := s.rebind(`SELECT ` + drawingColumns + ` FROM lotto_draws WHERE id = ?` + suffix)
	drawing, err := scanDrawing(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrCodeDrawingNotFound, "Drawing not found", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, dbError("Failed to get drawing", err)
	}
	return drawing, nil
}

// ListDrawings lists drawings, newest first
func (s *sqlStore) ListDrawings(ctx context.Context, filter models.DrawingFilter) ([]*models.Drawing, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TokenAddress != "" {
		conditions = append(conditions, "token_address = ?")
		args = append(args, filter.TokenAddress)
	}

	query := `SELECT ` + drawingColumns + ` FROM lotto_draws`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	return s.queryDrawings(ctx, db, s.rebind(query), args...)
}

// GetActiveDrawings returns active drawings that still have free slots
func (s *sqlStore) GetActiveDrawings(ctx context.Context) ([]*models.Drawing, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := s.rebind(`SELECT ` + drawingColumns + ` FROM lotto_draws
		WHERE status = ? AND filled_slots < total_slots ORDER BY id ASC`)
	return s.queryDrawings(ctx, db, query, string(models.DrawingActive))
}

func (s *sqlStore) queryDrawings(ctx context.Context, q queryer, query string, args ...interface{}) ([]*models.Drawing, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("Failed to query drawings", err)
	}
	defer rows.Close()

	var drawings []*models.Drawing
	for rows.Next() {
		drawing, err := scanDrawing(rows)
		if err != nil {
			return nil, dbError("Failed to scan drawing", err)
		}
		drawings = append(drawings, drawing)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate drawings", err)
	}
	return drawings, nil
}

// UpdateDrawingStatus sets the status of a drawing
func (s *sqlStore) UpdateDrawingStatus(ctx context.Context, id int64, status models.DrawingStatus) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, s.rebind(`UPDATE lotto_draws SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return dbError("Failed to update drawing status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return utils.NewAppError(utils.ErrCodeDrawingNotFound, "Drawing not found", strconv.FormatInt(id, 10))
	}
	return nil
}

// AcquireScanLock takes the drawing's scan lease with a compare-and-swap update
func (s *sqlStore) AcquireScanLock(ctx context.Context, drawingID int64, owner string, ttl time.Duration) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	now := time.Now()
	res, err := db.ExecContext(ctx, s.rebind(`
		UPDATE lotto_draws SET scan_lock_owner = ?, scan_lock_expires = ?
		WHERE id = ? AND (scan_lock_owner IS NULL OR scan_lock_expires < ?)`),
		owner, now.Add(ttl).UnixMilli(), drawingID, now.UnixMilli())
	if err != nil {
		return false, dbError("Failed to acquire scan lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError("Failed to acquire scan lock", err)
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish a held lease from a missing drawing
	if _, err := s.getDrawing(ctx, db, drawingID, ""); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseScanLock frees the lease if owner still holds it
func (s *sqlStore) ReleaseScanLock(ctx context.Context, drawingID int64, owner string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.rebind(`
		UPDATE lotto_draws SET scan_lock_owner = NULL, scan_lock_expires = NULL
		WHERE id = ? AND scan_lock_owner = ?`), drawingID, owner)
	if err != nil {
		return dbError("Failed to release scan lock", err)
	}
	return nil
}

// GetEntries returns a drawing's entries ordered by ticket number
func (s *sqlStore) GetEntries(ctx context.Context, drawingID int64) ([]*models.Entry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return s.getEntries(ctx, db, drawingID)
}

func (s *sqlStore) getEntries(ctx context.Context, q queryer, drawingID int64) ([]*models.Entry, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`SELECT `+entryColumns+` FROM lotto_entries
		WHERE draw_id = ? ORDER BY lotto_number ASC`), drawingID)
	if err != nil {
		return nil, dbError("Failed to query entries", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, dbError("Failed to scan entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate entries", err)
	}
	return entries, nil
}

// CountEntries returns the number of entries of a drawing
func (s *sqlStore) CountEntries(ctx context.Context, drawingID int64) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM lotto_entries WHERE draw_id = ?`), drawingID).Scan(&count)
	if err != nil {
		return 0, dbError("Failed to count entries", err)
	}
	return count, nil
}

// EntryExistsBySignature checks if a signature is already assigned in a drawing
func (s *sqlStore) EntryExistsBySignature(ctx context.Context, drawingID int64, signature string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	return s.signatureExists(ctx, db, drawingID, signature)
}

func (s *sqlStore) signatureExists(ctx context.Context, q queryer, drawingID int64, signature string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM lotto_entries
		WHERE draw_id = ? AND transaction_signature = ?`), drawingID, signature).Scan(&count)
	if err != nil {
		return false, dbError("Failed to check signature", err)
	}
	return count > 0, nil
}

// WithDrawingTx runs fn in a transaction holding the drawing row
func (s *sqlStore) WithDrawingTx(ctx context.Context, drawingID int64, fn func(tx DrawingTx) error) (err error) {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("Failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WithFields(logrus.Fields{
					"drawing_id": drawingID,
					"error":      rbErr,
				}).Error("Failed to roll back drawing transaction")
			}
		}
	}()

	drawing, err := s.getDrawing(ctx, tx, drawingID, s.dialect.forUpdate)
	if err != nil {
		return err
	}

	if err = fn(&sqlDrawingTx{store: s, tx: tx, drawing: drawing}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return dbError("Failed to commit transaction", err)
	}
	return nil
}

// sqlDrawingTx implements DrawingTx over a *sql.Tx
type sqlDrawingTx struct {
	store   *sqlStore
	tx      *sql.Tx
	drawing *models.Drawing
}

func (t *sqlDrawingTx) Drawing() *models.Drawing {
	return t.drawing
}

func (t *sqlDrawingTx) Entries(ctx context.Context) ([]*models.Entry, error) {
	return t.store.getEntries(ctx, t.tx, t.drawing.ID)
}

func (t *sqlDrawingTx) SignatureExists(ctx context.Context, signature string) (bool, error) {
	return t.store.signatureExists(ctx, t.tx, t.drawing.ID, signature)
}

func (t *sqlDrawingTx) InsertEntry(ctx context.Context, entry *models.Entry) error {
	entry.DrawingID = t.drawing.ID
	entry.EventTime = dbTime(entry.EventTime)
	entry.CreatedAt = dbTime(time.Now())

	query := t.store.rebind(`
		INSERT INTO lotto_entries
		(draw_id, lotto_number, wallet_address, transaction_signature, token_amount,
		 usd_amount, event_time, verified, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (draw_id, transaction_signature) WHERE transaction_signature IS NOT NULL DO NOTHING
		RETURNING id`)

	err := t.tx.QueryRowContext(ctx, query,
		entry.DrawingID, entry.TicketNumber, entry.WalletAddress, entry.Signature,
		entry.TokenAmount.String(), entry.USDAmount.String(), entry.EventTime,
		entry.Verified, entry.Notes, entry.CreatedAt).Scan(&entry.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return utils.NewAppError(utils.ErrCodeDuplicateSignature,
			"Signature already assigned in drawing", entry.SignatureValue())
	case err != nil && t.store.dialect.isUniqueViolation(err):
		return utils.NewAppError(utils.ErrCodeDatabase,
			"Ticket number already taken", strconv.Itoa(entry.TicketNumber))
	case err != nil:
		return dbError("Failed to insert entry", err)
	}
	return nil
}

func (t *sqlDrawingTx) SetTicketNumber(ctx context.Context, entryID int64, number int) error {
	_, err := t.tx.ExecContext(ctx, t.store.rebind(`
		UPDATE lotto_entries SET lotto_number = ? WHERE id = ? AND draw_id = ?`),
		number, entryID, t.drawing.ID)
	if err != nil {
		return dbError("Failed to update ticket number", err)
	}
	return nil
}

func (t *sqlDrawingTx) DeleteEntry(ctx context.Context, entryID int64) error {
	_, err := t.tx.ExecContext(ctx, t.store.rebind(`
		DELETE FROM lotto_entries WHERE id = ? AND draw_id = ?`), entryID, t.drawing.ID)
	if err != nil {
		return dbError("Failed to delete entry", err)
	}
	return nil
}

func (t *sqlDrawingTx) SetFilledSlots(ctx context.Context, filled int) error {
	d := t.drawing
	status := d.Status
	completedAt := d.CompletedAt

	switch {
	case filled >= d.TotalSlots && status == models.DrawingActive:
		status = models.DrawingCompleted
		now := dbTime(time.Now())
		completedAt = &now
	case filled < d.TotalSlots && status == models.DrawingCompleted:
		// Entries were removed from a full drawing; it accepts entries again
		status = models.DrawingActive
		completedAt = nil
	}

	_, err := t.tx.ExecContext(ctx, t.store.rebind(`
		UPDATE lotto_draws SET filled_slots = ?, status = ?, completed_at = ? WHERE id = ?`),
		filled, string(status), completedAt, d.ID)
	if err != nil {
		return dbError("Failed to update filled slots", err)
	}

	d.FilledSlots = filled
	d.Status = status
	d.CompletedAt = completedAt
	return nil
}

func (t *sqlDrawingTx) RejectedSignatures(ctx context.Context) (map[string]string, error) {
	rows, err := t.tx.QueryContext(ctx, t.store.rebind(`
		SELECT transaction_signature, reason FROM scan_rejections WHERE draw_id = ?`), t.drawing.ID)
	if err != nil {
		return nil, dbError("Failed to query rejections", err)
	}
	defer rows.Close()

	rejected := make(map[string]string)
	for rows.Next() {
		var signature, reason string
		if err := rows.Scan(&signature, &reason); err != nil {
			return nil, dbError("Failed to scan rejection", err)
		}
		rejected[signature] = reason
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate rejections", err)
	}
	return rejected, nil
}

func (t *sqlDrawingTx) RecordRejection(ctx context.Context, rejection *models.Rejection) error {
	rejection.DrawingID = t.drawing.ID
	rejection.CreatedAt = dbTime(time.Now())

	_, err := t.tx.ExecContext(ctx, t.store.rebind(`
		INSERT INTO scan_rejections (draw_id, transaction_signature, wallet_address, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (draw_id, transaction_signature) DO NOTHING`),
		rejection.DrawingID, rejection.Signature, rejection.WalletAddress, rejection.Reason, rejection.CreatedAt)
	if err != nil {
		return dbError("Failed to record rejection", err)
	}
	return nil
}

// SaveScanRecord appends a row to the drawing's scan history
func (s *sqlStore) SaveScanRecord(ctx context.Context, record *models.ScanRecord) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if record.ScannedAt.IsZero() {
		record.ScannedAt = time.Now()
	}
	record.ScannedAt = dbTime(record.ScannedAt)

	query := s.rebind(`
		INSERT INTO scan_history
		(draw_id, last_signature, transactions_found, entries_added, entries_filtered,
		 below_minimum, completed, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err = db.QueryRowContext(ctx, query,
		record.DrawingID, record.LastSignature, record.TransactionsFound, record.EntriesAdded,
		record.EntriesFiltered, record.BelowMinimum, record.Completed, record.ScannedAt).Scan(&record.ID)
	if err != nil {
		return dbError("Failed to save scan record", err)
	}
	return nil
}

// GetLatestScan returns the most recent completed scan, or nil if there is none
func (s *sqlStore) GetLatestScan(ctx context.Context, drawingID int64) (*models.ScanRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := s.rebind(`SELECT ` + scanColumns + ` FROM scan_history
		WHERE draw_id = ? AND completed = ? ORDER BY scanned_at DESC, id DESC LIMIT 1`)
	record, err := scanRecord(db.QueryRowContext(ctx, query, drawingID, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("Failed to get latest scan", err)
	}
	return record, nil
}

// GetScanHistory returns the newest scan records of a drawing
func (s *sqlStore) GetScanHistory(ctx context.Context, drawingID int64, limit int) ([]*models.ScanRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, s.rebind(`SELECT `+scanColumns+` FROM scan_history
		WHERE draw_id = ? ORDER BY scanned_at DESC, id DESC LIMIT ?`), drawingID, limit)
	if err != nil {
		return nil, dbError("Failed to query scan history", err)
	}
	defer rows.Close()

	var records []*models.ScanRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, dbError("Failed to scan scan record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate scan history", err)
	}
	return records, nil
}

// GetRejections returns the signatures a drawing turned away, oldest first
func (s *sqlStore) GetRejections(ctx context.Context, drawingID int64) ([]*models.Rejection, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, s.rebind(`
		SELECT draw_id, transaction_signature, wallet_address, reason, created_at
		FROM scan_rejections WHERE draw_id = ? ORDER BY id ASC`), drawingID)
	if err != nil {
		return nil, dbError("Failed to query rejections", err)
	}
	defer rows.Close()

	var rejections []*models.Rejection
	for rows.Next() {
		var r models.Rejection
		if err := rows.Scan(&r.DrawingID, &r.Signature, &r.WalletAddress, &r.Reason, &r.CreatedAt); err != nil {
			return nil, dbError("Failed to scan rejection", err)
		}
		rejections = append(rejections, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate rejections", err)
	}
	return rejections, nil
}

// ClearScanHistory deletes every scan record and blacklist rejection of a
// drawing. Below-minimum rejections are permanent.
func (s *sqlStore) ClearScanHistory(ctx context.Context, drawingID int64) (n int64, err error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbError("Failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM scan_history WHERE draw_id = ?`), drawingID)
	if err != nil {
		return 0, dbError("Failed to clear scan history", err)
	}
	n, _ = res.RowsAffected()

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM scan_rejections WHERE draw_id = ? AND reason <> ?`),
		drawingID, models.RejectionBelowMinimum); err != nil {
		return 0, dbError("Failed to clear scan rejections", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, dbError("Failed to commit transaction", err)
	}
	return n, nil
}

// UpsertBlacklistEntry adds a wallet to a token's blacklist or updates its reason
func (s *sqlStore) UpsertBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if entry.Reason == "" {
		entry.Reason = "manual"
	}
	entry.CreatedAt = dbTime(time.Now())

	query := s.rebind(`
		INSERT INTO wallet_blacklist (token_address, wallet_address, reason, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token_address, wallet_address) DO UPDATE SET
			reason = excluded.reason,
			notes = excluded.notes
		RETURNING id`)
	err = db.QueryRowContext(ctx, query,
		entry.TokenAddress, entry.WalletAddress, entry.Reason, entry.Notes, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return dbError("Failed to save blacklist entry", err)
	}
	return nil
}

// DeleteBlacklistEntry removes a wallet from a token's blacklist
func (s *sqlStore) DeleteBlacklistEntry(ctx context.Context, tokenAddress, walletAddress string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, s.rebind(`
		DELETE FROM wallet_blacklist WHERE token_address = ? AND wallet_address = ?`),
		tokenAddress, walletAddress)
	if err != nil {
		return false, dbError("Failed to delete blacklist entry", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetBlacklist returns the blacklist of a token
func (s *sqlStore) GetBlacklist(ctx context.Context, tokenAddress string) ([]*models.BlacklistEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, s.rebind(`
		SELECT id, token_address, wallet_address, reason, notes, created_at
		FROM wallet_blacklist WHERE token_address = ? ORDER BY id ASC`), tokenAddress)
	if err != nil {
		return nil, dbError("Failed to query blacklist", err)
	}
	defer rows.Close()

	var entries []*models.BlacklistEntry
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.TokenAddress, &e.WalletAddress, &e.Reason, &e.Notes, &e.CreatedAt); err != nil {
			return nil, dbError("Failed to scan blacklist entry", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate blacklist", err)
	}
	return entries, nil
}

// SaveManagedToken inserts or updates a managed token
func (s *sqlStore) SaveManagedToken(ctx context.Context, token *models.ManagedToken) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	now := dbTime(time.Now())
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	_, err = db.ExecContext(ctx, s.rebind(`
		INSERT INTO managed_tokens (token_address, token_symbol, token_name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (token_address) DO UPDATE SET
			token_symbol = excluded.token_symbol,
			token_name = excluded.token_name,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`),
		token.TokenAddress, token.Symbol, token.Name, token.Active, dbTime(token.CreatedAt), token.UpdatedAt)
	if err != nil {
		return dbError("Failed to save managed token", err)
	}
	return nil
}

// GetManagedTokens lists managed tokens
func (s *sqlStore) GetManagedTokens(ctx context.Context, activeOnly bool) ([]*models.ManagedToken, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT token_address, token_symbol, token_name, is_active, created_at, updated_at FROM managed_tokens`
	var args []interface{}
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY token_symbol ASC`

	rows, err := db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, dbError("Failed to query managed tokens", err)
	}
	defer rows.Close()

	var tokens []*models.ManagedToken
	for rows.Next() {
		var t models.ManagedToken
		if err := rows.Scan(&t.TokenAddress, &t.Symbol, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, dbError("Failed to scan managed token", err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Failed to iterate managed tokens", err)
	}
	return tokens, nil
}

// GetStorageStats returns row counts across the schema
func (s *sqlStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{}
	counts := []struct {
		query string
		args  []interface{}
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM lotto_draws`, nil, &stats.TotalDrawings},
		{`SELECT COUNT(*) FROM lotto_draws WHERE status = ?`, []interface{}{string(models.DrawingActive)}, &stats.ActiveDrawings},
		{`SELECT COUNT(*) FROM lotto_entries`, nil, &stats.TotalEntries},
		{`SELECT COUNT(*) FROM wallet_blacklist`, nil, &stats.TotalBlacklisted},
		{`SELECT COUNT(*) FROM scan_history`, nil, &stats.TotalScans},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, s.rebind(c.query), c.args...).Scan(c.dest); err != nil {
			return nil, dbError("Failed to collect storage stats", err)
		}
	}

	var lastScan time.Time
	err = db.QueryRowContext(ctx, `SELECT scanned_at FROM scan_history ORDER BY scanned_at DESC LIMIT 1`).Scan(&lastScan)
	switch {
	case err == nil:
		stats.LastScanAt = &lastScan
	case !errors.Is(err, sql.ErrNoRows):
		return nil, dbError("Failed to collect storage stats", err)
	}

	return stats, nil
}
