package assignment

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/internal/storage"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// Engine turns buys and backfilled entries into ticket numbers. Every method
// runs inside a storage.DrawingTx, so a failure leaves no partial renumbering.
// Ticket numbers are always 1..N in event time order.
type Engine struct {
	logger *logrus.Entry
}

// AppendResult summarizes one AppendBuys call
type AppendResult struct {
	Added        []*models.Entry
	Duplicates   int
	BelowMinimum int
	OutOfWindow  int
	// PreviouslyRejected counts buys whose signature the drawing already turned away
	PreviouslyRejected int
	// Overflow counts qualifying buys left unassigned because the drawing closed
	Overflow int
	// Closed is set when the drawing is full or no longer active
	Closed bool
	Total  int
}

// BackfillRequest is a manually supplied entry
type BackfillRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Signature     *string         `json:"transaction_signature,omitempty"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	USDAmount     decimal.Decimal `json:"usd_amount"`
	EventTime     time.Time       `json:"timestamp"`
	Notes         *string         `json:"notes,omitempty"`
}

// NewEngine creates a new assignment engine
func NewEngine() *Engine {
	return &Engine{logger: utils.ComponentLogger("assignment")}
}

// AppendBuys assigns tickets to buys in the given order. Buys already
// assigned or rejected in the drawing, below the minimum (when verified) or
// outside the window are skipped. Verified buys below the minimum are
// recorded as rejected. Assignment halts once the drawing is full.
func (e *Engine) AppendBuys(ctx context.Context, tx storage.DrawingTx, buys []models.Buy) (*AppendResult, error) {
	d := tx.Drawing()
	entries, err := tx.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkCapacity(d, entries); err != nil {
		return nil, err
	}
	rejected, err := tx.RejectedSignatures(ctx)
	if err != nil {
		return nil, err
	}

	result := &AppendResult{}
	seen := signatureSet(entries)

	for _, buy := range buys {
		if _, dup := seen[buy.Signature]; dup {
			result.Duplicates++
			continue
		}
		if _, ok := rejected[buy.Signature]; ok {
			result.PreviouslyRejected++
			continue
		}
		if buy.Verified && buy.USDAmount.LessThan(d.MinUSDAmount) {
			if err := tx.RecordRejection(ctx, &models.Rejection{
				Signature:     buy.Signature,
				WalletAddress: buy.WalletAddress,
				Reason:        models.RejectionBelowMinimum,
			}); err != nil {
				return nil, err
			}
			rejected[buy.Signature] = models.RejectionBelowMinimum
			result.BelowMinimum++
			continue
		}
		if !d.InWindow(buy.Timestamp) {
			result.OutOfWindow++
			continue
		}
		if !d.IsActive() || len(entries) >= d.TotalSlots {
			result.Closed = true
			result.Overflow++
			continue
		}

		signature := buy.Signature
		entry := &models.Entry{
			WalletAddress: buy.WalletAddress,
			Signature:     &signature,
			TokenAmount:   buy.TokenAmount,
			USDAmount:     buy.USDAmount,
			EventTime:     buy.Timestamp,
			Verified:      buy.Verified,
		}
		entries, err = e.insert(ctx, tx, entries, entry)
		if err != nil {
			return nil, err
		}
		seen[signature] = struct{}{}
		result.Added = append(result.Added, entry)
	}

	full := d.IsActive() && len(entries) >= d.TotalSlots
	if len(result.Added) > 0 || d.FilledSlots != len(entries) || full {
		if err := tx.SetFilledSlots(ctx, len(entries)); err != nil {
			return nil, err
		}
	}
	result.Total = len(entries)
	if !d.IsActive() || len(entries) >= d.TotalSlots {
		result.Closed = true
	}
	return result, nil
}

// RecordRejections stores the signatures a scan turned away so later scans
// never reconsider them. Signatures already holding a ticket are left alone.
func (e *Engine) RecordRejections(ctx context.Context, tx storage.DrawingTx, rejections []models.Rejection) (int, error) {
	if len(rejections) == 0 {
		return 0, nil
	}
	entries, err := tx.Entries(ctx)
	if err != nil {
		return 0, err
	}
	assigned := signatureSet(entries)

	recorded := 0
	for i := range rejections {
		if _, ok := assigned[rejections[i].Signature]; ok {
			continue
		}
		if err := tx.RecordRejection(ctx, &rejections[i]); err != nil {
			return recorded, err
		}
		recorded++
	}
	return recorded, nil
}

// InsertBackfilled places a manual entry at its chronological position,
// shifting later tickets up by one
func (e *Engine) InsertBackfilled(ctx context.Context, tx storage.DrawingTx, req BackfillRequest) (*models.Entry, error) {
	d := tx.Drawing()
	drawingID := strconv.FormatInt(d.ID, 10)

	if !d.IsActive() {
		return nil, utils.NewAppError(utils.ErrCodeDrawingClosed, "Drawing is not accepting entries", string(d.Status))
	}
	if !d.InWindow(req.EventTime) {
		return nil, utils.NewAppError(utils.ErrCodeOutOfWindow, "Event time outside drawing window",
			req.EventTime.UTC().Format(time.RFC3339))
	}
	if req.USDAmount.LessThan(d.MinUSDAmount) {
		return nil, utils.NewAppError(utils.ErrCodeBelowMinimum, "USD amount below drawing minimum",
			req.USDAmount.String()+" < "+d.MinUSDAmount.String())
	}
	if req.Signature != nil {
		exists, err := tx.SignatureExists(ctx, *req.Signature)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, utils.NewAppError(utils.ErrCodeDuplicateSignature, "Signature already assigned in drawing", *req.Signature)
		}
	}

	entries, err := tx.Entries(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkCapacity(d, entries); err != nil {
		return nil, err
	}
	if len(entries) >= d.TotalSlots {
		return nil, utils.NewAppError(utils.ErrCodeDrawingClosed, "Drawing is full", drawingID)
	}

	entry := &models.Entry{
		WalletAddress: req.WalletAddress,
		Signature:     req.Signature,
		TokenAmount:   req.TokenAmount,
		USDAmount:     req.USDAmount,
		EventTime:     req.EventTime.UTC(),
		Verified:      true,
		Notes:         req.Notes,
	}
	entries, err = e.insert(ctx, tx, entries, entry)
	if err != nil {
		return nil, err
	}
	if err := tx.SetFilledSlots(ctx, len(entries)); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"drawing_id":    d.ID,
		"ticket_number": entry.TicketNumber,
		"wallet":        utils.ShortAddress(entry.WalletAddress),
	}).Info("Backfilled entry inserted")
	return entry, nil
}

// RemoveEntries deletes the entries matching remove and renumbers the rest
// to 1..N in chronological order
func (e *Engine) RemoveEntries(ctx context.Context, tx storage.DrawingTx, remove func(*models.Entry) bool) (removed int, total int, err error) {
	entries, err := tx.Entries(ctx)
	if err != nil {
		return 0, 0, err
	}

	survivors := make([]*models.Entry, 0, len(entries))
	for _, entry := range entries {
		if remove(entry) {
			if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
				return 0, 0, err
			}
			removed++
			continue
		}
		survivors = append(survivors, entry)
	}

	models.SortEntries(survivors)
	if err := renumber(ctx, tx, survivors, nil); err != nil {
		return 0, 0, err
	}
	if removed > 0 || tx.Drawing().FilledSlots != len(survivors) {
		if err := tx.SetFilledSlots(ctx, len(survivors)); err != nil {
			return 0, 0, err
		}
	}
	return removed, len(survivors), nil
}

// insert places entry after every existing entry with the same or an earlier
// event time and returns the new ordered entry list
func (e *Engine) insert(ctx context.Context, tx storage.DrawingTx, entries []*models.Entry, entry *models.Entry) ([]*models.Entry, error) {
	pos := InsertionIndex(entries, entry.EventTime)

	ordered := make([]*models.Entry, 0, len(entries)+1)
	ordered = append(ordered, entries[:pos]...)
	ordered = append(ordered, entry)
	ordered = append(ordered, entries[pos:]...)

	if pos < len(entries) {
		e.logger.WithFields(logrus.Fields{
			"drawing_id": tx.Drawing().ID,
			"position":   pos + 1,
			"shifted":    len(entries) - pos,
		}).Debug("Inserting entry before existing tickets")
	}

	if err := renumber(ctx, tx, ordered, entry); err != nil {
		return nil, err
	}
	return ordered, nil
}

// renumber gives ordered[i] ticket i+1. Entries that move are parked on
// negative numbers first so no two rows ever share a number; fresh, if
// given, is inserted between the two phases.
func renumber(ctx context.Context, tx storage.DrawingTx, ordered []*models.Entry, fresh *models.Entry) error {
	type move struct {
		entry  *models.Entry
		number int
	}
	var moves []move

	for i, entry := range ordered {
		number := i + 1
		if entry == fresh || entry.TicketNumber == number {
			continue
		}
		if err := tx.SetTicketNumber(ctx, entry.ID, -number); err != nil {
			return err
		}
		moves = append(moves, move{entry: entry, number: number})
	}

	if fresh != nil {
		for i, entry := range ordered {
			if entry == fresh {
				fresh.TicketNumber = i + 1
				break
			}
		}
		if err := tx.InsertEntry(ctx, fresh); err != nil {
			return err
		}
	}

	for _, m := range moves {
		if err := tx.SetTicketNumber(ctx, m.entry.ID, m.number); err != nil {
			return err
		}
		m.entry.TicketNumber = m.number
	}
	return nil
}

// InsertionIndex returns the index of the first entry strictly later than t.
// entries must be in ticket order.
func InsertionIndex(entries []*models.Entry, t time.Time) int {
	return sort.Search(len(entries), func(i int) bool {
		return entries[i].EventTime.After(t)
	})
}

func checkCapacity(d *models.Drawing, entries []*models.Entry) error {
	if len(entries) > d.TotalSlots {
		return utils.NewAppError(utils.ErrCodeCapacityExceeded, "Drawing holds more entries than slots",
			strconv.Itoa(len(entries))+" > "+strconv.Itoa(d.TotalSlots))
	}
	return nil
}

func signatureSet(entries []*models.Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.Signature != nil {
			set[*entry.Signature] = struct{}{}
		}
	}
	return set
}
