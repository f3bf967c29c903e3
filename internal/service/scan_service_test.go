package service

import (
	"context"
	"crypto/rand"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-draw-scanner/internal/assignment"
	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/connection"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/internal/notification"
	"github.com/smartdevs17/solana-draw-scanner/internal/pricing"
	"github.com/smartdevs17/solana-draw-scanner/internal/scanner"
	"github.com/smartdevs17/solana-draw-scanner/internal/storage"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

const testMint = "So11111111111111111111111111111111111111112"

// chainHistory is a venue history served newest first
type chainHistory struct {
	mu      sync.Mutex
	refs    []models.SignatureRef
	txs     map[string]*models.Transaction
	partial bool
	untils  []string
}

func (h *chainHistory) FetchSince(ctx context.Context, address string, start time.Time, until string) (*connection.FetchResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.untils = append(h.untils, until)

	result := &connection.FetchResult{Partial: h.partial, Pages: 1}
	for _, ref := range h.refs {
		if ref.Signature == until {
			break
		}
		if ref.BlockTime.Before(start) {
			break
		}
		result.Refs = append(result.Refs, ref)
	}
	return result, nil
}

func (h *chainHistory) FetchTransaction(ctx context.Context, signature string) (*models.Transaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tx, ok := h.txs[signature]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

// buy appends a newer purchase of amount tokens by wallet and returns its signature
func (h *chainHistory) buy(wallet, amount string, at time.Time) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.txs == nil {
		h.txs = make(map[string]*models.Transaction)
	}
	signature := newSignature()
	h.refs = append([]models.SignatureRef{{Signature: signature, BlockTime: at}}, h.refs...)
	h.txs[signature] = &models.Transaction{
		Signature: signature,
		BlockTime: &at,
		PostBalances: []models.TokenBalance{
			{AccountIndex: 2, Mint: testMint, Owner: wallet, Amount: decimal.RequireFromString(amount)},
		},
	}
	return signature
}

type staticOracle struct {
	venue *pricing.Venue
	err   error
}

func (o *staticOracle) Venue(ctx context.Context, mint string) (*pricing.Venue, error) {
	return o.venue, o.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, event notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) GetStats() notification.NotifierStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return notification.NotifierStats{Sent: uint64(len(n.events))}
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var types []string
	for _, e := range n.events {
		types = append(types, e.Type)
	}
	return types
}

type fixture struct {
	store   storage.Storage
	history *chainHistory
	oracle  *staticOracle
	service *ScanService
	start   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store, err := storage.NewStorage(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "draws.db"),
		MaxConnections:   1,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	f := &fixture{
		store:   store,
		history: &chainHistory{},
		oracle: &staticOracle{venue: &pricing.Venue{
			PairAddress: "Pair1111", PriceUSD: decimal.RequireFromString("0.1"), PriceOK: true,
		}},
		start: time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second),
	}
	cfg := config.ScannerConfig{BatchSize: 3, Workers: 2, MaxConcurrentDrawings: 2, LockTTL: time.Minute}
	buyScanner := scanner.NewBuyScanner(f.history, f.oracle, store, cfg, nil)
	f.service = NewScanService(store, buyScanner, cfg, nil)
	return f
}

func (f *fixture) drawing(t *testing.T, slots int) *models.Drawing {
	t.Helper()
	d := &models.Drawing{
		Name:         "Weekly",
		TokenAddress: testMint,
		MinUSDAmount: decimal.NewFromInt(10),
		StartTime:    f.start,
		TotalSlots:   slots,
	}
	require.NoError(t, f.service.CreateDrawing(context.Background(), d))
	return d
}

func (f *fixture) at(minutes int) time.Time {
	return f.start.Add(time.Duration(minutes) * time.Minute)
}

func (f *fixture) entries(t *testing.T, drawingID int64) []*models.Entry {
	t.Helper()
	entries, err := f.service.ListEntries(context.Background(), drawingID)
	require.NoError(t, err)
	return entries
}

func newWallet() string {
	return solana.NewWallet().PublicKey().String()
}

func newSignature() string {
	var s solana.Signature
	_, _ = rand.Read(s[:])
	return s.String()
}

func assertContiguous(t *testing.T, entries []*models.Entry) {
	t.Helper()
	seen := make(map[string]bool)
	for i, e := range entries {
		assert.Equal(t, i+1, e.TicketNumber)
		if i > 0 {
			assert.False(t, e.EventTime.Before(entries[i-1].EventTime), "ticket %d is older than ticket %d", i+1, i)
		}
		if s := e.SignatureValue(); s != "" {
			assert.False(t, seen[s], "signature %s assigned twice", s)
			seen[s] = true
		}
	}
}

func TestScanDrawingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 69)

	alice, bob := newWallet(), newWallet()
	f.history.buy(alice, "100", f.at(1))
	f.history.buy(bob, "250", f.at(2))
	newest := f.history.buy(alice, "1000", f.at(3))

	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.NewEntries)
	assert.Equal(t, 3, result.TotalEntries)
	assert.Equal(t, 69, result.TotalSlots)
	assert.Equal(t, 3, result.QualifyingTransactions)
	assert.Equal(t, newest, result.LastSignature)

	before := f.entries(t, d.ID)
	assertContiguous(t, before)
	assert.Equal(t, alice, before[0].WalletAddress)
	assert.True(t, before[0].USDAmount.Equal(decimal.NewFromInt(10)))

	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewEntries)
	assert.Equal(t, 3, result.TotalEntries)
	assert.Equal(t, before, f.entries(t, d.ID))
	assert.Equal(t, []string{"", newest}, f.history.untils)

	// A lost watermark re-walks history without duplicating tickets
	_, err = f.service.ClearScanHistory(ctx, d.ID)
	require.NoError(t, err)
	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewEntries)
	assert.Equal(t, before, f.entries(t, d.ID))
}

func TestScanDrawingNeverAdmitsBelowMinimum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 69)

	f.history.buy(newWallet(), "99.9", f.at(1)) // $9.99

	for i := 0; i < 3; i++ {
		result, err := f.service.ScanDrawing(ctx, d.ID)
		require.NoError(t, err)
		assert.Zero(t, result.NewEntries)
		_, err = f.service.ClearScanHistory(ctx, d.ID)
		require.NoError(t, err)
	}
	assert.Empty(t, f.entries(t, d.ID))
}

func TestScanDrawingBlacklistedWalletStaysOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 69)

	insider := newWallet()
	require.NoError(t, f.service.AddToBlacklist(ctx, &models.BlacklistEntry{
		TokenAddress: testMint, WalletAddress: insider, Reason: "team",
	}))
	f.history.buy(insider, "500", f.at(1))
	f.history.buy(newWallet(), "500", f.at(2))

	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilteredWallets)
	assert.Equal(t, 1, result.NewEntries)

	require.NoError(t, f.service.RemoveFromBlacklist(ctx, testMint, insider))
	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewEntries)

	for _, e := range f.entries(t, d.ID) {
		assert.NotEqual(t, insider, e.WalletAddress)
	}
}

func TestScanDrawingBelowMinimumSurvivesPartialScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 69)

	small := f.history.buy(newWallet(), "99.9", f.at(1)) // $9.99 at $0.1
	f.history.partial = true
	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, 1, result.BelowMinimum)
	assert.Zero(t, result.NewEntries)

	// The price doubles before the next pass re-walks the same history
	f.history.partial = false
	f.oracle.venue = &pricing.Venue{PairAddress: "Pair1111", PriceUSD: decimal.RequireFromString("0.2"), PriceOK: true}
	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewEntries)
	assert.Equal(t, []string{"", ""}, f.history.untils)

	// Not even an explicit rescan lets it in
	_, err = f.service.ClearScanHistory(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, f.entries(t, d.ID))

	rejections, err := f.store.GetRejections(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, small, rejections[0].Signature)
	assert.Equal(t, models.RejectionBelowMinimum, rejections[0].Reason)
}

func TestScanDrawingBlacklistSurvivesPartialScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 69)

	insider := newWallet()
	require.NoError(t, f.service.AddToBlacklist(ctx, &models.BlacklistEntry{
		TokenAddress: testMint, WalletAddress: insider, Reason: "team",
	}))
	f.history.buy(insider, "500", f.at(1))
	f.history.partial = true
	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, 1, result.FilteredWallets)
	assert.Zero(t, result.NewEntries)

	require.NoError(t, f.service.RemoveFromBlacklist(ctx, testMint, insider))
	f.history.partial = false
	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewEntries)
	assert.Empty(t, f.entries(t, d.ID))

	// Clearing the scan history is the explicit rescan that reprocesses it
	_, err = f.service.ClearScanHistory(ctx, d.ID)
	require.NoError(t, err)
	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEntries)
	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, insider, entries[0].WalletAddress)
}

func TestReopenedDrawingKeepsConfiguredWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	end := f.at(60)
	d := &models.Drawing{
		Name:         "Hour",
		TokenAddress: testMint,
		MinUSDAmount: decimal.NewFromInt(10),
		StartTime:    f.start,
		EndTime:      &end,
		TotalSlots:   2,
	}
	require.NoError(t, f.service.CreateDrawing(ctx, d))

	insider := newWallet()
	f.history.buy(insider, "100", f.at(1))
	f.history.buy(newWallet(), "100", f.at(2))
	_, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)

	stored, err := f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DrawingCompleted, stored.Status)
	require.NotNil(t, stored.EndTime)
	assert.True(t, end.Equal(*stored.EndTime))
	assert.NotNil(t, stored.CompletedAt)

	require.NoError(t, f.service.AddToBlacklist(ctx, &models.BlacklistEntry{
		TokenAddress: testMint, WalletAddress: insider, Reason: "team",
	}))
	cleaned, err := f.service.CleanBlacklisted(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned.Removed)

	stored, err = f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingActive, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	require.NotNil(t, stored.EndTime)
	assert.True(t, end.Equal(*stored.EndTime))

	_, err = f.service.InsertBackfilledEntry(ctx, d.ID, assignment.BackfillRequest{
		WalletAddress: newWallet(),
		USDAmount:     decimal.NewFromInt(50),
		EventTime:     f.at(90),
	})
	assert.True(t, errors.Is(err, utils.ErrOutOfWindow))

	_, err = f.service.InsertBackfilledEntry(ctx, d.ID, assignment.BackfillRequest{
		WalletAddress: newWallet(),
		USDAmount:     decimal.NewFromInt(50),
		EventTime:     f.at(30),
	})
	require.NoError(t, err)
	stored, err = f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingCompleted, stored.Status)
	assert.True(t, end.Equal(*stored.EndTime))
}

func TestScanDrawingCompletesAtCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 2)

	for i := 1; i <= 3; i++ {
		f.history.buy(newWallet(), "100", f.at(i))
	}

	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewEntries)
	assert.Equal(t, "Drawing is full", result.Message)

	stored, err := f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingCompleted, stored.Status)
	assert.Equal(t, 2, stored.FilledSlots)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.EndTime)

	f.history.buy(newWallet(), "100", f.at(4))
	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewEntries)
	assert.Len(t, f.entries(t, d.ID), 2)
}

func TestScanDrawingRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.ScanDrawing(ctx, 999)
	assert.True(t, errors.Is(err, utils.ErrDrawingNotFound))

	cancelled := f.drawing(t, 5)
	require.NoError(t, f.service.CancelDrawing(ctx, cancelled.ID))
	_, err = f.service.ScanDrawing(ctx, cancelled.ID)
	assert.True(t, errors.Is(err, utils.ErrDrawingNotActive))

	locked := f.drawing(t, 5)
	ok, err := f.store.AcquireScanLock(ctx, locked.ID, "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.ScanDrawing(ctx, locked.ID)
	assert.True(t, errors.Is(err, utils.ErrScanInProgress))
	assert.Equal(t, uint64(1), f.service.GetStats().ScansSkipped)
}

func TestScanDrawingVenueUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 5)
	f.history.buy(newWallet(), "100", f.at(1))
	f.oracle.err = utils.NewAppError(utils.ErrCodeUpstreamUnavailable, "No trading pairs for token", testMint)

	_, err := f.service.ScanDrawing(ctx, d.ID)
	assert.True(t, errors.Is(err, utils.ErrUpstreamUnavailable))

	history, err := f.service.GetScanHistory(ctx, d.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, f.entries(t, d.ID))

	// The lease was released
	f.oracle.err = nil
	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEntries)
}

func TestScanDrawingDegradedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 5)
	f.history.buy(newWallet(), "1", f.at(1))
	f.oracle.venue = &pricing.Venue{PairAddress: "Pair1111"}

	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, 1, result.NewEntries)

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Verified)
	assert.True(t, entries[0].USDAmount.IsZero())
}

func TestScanDrawingPartialKeepsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 10)

	first := f.history.buy(newWallet(), "100", f.at(1))
	_, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)

	f.history.buy(newWallet(), "100", f.at(5))
	f.history.partial = true
	result, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, 1, result.NewEntries)

	// A buy the partial scan missed lands in time order on the next pass
	f.history.partial = false
	f.history.mu.Lock()
	late := newSignature()
	lateAt := f.at(3)
	lateWallet := newWallet()
	f.history.refs = append(f.history.refs[:1], append([]models.SignatureRef{{Signature: late, BlockTime: lateAt}}, f.history.refs[1:]...)...)
	f.history.txs[late] = &models.Transaction{
		Signature: late,
		BlockTime: &lateAt,
		PostBalances: []models.TokenBalance{
			{AccountIndex: 2, Mint: testMint, Owner: lateWallet, Amount: decimal.NewFromInt(100)},
		},
	}
	f.history.mu.Unlock()

	result, err = f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewEntries)
	assert.Equal(t, []string{"", first, first}, f.history.untils)

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 3)
	assertContiguous(t, entries)
	assert.Equal(t, lateWallet, entries[1].WalletAddress)
}

func TestInsertBackfilledEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 69)

	for i := 1; i <= 3; i++ {
		f.history.buy(newWallet(), "100", f.at(10*i))
	}
	_, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)
	original := f.entries(t, d.ID)

	signature := newSignature()
	notes := "support ticket"
	entry, err := f.service.InsertBackfilledEntry(ctx, d.ID, assignment.BackfillRequest{
		WalletAddress: newWallet(),
		Signature:     &signature,
		TokenAmount:   decimal.NewFromInt(500),
		USDAmount:     decimal.NewFromInt(50),
		EventTime:     f.at(1),
		Notes:         &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.TicketNumber)

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 4)
	assertContiguous(t, entries)
	assert.Equal(t, signature, entries[0].SignatureValue())
	for i, e := range original {
		assert.Equal(t, e.SignatureValue(), entries[i+1].SignatureValue())
		assert.Equal(t, i+2, entries[i+1].TicketNumber)
	}

	stored, err := f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.FilledSlots)

	// The same signature cannot enter twice
	_, err = f.service.InsertBackfilledEntry(ctx, d.ID, assignment.BackfillRequest{
		WalletAddress: newWallet(),
		Signature:     &signature,
		USDAmount:     decimal.NewFromInt(50),
		EventTime:     f.at(2),
	})
	assert.True(t, errors.Is(err, utils.ErrDuplicateSignature))

	_, err = f.service.InsertBackfilledEntry(ctx, d.ID, assignment.BackfillRequest{
		WalletAddress: newWallet(),
		USDAmount:     decimal.RequireFromString("9.99"),
		EventTime:     f.at(2),
	})
	assert.True(t, errors.Is(err, utils.ErrBelowMinimum))

	_, err = f.service.InsertBackfilledEntry(ctx, d.ID, assignment.BackfillRequest{
		WalletAddress: "not-a-wallet",
		USDAmount:     decimal.NewFromInt(50),
		EventTime:     f.at(2),
	})
	assert.Equal(t, utils.ErrCodeValidation, utils.CodeOf(err))
	assert.Len(t, f.entries(t, d.ID), 4)
}

func TestCleanBlacklisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.drawing(t, 3)

	insider := newWallet()
	f.history.buy(newWallet(), "100", f.at(1))
	f.history.buy(insider, "100", f.at(2))
	f.history.buy(newWallet(), "100", f.at(3))
	_, err := f.service.ScanDrawing(ctx, d.ID)
	require.NoError(t, err)

	stored, err := f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DrawingCompleted, stored.Status)

	added, err := f.service.BulkAddToBlacklist(ctx, testMint, []string{insider, "bogus"}, "insider")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	result, err := f.service.CleanBlacklisted(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 2, result.TotalEntries)

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 2)
	assertContiguous(t, entries)

	stored, err = f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingActive, stored.Status)
	assert.Equal(t, 2, stored.FilledSlots)
}

func TestScanAllActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.drawing(t, 10)
	second := f.drawing(t, 10)
	locked := f.drawing(t, 10)
	f.history.buy(newWallet(), "100", f.at(1))

	ok, err := f.store.AcquireScanLock(ctx, locked.ID, "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := f.service.ScanAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[int64]DrawingScanResult)
	for _, r := range results {
		byID[r.DrawingID] = r
	}
	require.NotNil(t, byID[first.ID].Result)
	assert.Equal(t, 1, byID[first.ID].Result.NewEntries)
	require.NotNil(t, byID[second.ID].Result)
	assert.Equal(t, 1, byID[second.ID].Result.NewEntries)
	assert.True(t, byID[locked.ID].Skipped)
	assert.Equal(t, utils.ErrCodeScanInProgress, byID[locked.ID].Code)
}

func TestDrawingAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SaveManagedToken(ctx, &models.ManagedToken{
		TokenAddress: testMint, Symbol: "WSOL", Name: "Wrapped SOL", Active: true,
	}))
	tokens, err := f.service.ListManagedTokens(ctx, true)
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	d := &models.Drawing{Name: "Launch", TokenAddress: testMint, MinUSDAmount: decimal.NewFromInt(25)}
	require.NoError(t, f.service.CreateDrawing(ctx, d))
	assert.Equal(t, "WSOL", d.TokenSymbol)
	assert.Equal(t, models.DefaultTotalSlots, d.TotalSlots)
	assert.Equal(t, models.DrawingActive, d.Status)

	err = f.service.CreateDrawing(ctx, &models.Drawing{Name: "Bad", TokenAddress: "nope"})
	assert.Equal(t, utils.ErrCodeValidation, utils.CodeOf(err))

	status := models.DrawingActive
	drawings, err := f.service.ListDrawings(ctx, models.DrawingFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, drawings, 1)

	require.NoError(t, f.service.CancelDrawing(ctx, d.ID))
	require.NoError(t, f.service.CancelDrawing(ctx, d.ID))
	stored, err := f.service.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingCancelled, stored.Status)

	err = f.service.RemoveFromBlacklist(ctx, testMint, newWallet())
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	f.service.SetNotifier(notifier)

	failing := f.drawing(t, 5)
	f.oracle.err = utils.NewAppError(utils.ErrCodeUpstreamUnavailable, "No trading pairs for token", testMint)
	_, err := f.service.ScanDrawing(ctx, failing.ID)
	require.Error(t, err)
	f.service.Wait()
	assert.Equal(t, []string{notification.EventScanFailed}, notifier.types())

	f.oracle.err = nil
	full := f.drawing(t, 2)
	f.history.buy(newWallet(), "100", f.at(1))
	f.history.buy(newWallet(), "100", f.at(2))
	_, err = f.service.ScanDrawing(ctx, full.ID)
	require.NoError(t, err)
	f.service.Wait()

	require.Len(t, notifier.events, 2)
	completed := notifier.events[1]
	assert.Equal(t, notification.EventDrawingCompleted, completed.Type)
	assert.Equal(t, full.ID, completed.DrawingID)
	assert.Equal(t, 2, completed.FilledSlots)
	assert.Equal(t, 2, completed.TotalSlots)

	// A scan that leaves the drawing open sends nothing
	open := f.drawing(t, 10)
	_, err = f.service.ScanDrawing(ctx, open.ID)
	require.NoError(t, err)
	f.service.Wait()
	assert.Len(t, notifier.types(), 2)
}
