package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

const testMint = "So11111111111111111111111111111111111111112"

func newTestSQLite(t *testing.T) Storage {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	cfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "draws.db"),
		MaxConnections:   1,
		MaxIdleTime:      time.Minute,
	}
	store, err := NewStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	require.NoError(t, store.Ping())
	return store
}

func newTestDrawing(t *testing.T, store Storage, slots int) *models.Drawing {
	t.Helper()
	d := &models.Drawing{
		Name:         "Weekly",
		TokenAddress: testMint,
		TokenSymbol:  "SOL",
		MinUSDAmount: decimal.NewFromInt(10),
		StartTime:    time.Now().Add(-time.Hour),
		TotalSlots:   slots,
	}
	require.NoError(t, store.CreateDrawing(context.Background(), d))
	require.NotZero(t, d.ID)
	return d
}

func sig(s string) *string { return &s }

func TestSQLiteStorage(t *testing.T) {
	store := newTestSQLite(t)

	t.Run("Drawing Operations", func(t *testing.T) { testDrawingOperations(t, store) })
	t.Run("Scan Lock", func(t *testing.T) { testScanLock(t, store) })
	t.Run("Entry Transactions", func(t *testing.T) { testEntryTransactions(t, store) })
	t.Run("Completion", func(t *testing.T) { testCompletion(t, store) })
	t.Run("Scan History", func(t *testing.T) { testScanHistory(t, store) })
	t.Run("Blacklist", func(t *testing.T) { testBlacklist(t, store) })
	t.Run("Managed Tokens", func(t *testing.T) { testManagedTokens(t, store) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, store) })
}

func testDrawingOperations(t *testing.T, store Storage) {
	ctx := context.Background()
	d := newTestDrawing(t, store, 0)

	got, err := store.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", got.Name)
	assert.Equal(t, models.DefaultTotalSlots, got.TotalSlots)
	assert.Equal(t, models.DrawingActive, got.Status)
	assert.True(t, got.MinUSDAmount.Equal(decimal.NewFromInt(10)))

	_, err = store.GetDrawing(ctx, 999999)
	assert.True(t, errors.Is(err, utils.ErrDrawingNotFound))

	active, err := store.GetActiveDrawings(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, active)

	require.NoError(t, store.UpdateDrawingStatus(ctx, d.ID, models.DrawingCancelled))
	status := models.DrawingCancelled
	cancelled, err := store.ListDrawings(ctx, models.DrawingFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, d.ID, cancelled[0].ID)

	err = store.UpdateDrawingStatus(ctx, 999999, models.DrawingActive)
	assert.True(t, errors.Is(err, utils.ErrDrawingNotFound))
}

func testScanLock(t *testing.T, store Storage) {
	ctx := context.Background()
	d := newTestDrawing(t, store, 5)

	ok, err := store.AcquireScanLock(ctx, d.ID, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireScanLock(ctx, d.ID, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not take a live lease")

	// Release by a non-owner is a no-op
	require.NoError(t, store.ReleaseScanLock(ctx, d.ID, "owner-b"))
	ok, err = store.AcquireScanLock(ctx, d.ID, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseScanLock(ctx, d.ID, "owner-a"))
	ok, err = store.AcquireScanLock(ctx, d.ID, "owner-b", -time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// An expired lease can be taken over
	ok, err = store.AcquireScanLock(ctx, d.ID, "owner-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.AcquireScanLock(ctx, 999999, "owner-a", time.Minute)
	assert.True(t, errors.Is(err, utils.ErrDrawingNotFound))
}

func testEntryTransactions(t *testing.T, store Storage) {
	ctx := context.Background()
	d := newTestDrawing(t, store, 10)
	base := time.Now().Add(-30 * time.Minute).UTC()

	err := store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		for i, s := range []string{"sigA", "sigB", "sigC"} {
			entry := &models.Entry{
				TicketNumber:  i + 1,
				WalletAddress: "wallet" + s,
				Signature:     sig(s),
				TokenAmount:   decimal.RequireFromString("1.5"),
				USDAmount:     decimal.RequireFromString("12.34"),
				EventTime:     base.Add(time.Duration(i) * time.Minute),
				Verified:      true,
			}
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
		}
		return tx.SetFilledSlots(ctx, 3)
	})
	require.NoError(t, err)

	err = store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		return tx.InsertEntry(ctx, &models.Entry{
			TicketNumber:  4,
			WalletAddress: "other",
			Signature:     sig("sigB"),
			EventTime:     base,
		})
	})
	assert.True(t, errors.Is(err, utils.ErrDuplicateSignature))

	exists, err := store.EntryExistsBySignature(ctx, d.ID, "sigB")
	require.NoError(t, err)
	assert.True(t, exists)

	// Shift every ticket up by one and place a new entry at 1
	err = store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		entries, err := tx.Entries(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := tx.SetTicketNumber(ctx, e.ID, -e.TicketNumber); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if err := tx.SetTicketNumber(ctx, e.ID, e.TicketNumber+1); err != nil {
				return err
			}
		}
		if err := tx.InsertEntry(ctx, &models.Entry{
			TicketNumber:  1,
			WalletAddress: "early",
			Signature:     sig("sigEarly"),
			TokenAmount:   decimal.NewFromInt(3),
			USDAmount:     decimal.NewFromInt(20),
			EventTime:     base.Add(-time.Minute),
		}); err != nil {
			return err
		}
		return tx.SetFilledSlots(ctx, len(entries)+1)
	})
	require.NoError(t, err)

	entries, err := store.GetEntries(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "sigEarly", entries[0].SignatureValue())
	assert.Equal(t, "sigA", entries[1].SignatureValue())
	assert.Equal(t, 2, entries[1].TicketNumber)
	assert.Equal(t, 4, entries[3].TicketNumber)
	assert.True(t, entries[1].USDAmount.Equal(decimal.RequireFromString("12.34")))

	count, err := store.CountEntries(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// A failing unit of work leaves nothing behind
	err = store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		if err := tx.DeleteEntry(ctx, entries[0].ID); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	count, err = store.CountEntries(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func testCompletion(t *testing.T, store Storage) {
	ctx := context.Background()
	now := time.Now().UTC()
	end := now.Add(time.Hour).Truncate(time.Second)
	d := &models.Drawing{
		Name:         "Windowed",
		TokenAddress: testMint,
		MinUSDAmount: decimal.NewFromInt(10),
		StartTime:    now.Add(-time.Hour),
		EndTime:      &end,
		TotalSlots:   2,
	}
	require.NoError(t, store.CreateDrawing(ctx, d))

	err := store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		for i, s := range []string{"c1", "c2"} {
			if err := tx.InsertEntry(ctx, &models.Entry{
				TicketNumber:  i + 1,
				WalletAddress: "w" + s,
				Signature:     sig(s),
				EventTime:     now,
			}); err != nil {
				return err
			}
		}
		return tx.SetFilledSlots(ctx, 2)
	})
	require.NoError(t, err)

	got, err := store.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingCompleted, got.Status)
	assert.Equal(t, 2, got.FilledSlots)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime), "completion must not move the configured end")

	err = store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		entries, err := tx.Entries(ctx)
		if err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, entries[1].ID); err != nil {
			return err
		}
		return tx.SetFilledSlots(ctx, 1)
	})
	require.NoError(t, err)

	got, err = store.GetDrawing(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DrawingActive, got.Status)
	assert.Nil(t, got.CompletedAt)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
}

func testScanHistory(t *testing.T, store Storage) {
	ctx := context.Background()
	d := newTestDrawing(t, store, 5)

	latest, err := store.GetLatestScan(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := &models.ScanRecord{DrawingID: d.ID, LastSignature: sig("newest-1"), TransactionsFound: 3, EntriesAdded: 2, Completed: true, ScannedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.SaveScanRecord(ctx, first))
	partial := &models.ScanRecord{DrawingID: d.ID, LastSignature: sig("newest-2"), Completed: false}
	require.NoError(t, store.SaveScanRecord(ctx, partial))

	latest, err = store.GetLatestScan(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "newest-1", *latest.LastSignature)
	assert.Equal(t, 2, latest.EntriesAdded)

	history, err := store.GetScanHistory(ctx, d.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Completed)

	err = store.WithDrawingTx(ctx, d.ID, func(tx DrawingTx) error {
		for _, r := range []*models.Rejection{
			{Signature: "small", WalletAddress: "w1", Reason: models.RejectionBelowMinimum},
			{Signature: "insider", WalletAddress: "w2", Reason: models.RejectionBlacklisted},
			{Signature: "small", WalletAddress: "w1", Reason: models.RejectionBlacklisted},
		} {
			if err := tx.RecordRejection(ctx, r); err != nil {
				return err
			}
		}
		rejected, err := tx.RejectedSignatures(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, map[string]string{
			"small":   models.RejectionBelowMinimum,
			"insider": models.RejectionBlacklisted,
		}, rejected)
		return nil
	})
	require.NoError(t, err)

	rejections, err := store.GetRejections(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rejections, 2)
	assert.Equal(t, "small", rejections[0].Signature)
	assert.Equal(t, d.ID, rejections[0].DrawingID)

	n, err := store.ClearScanHistory(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	latest, err = store.GetLatestScan(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
	rejections, err = store.GetRejections(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, models.RejectionBelowMinimum, rejections[0].Reason)
}

func testBlacklist(t *testing.T, store Storage) {
	ctx := context.Background()

	require.NoError(t, store.UpsertBlacklistEntry(ctx, &models.BlacklistEntry{TokenAddress: testMint, WalletAddress: "pool1"}))
	require.NoError(t, store.UpsertBlacklistEntry(ctx, &models.BlacklistEntry{TokenAddress: testMint, WalletAddress: "pool1", Reason: "liquidity_pool"}))
	require.NoError(t, store.UpsertBlacklistEntry(ctx, &models.BlacklistEntry{TokenAddress: "otherMint", WalletAddress: "dev"}))

	list, err := store.GetBlacklist(ctx, testMint)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "liquidity_pool", list[0].Reason)

	removed, err := store.DeleteBlacklistEntry(ctx, testMint, "pool1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.DeleteBlacklistEntry(ctx, testMint, "pool1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func testManagedTokens(t *testing.T, store Storage) {
	ctx := context.Background()

	require.NoError(t, store.SaveManagedToken(ctx, &models.ManagedToken{TokenAddress: testMint, Symbol: "SOL", Name: "Wrapped SOL", Active: true}))
	require.NoError(t, store.SaveManagedToken(ctx, &models.ManagedToken{TokenAddress: "retired", Symbol: "OLD", Active: false}))

	all, err := store.GetManagedTokens(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := store.GetManagedTokens(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "SOL", active[0].Symbol)
}

func testStatistics(t *testing.T, store Storage) {
	stats, err := store.GetStorageStats(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.TotalDrawings)
	assert.Positive(t, stats.TotalEntries)
	assert.Positive(t, stats.ActiveDrawings)
}
