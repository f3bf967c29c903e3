package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/connection"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/internal/pricing"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

const (
	testMint = "DrawMint1111"
	pairAddr = "PairAddr2222"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	refs    []models.SignatureRef
	txs     map[string]*models.Transaction
	partial bool
	err     error
	until   string
	address string
	fetched []string
}

func (f *fakeFetcher) FetchSince(ctx context.Context, address string, since time.Time, until string) (*connection.FetchResult, error) {
	f.address = address
	f.until = until
	if f.err != nil {
		return nil, f.err
	}
	return &connection.FetchResult{Refs: f.refs, Partial: f.partial, Pages: 1}, nil
}

func (f *fakeFetcher) FetchTransaction(ctx context.Context, signature string) (*models.Transaction, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, signature)
	f.mu.Unlock()
	tx, ok := f.txs[signature]
	if !ok {
		return nil, errors.New("transaction unavailable")
	}
	return tx, nil
}

// add registers a buy of amount tokens by wallet at offset from start
func (f *fakeFetcher) add(signature, wallet, amount string, offset time.Duration) {
	if f.txs == nil {
		f.txs = make(map[string]*models.Transaction)
	}
	at := start.Add(offset)
	f.refs = append([]models.SignatureRef{{Signature: signature, BlockTime: at}}, f.refs...)
	f.txs[signature] = &models.Transaction{
		Signature: signature,
		BlockTime: &at,
		PostBalances: []models.TokenBalance{
			{AccountIndex: 1, Mint: testMint, Owner: wallet, Amount: decimal.RequireFromString(amount)},
		},
	}
}

type fakeOracle struct {
	venue *pricing.Venue
	err   error
}

func (o *fakeOracle) Venue(ctx context.Context, mint string) (*pricing.Venue, error) {
	return o.venue, o.err
}

type fakeBlacklist struct {
	entries []*models.BlacklistEntry
}

func (b *fakeBlacklist) GetBlacklist(ctx context.Context, tokenAddress string) ([]*models.BlacklistEntry, error) {
	return b.entries, nil
}

func pricedAt(price string) *fakeOracle {
	return &fakeOracle{venue: &pricing.Venue{PairAddress: pairAddr, PriceUSD: decimal.RequireFromString(price), PriceOK: true}}
}

func testDrawing() *models.Drawing {
	return &models.Drawing{
		ID:           7,
		TokenAddress: testMint,
		MinUSDAmount: decimal.NewFromInt(10),
		StartTime:    start,
		TotalSlots:   69,
		Status:       models.DrawingActive,
	}
}

func newTestScanner(f HistoryFetcher, o pricing.Oracle, b *fakeBlacklist) *BuyScanner {
	return NewBuyScanner(f, o, b, config.ScannerConfig{BatchSize: 2, Workers: 2}, nil)
}

func TestScanQualifyingBuys(t *testing.T) {
	f := &fakeFetcher{}
	f.add("sig-a", "alice", "100", time.Minute)   // $10.00
	f.add("sig-b", "bob", "99.9", 2*time.Minute)  // $9.99
	f.add("sig-c", "carol", "500", 3*time.Minute) // $50.00
	f.add("sig-d", "dave", "200", -time.Minute)   // before start

	s := newTestScanner(f, pricedAt("0.1"), &fakeBlacklist{})
	result, err := s.Scan(context.Background(), testDrawing(), "")
	require.NoError(t, err)

	assert.Equal(t, pairAddr, f.address)
	assert.Equal(t, 4, result.TransactionsExamined)
	assert.Equal(t, 1, result.BelowMinimum)
	assert.Equal(t, 1, result.OutOfWindow)
	assert.Equal(t, []models.Rejection{
		{Signature: "sig-b", WalletAddress: "bob", Reason: models.RejectionBelowMinimum},
	}, result.Rejections)
	assert.False(t, result.Degraded)
	assert.Equal(t, "sig-d", result.NewestSignature)

	require.Len(t, result.Buys, 2)
	assert.Equal(t, "alice", result.Buys[0].WalletAddress)
	assert.True(t, result.Buys[0].USDAmount.Equal(decimal.NewFromInt(10)))
	assert.True(t, result.Buys[0].Verified)
	assert.Equal(t, "carol", result.Buys[1].WalletAddress)
}

func TestScanFiltersBlacklistedWallets(t *testing.T) {
	f := &fakeFetcher{}
	f.add("sig-a", "alice", "1000", time.Minute)
	f.add("sig-b", "mallory", "1000", 2*time.Minute)
	f.add("sig-c", "mallory", "1000", 3*time.Minute)

	bl := &fakeBlacklist{entries: []*models.BlacklistEntry{
		{TokenAddress: testMint, WalletAddress: "mallory", Reason: "team wallet"},
		{TokenAddress: "OtherMint", WalletAddress: "alice", Reason: "other token"},
	}}
	result, err := newTestScanner(f, pricedAt("1"), bl).Scan(context.Background(), testDrawing(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Filtered)
	assert.ElementsMatch(t, []models.Rejection{
		{Signature: "sig-b", WalletAddress: "mallory", Reason: models.RejectionBlacklisted},
		{Signature: "sig-c", WalletAddress: "mallory", Reason: models.RejectionBlacklisted},
	}, result.Rejections)
	require.Len(t, result.Buys, 1)
	assert.Equal(t, "alice", result.Buys[0].WalletAddress)
}

func TestScanDegradedPriceKeepsBuysUnverified(t *testing.T) {
	f := &fakeFetcher{}
	f.add("sig-a", "alice", "0.001", time.Minute)

	oracle := &fakeOracle{venue: &pricing.Venue{PairAddress: pairAddr}}
	result, err := newTestScanner(f, oracle, &fakeBlacklist{}).Scan(context.Background(), testDrawing(), "")
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	require.Len(t, result.Buys, 1)
	assert.False(t, result.Buys[0].Verified)
	assert.True(t, result.Buys[0].USDAmount.IsZero())
}

func TestScanVenueFailureIsHard(t *testing.T) {
	f := &fakeFetcher{}
	f.add("sig-a", "alice", "100", time.Minute)

	oracle := &fakeOracle{err: utils.NewAppError(utils.ErrCodeUpstreamUnavailable, "no pairs")}
	_, err := newTestScanner(f, oracle, &fakeBlacklist{}).Scan(context.Background(), testDrawing(), "")
	assert.True(t, errors.Is(err, utils.ErrUpstreamUnavailable))
	assert.Empty(t, f.fetched)
}

func TestScanSkipsUnresolvableTransactions(t *testing.T) {
	f := &fakeFetcher{}
	f.add("sig-a", "alice", "100", time.Minute)
	f.refs = append(f.refs,
		models.SignatureRef{Signature: "sig-missing", BlockTime: start.Add(30 * time.Second)},
		models.SignatureRef{Signature: "sig-failed", BlockTime: start.Add(40 * time.Second), Failed: true},
	)

	result, err := newTestScanner(f, pricedAt("1"), &fakeBlacklist{}).Scan(context.Background(), testDrawing(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Buys, 1)
	assert.NotContains(t, f.fetched, "sig-failed")
}

func TestScanResumesFromWatermark(t *testing.T) {
	f := &fakeFetcher{partial: true}
	f.add("sig-a", "alice", "100", time.Minute)

	result, err := newTestScanner(f, pricedAt("1"), &fakeBlacklist{}).Scan(context.Background(), testDrawing(), "sig-prev")
	require.NoError(t, err)
	assert.Equal(t, "sig-prev", f.until)
	assert.True(t, result.Partial)
}

func TestScanOrdersAndDedupes(t *testing.T) {
	f := &fakeFetcher{}
	f.add("sig-b", "bob", "100", time.Minute)
	f.add("sig-a", "alice", "100", time.Minute)
	f.add("sig-0", "zed", "100", 30*time.Second)
	f.refs = append(f.refs, f.refs[0])

	result, err := newTestScanner(f, pricedAt("1"), &fakeBlacklist{}).Scan(context.Background(), testDrawing(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, result.TransactionsExamined)
	require.Len(t, result.Buys, 3)
	assert.Equal(t, "sig-0", result.Buys[0].Signature)
	assert.Equal(t, "sig-a", result.Buys[1].Signature)
	assert.Equal(t, "sig-b", result.Buys[2].Signature)
}

func TestScanCancelledMidwayIsPartial(t *testing.T) {
	f := &fakeFetcher{}
	for i := 0; i < 6; i++ {
		f.add(string(rune('a'+i)), "wallet", "100", time.Duration(i+1)*time.Minute)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := NewBuyScanner(f, pricedAt("1"), &fakeBlacklist{}, config.ScannerConfig{BatchSize: 2, Workers: 1, BatchDelay: time.Hour}, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result, err := s.Scan(ctx, testDrawing(), "")
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Len(t, result.Buys, 2)
}

func TestOrderBuys(t *testing.T) {
	at := start.Add(time.Minute)
	buys := []models.Buy{
		{Signature: "c", Timestamp: at},
		{Signature: "a", Timestamp: at.Add(time.Second)},
		{Signature: "b", Timestamp: at},
		{Signature: "c", Timestamp: at},
	}
	ordered := OrderBuys(buys)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{ordered[0].Signature, ordered[1].Signature, ordered[2].Signature})
}
