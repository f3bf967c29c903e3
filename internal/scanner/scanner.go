package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/blacklist"
	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/connection"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/internal/parser"
	"github.com/smartdevs17/solana-draw-scanner/internal/pricing"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// HistoryFetcher reads a venue's signature history and resolves transactions
type HistoryFetcher interface {
	FetchSince(ctx context.Context, address string, start time.Time, until string) (*connection.FetchResult, error)
	FetchTransaction(ctx context.Context, signature string) (*models.Transaction, error)
}

// Result is the outcome of scanning one drawing's venue
type Result struct {
	// Buys are the qualifying buys ordered by timestamp, then signature
	Buys []models.Buy
	// Rejections are the blacklisted and below-minimum buys seen by the scan
	Rejections           []models.Rejection
	TransactionsExamined int
	ParsedBuys           int
	Filtered             int
	BelowMinimum         int
	OutOfWindow          int
	Failed               int
	Degraded             bool
	Partial              bool
	NewestSignature      string
	Venue                string
	PriceUSD             decimal.Decimal
}

type outcomeKind int

const (
	outcomeNotBuy outcomeKind = iota
	outcomeFailed
	outcomeBlacklisted
	outcomeBelowMinimum
	outcomeOutOfWindow
	outcomeQualified
)

type outcome struct {
	kind outcomeKind
	buy  models.Buy
}

// BuyScanner produces the qualifying buys of a drawing
type BuyScanner struct {
	fetcher        HistoryFetcher
	oracle         pricing.Oracle
	parser         *parser.SwapParser
	blacklists     blacklist.Source
	config         config.ScannerConfig
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewBuyScanner creates a new buy scanner
func NewBuyScanner(fetcher HistoryFetcher, oracle pricing.Oracle, blacklists blacklist.Source, cfg config.ScannerConfig, metricsManager *metrics.Manager) *BuyScanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = cfg.BatchSize
	}
	return &BuyScanner{
		fetcher:        fetcher,
		oracle:         oracle,
		parser:         parser.NewSwapParser(),
		blacklists:     blacklists,
		config:         cfg,
		logger:         utils.ComponentLogger("scanner"),
		metricsManager: metricsManager,
	}
}

// Scan collects the buys of drawing's token at or after its start time,
// stopping at resumeFrom when given. Only a failed venue lookup, an
// unreadable blacklist or cancellation fail the scan; per-transaction
// problems are counted and skipped.
func (s *BuyScanner) Scan(ctx context.Context, drawing *models.Drawing, resumeFrom string) (*Result, error) {
	venue, err := s.oracle.Venue(ctx, drawing.TokenAddress)
	if err != nil {
		return nil, err
	}

	filter, err := blacklist.Load(ctx, s.blacklists, drawing.TokenAddress)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Venue:    venue.PairAddress,
		PriceUSD: venue.PriceUSD,
		Degraded: !venue.PriceOK,
	}
	log := s.logger.WithFields(logrus.Fields{
		"drawing_id": drawing.ID,
		"venue":      venue.PairAddress,
	})
	if result.Degraded {
		log.Warn("USD price unavailable, keeping buys unverified")
	}

	history, err := s.fetcher.FetchSince(ctx, venue.PairAddress, drawing.StartTime, resumeFrom)
	if err != nil {
		return nil, err
	}
	result.Partial = history.Partial
	result.NewestSignature = history.Newest()

	refs := uniqueRefs(history.Refs)
	result.TransactionsExamined = len(refs)

	outcomes, complete := s.process(ctx, drawing, venue, filter, refs)
	if !complete {
		result.Partial = true
	}

	for _, o := range outcomes {
		switch o.kind {
		case outcomeFailed:
			result.Failed++
		case outcomeBelowMinimum:
			result.ParsedBuys++
			result.BelowMinimum++
			result.Rejections = append(result.Rejections, rejection(o.buy, models.RejectionBelowMinimum))
		case outcomeOutOfWindow:
			result.ParsedBuys++
			result.OutOfWindow++
		case outcomeBlacklisted:
			result.ParsedBuys++
			result.Rejections = append(result.Rejections, rejection(o.buy, models.RejectionBlacklisted))
		case outcomeQualified:
			result.ParsedBuys++
			result.Buys = append(result.Buys, o.buy)
		}
	}
	result.Filtered = filter.Count()
	result.Buys = OrderBuys(result.Buys)

	s.recordMetrics(result)
	log.WithFields(logrus.Fields{
		"examined":      result.TransactionsExamined,
		"qualifying":    len(result.Buys),
		"filtered":      result.Filtered,
		"below_minimum": result.BelowMinimum,
		"failed":        result.Failed,
		"partial":       result.Partial,
	}).Info("Venue scan finished")

	return result, nil
}

// process resolves refs in batches on a worker pool. complete is false when
// the context ended before every batch ran.
func (s *BuyScanner) process(ctx context.Context, drawing *models.Drawing, venue *pricing.Venue, filter *blacklist.Filter, refs []models.SignatureRef) (outcomes []outcome, complete bool) {
	pool := pond.NewResultPool[outcome](s.config.Workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	for start := 0; start < len(refs); start += s.config.BatchSize {
		if start > 0 && !sleep(ctx, s.config.BatchDelay) {
			return outcomes, false
		}

		end := start + s.config.BatchSize
		if end > len(refs) {
			end = len(refs)
		}

		group := pool.NewGroup()
		for _, ref := range refs[start:end] {
			group.Submit(func() outcome {
				return s.evaluate(ctx, drawing, venue, filter, ref)
			})
		}
		batch, err := group.Wait()
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"drawing_id": drawing.ID,
				"error":      err,
			}).Warn("Scan batch interrupted")
			return outcomes, false
		}
		outcomes = append(outcomes, batch...)
	}
	return outcomes, true
}

// evaluate classifies one signature of the venue's history
func (s *BuyScanner) evaluate(ctx context.Context, drawing *models.Drawing, venue *pricing.Venue, filter *blacklist.Filter, ref models.SignatureRef) outcome {
	if ref.Failed {
		return outcome{kind: outcomeNotBuy}
	}

	tx, err := s.fetcher.FetchTransaction(ctx, ref.Signature)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"signature": ref.Signature,
			"error":     err,
		}).Warn("Failed to fetch transaction, skipping")
		return outcome{kind: outcomeFailed}
	}

	purchase, ok := s.parser.Parse(tx, drawing.TokenAddress)
	if !ok {
		return outcome{kind: outcomeNotBuy}
	}

	timestamp := ref.BlockTime
	if tx.BlockTime != nil {
		timestamp = *tx.BlockTime
	}
	if timestamp.IsZero() {
		s.logger.WithField("signature", ref.Signature).Debug("Transaction has no block time, skipping")
		return outcome{kind: outcomeFailed}
	}

	buy := models.Buy{
		Signature:     ref.Signature,
		WalletAddress: purchase.WalletAddress,
		TokenAmount:   purchase.TokenAmount,
		USDAmount:     decimal.Zero,
		Timestamp:     timestamp.UTC(),
	}

	if filter.Blocked(purchase.WalletAddress) {
		return outcome{kind: outcomeBlacklisted, buy: buy}
	}

	if !drawing.InWindow(buy.Timestamp) {
		return outcome{kind: outcomeOutOfWindow}
	}

	if venue.PriceOK {
		usd := purchase.TokenAmount.Mul(venue.PriceUSD)
		if usd.LessThan(drawing.MinUSDAmount) {
			buy.USDAmount = usd.Truncate(6)
			return outcome{kind: outcomeBelowMinimum, buy: buy}
		}
		buy.USDAmount = usd.Truncate(6)
		buy.Verified = true
	}

	return outcome{kind: outcomeQualified, buy: buy}
}

func (s *BuyScanner) recordMetrics(result *Result) {
	if s.metricsManager == nil {
		return
	}
	m := s.metricsManager.GetPrometheusMetrics()
	m.RecordTransactionsScanned(result.TransactionsExamined)
	m.RecordBuysFiltered("blacklist", result.Filtered)
	m.RecordBuysFiltered("below_minimum", result.BelowMinimum)
	m.RecordBuysFiltered("out_of_window", result.OutOfWindow)
}

// OrderBuys sorts buys by timestamp, then signature, keeping the first buy of
// each signature
func OrderBuys(buys []models.Buy) []models.Buy {
	sort.SliceStable(buys, func(i, j int) bool {
		if !buys[i].Timestamp.Equal(buys[j].Timestamp) {
			return buys[i].Timestamp.Before(buys[j].Timestamp)
		}
		return buys[i].Signature < buys[j].Signature
	})

	seen := make(map[string]struct{}, len(buys))
	out := buys[:0]
	for _, b := range buys {
		if _, dup := seen[b.Signature]; dup {
			continue
		}
		seen[b.Signature] = struct{}{}
		out = append(out, b)
	}
	return out
}

func rejection(buy models.Buy, reason string) models.Rejection {
	return models.Rejection{
		Signature:     buy.Signature,
		WalletAddress: buy.WalletAddress,
		Reason:        reason,
	}
}

func uniqueRefs(refs []models.SignatureRef) []models.SignatureRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]models.SignatureRef, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r.Signature]; dup {
			continue
		}
		seen[r.Signature] = struct{}{}
		out = append(out, r)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
