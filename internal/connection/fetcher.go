package connection

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// FetchResult is the signature history gathered by FetchSince, newest first
type FetchResult struct {
	Refs []models.SignatureRef
	// Partial is set when a page could not be fetched after all attempts
	Partial bool
	Pages   int
}

// Newest returns the newest signature gathered, or ""
func (r *FetchResult) Newest() string {
	if len(r.Refs) == 0 {
		return ""
	}
	return r.Refs[0].Signature
}

// SignatureFetcher pages backward through an address' history with bounded retries
type SignatureFetcher struct {
	provider       Provider
	config         config.FetcherConfig
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewSignatureFetcher creates a fetcher over provider
func NewSignatureFetcher(provider Provider, cfg config.FetcherConfig, metricsManager *metrics.Manager) *SignatureFetcher {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TxAttempts <= 0 {
		cfg.TxAttempts = 2
	}
	return &SignatureFetcher{
		provider:       provider,
		config:         cfg,
		logger:         utils.ComponentLogger("fetcher"),
		metricsManager: metricsManager,
	}
}

// FetchSince collects the signatures of address with a block time at or after
// start. Pagination stops at the first page reaching below start, at a short
// page, or at until (exclusive) when given. A page that still fails after the
// configured attempts ends the walk and marks the result partial. The only
// error returned is the context's.
func (f *SignatureFetcher) FetchSince(ctx context.Context, address string, start time.Time, until string) (*FetchResult, error) {
	result := &FetchResult{}
	before := ""

	for {
		page, err := f.fetchPage(ctx, address, SignatureQuery{
			Before: before,
			Until:  until,
			Limit:  f.config.PageLimit,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.Partial = true
				return result, ctxErr
			}
			f.logger.WithFields(logrus.Fields{
				"address":  address,
				"before":   before,
				"gathered": len(result.Refs),
				"error":    err,
			}).Warn("Signature page unavailable, returning partial history")
			result.Partial = true
			return result, nil
		}
		result.Pages++

		reachedStart := false
		for _, ref := range page {
			// Unknown block times are kept; the transaction carries its own
			if !ref.BlockTime.IsZero() && ref.BlockTime.Before(start) {
				reachedStart = true
				continue
			}
			result.Refs = append(result.Refs, ref)
		}

		if reachedStart || len(page) < f.config.PageLimit {
			return result, nil
		}
		before = page[len(page)-1].Signature

		if err := sleepContext(ctx, f.config.PageDelay); err != nil {
			result.Partial = true
			return result, err
		}
	}
}

func (f *SignatureFetcher) fetchPage(ctx context.Context, address string, query SignatureQuery) ([]models.SignatureRef, error) {
	var page []models.SignatureRef
	operation := func() error {
		refs, err := f.provider.GetSignatures(ctx, address, query)
		if err != nil {
			if permanent(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		page = refs
		return nil
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(f.pageBackOff(), ctx),
		f.notify("get_signatures"))
	return page, err
}

// FetchTransaction resolves one transaction, retrying with a fixed delay
func (f *SignatureFetcher) FetchTransaction(ctx context.Context, signature string) (*models.Transaction, error) {
	var tx *models.Transaction
	operation := func() error {
		res, err := f.provider.GetTransaction(ctx, signature)
		if err != nil {
			if permanent(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		tx = res
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(f.config.TxRetryDelay), uint64(f.config.TxAttempts-1))
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), f.notify("get_transaction"))
	return tx, err
}

func (f *SignatureFetcher) pageBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.config.InitialBackoff
	if f.config.MaxBackoff > 0 {
		b.MaxInterval = f.config.MaxBackoff
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(f.config.MaxAttempts-1))
}

func (f *SignatureFetcher) notify(operation string) backoff.Notify {
	return func(err error, wait time.Duration) {
		f.logger.WithFields(logrus.Fields{
			"operation": operation,
			"retry_in":  wait.String(),
			"error":     err,
		}).Debug("Retrying RPC call")
		if f.metricsManager != nil {
			f.metricsManager.GetPrometheusMetrics().RecordRetry(operation)
		}
	}
}

// permanent reports errors that another attempt cannot fix
func permanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	return utils.CodeOf(err) == utils.ErrCodeValidation
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
