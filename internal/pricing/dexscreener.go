package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// Venue is the primary trading pair of a token and its current price
type Venue struct {
	PairAddress string          `json:"pair_address"`
	DexID       string          `json:"dex_id"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	// PriceOK is false when the pair has no usable USD price
	PriceOK bool `json:"price_ok"`
}

// Oracle resolves the venue and price of a token
type Oracle interface {
	Venue(ctx context.Context, mint string) (*Venue, error)
}

type tokenPairsResponse struct {
	Pairs []struct {
		ChainID     string `json:"chainId"`
		DexID       string `json:"dexId"`
		PairAddress string `json:"pairAddress"`
		PriceUSD    string `json:"priceUsd"`
	} `json:"pairs"`
}

// DexScreenerClient looks up token pairs on the DexScreener API
type DexScreenerClient struct {
	baseURL        string
	client         *http.Client
	maxAttempts    int
	retryInterval  time.Duration
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewDexScreenerClient creates a new DexScreener client
func NewDexScreenerClient(cfg config.PricingConfig, metricsManager *metrics.Manager) *DexScreenerClient {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DexScreenerClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         &http.Client{Timeout: timeout},
		maxAttempts:    attempts,
		retryInterval:  time.Second,
		logger:         utils.ComponentLogger("pricing"),
		metricsManager: metricsManager,
	}
}

// Venue returns the first listed pair of mint. No pairs, or a lookup that
// keeps failing, is ErrUpstreamUnavailable. A pair without a positive price
// is returned with PriceOK false.
func (c *DexScreenerClient) Venue(ctx context.Context, mint string) (*Venue, error) {
	var resp tokenPairsResponse
	if err := c.get(ctx, "/latest/dex/tokens/"+url.PathEscape(mint), &resp); err != nil {
		c.record("error")
		return nil, utils.NewAppError(utils.ErrCodeUpstreamUnavailable, "Venue lookup failed", err.Error())
	}
	if len(resp.Pairs) == 0 || resp.Pairs[0].PairAddress == "" {
		c.record("no_pairs")
		return nil, utils.NewAppError(utils.ErrCodeUpstreamUnavailable, "No trading pair found for token", mint)
	}

	pair := resp.Pairs[0]
	venue := &Venue{
		PairAddress: pair.PairAddress,
		DexID:       pair.DexID,
	}
	if price, err := decimal.NewFromString(pair.PriceUSD); err == nil && price.IsPositive() {
		venue.PriceUSD = price
		venue.PriceOK = true
		c.record("success")
	} else {
		c.record("no_price")
		c.logger.WithFields(logrus.Fields{
			"mint":      mint,
			"pair":      pair.PairAddress,
			"price_usd": pair.PriceUSD,
		}).Warn("Pair has no usable USD price")
	}
	return venue, nil
}

// Price returns the current USD price of mint; ok is false when unavailable
func (c *DexScreenerClient) Price(ctx context.Context, mint string) (price decimal.Decimal, ok bool, err error) {
	venue, err := c.Venue(ctx, mint)
	if err != nil {
		return decimal.Zero, false, err
	}
	return venue.PriceUSD, venue.PriceOK, nil
}

func (c *DexScreenerClient) get(ctx context.Context, path string, result interface{}) error {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("unexpected status code %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"path":     path,
			"retry_in": wait.String(),
			"error":    err,
		}).Debug("Retrying price lookup")
		if c.metricsManager != nil {
			c.metricsManager.GetPrometheusMetrics().RecordRetry("price_lookup")
		}
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx), notify)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *DexScreenerClient) record(status string) {
	if c.metricsManager != nil {
		c.metricsManager.GetPrometheusMetrics().RecordPriceLookup(status)
	}
}
