package blacklist

import (
	"context"
	"sync/atomic"

	"github.com/smartdevs17/solana-draw-scanner/internal/models"
)

// Source loads a token's blacklist
type Source interface {
	GetBlacklist(ctx context.Context, tokenAddress string) ([]*models.BlacklistEntry, error)
}

// Filter is a snapshot of one token's blacklist. It is safe for concurrent use.
type Filter struct {
	tokenAddress string
	reasons      map[string]string
	filtered     atomic.Int64
}

// NewFilter builds a filter from blacklist entries of tokenAddress
func NewFilter(tokenAddress string, entries []*models.BlacklistEntry) *Filter {
	f := &Filter{
		tokenAddress: tokenAddress,
		reasons:      make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		if e.TokenAddress != tokenAddress {
			continue
		}
		f.reasons[e.WalletAddress] = e.Reason
	}
	return f
}

// Load reads the current blacklist of tokenAddress from src
func Load(ctx context.Context, src Source, tokenAddress string) (*Filter, error) {
	entries, err := src.GetBlacklist(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	return NewFilter(tokenAddress, entries), nil
}

// Blocked reports whether wallet is blacklisted and counts it when it is
func (f *Filter) Blocked(wallet string) bool {
	if _, ok := f.reasons[wallet]; !ok {
		return false
	}
	f.filtered.Add(1)
	return true
}

// Contains is Blocked without counting
func (f *Filter) Contains(wallet string) bool {
	_, ok := f.reasons[wallet]
	return ok
}

// Reason returns the reason tag of a blacklisted wallet
func (f *Filter) Reason(wallet string) (string, bool) {
	reason, ok := f.reasons[wallet]
	return reason, ok
}

// Count returns how many buys Blocked rejected
func (f *Filter) Count() int {
	return int(f.filtered.Load())
}

// Size returns the number of blacklisted wallets
func (f *Filter) Size() int {
	return len(f.reasons)
}
