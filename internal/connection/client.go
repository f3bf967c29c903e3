package connection

import (
	"context"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/smartdevs17/solana-draw-scanner/internal/models"
)

// Provider is the transaction-history read API the scanner consumes
type Provider interface {
	// GetSignatures returns one page of signatures for address, newest first
	GetSignatures(ctx context.Context, address string, query SignatureQuery) ([]models.SignatureRef, error)
	// GetTransaction returns the resolved transaction, or rpc.ErrNotFound
	GetTransaction(ctx context.Context, signature string) (*models.Transaction, error)
}

// SignatureQuery is the cursor of a signature page request
type SignatureQuery struct {
	Before string // exclusive, page starts below this signature
	Until  string // exclusive, page stops at this signature
	Limit  int
}

func signatureOpts(query SignatureQuery, commitment rpc.CommitmentType) (*rpc.GetSignaturesForAddressOpts, error) {
	opts := &rpc.GetSignaturesForAddressOpts{Commitment: commitment}
	if query.Limit > 0 {
		limit := query.Limit
		opts.Limit = &limit
	}
	if query.Before != "" {
		sig, err := solana.SignatureFromBase58(query.Before)
		if err != nil {
			return nil, err
		}
		opts.Before = sig
	}
	if query.Until != "" {
		sig, err := solana.SignatureFromBase58(query.Until)
		if err != nil {
			return nil, err
		}
		opts.Until = sig
	}
	return opts, nil
}

func convertSignatures(in []*rpc.TransactionSignature) []models.SignatureRef {
	refs := make([]models.SignatureRef, 0, len(in))
	for _, s := range in {
		if s == nil {
			continue
		}
		ref := models.SignatureRef{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Failed:    s.Err != nil,
		}
		if s.BlockTime != nil {
			ref.BlockTime = s.BlockTime.Time().UTC()
		}
		refs = append(refs, ref)
	}
	return refs
}

func convertTransaction(signature string, res *rpc.GetTransactionResult) *models.Transaction {
	tx := &models.Transaction{
		Signature: signature,
		Slot:      res.Slot,
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time().UTC()
		tx.BlockTime = &t
	}
	if res.Meta == nil {
		// No balances to read; the parser treats this as not a buy
		tx.Failed = true
		return tx
	}
	tx.Failed = res.Meta.Err != nil
	tx.PreBalances = convertBalances(res.Meta.PreTokenBalances)
	tx.PostBalances = convertBalances(res.Meta.PostTokenBalances)
	return tx
}

func convertBalances(in []rpc.TokenBalance) []models.TokenBalance {
	out := make([]models.TokenBalance, 0, len(in))
	for _, b := range in {
		balance := models.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			balance.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			balance.Amount = uiAmount(b.UiTokenAmount)
		}
		out = append(out, balance)
	}
	return out
}

// uiAmount converts the raw integer amount to token units without float rounding
func uiAmount(a *rpc.UiTokenAmount) decimal.Decimal {
	if raw, err := decimal.NewFromString(a.Amount); err == nil {
		return raw.Shift(-int32(a.Decimals))
	}
	if s, err := decimal.NewFromString(a.UiAmountString); err == nil {
		return s
	}
	if a.UiAmount != nil {
		return decimal.NewFromFloat(*a.UiAmount)
	}
	return decimal.Zero
}

// IsTransient reports whether err is a rate limit or network failure worth retrying elsewhere
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "too many requests", "rate limit",
		"502", "503", "504", "bad gateway", "service unavailable",
		"timeout", "deadline exceeded", "connection refused", "connection reset",
		"eof", "no such host", "broken pipe",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
