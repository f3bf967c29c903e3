package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignatureRef is one entry of an address' transaction history
type SignatureRef struct {
	Signature string    `json:"signature"`
	BlockTime time.Time `json:"block_time"`
	Slot      uint64    `json:"slot"`
	Failed    bool      `json:"failed"`
}

// TokenBalance is a token account balance snapshot inside a transaction
type TokenBalance struct {
	AccountIndex int             `json:"account_index"`
	Mint         string          `json:"mint"`
	Owner        string          `json:"owner"`
	Amount       decimal.Decimal `json:"amount"` // UI amount, decimals applied
}

// Transaction is the subset of a resolved transaction the swap parser needs
type Transaction struct {
	Signature    string         `json:"signature"`
	Slot         uint64         `json:"slot"`
	BlockTime    *time.Time     `json:"block_time,omitempty"`
	Failed       bool           `json:"failed"`
	PreBalances  []TokenBalance `json:"pre_token_balances"`
	PostBalances []TokenBalance `json:"post_token_balances"`
}

// Buy is a parsed purchase of the drawing token
type Buy struct {
	Signature     string          `json:"signature"`
	WalletAddress string          `json:"wallet_address"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	USDAmount     decimal.Decimal `json:"usd_amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Verified      bool            `json:"verified"`
}

// ScanRecord is one row of a drawing's scan history. The most recent
// completed record is the resume boundary for the next scan.
type ScanRecord struct {
	ID                int64     `json:"id" db:"id"`
	DrawingID         int64     `json:"draw_id" db:"draw_id"`
	LastSignature     *string   `json:"last_signature,omitempty" db:"last_signature"`
	TransactionsFound int       `json:"transactions_found" db:"transactions_found"`
	EntriesAdded      int       `json:"entries_added" db:"entries_added"`
	EntriesFiltered   int       `json:"entries_filtered" db:"entries_filtered"`
	BelowMinimum      int       `json:"below_minimum" db:"below_minimum"`
	Completed         bool      `json:"completed" db:"completed"`
	ScannedAt         time.Time `json:"scanned_at" db:"scanned_at"`
}

// Reasons a scanned buy was turned away
const (
	RejectionBlacklisted  = "blacklisted"
	RejectionBelowMinimum = "below_minimum"
)

// Rejection records a signature a drawing turned away. Scans skip rejected
// signatures. Clearing scan history drops blacklist rejections only.
type Rejection struct {
	DrawingID     int64     `json:"draw_id" db:"draw_id"`
	Signature     string    `json:"transaction_signature" db:"transaction_signature"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"`
	Reason        string    `json:"reason" db:"reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ScanResult is returned to scan callers
type ScanResult struct {
	DrawingID              int64  `json:"drawId"`
	NewEntries             int    `json:"newEntries"`
	TotalEntries           int    `json:"totalEntries"`
	TotalSlots             int    `json:"totalSlots"`
	QualifyingTransactions int    `json:"qualifyingTransactions"`
	FilteredWallets        int    `json:"filteredWallets"`
	TransactionsExamined   int    `json:"transactionsExamined"`
	BelowMinimum           int    `json:"belowMinimum"`
	Degraded               bool   `json:"degraded"`
	Partial                bool   `json:"partial"`
	LastSignature          string `json:"lastSignature,omitempty"`
	Message                string `json:"message,omitempty"`
}
