package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is one ticket tied to one qualifying purchase
type Entry struct {
	ID            int64           `json:"id" db:"id"`
	DrawingID     int64           `json:"draw_id" db:"draw_id"`
	TicketNumber  int             `json:"lotto_number" db:"lotto_number"`
	WalletAddress string          `json:"wallet_address" db:"wallet_address"`
	Signature     *string         `json:"transaction_signature,omitempty" db:"transaction_signature"`
	TokenAmount   decimal.Decimal `json:"token_amount" db:"token_amount"`
	USDAmount     decimal.Decimal `json:"usd_amount" db:"usd_amount"`
	EventTime     time.Time       `json:"timestamp" db:"timestamp"`
	Verified      bool            `json:"verified" db:"verified"`
	Notes         *string         `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// SignatureValue returns the signature or an empty string for unsigned entries
func (e *Entry) SignatureValue() string {
	if e.Signature == nil {
		return ""
	}
	return *e.Signature
}

// EntryBefore is the chronological order tickets follow: event time, then
// current ticket number, then insertion id. Entries sharing a timestamp keep
// the order they were numbered in.
func EntryBefore(a, b *Entry) bool {
	if !a.EventTime.Equal(b.EventTime) {
		return a.EventTime.Before(b.EventTime)
	}
	if a.TicketNumber != b.TicketNumber {
		return a.TicketNumber < b.TicketNumber
	}
	return a.ID < b.ID
}

// SortEntries orders entries chronologically in place
func SortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return EntryBefore(entries[i], entries[j])
	})
}
