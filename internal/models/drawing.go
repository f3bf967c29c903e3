package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DrawingStatus represents the lifecycle state of a drawing
type DrawingStatus string

const (
	DrawingActive    DrawingStatus = "active"
	DrawingCompleted DrawingStatus = "completed"
	DrawingCancelled DrawingStatus = "cancelled"
)

// DefaultTotalSlots is the capacity used when a drawing is created without one
const DefaultTotalSlots = 69

// Drawing is one numbered-ticket allocation for a token and time window
type Drawing struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"draw_name" db:"draw_name"`
	TokenAddress string          `json:"token_address" db:"token_address"`
	TokenSymbol  string          `json:"token_symbol" db:"token_symbol"`
	MinUSDAmount decimal.Decimal `json:"min_usd_amount" db:"min_usd_amount"`
	StartTime    time.Time       `json:"start_time" db:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty" db:"end_time"`
	TotalSlots   int             `json:"total_slots" db:"total_slots"`
	FilledSlots  int             `json:"filled_slots" db:"filled_slots"`
	Status       DrawingStatus   `json:"status" db:"status"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// IsActive reports whether the drawing accepts new entries
func (d *Drawing) IsActive() bool {
	return d.Status == DrawingActive
}

// IsFull reports whether every slot has been assigned
func (d *Drawing) IsFull() bool {
	return d.FilledSlots >= d.TotalSlots
}

// RemainingSlots returns the number of unassigned tickets
func (d *Drawing) RemainingSlots() int {
	if d.IsFull() {
		return 0
	}
	return d.TotalSlots - d.FilledSlots
}

// InWindow reports whether t falls inside [StartTime, EndTime]
func (d *Drawing) InWindow(t time.Time) bool {
	if t.Before(d.StartTime) {
		return false
	}
	if d.EndTime != nil && t.After(*d.EndTime) {
		return false
	}
	return true
}

// DrawingFilter narrows drawing listings
type DrawingFilter struct {
	Status       *DrawingStatus `json:"status,omitempty"`
	TokenAddress string         `json:"token_address,omitempty"`
	Limit        int            `json:"limit,omitempty"`
}
