package models

import "time"

// BlacklistEntry excludes a wallet from every drawing of a token
type BlacklistEntry struct {
	ID            int64     `json:"id" db:"id"`
	TokenAddress  string    `json:"token_address" db:"token_address"`
	WalletAddress string    `json:"wallet_address" db:"wallet_address"`
	Reason        string    `json:"reason" db:"reason"`
	Notes         *string   `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ManagedToken is a token drawings can be created for
type ManagedToken struct {
	TokenAddress string    `json:"token_address" db:"token_address"`
	Symbol       string    `json:"token_symbol" db:"token_symbol"`
	Name         string    `json:"token_name" db:"token_name"`
	Active       bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
