package utils

import (
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// GenerateID returns a random identifier
func GenerateID() string {
	return uuid.NewString()
}

// IsValidAddress checks if a string is a base58 encoded Solana public key
func IsValidAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	return err == nil
}

// IsValidSignature checks if a string is a base58 encoded transaction signature
func IsValidSignature(signature string) bool {
	_, err := solana.SignatureFromBase58(strings.TrimSpace(signature))
	return err == nil
}

// ShortAddress abbreviates an address or signature for log output
func ShortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
