package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/internal/storage"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// CreateDrawing validates and stores a new active drawing. The token symbol is
// taken from the managed token registry when not given.
func (s *ScanService) CreateDrawing(ctx context.Context, drawing *models.Drawing) error {
	drawing.TokenAddress = strings.TrimSpace(drawing.TokenAddress)
	if !utils.IsValidAddress(drawing.TokenAddress) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid token address", drawing.TokenAddress)
	}
	if strings.TrimSpace(drawing.Name) == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Drawing name is required", "")
	}
	if drawing.MinUSDAmount.IsNegative() {
		return utils.NewAppError(utils.ErrCodeValidation, "Minimum USD amount must not be negative", drawing.MinUSDAmount.String())
	}
	if drawing.TotalSlots < 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Total slots must be positive", strconv.Itoa(drawing.TotalSlots))
	}
	if drawing.TotalSlots == 0 {
		drawing.TotalSlots = models.DefaultTotalSlots
	}
	if drawing.StartTime.IsZero() {
		drawing.StartTime = time.Now().UTC()
	}
	if drawing.EndTime != nil && !drawing.EndTime.After(drawing.StartTime) {
		return utils.NewAppError(utils.ErrCodeValidation, "End time must be after start time", "")
	}

	if drawing.TokenSymbol == "" {
		tokens, err := s.storage.GetManagedTokens(ctx, false)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			if t.TokenAddress == drawing.TokenAddress {
				drawing.TokenSymbol = t.Symbol
				break
			}
		}
	}

	drawing.FilledSlots = 0
	drawing.Status = models.DrawingActive
	if err := s.storage.CreateDrawing(ctx, drawing); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"drawing_id":  drawing.ID,
		"token":       utils.ShortAddress(drawing.TokenAddress),
		"min_usd":     drawing.MinUSDAmount.String(),
		"total_slots": drawing.TotalSlots,
	}).Info("Drawing created")
	return nil
}

// GetDrawing returns a drawing by id
func (s *ScanService) GetDrawing(ctx context.Context, drawingID int64) (*models.Drawing, error) {
	return s.storage.GetDrawing(ctx, drawingID)
}

// ListDrawings lists drawings matching filter
func (s *ScanService) ListDrawings(ctx context.Context, filter models.DrawingFilter) ([]*models.Drawing, error) {
	return s.storage.ListDrawings(ctx, filter)
}

// CancelDrawing stops an active drawing from taking further entries
func (s *ScanService) CancelDrawing(ctx context.Context, drawingID int64) error {
	drawing, err := s.storage.GetDrawing(ctx, drawingID)
	if err != nil {
		return err
	}
	switch drawing.Status {
	case models.DrawingCancelled:
		return nil
	case models.DrawingCompleted:
		return utils.NewAppError(utils.ErrCodeDrawingClosed, "Drawing already completed", strconv.FormatInt(drawingID, 10))
	}
	if err := s.storage.UpdateDrawingStatus(ctx, drawingID, models.DrawingCancelled); err != nil {
		return err
	}
	s.logger.WithField("drawing_id", drawingID).Info("Drawing cancelled")
	return nil
}

// ListEntries returns a drawing's entries in ticket order
func (s *ScanService) ListEntries(ctx context.Context, drawingID int64) ([]*models.Entry, error) {
	if _, err := s.storage.GetDrawing(ctx, drawingID); err != nil {
		return nil, err
	}
	return s.storage.GetEntries(ctx, drawingID)
}

// AddToBlacklist adds or updates a wallet on a token's blacklist
func (s *ScanService) AddToBlacklist(ctx context.Context, entry *models.BlacklistEntry) error {
	entry.TokenAddress = strings.TrimSpace(entry.TokenAddress)
	entry.WalletAddress = strings.TrimSpace(entry.WalletAddress)
	if !utils.IsValidAddress(entry.TokenAddress) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid token address", entry.TokenAddress)
	}
	if !utils.IsValidAddress(entry.WalletAddress) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid wallet address", entry.WalletAddress)
	}
	return s.storage.UpsertBlacklistEntry(ctx, entry)
}

// BulkAddToBlacklist blacklists every wallet for token with one reason.
// Invalid addresses are skipped; the number stored is returned.
func (s *ScanService) BulkAddToBlacklist(ctx context.Context, tokenAddress string, wallets []string, reason string) (int, error) {
	if !utils.IsValidAddress(tokenAddress) {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Invalid token address", tokenAddress)
	}

	added := 0
	for _, wallet := range wallets {
		wallet = strings.TrimSpace(wallet)
		if !utils.IsValidAddress(wallet) {
			s.logger.WithField("wallet", wallet).Warn("Skipping invalid blacklist address")
			continue
		}
		err := s.storage.UpsertBlacklistEntry(ctx, &models.BlacklistEntry{
			TokenAddress:  tokenAddress,
			WalletAddress: wallet,
			Reason:        reason,
		})
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// RemoveFromBlacklist deletes a wallet from a token's blacklist. Entries
// filtered by earlier scans are not restored.
func (s *ScanService) RemoveFromBlacklist(ctx context.Context, tokenAddress, walletAddress string) error {
	deleted, err := s.storage.DeleteBlacklistEntry(ctx, tokenAddress, walletAddress)
	if err != nil {
		return err
	}
	if !deleted {
		return utils.NewAppError(utils.ErrCodeNotFound, "Blacklist entry not found", walletAddress)
	}
	return nil
}

// ListBlacklist returns a token's blacklist
func (s *ScanService) ListBlacklist(ctx context.Context, tokenAddress string) ([]*models.BlacklistEntry, error) {
	return s.storage.GetBlacklist(ctx, tokenAddress)
}

// SaveManagedToken registers or updates a token drawings can be created for
func (s *ScanService) SaveManagedToken(ctx context.Context, token *models.ManagedToken) error {
	token.TokenAddress = strings.TrimSpace(token.TokenAddress)
	if !utils.IsValidAddress(token.TokenAddress) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid token address", token.TokenAddress)
	}
	if token.Symbol == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Token symbol is required", "")
	}
	return s.storage.SaveManagedToken(ctx, token)
}

// ListManagedTokens returns the token registry
func (s *ScanService) ListManagedTokens(ctx context.Context, activeOnly bool) ([]*models.ManagedToken, error) {
	return s.storage.GetManagedTokens(ctx, activeOnly)
}

// GetStorageStats returns storage-wide counters
func (s *ScanService) GetStorageStats(ctx context.Context) (*storage.StorageStats, error) {
	return s.storage.GetStorageStats(ctx)
}
