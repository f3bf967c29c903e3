package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/smartdevs17/solana-draw-scanner/internal/assignment"
	"github.com/smartdevs17/solana-draw-scanner/internal/models"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// createDrawingRequest is the body of POST /drawings
type createDrawingRequest struct {
	Name         string          `json:"draw_name"`
	TokenAddress string          `json:"token_address"`
	TokenSymbol  string          `json:"token_symbol"`
	MinUSDAmount decimal.Decimal `json:"min_usd_amount"`
	StartTime    *time.Time      `json:"start_time"`
	TotalSlots   int             `json:"total_slots"`
}

// blacklistRequest adds one wallet or, with Wallets, many
type blacklistRequest struct {
	WalletAddress string   `json:"wallet_address"`
	Wallets       []string `json:"wallets"`
	Reason        string   `json:"reason"`
	Notes         *string  `json:"notes"`
}

// Drawing Handlers

func (s *HTTPServer) listDrawingsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.DrawingFilter{
		TokenAddress: query.Get("token"),
		Limit:        50,
	}
	if status := query.Get("status"); status != "" {
		st := models.DrawingStatus(status)
		filter.Status = &st
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}

	drawings, err := s.service.ListDrawings(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve drawings", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"drawings": drawings,
		"total":    len(drawings),
	})
}

func (s *HTTPServer) createDrawingHandler(w http.ResponseWriter, r *http.Request) {
	var req createDrawingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	drawing := &models.Drawing{
		Name:         req.Name,
		TokenAddress: req.TokenAddress,
		TokenSymbol:  req.TokenSymbol,
		MinUSDAmount: req.MinUSDAmount,
		TotalSlots:   req.TotalSlots,
	}
	if req.StartTime != nil {
		drawing.StartTime = req.StartTime.UTC()
	}

	if err := s.service.CreateDrawing(r.Context(), drawing); err != nil {
		s.writeAppError(w, "Failed to create drawing", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, drawing)
}

func (s *HTTPServer) getDrawingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	drawing, err := s.service.GetDrawing(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve drawing", err)
		return
	}
	s.writeJSON(w, http.StatusOK, drawing)
}

func (s *HTTPServer) cancelDrawingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	if err := s.service.CancelDrawing(r.Context(), id); err != nil {
		s.writeAppError(w, "Failed to cancel drawing", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Drawing cancelled",
		"drawId":  id,
	})
}

// Scan Handlers

func (s *HTTPServer) scanDrawingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	result, err := s.service.ScanDrawing(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "Scan failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) scanAllHandler(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.ScanAllActive(r.Context())
	if err != nil {
		s.writeAppError(w, "Scan failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

func (s *HTTPServer) cleanBlacklistedHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	result, err := s.service.CleanBlacklisted(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "Failed to clean blacklisted entries", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) scanHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	history, err := s.service.GetScanHistory(r.Context(), id, limit)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve scan history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"total":   len(history),
	})
}

func (s *HTTPServer) rejectionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	rejections, err := s.service.ListRejections(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve rejections", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rejections": rejections,
		"total":      len(rejections),
	})
}

func (s *HTTPServer) clearScanHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	deleted, err := s.service.ClearScanHistory(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "Failed to clear scan history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"drawId":  id,
		"deleted": deleted,
	})
}

// Entry Handlers

func (s *HTTPServer) listEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	entries, err := s.service.ListEntries(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve entries", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *HTTPServer) backfillEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.drawingID(w, r)
	if !ok {
		return
	}
	var req assignment.BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := s.service.InsertBackfilledEntry(r.Context(), id, req)
	if err != nil {
		s.writeAppError(w, "Failed to insert entry", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"assignedTicketNumber": entry.TicketNumber,
		"entry":                entry,
	})
}

// Blacklist Handlers

func (s *HTTPServer) listBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	entries, err := s.service.ListBlacklist(r.Context(), token)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve blacklist", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token_address": token,
		"entries":       entries,
		"total":         len(entries),
	})
}

func (s *HTTPServer) addBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if len(req.Wallets) > 0 {
		added, err := s.service.BulkAddToBlacklist(r.Context(), token, req.Wallets, req.Reason)
		if err != nil {
			s.writeAppError(w, "Failed to update blacklist", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"added":   added,
			"skipped": len(req.Wallets) - added,
		})
		return
	}

	entry := &models.BlacklistEntry{
		TokenAddress:  token,
		WalletAddress: req.WalletAddress,
		Reason:        req.Reason,
		Notes:         req.Notes,
	}
	if err := s.service.AddToBlacklist(r.Context(), entry); err != nil {
		s.writeAppError(w, "Failed to update blacklist", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) removeBlacklistHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.service.RemoveFromBlacklist(r.Context(), vars["token"], vars["wallet"]); err != nil {
		s.writeAppError(w, "Failed to remove blacklist entry", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Wallet removed from blacklist",
	})
}

// Managed Token Handlers

func (s *HTTPServer) listTokensHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	tokens, err := s.service.ListManagedTokens(r.Context(), activeOnly)
	if err != nil {
		s.writeAppError(w, "Failed to retrieve tokens", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
		"total":  len(tokens),
	})
}

func (s *HTTPServer) saveTokenHandler(w http.ResponseWriter, r *http.Request) {
	var token models.ManagedToken
	if err := json.NewDecoder(r.Body).Decode(&token); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := s.service.SaveManagedToken(r.Context(), &token); err != nil {
		s.writeAppError(w, "Failed to save token", err)
		return
	}
	s.writeJSON(w, http.StatusOK, token)
}

// drawingID parses the {id} route variable, answering 400 when it is invalid
func (s *HTTPServer) drawingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "Invalid drawing id",
			utils.NewAppError(utils.ErrCodeValidation, "Invalid drawing id", mux.Vars(r)["id"]))
		return 0, false
	}
	return id, true
}
