package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/soltrade-core/internal/logging"
)

// handleAvailableBalance handles GET /api/referral/balance
func (s *Server) handleAvailableBalance(w http.ResponseWriter, r *http.Request) {
	wallet := walletID(r)
	if wallet == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}

	balance, err := s.settlementService.AvailableBalance(r.Context(), wallet)
	if err != nil {
		logging.WithError(err).Error("AvailableBalance failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"walletId":     wallet,
		"availableUsd": balance.StringFixed(2),
	})
}

// handleCreateWithdrawal handles POST /api/referral/withdrawals
func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	wallet := walletID(r)
	if wallet == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}

	withdrawal, err := s.settlementService.CreateWithdrawRequest(r.Context(), wallet)
	if err != nil {
		logging.WithError(err).WithField("walletId", wallet).Error("CreateWithdrawRequest failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusCreated, withdrawal)
}

// handleWithdrawHistory handles GET /api/referral/withdrawals
func (s *Server) handleWithdrawHistory(w http.ResponseWriter, r *http.Request) {
	wallet := walletID(r)
	if wallet == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid limit parameter", nil)
			return
		}
		limit = parsed
	}

	history, err := s.settlementService.WithdrawHistory(r.Context(), wallet, limit)
	if err != nil {
		logging.WithError(err).Error("WithdrawHistory failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawals": history,
		"count":       len(history),
	})
}

// handleCancelWithdrawal handles DELETE /api/referral/withdrawals/:id
func (s *Server) handleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	wallet := walletID(r)
	if wallet == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}

	withdrawID := mux.Vars(r)["id"]

	if err := s.settlementService.CancelWithdrawRequest(r.Context(), wallet, withdrawID); err != nil {
		logging.WithError(err).WithField("withdrawId", withdrawID).Error("CancelWithdrawRequest failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     withdrawID,
		"status": "cancelled",
	})
}
