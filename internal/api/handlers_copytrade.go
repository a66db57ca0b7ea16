package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/types"
)

// handleCreateConfig handles POST /api/copy-trades - create a copy-trade config
func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	owner := walletID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}

	var req struct {
		TrackingWallet string          `json:"trackingWallet"`
		BuyOption      string          `json:"buyOption"`
		Amount         decimal.Decimal `json:"amount"`
		Ratio          decimal.Decimal `json:"ratio,omitempty"`
		SellMethod     string          `json:"sellMethod"`
		TakeProfitPct  decimal.Decimal `json:"takeProfitPct,omitempty"`
		StopLossPct    decimal.Decimal `json:"stopLossPct,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	cfg := &models.CopyTradeConfig{
		OwnerWalletID:  owner,
		TrackingWallet: req.TrackingWallet,
		BuyOption:      types.BuyOption(req.BuyOption),
		Amount:         req.Amount,
		Ratio:          req.Ratio,
		SellMethod:     types.SellMethod(req.SellMethod),
		TakeProfitPct:  req.TakeProfitPct,
		StopLossPct:    req.StopLossPct,
	}

	if err := s.copyTradeService.CreateConfig(r.Context(), cfg); err != nil {
		logging.WithError(err).Error("CreateConfig failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusCreated, cfg)
}

// handleListConfigs handles GET /api/copy-trades - list the wallet's configs
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	owner := walletID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}

	configs, err := s.copyTradeService.ListConfigs(r.Context(), owner)
	if err != nil {
		logging.WithError(err).Error("ListConfigs failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

// handleSetConfigStatus handles PUT /api/copy-trades/:id/status
func (s *Server) handleSetConfigStatus(w http.ResponseWriter, r *http.Request) {
	owner := walletID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}
	configID := mux.Vars(r)["id"]

	var req struct {
		Status string `json:"status"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	target := types.ConfigStatus(req.Status)
	switch target {
	case types.ConfigRunning, types.ConfigPaused, types.ConfigStopped:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid status value", nil)
		return
	}

	if err := s.copyTradeService.SetStatus(r.Context(), owner, configID, target); err != nil {
		logging.WithError(err).WithField("configId", configID).Error("SetStatus failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     configID,
		"status": req.Status,
	})
}

// handleListDetails handles GET /api/copy-trades/:id/details
func (s *Server) handleListDetails(w http.ResponseWriter, r *http.Request) {
	owner := walletID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Wallet ID required", nil)
		return
	}
	configID := mux.Vars(r)["id"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid limit parameter", nil)
			return
		}
		limit = parsed
	}

	details, err := s.copyTradeService.ListDetails(r.Context(), owner, configID, limit)
	if err != nil {
		logging.WithError(err).WithField("configId", configID).Error("ListDetails failed")
		statusCode, code, message := mapServiceError(err)
		respondError(w, statusCode, code, message, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"details": details,
		"count":   len(details),
	})
}
