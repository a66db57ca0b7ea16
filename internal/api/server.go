// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/types"
)

// Service interfaces for dependency injection and testing

// CopyTradeServiceInterface defines the copy-trade operations the API exposes.
type CopyTradeServiceInterface interface {
	CreateConfig(ctx context.Context, cfg *models.CopyTradeConfig) error
	ListConfigs(ctx context.Context, ownerWalletID string) ([]*models.CopyTradeConfig, error)
	SetStatus(ctx context.Context, ownerWalletID, configID string, target types.ConfigStatus) error
	ListDetails(ctx context.Context, ownerWalletID, configID string, limit int) ([]*models.CopyTradeDetail, error)
}

// SettlementServiceInterface defines the referral withdrawal operations the
// API exposes.
type SettlementServiceInterface interface {
	AvailableBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	WithdrawHistory(ctx context.Context, walletID string, limit int) ([]*models.RefWithdrawHistory, error)
	CreateWithdrawRequest(ctx context.Context, walletID string) (*models.RefWithdrawHistory, error)
	CancelWithdrawRequest(ctx context.Context, walletID, withdrawID string) error
}

// Server represents the HTTP API server.
type Server struct {
	router            *mux.Router
	httpServer        *http.Server
	copyTradeService  CopyTradeServiceInterface
	settlementService SettlementServiceInterface
	config            *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	copyTradeService CopyTradeServiceInterface,
	settlementService SettlementServiceInterface,
) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		copyTradeService:  copyTradeService,
		settlementService: settlementService,
		config:            config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Copy-trade endpoints
	api.HandleFunc("/copy-trades", s.handleCreateConfig).Methods("POST")
	api.HandleFunc("/copy-trades", s.handleListConfigs).Methods("GET")
	api.HandleFunc("/copy-trades/{id}/status", s.handleSetConfigStatus).Methods("PUT")
	api.HandleFunc("/copy-trades/{id}/details", s.handleListDetails).Methods("GET")

	// Referral withdrawal endpoints
	api.HandleFunc("/referral/balance", s.handleAvailableBalance).Methods("GET")
	api.HandleFunc("/referral/withdrawals", s.handleCreateWithdrawal).Methods("POST")
	api.HandleFunc("/referral/withdrawals", s.handleWithdrawHistory).Methods("GET")
	api.HandleFunc("/referral/withdrawals/{id}", s.handleCancelWithdrawal).Methods("DELETE")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "soltrade-core",
	})
}

// walletID extracts the authenticated wallet from the request. In production
// this comes from the auth middleware upstream of this service.
func walletID(r *http.Request) string {
	return r.Header.Get("X-Wallet-ID")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
