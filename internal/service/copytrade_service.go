package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/adapter"
	"github.com/soltrade-core/internal/bus"
	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/retry"
	"github.com/soltrade-core/internal/storage"
	"github.com/soltrade-core/internal/types"
)

var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// ConfigStore is the relational store surface the copy-trade engine uses.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg *models.CopyTradeConfig) error
	GetConfig(ctx context.Context, id string) (*models.CopyTradeConfig, error)
	ListConfigsByOwner(ctx context.Context, ownerWalletID string) ([]*models.CopyTradeConfig, error)
	ListRunningByTrackingWallet(ctx context.Context, trackingWallet string) ([]*models.CopyTradeConfig, error)
	UpdateConfigStatus(ctx context.Context, id string, status types.ConfigStatus) error
	CreateDetail(ctx context.Context, detail *models.CopyTradeDetail) error
	ListDetailsByConfig(ctx context.Context, configID string, limit int) ([]*models.CopyTradeDetail, error)
	UpdateDetailOutcome(ctx context.Context, id string, status types.DetailStatus, resultTxHash *string, message string) error
}

// PositionStore is the position persistence surface.
type PositionStore interface {
	Create(ctx context.Context, p *models.PositionTracking) error
	GetOpen(ctx context.Context, configID, token string) (*models.PositionTracking, error)
	UpdateEntry(ctx context.Context, p *models.PositionTracking) error
	Close(ctx context.Context, id string, sellTxHash *string) error
	ListOpenManual(ctx context.Context) ([]*storage.ManualPosition, error)
}

// DedupStore is the processed-signature ledger.
type DedupStore interface {
	HasProcessed(ctx context.Context, signature string) (bool, error)
	MarkProcessed(ctx context.Context, signature string) (bool, error)
}

// TradeEventRecorder receives audit records of execution outcomes.
type TradeEventRecorder interface {
	RecordAsync(event *models.TradeEvent)
}

// CopyTradeService mirrors tracked wallets' swaps onto subscriber configs.
// It owns the wallet subscription lifecycle on the event bus.
type CopyTradeService struct {
	configs   ConfigStore
	positions PositionStore
	dedup     DedupStore
	events    *bus.Bus
	analyzer  adapter.TransactionAnalyzer
	router    adapter.SwapRouter
	oracle    adapter.PriceOracle
	audit     TradeEventRecorder
	tuning    *config.CopyTradeConfig
}

// NewCopyTradeService wires the copy-trade engine.
func NewCopyTradeService(
	configs ConfigStore,
	positions PositionStore,
	dedup DedupStore,
	events *bus.Bus,
	analyzer adapter.TransactionAnalyzer,
	router adapter.SwapRouter,
	oracle adapter.PriceOracle,
	audit TradeEventRecorder,
	tuning *config.CopyTradeConfig,
) *CopyTradeService {
	return &CopyTradeService{
		configs:   configs,
		positions: positions,
		dedup:     dedup,
		events:    events,
		analyzer:  analyzer,
		router:    router,
		oracle:    oracle,
		audit:     audit,
		tuning:    tuning,
	}
}

// Start subscribes every running config's tracking wallet. Called once at
// process startup to rebuild the in-memory subscription registry.
func (s *CopyTradeService) Start(ctx context.Context, running []*models.CopyTradeConfig) {
	seen := make(map[string]bool)
	for _, cfg := range running {
		if cfg.Status != types.ConfigRunning || seen[cfg.TrackingWallet] {
			continue
		}
		seen[cfg.TrackingWallet] = true
		s.subscribe(cfg.TrackingWallet)
	}

	logging.WithField("wallets", len(seen)).Info("Copy-trade service started")
}

func (s *CopyTradeService) subscribe(trackingWallet string) {
	s.events.Subscribe(trackingWallet, types.ServiceCopyTrade, func(ctx context.Context, event bus.TransactionEvent) {
		if err := s.HandleWalletTransaction(ctx, event); err != nil {
			logging.WithError(err).WithFields(map[string]interface{}{
				"address":   event.WalletAddress,
				"signature": event.Signature,
			}).Error("Failed to handle wallet transaction")
		}
	})
}

// CreateConfig validates and persists a new config. A config created in
// running state is subscribed immediately.
func (s *CopyTradeService) CreateConfig(ctx context.Context, cfg *models.CopyTradeConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Status == "" {
		cfg.Status = types.ConfigRunning
	}

	if err := s.configs.CreateConfig(ctx, cfg); err != nil {
		return err
	}

	if cfg.Status == types.ConfigRunning {
		s.subscribe(cfg.TrackingWallet)
	}

	logging.WithFields(map[string]interface{}{
		"configId":       cfg.ID,
		"trackingWallet": cfg.TrackingWallet,
		"buyOption":      string(cfg.BuyOption),
	}).Info("Copy-trade config created")

	return nil
}

func validateConfig(cfg *models.CopyTradeConfig) error {
	if cfg.OwnerWalletID == "" {
		return apperrors.NewValidationError("owner wallet id is required")
	}
	if cfg.TrackingWallet == "" {
		return apperrors.NewValidationError("tracking wallet is required")
	}
	if !cfg.Amount.IsPositive() {
		return apperrors.NewValidationError("amount must be positive")
	}

	switch cfg.BuyOption {
	case types.BuyOptionMax, types.BuyOptionFixed:
	case types.BuyOptionRatio:
		if cfg.Ratio.IsNegative() || cfg.Ratio.GreaterThan(decimal.NewFromInt(100)) {
			return apperrors.NewValidationError("ratio must be between 0 and 100")
		}
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown buy option %q", cfg.BuyOption))
	}

	switch cfg.SellMethod {
	case types.SellMethodAuto, types.SellMethodNone, types.SellMethodManual:
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown sell method %q", cfg.SellMethod))
	}

	return nil
}

// ListConfigs returns all of an owner's copy-trade configs.
func (s *CopyTradeService) ListConfigs(ctx context.Context, ownerWalletID string) ([]*models.CopyTradeConfig, error) {
	return s.configs.ListConfigsByOwner(ctx, ownerWalletID)
}

// ListDetails returns a config's execution history after verifying the
// caller owns the config.
func (s *CopyTradeService) ListDetails(ctx context.Context, ownerWalletID, configID string, limit int) ([]*models.CopyTradeDetail, error) {
	if _, err := s.ownedConfig(ctx, ownerWalletID, configID); err != nil {
		return nil, err
	}
	return s.configs.ListDetailsByConfig(ctx, configID, limit)
}

// ownedConfig loads a config and checks it belongs to the caller. Another
// wallet's config answers not-found, never forbidden, so config ids cannot
// be enumerated.
func (s *CopyTradeService) ownedConfig(ctx context.Context, ownerWalletID, configID string) (*models.CopyTradeConfig, error) {
	cfg, err := s.configs.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}
	if cfg.OwnerWalletID != ownerWalletID {
		return nil, apperrors.NewNotFoundError("copy trade config", configID)
	}
	return cfg, nil
}

// SetStatus transitions a config between running, pause and stop, keeping
// the event bus subscription in step. Only the owning wallet may transition
// a config.
func (s *CopyTradeService) SetStatus(ctx context.Context, ownerWalletID, configID string, target types.ConfigStatus) error {
	cfg, err := s.ownedConfig(ctx, ownerWalletID, configID)
	if err != nil {
		return err
	}

	if !cfg.CanTransitionTo(target) {
		return apperrors.NewInvalidTransitionError(string(cfg.Status), string(target))
	}

	if err := s.configs.UpdateConfigStatus(ctx, configID, target); err != nil {
		return err
	}

	switch target {
	case types.ConfigRunning:
		s.subscribe(cfg.TrackingWallet)
	default:
		// Unsubscribe only when no other running config still tracks
		// this wallet.
		remaining, err := s.configs.ListRunningByTrackingWallet(ctx, cfg.TrackingWallet)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			s.events.Unsubscribe(cfg.TrackingWallet, types.ServiceCopyTrade)
		}
	}

	logging.WithFields(map[string]interface{}{
		"configId": configID,
		"from":     string(cfg.Status),
		"to":       string(target),
	}).Info("Copy-trade config status changed")

	return nil
}

// Pause suspends event delivery for a config.
func (s *CopyTradeService) Pause(ctx context.Context, ownerWalletID, configID string) error {
	return s.SetStatus(ctx, ownerWalletID, configID, types.ConfigPaused)
}

// Resume returns a paused config to running.
func (s *CopyTradeService) Resume(ctx context.Context, ownerWalletID, configID string) error {
	return s.SetStatus(ctx, ownerWalletID, configID, types.ConfigRunning)
}

// Stop terminally stops a config.
func (s *CopyTradeService) Stop(ctx context.Context, ownerWalletID, configID string) error {
	return s.SetStatus(ctx, ownerWalletID, configID, types.ConfigStopped)
}

// HandleWalletTransaction runs the mirror pipeline for one tracked-wallet
// transaction. The dedup ledger insert is the at-most-once boundary: once a
// signature is marked, redelivery is absorbed silently.
func (s *CopyTradeService) HandleWalletTransaction(ctx context.Context, event bus.TransactionEvent) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"address":   event.WalletAddress,
		"signature": event.Signature,
	})

	if event.WalletAddress == "" || event.Signature == "" {
		logger.Warn("Dropping malformed transaction event")
		return nil
	}

	processed, err := s.dedup.HasProcessed(ctx, event.Signature)
	if err != nil {
		return err
	}
	if processed {
		logger.Debug("Signature already processed, dropping")
		return nil
	}

	configs, err := s.configs.ListRunningByTrackingWallet(ctx, event.WalletAddress)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		logger.Debug("No running configs track this wallet")
		return nil
	}

	// Write-ahead mark. Losing the process after this point means the
	// event counts as handled; the unique constraint absorbs concurrent
	// duplicates.
	inserted, err := s.dedup.MarkProcessed(ctx, event.Signature)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Debug("Signature marked by concurrent handler, dropping")
		return nil
	}

	info, err := s.analyzeWithRetry(ctx, event.WalletAddress, event.Signature)
	if err != nil {
		logger.WithError(err).Error("Source transaction analysis failed")
		return nil
	}

	// One config's failure never blocks the others.
	for _, cfg := range configs {
		if err := s.copyForConfig(ctx, cfg, event.Signature, info); err != nil {
			logger.WithError(err).WithField("configId", cfg.ID).Error("Copy failed for config")
		}
	}

	return nil
}

// analyzeWithRetry analyzes the source transaction, retrying transient RPC
// failures with bounded backoff.
func (s *CopyTradeService) analyzeWithRetry(ctx context.Context, walletAddress, signature string) (*adapter.SwapInfo, error) {
	var info *adapter.SwapInfo

	err := retry.Do(ctx, retry.AnalysisConfig(), func(ctx context.Context, attempt int) error {
		var err error
		info, err = s.analyzer.Analyze(ctx, walletAddress, signature)
		return err
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

func (s *CopyTradeService) copyForConfig(ctx context.Context, cfg *models.CopyTradeConfig, sourceTxHash string, info *adapter.SwapInfo) error {
	switch info.Type {
	case types.DetailBuy:
		return s.mirrorBuy(ctx, cfg, sourceTxHash, info)
	case types.DetailSell:
		if cfg.SellMethod != types.SellMethodAuto {
			return nil
		}
		return s.mirrorSell(ctx, cfg, sourceTxHash, info)
	default:
		return nil
	}
}

func (s *CopyTradeService) mirrorBuy(ctx context.Context, cfg *models.CopyTradeConfig, sourceTxHash string, info *adapter.SwapInfo) error {
	trackedSOL := info.InputAmount.Div(lamportsPerSOL)
	amountSOL := computeMirrorAmount(cfg, trackedSOL)
	if !amountSOL.IsPositive() {
		return nil
	}

	price := s.tokenPrice(ctx, info.OutputMint)

	detail := &models.CopyTradeDetail{
		ID:           uuid.New().String(),
		ConfigID:     cfg.ID,
		Type:         types.DetailBuy,
		TokenAddress: info.OutputMint,
		Amount:       amountSOL,
		Price:        price,
		SourceTxHash: sourceTxHash,
		Status:       types.DetailWait,
	}
	if err := s.configs.CreateDetail(ctx, detail); err != nil {
		return err
	}

	result, err := s.router.SmartSwap(ctx, &adapter.SwapRequest{
		WalletID:   cfg.OwnerWalletID,
		InputMint:  adapter.WrappedSOLMint,
		OutputMint: info.OutputMint,
		Amount:     amountSOL.Mul(lamportsPerSOL).Truncate(0),
	})
	if err != nil {
		return s.recordFailure(ctx, cfg, detail, err)
	}

	if err := s.configs.UpdateDetailOutcome(ctx, detail.ID, types.DetailSuccess, &result.Signature, ""); err != nil {
		return err
	}
	s.recordAudit(cfg, detail, result.Signature, "success")

	return s.trackPosition(ctx, cfg, info.OutputMint, amountSOL, price, result.Signature)
}

func (s *CopyTradeService) mirrorSell(ctx context.Context, cfg *models.CopyTradeConfig, sourceTxHash string, info *adapter.SwapInfo) error {
	position, err := s.positions.GetOpen(ctx, cfg.ID, info.InputMint)
	if err != nil {
		return err
	}
	if position == nil {
		// Nothing copied to exit.
		return nil
	}

	price := s.tokenPrice(ctx, info.InputMint)

	detail := &models.CopyTradeDetail{
		ID:           uuid.New().String(),
		ConfigID:     cfg.ID,
		Type:         types.DetailSell,
		TokenAddress: info.InputMint,
		Amount:       position.Amount,
		Price:        price,
		SourceTxHash: sourceTxHash,
		Status:       types.DetailWait,
	}
	if err := s.configs.CreateDetail(ctx, detail); err != nil {
		return err
	}

	result, err := s.router.SmartSwap(ctx, &adapter.SwapRequest{
		WalletID:   cfg.OwnerWalletID,
		InputMint:  info.InputMint,
		OutputMint: adapter.WrappedSOLMint,
		Amount:     position.Amount,
	})
	if err != nil {
		return s.recordFailure(ctx, cfg, detail, err)
	}

	if err := s.configs.UpdateDetailOutcome(ctx, detail.ID, types.DetailSuccess, &result.Signature, ""); err != nil {
		return err
	}
	s.recordAudit(cfg, detail, result.Signature, "success")

	return s.positions.Close(ctx, position.ID, &result.Signature)
}

// recordFailure stores the classified swap failure on the detail. Swap
// failures are terminal for the source event; the router already spent its
// internal attempt budget.
func (s *CopyTradeService) recordFailure(ctx context.Context, cfg *models.CopyTradeConfig, detail *models.CopyTradeDetail, swapErr error) error {
	code := adapter.ClassifySwapError(swapErr)
	message := fmt.Sprintf("%s: %s", code, swapErr.Error())

	if err := s.configs.UpdateDetailOutcome(ctx, detail.ID, types.DetailError, nil, message); err != nil {
		return err
	}
	s.recordAudit(cfg, detail, "", code)
	return nil
}

func (s *CopyTradeService) recordAudit(cfg *models.CopyTradeConfig, detail *models.CopyTradeDetail, resultTxHash, outcome string) {
	if s.audit == nil {
		return
	}
	s.audit.RecordAsync(&models.TradeEvent{
		ConfigID:     cfg.ID,
		OwnerWallet:  cfg.OwnerWalletID,
		Tracking:     cfg.TrackingWallet,
		Type:         detail.Type,
		Token:        detail.TokenAddress,
		Amount:       detail.Amount.String(),
		SourceTxHash: detail.SourceTxHash,
		ResultTxHash: resultTxHash,
		Outcome:      outcome,
		Timestamp:    time.Now(),
	})
}

// trackPosition opens a new position or merges the buy into the existing
// open one, keeping a single open position per (config, token).
func (s *CopyTradeService) trackPosition(ctx context.Context, cfg *models.CopyTradeConfig, token string, amount, price decimal.Decimal, buyTxHash string) error {
	existing, err := s.positions.GetOpen(ctx, cfg.ID, token)
	if err != nil {
		return err
	}

	if existing != nil {
		existing.MergeBuy(amount, price)
		return s.positions.UpdateEntry(ctx, existing)
	}

	return s.positions.Create(ctx, &models.PositionTracking{
		ID:         uuid.New().String(),
		ConfigID:   cfg.ID,
		Token:      token,
		EntryPrice: price,
		Amount:     amount,
		BuyTxHash:  buyTxHash,
		EntryTime:  time.Now(),
		Status:     types.PositionOpen,
	})
}

// tokenPrice fetches the current USD price best-effort. A missing price does
// not block the mirror; it is recorded as zero and the position cannot take
// part in TP/SL until a later price is observed.
func (s *CopyTradeService) tokenPrice(ctx context.Context, mint string) decimal.Decimal {
	price, err := s.oracle.GetTokenPriceUSD(ctx, mint)
	if err != nil {
		logging.WithError(err).WithField("mint", mint).Warn("Token price unavailable")
		return decimal.Zero
	}
	return price
}

// computeMirrorAmount derives the mirrored trade size in SOL from the
// tracked wallet's trade size per the config's buy option.
func computeMirrorAmount(cfg *models.CopyTradeConfig, trackedSOL decimal.Decimal) decimal.Decimal {
	switch cfg.BuyOption {
	case types.BuyOptionMax:
		if trackedSOL.LessThan(cfg.Amount) {
			return trackedSOL
		}
		return cfg.Amount

	case types.BuyOptionFixed:
		return cfg.Amount

	case types.BuyOptionRatio:
		scaled := trackedSOL.Mul(cfg.Ratio).Div(decimal.NewFromInt(100))
		if scaled.GreaterThan(cfg.Amount) {
			return cfg.Amount
		}
		return scaled

	default:
		return decimal.Zero
	}
}

// EvaluateManualPositions runs one TP/SL sweep over open manual positions.
// Positions that trip a threshold get a sell detail in wait status and flip
// to closed; the downstream executor submits the actual sell.
func (s *CopyTradeService) EvaluateManualPositions(ctx context.Context) error {
	positions, err := s.positions.ListOpenManual(ctx)
	if err != nil {
		return err
	}

	for _, mp := range positions {
		if err := s.evaluatePosition(ctx, mp); err != nil {
			logging.WithError(err).WithField("positionId", mp.Position.ID).Error("TP/SL evaluation failed")
		}
	}

	return nil
}

func (s *CopyTradeService) evaluatePosition(ctx context.Context, mp *storage.ManualPosition) error {
	if mp.Position.EntryPrice.IsZero() {
		return nil
	}

	current, err := s.oracle.GetTokenPriceUSD(ctx, mp.Position.Token)
	if err != nil {
		return err
	}

	change := mp.Position.PriceChangePct(current)

	takeProfit := mp.TakeProfitPct.IsPositive() && change.GreaterThanOrEqual(mp.TakeProfitPct)
	stopLoss := mp.StopLossPct.IsPositive() && change.LessThanOrEqual(mp.StopLossPct.Neg())
	if !takeProfit && !stopLoss {
		return nil
	}

	detail := &models.CopyTradeDetail{
		ID:           uuid.New().String(),
		ConfigID:     mp.Position.ConfigID,
		Type:         types.DetailSell,
		TokenAddress: mp.Position.Token,
		Amount:       mp.Position.Amount,
		Price:        current,
		SourceTxHash: mp.Position.BuyTxHash,
		Status:       types.DetailWait,
	}
	if err := s.configs.CreateDetail(ctx, detail); err != nil {
		return err
	}

	if err := s.positions.Close(ctx, mp.Position.ID, nil); err != nil {
		return err
	}

	logging.WithFields(map[string]interface{}{
		"positionId": mp.Position.ID,
		"token":      mp.Position.Token,
		"changePct":  change.StringFixed(2),
		"takeProfit": takeProfit,
	}).Info("Manual position closed by TP/SL sweep")

	return nil
}
