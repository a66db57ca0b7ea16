// Package main provides the background worker entry point: the withdrawal
// settlement sweep and the TP/SL position sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soltrade-core/internal/adapter"
	"github.com/soltrade-core/internal/bus"
	"github.com/soltrade-core/internal/config"
	"github.com/soltrade-core/internal/lock"
	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/service"
	"github.com/soltrade-core/internal/storage"
	"github.com/soltrade-core/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)

	logger := logging.GetGlobalLogger()
	logger.Info("Worker starting")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	// Repositories
	copyTradeRepo := storage.NewCopyTradeRepository(postgres)
	positionRepo := storage.NewPositionRepository(postgres)
	processedHashRepo := storage.NewProcessedHashRepository(postgres)
	withdrawRepo := storage.NewWithdrawRepository(postgres)
	rewardRepo := storage.NewRewardRepository(postgres)
	settlementStore := storage.NewSettlementStore(postgres, withdrawRepo, rewardRepo)
	tradeEventRepo := storage.NewTradeEventRepository(clickhouse)

	// Adapters
	rpcClient := adapter.NewSolanaClient(&cfg.Solana)
	walletService := adapter.NewWalletServiceClient(&cfg.Solana)
	analyzer := adapter.NewRPCAnalyzer(rpcClient)
	swapRouter := adapter.NewSwapRouter(&cfg.Solana, cfg.CopyTrade.SwapMaxAttempts, rpcClient, walletService)
	oracle := adapter.NewRedisPriceOracle(redisCache.Client(), &cfg.Oracle)
	lockManager := lock.NewManager(redisCache.Client(), "lock")

	// Services
	events := bus.New()

	copyTradeService := service.NewCopyTradeService(
		copyTradeRepo,
		positionRepo,
		processedHashRepo,
		events,
		analyzer,
		swapRouter,
		oracle,
		tradeEventRepo,
		&cfg.CopyTrade,
	)

	// The worker binary runs the full mirror pipeline too: subscriptions
	// are rebuilt from the configs left running, and the listener below
	// feeds the shared bus. The dedup ledger keeps this safe alongside an
	// API process doing the same.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	running, err := copyTradeRepo.ListRunning(startupCtx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load running copy-trade configs")
	}
	copyTradeService.Start(startupCtx, running)

	settlementService := service.NewSettlementService(
		settlementStore,
		lockManager,
		rpcClient,
		walletService,
		oracle,
		walletService,
		&cfg.Settlement,
	)

	// Workers
	settlementWorker, err := worker.NewSettlementWorker(settlementService, cfg.Settlement.SweepInterval)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create settlement worker")
	}

	tpslWorker, err := worker.NewTPSLWorker(copyTradeService, cfg.CopyTrade.SweepInterval)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create TP/SL worker")
	}

	txListener, err := worker.NewTxListener(rpcClient, events, cfg.CopyTrade.ListenInterval, cfg.CopyTrade.ListenBatch)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create transaction listener")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := settlementWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start settlement worker")
	}
	if err := tpslWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start TP/SL worker")
	}
	if err := txListener.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start transaction listener")
	}

	logger.Info("Workers started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down workers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := txListener.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Transaction listener stop failed")
	}
	if err := settlementWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Settlement worker stop failed")
	}
	if err := tpslWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("TP/SL worker stop failed")
	}

	// Drain handlers the listener already kicked off.
	events.Wait()

	logger.Info("Workers exited")
}
