// Package main provides the API server entry point for the trading core service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soltrade-core/internal/adapter"
	"github.com/soltrade-core/internal/api"
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

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Database connections
	logger.Info("Connecting to databases...")

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

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if err := clickhouse.EnsureTradeEventTable(startupCtx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure trade event table")
	}

	logger.Info("Database connections established")

	// Repositories
	copyTradeRepo := storage.NewCopyTradeRepository(postgres)
	positionRepo := storage.NewPositionRepository(postgres)
	processedHashRepo := storage.NewProcessedHashRepository(postgres)
	withdrawRepo := storage.NewWithdrawRepository(postgres)
	rewardRepo := storage.NewRewardRepository(postgres)
	settlementStore := storage.NewSettlementStore(postgres, withdrawRepo, rewardRepo)
	tradeEventRepo := storage.NewTradeEventRepository(clickhouse)

	// Adapters
	logger.Info("Initializing Solana adapters...")

	rpcClient := adapter.NewSolanaClient(&cfg.Solana)
	walletService := adapter.NewWalletServiceClient(&cfg.Solana)
	analyzer := adapter.NewRPCAnalyzer(rpcClient)
	swapRouter := adapter.NewSwapRouter(&cfg.Solana, cfg.CopyTrade.SwapMaxAttempts, rpcClient, walletService)
	oracle := adapter.NewRedisPriceOracle(redisCache.Client(), &cfg.Oracle)
	lockManager := lock.NewManager(redisCache.Client(), "lock")

	// Services
	logger.Info("Initializing services...")

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

	// Rebuild wallet subscriptions for configs left running before restart.
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

	// The listener feeds the bus the copy-trade engine subscribed to above;
	// without it no tracked-wallet transaction ever reaches the engine.
	txListener, err := worker.NewTxListener(rpcClient, events, cfg.CopyTrade.ListenInterval, cfg.CopyTrade.ListenBatch)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create transaction listener")
	}

	listenCtx, cancelListen := context.WithCancel(context.Background())
	defer cancelListen()

	if err := txListener.Start(listenCtx); err != nil {
		logger.WithError(err).Fatal("Failed to start transaction listener")
	}

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	server := api.NewServer(serverConfig, copyTradeService, settlementService)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	// Stop publishing first, then let in-flight event handlers drain
	// before closing connections.
	if err := txListener.Stop(ctx); err != nil {
		logger.WithError(err).Error("Transaction listener stop failed")
	}
	events.Wait()

	logger.Info("Server exited")
}
