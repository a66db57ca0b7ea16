// Package config provides configuration management for the trading platform core.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Solana     SolanaConfig
	Oracle     OracleConfig
	CopyTrade  CopyTradeConfig
	Settlement SettlementConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SolanaConfig holds Solana RPC configuration
type SolanaConfig struct {
	RPCEndpoint           string
	SwapAPIEndpoint       string
	WalletServiceEndpoint string
	RequestTimeout        time.Duration
	RequestsPerSec        int
	TreasuryAddress       string
}

// OracleConfig holds price oracle cache configuration
type OracleConfig struct {
	PriceKey string
	MaxAge   time.Duration
}

// CopyTradeConfig holds copy-trade engine tuning
type CopyTradeConfig struct {
	SwapMaxAttempts int
	SweepInterval   time.Duration // TP/SL evaluation interval
	ListenInterval  time.Duration // tracked-wallet signature poll interval
	ListenBatch     int           // signatures fetched per wallet per poll
}

// SettlementConfig holds withdrawal settlement engine tuning
type SettlementConfig struct {
	SweepInterval      time.Duration
	MinWithdrawUSD     float64
	PendingExpiry      time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	ConfirmTimeout     time.Duration
	ConfirmPollEvery   time.Duration
	CreateLockWait     time.Duration
	ProcessingLockWait time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "soltrade"),
				User:           getEnv("POSTGRES_USER", "soltrade"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "soltrade"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Solana: SolanaConfig{
			RPCEndpoint:     getEnv("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
			SwapAPIEndpoint:       getEnv("SOLANA_SWAP_API_ENDPOINT", "https://quote-api.jup.ag/v6"),
			WalletServiceEndpoint: getEnv("WALLET_SERVICE_ENDPOINT", "http://localhost:8090"),
			RequestTimeout:        getEnvAsDuration("SOLANA_RPC_TIMEOUT", 15*time.Second),
			RequestsPerSec:        getEnvAsInt("SOLANA_RPC_RPS", 20),
			TreasuryAddress:       getEnv("SOLANA_TREASURY_ADDRESS", ""),
		},
		Oracle: OracleConfig{
			PriceKey: getEnv("ORACLE_PRICE_KEY", "price:sol:usd"),
			MaxAge:   getEnvAsDuration("ORACLE_PRICE_MAX_AGE", 2*time.Minute),
		},
		CopyTrade: CopyTradeConfig{
			SwapMaxAttempts: getEnvAsInt("COPYTRADE_SWAP_MAX_ATTEMPTS", 3),
			SweepInterval:   getEnvAsDuration("COPYTRADE_SWEEP_INTERVAL", time.Minute),
			ListenInterval:  getEnvAsDuration("COPYTRADE_LISTEN_INTERVAL", 5*time.Second),
			ListenBatch:     getEnvAsInt("COPYTRADE_LISTEN_BATCH", 20),
		},
		Settlement: SettlementConfig{
			SweepInterval:      getEnvAsDuration("SETTLEMENT_SWEEP_INTERVAL", time.Minute),
			MinWithdrawUSD:     getEnvAsFloat("SETTLEMENT_MIN_WITHDRAW_USD", 10),
			PendingExpiry:      getEnvAsDuration("SETTLEMENT_PENDING_EXPIRY", 30*time.Minute),
			MaxRetries:         getEnvAsInt("SETTLEMENT_MAX_RETRIES", 5),
			RetryBaseDelay:     getEnvAsDuration("SETTLEMENT_RETRY_BASE_DELAY", time.Minute),
			RetryMaxDelay:      getEnvAsDuration("SETTLEMENT_RETRY_MAX_DELAY", 5*time.Minute),
			ConfirmTimeout:     getEnvAsDuration("SETTLEMENT_CONFIRM_TIMEOUT", 30*time.Second),
			ConfirmPollEvery:   getEnvAsDuration("SETTLEMENT_CONFIRM_POLL", 2*time.Second),
			CreateLockWait:     getEnvAsDuration("SETTLEMENT_CREATE_LOCK_WAIT", 30*time.Second),
			ProcessingLockWait: getEnvAsDuration("SETTLEMENT_PROCESSING_LOCK_WAIT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
