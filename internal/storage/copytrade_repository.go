package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/types"
)

// CopyTradeRepository handles copy-trade config and detail persistence
type CopyTradeRepository struct {
	db *PostgresDB
}

// NewCopyTradeRepository creates a new copy-trade repository
func NewCopyTradeRepository(db *PostgresDB) *CopyTradeRepository {
	return &CopyTradeRepository{db: db}
}

const configColumns = `
	id, owner_wallet_id, tracking_wallet, buy_option, amount, ratio,
	sell_method, take_profit_pct, stop_loss_pct, status, created_at, updated_at
`

func scanConfig(row pgx.Row) (*models.CopyTradeConfig, error) {
	var cfg models.CopyTradeConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.OwnerWalletID,
		&cfg.TrackingWallet,
		&cfg.BuyOption,
		&cfg.Amount,
		&cfg.Ratio,
		&cfg.SellMethod,
		&cfg.TakeProfitPct,
		&cfg.StopLossPct,
		&cfg.Status,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateConfig creates a new copy-trade config. The partial unique index on
// (owner, tracking wallet) rejects a second active config for the same pair.
func (r *CopyTradeRepository) CreateConfig(ctx context.Context, cfg *models.CopyTradeConfig) error {
	query := `
		INSERT INTO copy_trade_configs (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	_, err := r.db.Pool().Exec(ctx, query,
		cfg.ID,
		cfg.OwnerWalletID,
		cfg.TrackingWallet,
		cfg.BuyOption,
		cfg.Amount,
		cfg.Ratio,
		cfg.SellMethod,
		cfg.TakeProfitPct,
		cfg.StopLossPct,
		cfg.Status,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create copy-trade config: %w", err)
	}

	return nil
}

// GetConfig retrieves a config by ID
func (r *CopyTradeRepository) GetConfig(ctx context.Context, id string) (*models.CopyTradeConfig, error) {
	query := `SELECT ` + configColumns + ` FROM copy_trade_configs WHERE id = $1`

	cfg, err := scanConfig(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("copy-trade config not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get copy-trade config: %w", err)
	}

	return cfg, nil
}

// ListConfigsByOwner retrieves all configs for an owner wallet
func (r *CopyTradeRepository) ListConfigsByOwner(ctx context.Context, ownerWalletID string) ([]*models.CopyTradeConfig, error) {
	query := `
		SELECT ` + configColumns + `
		FROM copy_trade_configs
		WHERE owner_wallet_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, ownerWalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list copy-trade configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.CopyTradeConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy-trade config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating copy-trade configs: %w", err)
	}

	return configs, nil
}

// ListRunningByTrackingWallet retrieves all running configs tracking an address
func (r *CopyTradeRepository) ListRunningByTrackingWallet(ctx context.Context, trackingWallet string) ([]*models.CopyTradeConfig, error) {
	query := `
		SELECT ` + configColumns + `
		FROM copy_trade_configs
		WHERE tracking_wallet = $1 AND status = $2
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, trackingWallet, types.ConfigRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.CopyTradeConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy-trade config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating running configs: %w", err)
	}

	return configs, nil
}

// ListRunning retrieves every running config, used to rebuild wallet
// subscriptions at startup
func (r *CopyTradeRepository) ListRunning(ctx context.Context) ([]*models.CopyTradeConfig, error) {
	query := `
		SELECT ` + configColumns + `
		FROM copy_trade_configs
		WHERE status = $1
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, types.ConfigRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.CopyTradeConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy-trade config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating running configs: %w", err)
	}

	return configs, nil
}

// UpdateConfigStatus updates a config's status
func (r *CopyTradeRepository) UpdateConfigStatus(ctx context.Context, id string, status types.ConfigStatus) error {
	query := `
		UPDATE copy_trade_configs
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update config status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("copy-trade config not found: %s", id)
	}

	return nil
}

// CreateDetail creates a copy-trade detail row
func (r *CopyTradeRepository) CreateDetail(ctx context.Context, detail *models.CopyTradeDetail) error {
	query := `
		INSERT INTO copy_trade_details (
			id, config_id, type, token_address, amount, price,
			source_tx_hash, result_tx_hash, status, message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now()
	detail.CreatedAt = now
	detail.UpdatedAt = now

	_, err := r.db.Pool().Exec(ctx, query,
		detail.ID,
		detail.ConfigID,
		detail.Type,
		detail.TokenAddress,
		detail.Amount,
		detail.Price,
		detail.SourceTxHash,
		detail.ResultTxHash,
		detail.Status,
		detail.Message,
		detail.CreatedAt,
		detail.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create copy-trade detail: %w", err)
	}

	return nil
}

// UpdateDetailOutcome records the terminal outcome of a mirrored action.
func (r *CopyTradeRepository) UpdateDetailOutcome(ctx context.Context, id string, status types.DetailStatus, resultTxHash *string, message string) error {
	query := `
		UPDATE copy_trade_details
		SET status = $2, result_tx_hash = $3, message = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, status, resultTxHash, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update copy-trade detail: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("copy-trade detail not found: %s", id)
	}

	return nil
}

// CountDetailsBySource counts detail rows created from a source transaction.
func (r *CopyTradeRepository) CountDetailsBySource(ctx context.Context, sourceTxHash string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM copy_trade_details WHERE source_tx_hash = $1`,
		sourceTxHash,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count details by source: %w", err)
	}
	return count, nil
}

// ListDetailsByConfig retrieves detail history for a config
func (r *CopyTradeRepository) ListDetailsByConfig(ctx context.Context, configID string, limit int) ([]*models.CopyTradeDetail, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, config_id, type, token_address, amount, price,
		       source_tx_hash, result_tx_hash, status, message, created_at, updated_at
		FROM copy_trade_details
		WHERE config_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list copy-trade details: %w", err)
	}
	defer rows.Close()

	var details []*models.CopyTradeDetail
	for rows.Next() {
		var d models.CopyTradeDetail
		err := rows.Scan(
			&d.ID,
			&d.ConfigID,
			&d.Type,
			&d.TokenAddress,
			&d.Amount,
			&d.Price,
			&d.SourceTxHash,
			&d.ResultTxHash,
			&d.Status,
			&d.Message,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy-trade detail: %w", err)
		}
		details = append(details, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating copy-trade details: %w", err)
	}

	return details, nil
}
