package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/types"
)

// PositionRepository handles position tracking persistence
type PositionRepository struct {
	db *PostgresDB
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *PostgresDB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `
	id, config_id, token, entry_price, amount, buy_tx_hash, sell_tx_hash,
	entry_time, exit_time, status
`

func scanPosition(row pgx.Row) (*models.PositionTracking, error) {
	var p models.PositionTracking
	err := row.Scan(
		&p.ID,
		&p.ConfigID,
		&p.Token,
		&p.EntryPrice,
		&p.Amount,
		&p.BuyTxHash,
		&p.SellTxHash,
		&p.EntryTime,
		&p.ExitTime,
		&p.Status,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create creates a new position. The partial unique index on (config, token)
// rejects a second open position for the same pair.
func (r *PositionRepository) Create(ctx context.Context, p *models.PositionTracking) error {
	query := `
		INSERT INTO position_trackings (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		p.ID,
		p.ConfigID,
		p.Token,
		p.EntryPrice,
		p.Amount,
		p.BuyTxHash,
		p.SellTxHash,
		p.EntryTime,
		p.ExitTime,
		p.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	return nil
}

// GetOpen retrieves the open position for a (config, token) pair, or nil if
// none exists.
func (r *PositionRepository) GetOpen(ctx context.Context, configID, token string) (*models.PositionTracking, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM position_trackings
		WHERE config_id = $1 AND token = $2 AND status = $3
	`

	p, err := scanPosition(r.db.Pool().QueryRow(ctx, query, configID, token, types.PositionOpen))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open position: %w", err)
	}

	return p, nil
}

// UpdateEntry updates the entry price and amount of an open position after a
// merged buy.
func (r *PositionRepository) UpdateEntry(ctx context.Context, p *models.PositionTracking) error {
	query := `
		UPDATE position_trackings
		SET entry_price = $2, amount = $3
		WHERE id = $1 AND status = 'open'
	`

	result, err := r.db.Pool().Exec(ctx, query, p.ID, p.EntryPrice, p.Amount)
	if err != nil {
		return fmt.Errorf("failed to update position entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("open position not found: %s", p.ID)
	}

	return nil
}

// Close marks a position closed with the triggering sell transaction.
func (r *PositionRepository) Close(ctx context.Context, id string, sellTxHash *string) error {
	query := `
		UPDATE position_trackings
		SET status = $2, sell_tx_hash = $3, exit_time = $4
		WHERE id = $1 AND status = 'open'
	`

	result, err := r.db.Pool().Exec(ctx, query, id, types.PositionClosed, sellTxHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("open position not found: %s", id)
	}

	return nil
}

// ListOpenManual retrieves all open positions whose config uses the manual
// sell method, joined with the config's TP/SL thresholds. Used by the
// periodic TP/SL sweep.
func (r *PositionRepository) ListOpenManual(ctx context.Context) ([]*ManualPosition, error) {
	query := `
		SELECT p.id, p.config_id, p.token, p.entry_price, p.amount, p.buy_tx_hash,
		       p.sell_tx_hash, p.entry_time, p.exit_time, p.status,
		       c.take_profit_pct, c.stop_loss_pct
		FROM position_trackings p
		JOIN copy_trade_configs c ON c.id = p.config_id
		WHERE p.status = 'open' AND c.sell_method = $1 AND c.status = $2
	`

	rows, err := r.db.Pool().Query(ctx, query, types.SellMethodManual, types.ConfigRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual positions: %w", err)
	}
	defer rows.Close()

	var positions []*ManualPosition
	for rows.Next() {
		var mp ManualPosition
		err := rows.Scan(
			&mp.Position.ID,
			&mp.Position.ConfigID,
			&mp.Position.Token,
			&mp.Position.EntryPrice,
			&mp.Position.Amount,
			&mp.Position.BuyTxHash,
			&mp.Position.SellTxHash,
			&mp.Position.EntryTime,
			&mp.Position.ExitTime,
			&mp.Position.Status,
			&mp.TakeProfitPct,
			&mp.StopLossPct,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manual position: %w", err)
		}
		positions = append(positions, &mp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating manual positions: %w", err)
	}

	return positions, nil
}

// ManualPosition pairs an open position with its config's TP/SL thresholds.
type ManualPosition struct {
	Position      models.PositionTracking
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
}
