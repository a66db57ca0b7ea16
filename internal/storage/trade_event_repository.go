package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/models"
)

// TradeEventRepository writes copy-trade execution outcomes to the
// ClickHouse audit log.
type TradeEventRepository struct {
	db *ClickHouseDB
}

// NewTradeEventRepository creates a new trade event repository
func NewTradeEventRepository(db *ClickHouseDB) *TradeEventRepository {
	return &TradeEventRepository{db: db}
}

// InsertBatch writes a batch of trade events.
func (r *TradeEventRepository) InsertBatch(ctx context.Context, events []*models.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO trade_events (config_id, owner_wallet, tracking_wallet, type, token, amount, source_tx_hash, result_tx_hash, outcome, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range events {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if err := batch.Append(
			e.ConfigID,
			e.OwnerWallet,
			e.Tracking,
			string(e.Type),
			e.Token,
			e.Amount,
			e.SourceTxHash,
			e.ResultTxHash,
			e.Outcome,
			ts,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// RecordAsync writes a single event in a background goroutine. The audit log
// is off the execution hot path; a failed write is logged and dropped.
func (r *TradeEventRepository) RecordAsync(event *models.TradeEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := r.InsertBatch(ctx, []*models.TradeEvent{event}); err != nil {
			logging.WithError(err).WithFields(map[string]interface{}{
				"config_id":      event.ConfigID,
				"source_tx_hash": event.SourceTxHash,
			}).Error("Failed to record trade event")
		}
	}()
}
