package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/soltrade-core/internal/models"
)

// RewardRepository handles reward ledger entries. Ledger entries are never
// mutated in amount; reservation and settlement only stamp the withdraw_id /
// withdraw_status pair.
type RewardRepository struct {
	db *PostgresDB
}

// NewRewardRepository creates a new reward repository
func NewRewardRepository(db *PostgresDB) *RewardRepository {
	return &RewardRepository{db: db}
}

const rewardColumns = `
	id, owner_wallet_id, source, amount_usd, withdraw_id, withdraw_status, created_at
`

func scanReward(row pgx.Row) (*models.RewardEntry, error) {
	var e models.RewardEntry
	err := row.Scan(
		&e.ID,
		&e.OwnerWalletID,
		&e.Source,
		&e.AmountUSD,
		&e.WithdrawID,
		&e.WithdrawStatus,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new reward ledger entry in the available state.
func (r *RewardRepository) Create(ctx context.Context, e *models.RewardEntry) error {
	query := `
		INSERT INTO reward_entries (` + rewardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := r.db.Pool().Exec(ctx, query,
		e.ID,
		e.OwnerWalletID,
		e.Source,
		e.AmountUSD,
		e.WithdrawID,
		e.WithdrawStatus,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reward entry: %w", err)
	}

	return nil
}

// SumAvailable returns the total unreserved, unsettled reward balance for a
// wallet in USD.
func (r *RewardRepository) SumAvailable(ctx context.Context, walletID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount_usd), 0)
		FROM reward_entries
		WHERE owner_wallet_id = $1 AND withdraw_id IS NULL AND withdraw_status = FALSE
	`

	var total decimal.Decimal
	if err := r.db.Pool().QueryRow(ctx, query, walletID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum available rewards: %w", err)
	}

	return total, nil
}

// ListAvailableForUpdate collects the wallet's available entries inside the
// given transaction, locking the rows until the reservation commits.
func (r *RewardRepository) ListAvailableForUpdate(ctx context.Context, tx pgx.Tx, walletID string) ([]*models.RewardEntry, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM reward_entries
		WHERE owner_wallet_id = $1 AND withdraw_id IS NULL AND withdraw_status = FALSE
		ORDER BY created_at
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list available rewards: %w", err)
	}
	defer rows.Close()

	var entries []*models.RewardEntry
	for rows.Next() {
		e, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward entries: %w", err)
	}

	return entries, nil
}

// ReserveTx stamps the given entries with a withdrawal id inside an existing
// transaction. The WHERE clause refuses entries already reserved or settled,
// so a stale id list surfaces as a count mismatch instead of a double-spend.
func (r *RewardRepository) ReserveTx(ctx context.Context, tx pgx.Tx, entryIDs []string, withdrawID string) error {
	if len(entryIDs) == 0 {
		return nil
	}

	query := `
		UPDATE reward_entries
		SET withdraw_id = $2
		WHERE id = ANY($1) AND withdraw_id IS NULL AND withdraw_status = FALSE
	`

	result, err := tx.Exec(ctx, query, entryIDs, withdrawID)
	if err != nil {
		return fmt.Errorf("failed to reserve reward entries: %w", err)
	}

	if int(result.RowsAffected()) != len(entryIDs) {
		return fmt.Errorf("reserved %d of %d reward entries", result.RowsAffected(), len(entryIDs))
	}

	return nil
}

// ReleaseTx returns reserved entries to the available state inside an
// existing transaction. Used on cancellation, expiry, and terminal failure.
// Settled entries are never touched.
func (r *RewardRepository) ReleaseTx(ctx context.Context, tx pgx.Tx, withdrawID string) (int64, error) {
	query := `
		UPDATE reward_entries
		SET withdraw_id = NULL
		WHERE withdraw_id = $1 AND withdraw_status = FALSE
	`

	result, err := tx.Exec(ctx, query, withdrawID)
	if err != nil {
		return 0, fmt.Errorf("failed to release reward entries: %w", err)
	}

	return result.RowsAffected(), nil
}

// SettleTx marks all entries reserved by a confirmed withdrawal as settled,
// inside an existing transaction.
func (r *RewardRepository) SettleTx(ctx context.Context, tx pgx.Tx, withdrawID string) (int64, error) {
	query := `
		UPDATE reward_entries
		SET withdraw_status = TRUE
		WHERE withdraw_id = $1 AND withdraw_status = FALSE
	`

	result, err := tx.Exec(ctx, query, withdrawID)
	if err != nil {
		return 0, fmt.Errorf("failed to settle reward entries: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListByWithdrawID retrieves the entries stamped with a withdrawal id.
func (r *RewardRepository) ListByWithdrawID(ctx context.Context, withdrawID string) ([]*models.RewardEntry, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM reward_entries
		WHERE withdraw_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, withdrawID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reward entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.RewardEntry
	for rows.Next() {
		e, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward entries: %w", err)
	}

	return entries, nil
}
