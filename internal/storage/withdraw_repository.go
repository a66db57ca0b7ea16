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

// WithdrawRepository handles referral withdrawal persistence. Status
// transitions are owned exclusively by the settlement engine.
type WithdrawRepository struct {
	db *PostgresDB
}

// NewWithdrawRepository creates a new withdraw repository
func NewWithdrawRepository(db *PostgresDB) *WithdrawRepository {
	return &WithdrawRepository{db: db}
}

// DB returns the underlying database connection
func (r *WithdrawRepository) DB() *PostgresDB {
	return r.db
}

const withdrawColumns = `
	id, wallet_id, to_address, amount_sol, amount_usd, status, signature,
	retry_count, next_retry_at, expires_at, created_at, updated_at
`

func scanWithdraw(row pgx.Row) (*models.RefWithdrawHistory, error) {
	var w models.RefWithdrawHistory
	err := row.Scan(
		&w.ID,
		&w.WalletID,
		&w.ToAddress,
		&w.AmountSOL,
		&w.AmountUSD,
		&w.Status,
		&w.Signature,
		&w.RetryCount,
		&w.NextRetryAt,
		&w.ExpiresAt,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateTx inserts a withdrawal row inside an existing transaction. The
// partial unique index on (wallet_id) WHERE status='pending' is the second
// line of defense behind the per-wallet lock.
func (r *WithdrawRepository) CreateTx(ctx context.Context, tx pgx.Tx, w *models.RefWithdrawHistory) error {
	query := `
		INSERT INTO ref_withdraw_histories (` + withdrawColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err := tx.Exec(ctx, query,
		w.ID,
		w.WalletID,
		w.ToAddress,
		w.AmountSOL,
		w.AmountUSD,
		w.Status,
		w.Signature,
		w.RetryCount,
		w.NextRetryAt,
		w.ExpiresAt,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}

	return nil
}

// Get retrieves a withdrawal by ID
func (r *WithdrawRepository) Get(ctx context.Context, id string) (*models.RefWithdrawHistory, error) {
	query := `SELECT ` + withdrawColumns + ` FROM ref_withdraw_histories WHERE id = $1`

	w, err := scanWithdraw(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("withdrawal not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}

	return w, nil
}

// GetPendingByWallet retrieves the wallet's pending withdrawal, or nil.
func (r *WithdrawRepository) GetPendingByWallet(ctx context.Context, walletID string) (*models.RefWithdrawHistory, error) {
	query := `
		SELECT ` + withdrawColumns + `
		FROM ref_withdraw_histories
		WHERE wallet_id = $1 AND status = $2
	`

	w, err := scanWithdraw(r.db.Pool().QueryRow(ctx, query, walletID, types.WithdrawPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending withdrawal: %w", err)
	}

	return w, nil
}

// ListDue retrieves all pending withdrawals plus retry-state withdrawals
// whose next retry time has passed.
func (r *WithdrawRepository) ListDue(ctx context.Context, now time.Time) ([]*models.RefWithdrawHistory, error) {
	query := `
		SELECT ` + withdrawColumns + `
		FROM ref_withdraw_histories
		WHERE status = $1
		   OR (status = $2 AND next_retry_at <= $3)
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, types.WithdrawPending, types.WithdrawRetry, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []*models.RefWithdrawHistory
	for rows.Next() {
		w, err := scanWithdraw(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawals: %w", err)
	}

	return withdrawals, nil
}

// ListByWallet retrieves withdrawal history for a wallet, newest first.
func (r *WithdrawRepository) ListByWallet(ctx context.Context, walletID string, limit int) ([]*models.RefWithdrawHistory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + withdrawColumns + `
		FROM ref_withdraw_histories
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []*models.RefWithdrawHistory
	for rows.Next() {
		w, err := scanWithdraw(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawals: %w", err)
	}

	return withdrawals, nil
}

// SetSignature persists the submitted transaction signature. Written
// immediately after submit so a crash between submit and confirm does not
// lose the signature and cause a double-send.
func (r *WithdrawRepository) SetSignature(ctx context.Context, id, signature string) error {
	query := `
		UPDATE ref_withdraw_histories
		SET signature = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, signature, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set withdrawal signature: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal not found: %s", id)
	}

	return nil
}

// UpdateStatusTx moves a withdrawal to a terminal state inside an existing
// transaction, alongside the reward entry stamping that must commit with it.
func (r *WithdrawRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status types.WithdrawStatus) error {
	query := `
		UPDATE ref_withdraw_histories
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal not found: %s", id)
	}

	return nil
}

// MarkRetry schedules a withdrawal for another settlement attempt.
func (r *WithdrawRepository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	query := `
		UPDATE ref_withdraw_histories
		SET status = $2, retry_count = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, types.WithdrawRetry, retryCount, nextRetryAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark withdrawal for retry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal not found: %s", id)
	}

	return nil
}
