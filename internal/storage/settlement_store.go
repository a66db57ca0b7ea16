package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/types"
)

// SettlementStore composes the withdrawal and reward repositories and owns
// the multi-table transactions of the settlement engine: creating a
// withdrawal while stamping its reservation onto the collected entries, and
// moving a withdrawal terminal while settling or releasing those entries.
type SettlementStore struct {
	db        *PostgresDB
	withdraws *WithdrawRepository
	rewards   *RewardRepository
}

// NewSettlementStore creates the composed settlement store.
func NewSettlementStore(db *PostgresDB, withdraws *WithdrawRepository, rewards *RewardRepository) *SettlementStore {
	return &SettlementStore{db: db, withdraws: withdraws, rewards: rewards}
}

// ReserveAvailable collects the wallet's available reward entries under row
// locks, asks build to turn them into a withdrawal row, then inserts the row
// and stamps every entry with its id, all in one transaction. build
// returning an error rolls everything back.
func (s *SettlementStore) ReserveAvailable(ctx context.Context, walletID string, build func(entries []*models.RewardEntry) (*models.RefWithdrawHistory, error)) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entries, err := s.rewards.ListAvailableForUpdate(ctx, tx, walletID)
	if err != nil {
		return err
	}

	withdrawal, err := build(entries)
	if err != nil {
		return err
	}

	if err := s.withdraws.CreateTx(ctx, tx, withdrawal); err != nil {
		return err
	}

	entryIDs := make([]string, len(entries))
	for i, e := range entries {
		entryIDs[i] = e.ID
	}
	if err := s.rewards.ReserveTx(ctx, tx, entryIDs, withdrawal.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	return nil
}

// GetWithdrawal retrieves a withdrawal by id.
func (s *SettlementStore) GetWithdrawal(ctx context.Context, id string) (*models.RefWithdrawHistory, error) {
	return s.withdraws.Get(ctx, id)
}

// GetPendingByWallet retrieves the wallet's pending withdrawal, or nil.
func (s *SettlementStore) GetPendingByWallet(ctx context.Context, walletID string) (*models.RefWithdrawHistory, error) {
	return s.withdraws.GetPendingByWallet(ctx, walletID)
}

// ListDue retrieves withdrawals due for settlement processing.
func (s *SettlementStore) ListDue(ctx context.Context, now time.Time) ([]*models.RefWithdrawHistory, error) {
	return s.withdraws.ListDue(ctx, now)
}

// ListByWallet retrieves a wallet's withdrawal history.
func (s *SettlementStore) ListByWallet(ctx context.Context, walletID string, limit int) ([]*models.RefWithdrawHistory, error) {
	return s.withdraws.ListByWallet(ctx, walletID, limit)
}

// SetSignature persists the submitted transaction signature.
func (s *SettlementStore) SetSignature(ctx context.Context, id, signature string) error {
	return s.withdraws.SetSignature(ctx, id, signature)
}

// MarkRetry schedules another settlement attempt.
func (s *SettlementStore) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	return s.withdraws.MarkRetry(ctx, id, retryCount, nextRetryAt)
}

// FinalizeSuccess moves a withdrawal to success and marks its reserved
// entries settled in one transaction. Either both land or the row stays
// non-terminal for the next sweep.
func (s *SettlementStore) FinalizeSuccess(ctx context.Context, withdrawID string) (int64, error) {
	return s.finalize(ctx, withdrawID, types.WithdrawSuccess)
}

// FinalizeFailure moves a withdrawal to failed and returns its reserved
// entries to available in one transaction. A partial write here would leave
// entries reserved by a terminal row which no sweep reloads.
func (s *SettlementStore) FinalizeFailure(ctx context.Context, withdrawID string) (int64, error) {
	return s.finalize(ctx, withdrawID, types.WithdrawFailed)
}

func (s *SettlementStore) finalize(ctx context.Context, withdrawID string, status types.WithdrawStatus) (int64, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.withdraws.UpdateStatusTx(ctx, tx, withdrawID, status); err != nil {
		return 0, err
	}

	var stamped int64
	if status == types.WithdrawSuccess {
		stamped, err = s.rewards.SettleTx(ctx, tx, withdrawID)
	} else {
		stamped, err = s.rewards.ReleaseTx(ctx, tx, withdrawID)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit finalize: %w", err)
	}

	return stamped, nil
}

// SumAvailable returns the wallet's available reward balance in USD.
func (s *SettlementStore) SumAvailable(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return s.rewards.SumAvailable(ctx, walletID)
}
