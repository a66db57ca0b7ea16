package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/adapter"
	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/models"
	"github.com/soltrade-core/internal/retry"
	"github.com/soltrade-core/internal/types"
)

// SettlementStore is the persistence surface of the settlement engine.
type SettlementStore interface {
	ReserveAvailable(ctx context.Context, walletID string, build func(entries []*models.RewardEntry) (*models.RefWithdrawHistory, error)) error
	GetWithdrawal(ctx context.Context, id string) (*models.RefWithdrawHistory, error)
	GetPendingByWallet(ctx context.Context, walletID string) (*models.RefWithdrawHistory, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.RefWithdrawHistory, error)
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*models.RefWithdrawHistory, error)
	SetSignature(ctx context.Context, id, signature string) error
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error
	FinalizeSuccess(ctx context.Context, withdrawID string) (int64, error)
	FinalizeFailure(ctx context.Context, withdrawID string) (int64, error)
	SumAvailable(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// Locker is the distributed lock surface the engine uses.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl, wait time.Duration, fn func(ctx context.Context) error) error
}

// AddressBook resolves a wallet's registered payout address.
type AddressBook interface {
	PayoutAddress(ctx context.Context, walletID string) (string, error)
}

// SettlementService implements the two-phase referral withdrawal protocol:
// synchronous reservation under a per-wallet lock, asynchronous cron-driven
// settlement under a per-withdrawal lock.
type SettlementService struct {
	store     SettlementStore
	locks     Locker
	rpc       adapter.RPCClient
	transfers adapter.TransferSender
	oracle    adapter.PriceOracle
	addresses AddressBook
	tuning    *config.SettlementConfig

	// now is swappable for tests.
	now func() time.Time
}

// NewSettlementService wires the withdrawal settlement engine.
func NewSettlementService(
	store SettlementStore,
	locks Locker,
	rpc adapter.RPCClient,
	transfers adapter.TransferSender,
	oracle adapter.PriceOracle,
	addresses AddressBook,
	tuning *config.SettlementConfig,
) *SettlementService {
	return &SettlementService{
		store:     store,
		locks:     locks,
		rpc:       rpc,
		transfers: transfers,
		oracle:    oracle,
		addresses: addresses,
		tuning:    tuning,
		now:       time.Now,
	}
}

func walletLockKey(walletID string) string {
	return fmt.Sprintf("withdraw:%s", walletID)
}

func processingLockKey(withdrawID string) string {
	return fmt.Sprintf("withdrawal-processing:%s", withdrawID)
}

// AvailableBalance returns the wallet's unreserved reward balance in USD.
func (s *SettlementService) AvailableBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return s.store.SumAvailable(ctx, walletID)
}

// WithdrawHistory returns the wallet's withdrawal history, newest first.
func (s *SettlementService) WithdrawHistory(ctx context.Context, walletID string, limit int) ([]*models.RefWithdrawHistory, error) {
	return s.store.ListByWallet(ctx, walletID, limit)
}

// CreateWithdrawRequest reserves the wallet's available rewards into a new
// pending withdrawal. Runs under the per-wallet lock and one database
// transaction; the partial unique index is the second line of defense.
func (s *SettlementService) CreateWithdrawRequest(ctx context.Context, walletID string) (*models.RefWithdrawHistory, error) {
	if walletID == "" {
		return nil, apperrors.NewValidationError("wallet id is required")
	}

	var created *models.RefWithdrawHistory

	err := s.locks.WithLock(ctx, walletLockKey(walletID), s.tuning.CreateLockWait, s.tuning.CreateLockWait, func(ctx context.Context) error {
		existing, err := s.store.GetPendingByWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.NewAlreadyPendingError(walletID)
		}

		toAddress, err := s.addresses.PayoutAddress(ctx, walletID)
		if err != nil {
			return err
		}

		solPrice, err := s.oracle.GetSOLPriceUSD(ctx)
		if err != nil {
			return err
		}

		minimum := decimal.NewFromFloat(s.tuning.MinWithdrawUSD)

		return s.store.ReserveAvailable(ctx, walletID, func(entries []*models.RewardEntry) (*models.RefWithdrawHistory, error) {
			totalUSD := decimal.Zero
			for _, e := range entries {
				totalUSD = totalUSD.Add(e.AmountUSD)
			}

			if totalUSD.LessThan(minimum) {
				return nil, apperrors.NewBelowMinimumError(totalUSD.StringFixed(2), minimum.StringFixed(2))
			}

			now := s.now()
			created = &models.RefWithdrawHistory{
				ID:        uuid.New().String(),
				WalletID:  walletID,
				ToAddress: toAddress,
				AmountSOL: totalUSD.Div(solPrice),
				AmountUSD: totalUSD,
				Status:    types.WithdrawPending,
				ExpiresAt: now.Add(s.tuning.PendingExpiry),
			}
			return created, nil
		})
	})
	if err != nil {
		return nil, err
	}

	logging.WithFields(map[string]interface{}{
		"withdrawId": created.ID,
		"walletId":   walletID,
		"amountUsd":  created.AmountUSD.StringFixed(2),
	}).Info("Withdrawal request created")

	return created, nil
}

// CancelWithdrawRequest cancels a pending withdrawal and releases its
// reservations. Uses the same per-wallet lock as creation.
func (s *SettlementService) CancelWithdrawRequest(ctx context.Context, walletID, withdrawID string) error {
	return s.locks.WithLock(ctx, walletLockKey(walletID), s.tuning.CreateLockWait, s.tuning.CreateLockWait, func(ctx context.Context) error {
		withdrawal, err := s.store.GetWithdrawal(ctx, withdrawID)
		if err != nil {
			return err
		}
		if withdrawal.WalletID != walletID {
			return apperrors.NewNotFoundError("withdrawal", withdrawID)
		}
		if withdrawal.Status != types.WithdrawPending {
			return apperrors.NewInvalidTransitionError(string(withdrawal.Status), string(types.WithdrawFailed))
		}

		return s.failAndRelease(ctx, withdrawal, "cancelled by user")
	})
}

// ProcessPending runs one settlement sweep: expired pending rows fail and
// release; everything else due gets a settlement attempt. Per-row errors
// never abort the sweep.
func (s *SettlementService) ProcessPending(ctx context.Context) error {
	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		return err
	}

	for _, withdrawal := range due {
		if err := s.ProcessWithdrawal(ctx, withdrawal.ID); err != nil {
			logging.WithError(err).WithField("withdrawId", withdrawal.ID).Error("Withdrawal processing failed")
		}
	}

	return nil
}

// ProcessWithdrawal runs one settlement attempt for a withdrawal under its
// per-withdrawal lock. Replaying on an already-settled row is a no-op.
func (s *SettlementService) ProcessWithdrawal(ctx context.Context, withdrawID string) error {
	return s.locks.WithLock(ctx, processingLockKey(withdrawID), s.tuning.ProcessingLockWait, s.tuning.ProcessingLockWait, func(ctx context.Context) error {
		// Re-read under the lock; a concurrent tick may have finished it.
		withdrawal, err := s.store.GetWithdrawal(ctx, withdrawID)
		if err != nil {
			return err
		}

		switch withdrawal.Status {
		case types.WithdrawSuccess, types.WithdrawFailed:
			return nil
		case types.WithdrawRetry:
			if !withdrawal.RetryDue(s.now()) {
				return nil
			}
		}

		if withdrawal.Expired(s.now()) {
			return s.failAndRelease(ctx, withdrawal, "pending withdrawal expired")
		}

		// A stored signature is always checked before any resend. This
		// is the double-send guard: ambiguity resolves toward waiting,
		// not toward a second transfer.
		if withdrawal.Signature != nil && *withdrawal.Signature != "" {
			status, err := s.rpc.GetSignatureStatus(ctx, *withdrawal.Signature)
			if err != nil {
				logging.WithError(err).WithField("withdrawId", withdrawal.ID).Warn("Signature status check failed")
				return s.scheduleRetry(ctx, withdrawal)
			}

			switch {
			case status.Confirmed():
				return s.markSuccess(ctx, withdrawal)
			case status == types.SigStatusProcessed:
				// Still in flight; leave alone this cycle.
				return nil
			case status == types.SigStatusUnknown, status == types.SigStatusFailed:
				// Dropped or rejected; safe to resend.
			}
		}

		return s.sendAndConfirm(ctx, withdrawal)
	})
}

func (s *SettlementService) sendAndConfirm(ctx context.Context, withdrawal *models.RefWithdrawHistory) error {
	lamports := withdrawal.AmountSOL.Mul(lamportsPerSOL).Truncate(0)
	if !lamports.IsPositive() {
		return s.failAndRelease(ctx, withdrawal, "non-positive transfer amount")
	}

	signature, err := s.transfers.SendNativeTransfer(ctx, withdrawal.ToAddress, uint64(lamports.IntPart()))
	if err != nil {
		logging.WithError(err).WithField("withdrawId", withdrawal.ID).Warn("Transfer submission failed")
		return s.scheduleRetry(ctx, withdrawal)
	}

	// Persist the signature before waiting on confirmation; a crash here
	// must not lose it and cause a double-send next sweep.
	if err := s.store.SetSignature(ctx, withdrawal.ID, signature); err != nil {
		return err
	}
	withdrawal.Signature = &signature

	confirmed, err := s.waitForConfirmation(ctx, signature)
	if err != nil {
		logging.WithError(err).WithField("withdrawId", withdrawal.ID).Warn("Confirmation polling failed")
		return s.scheduleRetry(ctx, withdrawal)
	}
	if !confirmed {
		return s.scheduleRetry(ctx, withdrawal)
	}

	return s.markSuccess(ctx, withdrawal)
}

// waitForConfirmation polls signature status until confirmation, rejection
// or the confirmation timeout. Returns false on timeout without error.
func (s *SettlementService) waitForConfirmation(ctx context.Context, signature string) (bool, error) {
	deadline := s.now().Add(s.tuning.ConfirmTimeout)

	for {
		status, err := s.rpc.GetSignatureStatus(ctx, signature)
		if err == nil {
			if status.Confirmed() {
				return true, nil
			}
			if status == types.SigStatusFailed {
				return false, fmt.Errorf("transaction %s failed on chain", signature)
			}
		}

		if s.now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.tuning.ConfirmPollEvery):
		}
	}
}

// markSuccess moves the withdrawal terminal-success and settles its entries in
// one store transaction. A partial write here would strand reserved entries,
// so the two mutations must commit together.
func (s *SettlementService) markSuccess(ctx context.Context, withdrawal *models.RefWithdrawHistory) error {
	settled, err := s.store.FinalizeSuccess(ctx, withdrawal.ID)
	if err != nil {
		return err
	}

	logging.WithFields(map[string]interface{}{
		"withdrawId": withdrawal.ID,
		"walletId":   withdrawal.WalletID,
		"entries":    settled,
	}).Info("Withdrawal settled")

	return nil
}

// failAndRelease moves the withdrawal terminal-failed and releases its
// entries atomically. If the transaction fails the row stays non-terminal
// and the next sweep retries the whole finalize.
func (s *SettlementService) failAndRelease(ctx context.Context, withdrawal *models.RefWithdrawHistory, reason string) error {
	released, err := s.store.FinalizeFailure(ctx, withdrawal.ID)
	if err != nil {
		return err
	}

	logging.WithFields(map[string]interface{}{
		"withdrawId": withdrawal.ID,
		"walletId":   withdrawal.WalletID,
		"entries":    released,
		"reason":     reason,
	}).Warn("Withdrawal failed, reservations released")

	return nil
}

// scheduleRetry applies the capped exponential backoff, failing terminally
// once the retry budget is spent.
func (s *SettlementService) scheduleRetry(ctx context.Context, withdrawal *models.RefWithdrawHistory) error {
	nextCount := withdrawal.RetryCount + 1
	if nextCount >= s.tuning.MaxRetries {
		return s.failAndRelease(ctx, withdrawal, fmt.Sprintf("retry budget exhausted after %d attempts", nextCount))
	}

	delay := retry.SettlementDelay(nextCount, s.tuning.RetryBaseDelay, s.tuning.RetryMaxDelay)
	nextRetryAt := s.now().Add(delay)

	logging.WithFields(map[string]interface{}{
		"withdrawId":  withdrawal.ID,
		"retryCount":  nextCount,
		"nextRetryAt": nextRetryAt,
	}).Info("Withdrawal scheduled for retry")

	return s.store.MarkRetry(ctx, withdrawal.ID, nextCount, nextRetryAt)
}
