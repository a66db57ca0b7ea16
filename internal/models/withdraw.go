package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/soltrade-core/internal/types"
)

// RefWithdrawHistory represents a referral reward withdrawal request. At most
// one pending row exists per wallet (partial unique index in the store).
// Only the settlement engine transitions Status and the reservation stamp on
// reward entries.
type RefWithdrawHistory struct {
	ID          string               `json:"id" db:"id"`
	WalletID    string               `json:"walletId" db:"wallet_id"`
	ToAddress   string               `json:"toAddress" db:"to_address"`
	AmountSOL   decimal.Decimal      `json:"amountSol" db:"amount_sol"`
	AmountUSD   decimal.Decimal      `json:"amountUsd" db:"amount_usd"`
	Status      types.WithdrawStatus `json:"status" db:"status"`
	Signature   *string              `json:"signature,omitempty" db:"signature"`
	RetryCount  int                  `json:"retryCount" db:"retry_count"`
	NextRetryAt *time.Time           `json:"nextRetryAt,omitempty" db:"next_retry_at"`
	ExpiresAt   time.Time            `json:"expiresAt" db:"expires_at"`
	CreatedAt   time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time            `json:"updatedAt" db:"updated_at"`
}

// Expired reports whether a pending withdrawal has passed its expiry.
func (w *RefWithdrawHistory) Expired(now time.Time) bool {
	return w.Status == types.WithdrawPending && now.After(w.ExpiresAt)
}

// RetryDue reports whether a retry-state withdrawal is due for reprocessing.
func (w *RefWithdrawHistory) RetryDue(now time.Time) bool {
	return w.Status == types.WithdrawRetry && w.NextRetryAt != nil && !w.NextRetryAt.After(now)
}
