package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/soltrade-core/internal/types"
)

// RewardSource distinguishes the two reward ledgers that feed withdrawals.
type RewardSource string

const (
	// RewardSourceReferral is the traditional multi-level referral ledger.
	RewardSourceReferral RewardSource = "referral"
	// RewardSourceBGAffiliate is the BG-affiliate commission ledger.
	RewardSourceBGAffiliate RewardSource = "bg_affiliate"
)

// RewardEntry is a single unredeemed reward ledger entry. The withdrawId /
// withdrawStatus column pair encodes a three-state machine: available
// (unreserved, unsettled), reserved (stamped with a pending withdrawal's id),
// and settled (withdrawal confirmed).
type RewardEntry struct {
	ID             string          `json:"id" db:"id"`
	OwnerWalletID  string          `json:"ownerWalletId" db:"owner_wallet_id"`
	Source         RewardSource    `json:"source" db:"source"`
	AmountUSD      decimal.Decimal `json:"amountUsd" db:"amount_usd"`
	WithdrawID     *string         `json:"withdrawId,omitempty" db:"withdraw_id"`
	WithdrawStatus bool            `json:"withdrawStatus" db:"withdraw_status"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// State returns the explicit reward state for the entry's column pair.
func (e *RewardEntry) State() types.RewardState {
	switch {
	case e.WithdrawStatus:
		return types.RewardSettled
	case e.WithdrawID != nil:
		return types.RewardReserved
	default:
		return types.RewardAvailable
	}
}

// ProcessedHash records a blockchain transaction signature accepted for
// processing. A signature appears at most once; the unique constraint is the
// sole concurrency guard for copy-trade event dedup.
type ProcessedHash struct {
	Signature   string    `json:"signature" db:"signature"`
	ProcessedAt time.Time `json:"processedAt" db:"processed_at"`
}
