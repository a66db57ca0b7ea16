package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/soltrade-core/internal/types"
)

// CopyTradeConfig represents a user's subscription to mirror a tracked
// wallet's trades. At most one running-or-paused config exists per
// (owner wallet, tracking wallet) pair; the constraint lives in the store.
type CopyTradeConfig struct {
	ID              string             `json:"id" db:"id"`
	OwnerWalletID   string             `json:"ownerWalletId" db:"owner_wallet_id"`
	TrackingWallet  string             `json:"trackingWallet" db:"tracking_wallet"`
	BuyOption       types.BuyOption    `json:"buyOption" db:"buy_option"`
	Amount          decimal.Decimal    `json:"amount" db:"amount"`    // SOL; flat amount or cap depending on buy option
	Ratio           decimal.Decimal    `json:"ratio" db:"ratio"`      // percent 0-100, fixedratio only
	SellMethod      types.SellMethod   `json:"sellMethod" db:"sell_method"`
	TakeProfitPct   decimal.Decimal    `json:"takeProfitPct" db:"take_profit_pct"`
	StopLossPct     decimal.Decimal    `json:"stopLossPct" db:"stop_loss_pct"`
	Status          types.ConfigStatus `json:"status" db:"status"`
	CreatedAt       time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time          `json:"updatedAt" db:"updated_at"`
}

// CanTransitionTo reports whether the config may move to the target status.
// Stopped is terminal.
func (c *CopyTradeConfig) CanTransitionTo(target types.ConfigStatus) bool {
	if c.Status == types.ConfigStopped {
		return false
	}
	switch target {
	case types.ConfigRunning, types.ConfigPaused, types.ConfigStopped:
		return target != c.Status
	default:
		return false
	}
}

// CopyTradeDetail records one mirrored action derived from a single source
// transaction. SourceTxHash plus a non-wait status answers "has this tracked
// transaction already been copied?".
type CopyTradeDetail struct {
	ID           string             `json:"id" db:"id"`
	ConfigID     string             `json:"configId" db:"config_id"`
	Type         types.DetailType   `json:"type" db:"type"`
	TokenAddress string             `json:"tokenAddress" db:"token_address"`
	Amount       decimal.Decimal    `json:"amount" db:"amount"`
	Price        decimal.Decimal    `json:"price" db:"price"`
	SourceTxHash string             `json:"sourceTxHash" db:"source_tx_hash"`
	ResultTxHash *string            `json:"resultTxHash,omitempty" db:"result_tx_hash"`
	Status       types.DetailStatus `json:"status" db:"status"`
	Message      string             `json:"message" db:"message"`
	CreatedAt    time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" db:"updated_at"`
}
