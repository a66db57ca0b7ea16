package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/soltrade-core/internal/types"
)

// PositionTracking represents a copied position opened by a confirmed
// mirrored buy. One open position exists per (config, token); a second
// confirmed buy merges into the open row with a weighted-average entry price.
type PositionTracking struct {
	ID         string               `json:"id" db:"id"`
	ConfigID   string               `json:"configId" db:"config_id"`
	Token      string               `json:"token" db:"token"`
	EntryPrice decimal.Decimal      `json:"entryPrice" db:"entry_price"`
	Amount     decimal.Decimal      `json:"amount" db:"amount"`
	BuyTxHash  string               `json:"buyTxHash" db:"buy_tx_hash"`
	SellTxHash *string              `json:"sellTxHash,omitempty" db:"sell_tx_hash"`
	EntryTime  time.Time            `json:"entryTime" db:"entry_time"`
	ExitTime   *time.Time           `json:"exitTime,omitempty" db:"exit_time"`
	Status     types.PositionStatus `json:"status" db:"status"`
}

// MergeBuy folds a second confirmed buy into the open position, recomputing
// the entry price as an amount-weighted average.
func (p *PositionTracking) MergeBuy(amount, price decimal.Decimal) {
	total := p.Amount.Add(amount)
	if total.IsZero() {
		return
	}
	weighted := p.EntryPrice.Mul(p.Amount).Add(price.Mul(amount))
	p.EntryPrice = weighted.Div(total)
	p.Amount = total
}

// PriceChangePct returns (current - entry) / entry * 100.
func (p *PositionTracking) PriceChangePct(current decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return current.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}
