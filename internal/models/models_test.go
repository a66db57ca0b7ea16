package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/soltrade-core/internal/types"
)

func TestConfigTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   types.ConfigStatus
		to     types.ConfigStatus
		want   bool
	}{
		{"running to pause", types.ConfigRunning, types.ConfigPaused, true},
		{"running to stop", types.ConfigRunning, types.ConfigStopped, true},
		{"pause to running", types.ConfigPaused, types.ConfigRunning, true},
		{"pause to stop", types.ConfigPaused, types.ConfigStopped, true},
		{"stop is terminal", types.ConfigStopped, types.ConfigRunning, false},
		{"stop to pause", types.ConfigStopped, types.ConfigPaused, false},
		{"self transition", types.ConfigRunning, types.ConfigRunning, false},
		{"unknown target", types.ConfigRunning, types.ConfigStatus("hibernate"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &CopyTradeConfig{Status: tt.from}
			assert.Equal(t, tt.want, cfg.CanTransitionTo(tt.to))
		})
	}
}

func TestPositionMergeBuy(t *testing.T) {
	p := &PositionTracking{
		EntryPrice: decimal.NewFromInt(2),
		Amount:     decimal.NewFromInt(1),
	}

	p.MergeBuy(decimal.NewFromInt(3), decimal.NewFromInt(4))

	assert.Equal(t, "4", p.Amount.String())
	// (1*2 + 3*4) / 4
	assert.Equal(t, "3.5", p.EntryPrice.String())
}

func TestPositionPriceChangePct(t *testing.T) {
	p := &PositionTracking{EntryPrice: decimal.NewFromInt(100)}

	assert.Equal(t, "60", p.PriceChangePct(decimal.NewFromInt(160)).String())
	assert.Equal(t, "-25", p.PriceChangePct(decimal.NewFromInt(75)).String())

	zero := &PositionTracking{}
	assert.True(t, zero.PriceChangePct(decimal.NewFromInt(10)).IsZero(), "zero entry price cannot produce a change")
}

func TestWithdrawalExpiry(t *testing.T) {
	now := time.Now()
	w := &RefWithdrawHistory{
		Status:    types.WithdrawPending,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	assert.False(t, w.Expired(now))
	assert.True(t, w.Expired(now.Add(31*time.Minute)))

	w.Status = types.WithdrawRetry
	assert.False(t, w.Expired(now.Add(31*time.Minute)), "expiry only applies to pending rows")
}

func TestWithdrawalRetryDue(t *testing.T) {
	now := time.Now()
	next := now.Add(2 * time.Minute)
	w := &RefWithdrawHistory{
		Status:      types.WithdrawRetry,
		NextRetryAt: &next,
	}

	assert.False(t, w.RetryDue(now))
	assert.True(t, w.RetryDue(next))
	assert.True(t, w.RetryDue(next.Add(time.Second)))

	w.NextRetryAt = nil
	assert.False(t, w.RetryDue(now))

	w.Status = types.WithdrawPending
	w.NextRetryAt = &next
	assert.False(t, w.RetryDue(next.Add(time.Hour)))
}

func TestRewardEntryState(t *testing.T) {
	e := &RewardEntry{AmountUSD: decimal.NewFromInt(5)}
	assert.Equal(t, types.RewardAvailable, e.State())

	withdrawID := "wd-1"
	e.WithdrawID = &withdrawID
	assert.Equal(t, types.RewardReserved, e.State())

	e.WithdrawStatus = true
	assert.Equal(t, types.RewardSettled, e.State())
}
