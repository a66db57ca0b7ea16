// Package types provides common type definitions for the trading platform core.
package types

// ServiceID identifies a logical consumer of wallet transaction events.
// Many services may track the same wallet independently; events are routed
// only to subscribers registered under the matching service.
type ServiceID string

const (
	// ServiceCopyTrade is the copy-trade execution engine subscriber.
	ServiceCopyTrade ServiceID = "COPY_TRADE"
)

// BuyOption controls how a mirrored trade amount is derived from the
// tracked wallet's trade.
type BuyOption string

const (
	// BuyOptionMax buys min(configured amount, tracked trade size).
	BuyOptionMax BuyOption = "maxbuy"
	// BuyOptionFixed always buys the configured flat amount.
	BuyOptionFixed BuyOption = "fixedbuy"
	// BuyOptionRatio buys tracked amount scaled by the configured ratio,
	// capped at the configured amount.
	BuyOptionRatio BuyOption = "fixedratio"
)

// SellMethod controls how a copied position is exited.
type SellMethod string

const (
	// SellMethodAuto mirrors the tracked wallet's sells.
	SellMethodAuto SellMethod = "auto"
	// SellMethodNone never sells automatically.
	SellMethodNone SellMethod = "notsell"
	// SellMethodManual sells on the periodic take-profit/stop-loss check.
	SellMethodManual SellMethod = "manual"
)

// ConfigStatus represents a copy-trade config's lifecycle state.
type ConfigStatus string

const (
	// ConfigRunning means the config receives tracked-wallet events.
	ConfigRunning ConfigStatus = "running"
	// ConfigPaused means event delivery is suspended but the config can resume.
	ConfigPaused ConfigStatus = "pause"
	// ConfigStopped is terminal; no further transitions are permitted.
	ConfigStopped ConfigStatus = "stop"
)

// DetailType distinguishes mirrored buys from sells.
type DetailType string

const (
	DetailBuy  DetailType = "buy"
	DetailSell DetailType = "sell"
)

// DetailStatus represents a copy-trade detail's execution state.
type DetailStatus string

const (
	// DetailWait means the mirrored action is accepted but not yet settled.
	DetailWait DetailStatus = "wait"
	// DetailSuccess means the mirrored swap confirmed on-chain.
	DetailSuccess DetailStatus = "success"
	// DetailError means the mirrored swap failed terminally.
	DetailError DetailStatus = "error"
)

// PositionStatus represents a tracked position's state.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// WithdrawStatus represents a referral withdrawal's lifecycle state.
type WithdrawStatus string

const (
	// WithdrawPending means the withdrawal is reserved and awaiting settlement.
	WithdrawPending WithdrawStatus = "pending"
	// WithdrawSuccess means the on-chain transfer confirmed.
	WithdrawSuccess WithdrawStatus = "success"
	// WithdrawFailed is terminal; reserved reward entries are released.
	WithdrawFailed WithdrawStatus = "failed"
	// WithdrawRetry means settlement failed transiently and will be retried
	// once nextRetryAt passes.
	WithdrawRetry WithdrawStatus = "retry"
)

// RewardState is the explicit three-state view of a reward ledger entry's
// withdrawId/withdrawStatus column pair.
type RewardState string

const (
	// RewardAvailable means the entry can be collected into a new withdrawal.
	RewardAvailable RewardState = "available"
	// RewardReserved means the entry is stamped with a pending withdrawal's id.
	RewardReserved RewardState = "reserved"
	// RewardSettled means the entry's withdrawal confirmed on-chain.
	RewardSettled RewardState = "settled"
)

// SignatureStatus is the on-chain confirmation level of a transaction.
type SignatureStatus string

const (
	SigStatusProcessed SignatureStatus = "processed"
	SigStatusConfirmed SignatureStatus = "confirmed"
	SigStatusFinalized SignatureStatus = "finalized"
	SigStatusUnknown   SignatureStatus = "unknown"
	SigStatusFailed    SignatureStatus = "failed"
)

// Confirmed reports whether the status is at least confirmed.
func (s SignatureStatus) Confirmed() bool {
	return s == SigStatusConfirmed || s == SigStatusFinalized
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}
