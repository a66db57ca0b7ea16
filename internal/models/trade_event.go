package models

import (
	"time"

	"github.com/soltrade-core/internal/types"
)

// TradeEvent is an append-only audit record of a copy-trade execution
// outcome, stored in ClickHouse. Written fire-and-forget; never read on the
// hot path.
type TradeEvent struct {
	ConfigID     string           `json:"configId" ch:"config_id"`
	OwnerWallet  string           `json:"ownerWallet" ch:"owner_wallet"`
	Tracking     string           `json:"tracking" ch:"tracking_wallet"`
	Type         types.DetailType `json:"type" ch:"type"`
	Token        string           `json:"token" ch:"token"`
	Amount       string           `json:"amount" ch:"amount"`
	SourceTxHash string           `json:"sourceTxHash" ch:"source_tx_hash"`
	ResultTxHash string           `json:"resultTxHash" ch:"result_tx_hash"`
	Outcome      string           `json:"outcome" ch:"outcome"` // success or classified error code
	Timestamp    time.Time        `json:"timestamp" ch:"timestamp"`
}
