package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/types"
)

// WrappedSOLMint is the mint address of wrapped SOL.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// SwapInfo is the extracted shape of a tracked wallet's swap.
type SwapInfo struct {
	Type       types.DetailType
	InputMint  string
	OutputMint string
	// InputAmount and OutputAmount are raw token units of the tracked
	// wallet's trade.
	InputAmount  decimal.Decimal
	OutputAmount decimal.Decimal
}

// TransactionAnalyzer extracts the mint pair and amounts of a wallet's swap
// from an on-chain transaction.
type TransactionAnalyzer interface {
	Analyze(ctx context.Context, walletAddress, signature string) (*SwapInfo, error)
}

// RPCAnalyzer analyzes transactions by diffing the token balances recorded
// in the confirmed transaction's metadata.
type RPCAnalyzer struct {
	rpc RPCClient
}

// NewRPCAnalyzer creates an analyzer backed by the given RPC client.
func NewRPCAnalyzer(rpc RPCClient) *RPCAnalyzer {
	return &RPCAnalyzer{rpc: rpc}
}

// Analyze determines {inputMint, outputMint} for the wallet's swap in the
// given transaction. Returns an ANALYSIS_FAILED error when the mint pair
// cannot be determined; transport failures keep their transient category so
// the caller can retry.
func (a *RPCAnalyzer) Analyze(ctx context.Context, walletAddress, signature string) (*SwapInfo, error) {
	meta, err := a.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return nil, ClassifyTransient("getTransaction", err)
	}
	if meta == nil {
		return nil, apperrors.NewAnalysisError(signature, nil)
	}
	if len(meta.Err) > 0 && string(meta.Err) != "null" {
		return nil, apperrors.NewAnalysisError(signature, nil)
	}

	deltas := a.tokenDeltas(meta, walletAddress)

	// Fold the wallet's native SOL movement in as wrapped SOL so that
	// SOL-to-token swaps resolve to a mint pair.
	if solDelta := a.nativeDelta(meta, walletAddress); !solDelta.IsZero() {
		deltas[WrappedSOLMint] = deltas[WrappedSOLMint].Add(solDelta)
	}

	var info SwapInfo
	for mint, delta := range deltas {
		switch {
		case delta.IsNegative():
			if info.InputMint != "" {
				// More than one spent mint; not a simple swap.
				return nil, apperrors.NewAnalysisError(signature, nil)
			}
			info.InputMint = mint
			info.InputAmount = delta.Neg()
		case delta.IsPositive():
			if info.OutputMint != "" {
				return nil, apperrors.NewAnalysisError(signature, nil)
			}
			info.OutputMint = mint
			info.OutputAmount = delta
		}
	}

	if info.InputMint == "" || info.OutputMint == "" {
		return nil, apperrors.NewAnalysisError(signature, nil)
	}

	if info.InputMint == WrappedSOLMint {
		info.Type = types.DetailBuy
	} else {
		info.Type = types.DetailSell
	}

	return &info, nil
}

// tokenDeltas computes the wallet's net raw-unit change per mint.
func (a *RPCAnalyzer) tokenDeltas(meta *TransactionMeta, walletAddress string) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal)

	for _, tb := range meta.PreTokenBalances {
		if tb.Owner != walletAddress {
			continue
		}
		amount, err := decimal.NewFromString(tb.UITokenAmount.Amount)
		if err != nil {
			continue
		}
		deltas[tb.Mint] = deltas[tb.Mint].Sub(amount)
	}

	for _, tb := range meta.PostTokenBalances {
		if tb.Owner != walletAddress {
			continue
		}
		amount, err := decimal.NewFromString(tb.UITokenAmount.Amount)
		if err != nil {
			continue
		}
		deltas[tb.Mint] = deltas[tb.Mint].Add(amount)
	}

	for mint, delta := range deltas {
		if delta.IsZero() {
			delete(deltas, mint)
		}
	}

	return deltas
}

// nativeDelta computes the wallet's lamport balance change, ignoring small
// negative changes that are plain fee payments.
func (a *RPCAnalyzer) nativeDelta(meta *TransactionMeta, walletAddress string) decimal.Decimal {
	// Fee-only movements below this threshold are not trade legs.
	feeThreshold := decimal.NewFromInt(100_000)

	for i, key := range meta.AccountKeys {
		if key != walletAddress {
			continue
		}
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			return decimal.Zero
		}

		delta := decimal.NewFromInt(int64(meta.PostBalances[i])).
			Sub(decimal.NewFromInt(int64(meta.PreBalances[i])))

		if delta.IsNegative() && delta.Neg().LessThan(feeThreshold) {
			return decimal.Zero
		}
		return delta
	}

	return decimal.Zero
}
