package adapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/types"
)

type fakeRPC struct {
	RPCClient
	meta *TransactionMeta
	err  error
}

func (f *fakeRPC) GetTransaction(ctx context.Context, signature string) (*TransactionMeta, error) {
	return f.meta, f.err
}

func tokenBalance(owner, mint, amount string) TokenBalance {
	tb := TokenBalance{Mint: mint, Owner: owner}
	tb.UITokenAmount.Amount = amount
	tb.UITokenAmount.Decimals = 6
	return tb
}

func TestRPCAnalyzer_BuySwap(t *testing.T) {
	// Wallet spends 0.5 SOL, receives 1000 raw units of MintA.
	meta := &TransactionMeta{
		Signature:   "sig",
		AccountKeys: []string{"wallet"},
		PreBalances: []uint64{1_000_000_000},
		PostBalances: []uint64{
			500_000_000,
		},
		PreTokenBalances:  []TokenBalance{tokenBalance("wallet", "MintA", "0")},
		PostTokenBalances: []TokenBalance{tokenBalance("wallet", "MintA", "1000")},
	}

	analyzer := NewRPCAnalyzer(&fakeRPC{meta: meta})
	info, err := analyzer.Analyze(context.Background(), "wallet", "sig")
	require.NoError(t, err)

	assert.Equal(t, types.DetailBuy, info.Type)
	assert.Equal(t, WrappedSOLMint, info.InputMint)
	assert.Equal(t, "MintA", info.OutputMint)
	assert.Equal(t, "500000000", info.InputAmount.String())
	assert.Equal(t, "1000", info.OutputAmount.String())
}

func TestRPCAnalyzer_SellSwap(t *testing.T) {
	meta := &TransactionMeta{
		Signature:         "sig",
		AccountKeys:       []string{"wallet"},
		PreBalances:       []uint64{1_000_000_000},
		PostBalances:      []uint64{1_499_995_000},
		PreTokenBalances:  []TokenBalance{tokenBalance("wallet", "MintA", "1000")},
		PostTokenBalances: []TokenBalance{tokenBalance("wallet", "MintA", "0")},
	}

	analyzer := NewRPCAnalyzer(&fakeRPC{meta: meta})
	info, err := analyzer.Analyze(context.Background(), "wallet", "sig")
	require.NoError(t, err)

	assert.Equal(t, types.DetailSell, info.Type)
	assert.Equal(t, "MintA", info.InputMint)
	assert.Equal(t, WrappedSOLMint, info.OutputMint)
}

func TestRPCAnalyzer_TokenToTokenSwap(t *testing.T) {
	// Fee-sized SOL decrease must not register as a trade leg.
	meta := &TransactionMeta{
		Signature:    "sig",
		AccountKeys:  []string{"wallet"},
		PreBalances:  []uint64{1_000_000_000},
		PostBalances: []uint64{999_995_000},
		PreTokenBalances: []TokenBalance{
			tokenBalance("wallet", "MintA", "500"),
			tokenBalance("wallet", "MintB", "0"),
		},
		PostTokenBalances: []TokenBalance{
			tokenBalance("wallet", "MintA", "0"),
			tokenBalance("wallet", "MintB", "2000"),
		},
	}

	analyzer := NewRPCAnalyzer(&fakeRPC{meta: meta})
	info, err := analyzer.Analyze(context.Background(), "wallet", "sig")
	require.NoError(t, err)

	assert.Equal(t, "MintA", info.InputMint)
	assert.Equal(t, "MintB", info.OutputMint)
	assert.Equal(t, types.DetailSell, info.Type)
}

func TestRPCAnalyzer_IgnoresOtherOwners(t *testing.T) {
	meta := &TransactionMeta{
		Signature:    "sig",
		AccountKeys:  []string{"wallet"},
		PreBalances:  []uint64{1_000_000_000},
		PostBalances: []uint64{500_000_000},
		PreTokenBalances: []TokenBalance{
			tokenBalance("wallet", "MintA", "0"),
			tokenBalance("someone-else", "MintB", "900"),
		},
		PostTokenBalances: []TokenBalance{
			tokenBalance("wallet", "MintA", "1000"),
			tokenBalance("someone-else", "MintB", "100"),
		},
	}

	analyzer := NewRPCAnalyzer(&fakeRPC{meta: meta})
	info, err := analyzer.Analyze(context.Background(), "wallet", "sig")
	require.NoError(t, err)

	assert.Equal(t, "MintA", info.OutputMint)
	assert.Equal(t, WrappedSOLMint, info.InputMint)
}

func TestRPCAnalyzer_AnalysisFailures(t *testing.T) {
	t.Run("transaction not found", func(t *testing.T) {
		analyzer := NewRPCAnalyzer(&fakeRPC{meta: nil})
		_, err := analyzer.Analyze(context.Background(), "wallet", "sig")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeAnalysisFailed))
	})

	t.Run("transaction failed on chain", func(t *testing.T) {
		meta := &TransactionMeta{
			Signature: "sig",
			Err:       json.RawMessage(`{"InstructionError":[2,"Custom"]}`),
		}
		analyzer := NewRPCAnalyzer(&fakeRPC{meta: meta})
		_, err := analyzer.Analyze(context.Background(), "wallet", "sig")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeAnalysisFailed))
	})

	t.Run("no token movement", func(t *testing.T) {
		meta := &TransactionMeta{
			Signature:    "sig",
			AccountKeys:  []string{"wallet"},
			PreBalances:  []uint64{1_000_000_000},
			PostBalances: []uint64{999_995_000},
		}
		analyzer := NewRPCAnalyzer(&fakeRPC{meta: meta})
		_, err := analyzer.Analyze(context.Background(), "wallet", "sig")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeAnalysisFailed))
	})

	t.Run("transport failure stays transient", func(t *testing.T) {
		analyzer := NewRPCAnalyzer(&fakeRPC{err: apperrors.NewRPCError("getTransaction", assert.AnError)})
		_, err := analyzer.Analyze(context.Background(), "wallet", "sig")
		assert.True(t, apperrors.IsRetryable(err))
	})
}
