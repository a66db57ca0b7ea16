package adapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/soltrade-core/internal/errors"
)

func TestClassifySwapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"insufficient balance", errors.New("Swap failed: insufficient balance for trade"), apperrors.CodeInsufficientBalance},
		{"insufficient funds", errors.New("insufficient funds for fee"), apperrors.CodeInsufficientBalance},
		{"insufficient lamports", errors.New("Transfer: insufficient lamports 100, need 200"), apperrors.CodeInsufficientBalance},
		{"insufficient liquidity wins over balance", errors.New("pool has insufficient liquidity"), apperrors.CodeInsufficientLiquidity},
		{"no route", errors.New("No route found between mints"), apperrors.CodeNoLiquidityRoute},
		{"route not found", errors.New("route not found"), apperrors.CodeNoLiquidityRoute},
		{"route compute", errors.New("failed to compute route for pair"), apperrors.CodeRouteComputeFailure},
		{"simulation failed", errors.New("Transaction simulation failed: custom program error"), apperrors.CodeTransactionFailure},
		{"blockhash", errors.New("Blockhash not found"), apperrors.CodeTransactionFailure},
		{"unknown", errors.New("something novel happened"), apperrors.CodeUnknownSwapFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySwapError(tt.err))
		})
	}
}

func TestClassifySwapError_Nil(t *testing.T) {
	assert.Equal(t, "", ClassifySwapError(nil))
}

func TestClassifySwapError_PassesThroughOnChainCodes(t *testing.T) {
	err := apperrors.NewSwapFailureError(apperrors.CodeNoLiquidityRoute, errors.New("wrapped"))
	assert.Equal(t, apperrors.CodeNoLiquidityRoute, ClassifySwapError(err))
}

func TestClassifyTransient(t *testing.T) {
	t.Run("wraps transient signatures", func(t *testing.T) {
		for _, msg := range []string{
			"NETWORK_ERROR while fetching",
			"request failed with status 429",
			"i/o timeout",
			"dial tcp: connection refused",
		} {
			err := ClassifyTransient("getBalance", errors.New(msg))
			assert.True(t, apperrors.IsRetryable(err), "expected %q to classify as transient", msg)
		}
	})

	t.Run("leaves other errors alone", func(t *testing.T) {
		orig := errors.New("invalid param: wrong size")
		err := ClassifyTransient("getBalance", orig)
		assert.Equal(t, orig, err)
		assert.False(t, apperrors.IsRetryable(err))
	})

	t.Run("passes through categorized errors", func(t *testing.T) {
		orig := apperrors.NewValidationError("bad address")
		err := ClassifyTransient("getBalance", orig)
		assert.Equal(t, error(orig), err)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, ClassifyTransient("getBalance", nil))
	})
}
