package adapter

import (
	"errors"
	"strings"

	apperrors "github.com/soltrade-core/internal/errors"
)

// This file is the only place that inspects error message text. Everything
// past the adapter boundary works with typed categorized errors.

// ClassifyTransient wraps err as a transient RPC error when its message
// matches the known transient signatures of the upstream providers. Already
// categorized errors pass through unchanged.
func ClassifyTransient(method string, err error) error {
	if err == nil {
		return nil
	}

	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "network_error"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return apperrors.NewRPCError(method, err)
	default:
		return err
	}
}

// ClassifySwapError maps a swap router failure message onto the fixed swap
// failure taxonomy. Unrecognized messages classify as UNKNOWN, never as an
// error of the classifier itself.
func ClassifySwapError(err error) string {
	if err == nil {
		return ""
	}

	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) && catErr.Category == apperrors.CategoryOnChain {
		return catErr.Code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient liquidity"):
		return apperrors.CodeInsufficientLiquidity
	case strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient lamports"):
		return apperrors.CodeInsufficientBalance
	case strings.Contains(msg, "no route"),
		strings.Contains(msg, "route not found"),
		strings.Contains(msg, "no liquidity route"):
		return apperrors.CodeNoLiquidityRoute
	case strings.Contains(msg, "could not find any route"),
		strings.Contains(msg, "failed to compute route"),
		strings.Contains(msg, "route compute"):
		return apperrors.CodeRouteComputeFailure
	case strings.Contains(msg, "transaction simulation failed"),
		strings.Contains(msg, "transaction failed"),
		strings.Contains(msg, "blockhash not found"):
		return apperrors.CodeTransactionFailure
	default:
		return apperrors.CodeUnknownSwapFailure
	}
}
