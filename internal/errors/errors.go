// Package errors provides the categorized error taxonomy for the trading core.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/soltrade-core/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents user input validation errors (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryContention represents resource contention (lock timeouts)
	CategoryContention ErrorCategory = "contention"
	// CategoryTransient represents transient infrastructure errors (retryable)
	CategoryTransient ErrorCategory = "transient"
	// CategoryOnChain represents on-chain semantic failures (not retryable)
	CategoryOnChain ErrorCategory = "onchain"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// Domain error codes.
const (
	CodeLockTimeout       = "LOCK_TIMEOUT"
	CodeAlreadyPending    = "ALREADY_PENDING"
	CodeBelowMinimum      = "BELOW_MINIMUM"
	CodeDuplicateSig      = "DUPLICATE_SIGNATURE"
	CodeAnalysisFailed    = "ANALYSIS_FAILED"
	CodePriceUnavailable  = "PRICE_UNAVAILABLE"
	CodeInvalidTransition = "INVALID_STATUS_TRANSITION"
	CodeRPCUnavailable    = "RPC_UNAVAILABLE"
)

// Swap failure classification codes, stored on copy-trade details.
const (
	CodeInsufficientBalance   = "INSUFFICIENT_BALANCE"
	CodeNoLiquidityRoute      = "NO_LIQUIDITY_ROUTE"
	CodeRouteComputeFailure   = "ROUTE_COMPUTE_FAILURE"
	CodeTransactionFailure    = "TRANSACTION_FAILURE"
	CodeInsufficientLiquidity = "INSUFFICIENT_LIQUIDITY"
	CodeUnknownSwapFailure    = "UNKNOWN"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewLockTimeoutError indicates the named lock could not be acquired in time.
// Callers should treat this as "try again later", not a permanent failure.
func NewLockTimeoutError(resourceKey string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryContention,
		StatusCode: http.StatusConflict,
		Code:       CodeLockTimeout,
		Message:    fmt.Sprintf("could not acquire lock for %s", resourceKey),
		Details: map[string]interface{}{
			"resource": resourceKey,
		},
	}
}

// NewAlreadyPendingError indicates a wallet already has a pending withdrawal.
func NewAlreadyPendingError(walletID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeAlreadyPending,
		Message:    "a pending withdrawal already exists for this wallet",
		Details: map[string]interface{}{
			"walletId": walletID,
		},
	}
}

// NewBelowMinimumError indicates the aggregated reward total is under the
// minimum withdrawal amount.
func NewBelowMinimumError(totalUSD, minimumUSD string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeBelowMinimum,
		Message:    fmt.Sprintf("Minimum withdrawal amount is $%s, current balance is $%s", minimumUSD, totalUSD),
		Details: map[string]interface{}{
			"totalUsd":   totalUSD,
			"minimumUsd": minimumUSD,
		},
	}
}

// NewDuplicateSignatureError indicates a transaction signature was already
// processed. This is the expected steady-state outcome of at-least-once
// delivery and is absorbed, not surfaced to users.
func NewDuplicateSignatureError(signature string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeDuplicateSig,
		Message:    fmt.Sprintf("signature already processed: %s", signature),
		Details: map[string]interface{}{
			"signature": signature,
		},
	}
}

// NewAnalysisError indicates the source transaction's mint pair could not be
// determined.
func NewAnalysisError(signature string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryOnChain,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeAnalysisFailed,
		Message:    fmt.Sprintf("could not determine swap mints for %s", signature),
		Cause:      cause,
		Details: map[string]interface{}{
			"signature": signature,
		},
	}
}

// NewPriceUnavailableError indicates the price oracle returned no usable price.
func NewPriceUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodePriceUnavailable,
		Message:    "SOL/USD price is unavailable",
		Cause:      cause,
	}
}

// NewInvalidTransitionError indicates a forbidden config status transition.
func NewInvalidTransitionError(from, to string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("cannot transition copy-trade config from %s to %s", from, to),
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// NewRPCError wraps a transient RPC transport failure.
func NewRPCError(method string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransient,
		StatusCode: http.StatusBadGateway,
		Code:       CodeRPCUnavailable,
		Message:    fmt.Sprintf("rpc call %s failed", method),
		Cause:      cause,
		Details: map[string]interface{}{
			"method": method,
		},
	}
}

// NewSwapFailureError wraps a classified swap submission failure. The code is
// one of the swap classification codes and is stored on the detail record.
func NewSwapFailureError(code string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryOnChain,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       code,
		Message:    "mirrored swap failed",
		Cause:      cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewValidationError creates a generic validation error.
func NewValidationError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INPUT",
		Message:    message,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// IsRetryable determines if an error should be retried by the caller. Only
// transient infrastructure failures qualify; validation, contention and
// on-chain semantic failures are terminal for the attempt.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryTransient:
		return true
	case CategoryDatabase:
		return true
	default:
		return false
	}
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
