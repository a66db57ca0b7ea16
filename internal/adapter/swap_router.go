package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/logging"
)

// SwapRequest describes one mirrored swap to execute.
type SwapRequest struct {
	WalletID   string
	InputMint  string
	OutputMint string
	Amount     decimal.Decimal // raw input token units
	MaxHops    int
}

// SwapResult is the outcome of a successful swap submission.
type SwapResult struct {
	Signature string
}

// SwapRouter is the swap execution contract. Implementations own their
// internal retry budget; a returned error is terminal for the request.
type SwapRouter interface {
	SmartSwap(ctx context.Context, req *SwapRequest) (*SwapResult, error)
}

// Signer produces a signed transaction for a wallet from an unsigned
// aggregator payload.
type Signer interface {
	SignTransaction(ctx context.Context, walletID, unsignedTx string) (string, error)
}

// aggregatorRouter routes swaps through an off-chain quote aggregator and
// submits the signed transaction over RPC.
type aggregatorRouter struct {
	baseURL     string
	client      *http.Client
	rpc         RPCClient
	signer      Signer
	maxAttempts int
}

// NewSwapRouter creates the aggregator-backed swap router.
func NewSwapRouter(cfg *config.SolanaConfig, maxAttempts int, rpc RPCClient, signer Signer) SwapRouter {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &aggregatorRouter{
		baseURL:     cfg.SwapAPIEndpoint,
		client:      &http.Client{Timeout: 20 * time.Second},
		rpc:         rpc,
		signer:      signer,
		maxAttempts: maxAttempts,
	}
}

// SmartSwap quotes, signs and submits the swap. Transient failures consume
// the internal attempt budget; the final error is classified into the swap
// failure taxonomy. The caller never retries on top of this.
func (r *aggregatorRouter) SmartSwap(ctx context.Context, req *SwapRequest) (*SwapResult, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"walletId":   req.WalletID,
		"inputMint":  req.InputMint,
		"outputMint": req.OutputMint,
		"amount":     req.Amount.String(),
	})

	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		result, err := r.executeOnce(ctx, req)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("Swap succeeded after retry")
			}
			return result, nil
		}

		lastErr = err

		code := ClassifySwapError(err)
		if code != apperrors.CodeUnknownSwapFailure && !apperrors.IsRetryable(err) {
			// Semantic rejections do not improve with retries.
			break
		}

		if attempt < r.maxAttempts {
			logger.WithError(err).WithField("attempt", attempt).Warn("Swap attempt failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}

	code := ClassifySwapError(lastErr)
	logger.WithError(lastErr).WithField("code", code).Error("Swap failed")
	return nil, apperrors.NewSwapFailureError(code, lastErr)
}

func (r *aggregatorRouter) executeOnce(ctx context.Context, req *SwapRequest) (*SwapResult, error) {
	quote, err := r.quote(ctx, req)
	if err != nil {
		return nil, err
	}

	unsignedTx, err := r.buildSwapTransaction(ctx, req.WalletID, quote)
	if err != nil {
		return nil, err
	}

	signedTx, err := r.signer.SignTransaction(ctx, req.WalletID, unsignedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign swap transaction: %w", err)
	}

	signature, err := r.rpc.SendTransaction(ctx, signedTx)
	if err != nil {
		return nil, err
	}

	return &SwapResult{Signature: signature}, nil
}

func (r *aggregatorRouter) quote(ctx context.Context, req *SwapRequest) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%s&maxAccounts=64",
		r.baseURL, req.InputMint, req.OutputMint, req.Amount.String())
	if req.MaxHops > 0 && req.MaxHops <= 1 {
		url += "&onlyDirectRoutes=true"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransient("quote", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransient("quote", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (r *aggregatorRouter) buildSwapTransaction(ctx context.Context, walletID string, quote json.RawMessage) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse": quote,
		"userPublicKey": walletID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", ClassifyTransient("swap", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ClassifyTransient("swap", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("swap build failed with status %d: %s", resp.StatusCode, string(body))
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return "", fmt.Errorf("failed to parse swap response: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		return "", fmt.Errorf("swap response missing transaction")
	}

	return swapResp.SwapTransaction, nil
}
