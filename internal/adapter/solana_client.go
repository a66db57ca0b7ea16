package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/soltrade-core/internal/circuitbreaker"
	"github.com/soltrade-core/internal/config"
	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/logging"
	"github.com/soltrade-core/internal/types"
)

// RPCClient is the blockchain RPC contract consumed by the engines.
type RPCClient interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	SendTransaction(ctx context.Context, signedTx string) (string, error)
	GetSignatureStatus(ctx context.Context, signature string) (types.SignatureStatus, error)
	GetLatestBlockhash(ctx context.Context) (string, error)
	GetTransaction(ctx context.Context, signature string) (*TransactionMeta, error)
}

// SignatureInfo is one entry of getSignaturesForAddress output, newest first.
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

// Failed reports whether the transaction errored on chain.
func (s SignatureInfo) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// TransactionMeta is the subset of getTransaction output the analyzer needs.
type TransactionMeta struct {
	Signature         string
	Err               json.RawMessage
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	PreBalances       []uint64
	PostBalances      []uint64
	AccountKeys       []string
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// SolanaClient talks JSON-RPC to a Solana node. Requests are rate limited
// and go through a circuit breaker so a dead endpoint fails fast instead of
// piling up in-flight calls.
type SolanaClient struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *circuitbreaker.CircuitBreaker
}

// NewSolanaClient creates a Solana RPC client from config.
func NewSolanaClient(cfg *config.SolanaConfig) *SolanaClient {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &SolanaClient{
		endpoint: cfg.RPCEndpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)),
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("solana-rpc")),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and unmarshals result into out. RPC
// node errors come back as *rpcError so classify.go can inspect them;
// transport failures become transient RPC_UNAVAILABLE errors.
func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.breaker.Execute(ctx, func() error {
		payload, err := json.Marshal(rpcRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  method,
			Params:  params,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal rpc request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build rpc request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return apperrors.NewRPCError(method, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.NewRPCError(method, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return apperrors.NewRPCError(method, fmt.Errorf("429 rate limited"))
		}
		if resp.StatusCode != http.StatusOK {
			return apperrors.NewRPCError(method, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(body, &rpcResp); err != nil {
			return apperrors.NewRPCError(method, fmt.Errorf("failed to parse response: %w", err))
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if out != nil {
			if err := json.Unmarshal(rpcResp.Result, out); err != nil {
				return apperrors.NewRPCError(method, fmt.Errorf("failed to parse result: %w", err))
			}
		}

		return nil
	})
}

// GetBalance returns the lamport balance of an address.
func (c *SolanaClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}

	if err := c.call(ctx, "getBalance", []interface{}{address}, &result); err != nil {
		return 0, err
	}

	return result.Value, nil
}

// SendTransaction submits a base64-encoded signed transaction and returns
// its signature.
func (c *SolanaClient) SendTransaction(ctx context.Context, signedTx string) (string, error) {
	var signature string

	params := []interface{}{
		signedTx,
		map[string]interface{}{"encoding": "base64"},
	}

	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}

	return signature, nil
}

// GetSignatureStatus returns the confirmation level of a signature. A
// signature the node does not know about maps to unknown, not an error.
func (c *SolanaClient) GetSignatureStatus(ctx context.Context, signature string) (types.SignatureStatus, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}

	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}

	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return types.SigStatusUnknown, err
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return types.SigStatusUnknown, nil
	}

	status := result.Value[0]
	if len(status.Err) > 0 && string(status.Err) != "null" {
		return types.SigStatusFailed, nil
	}

	switch status.ConfirmationStatus {
	case "processed":
		return types.SigStatusProcessed, nil
	case "confirmed":
		return types.SigStatusConfirmed, nil
	case "finalized":
		return types.SigStatusFinalized, nil
	default:
		return types.SigStatusUnknown, nil
	}
}

// GetSignaturesForAddress returns the address's most recent transaction
// signatures, newest first.
func (c *SolanaClient) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	var result []SignatureInfo

	params := []interface{}{
		address,
		map[string]interface{}{"limit": limit},
	}

	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// GetLatestBlockhash returns the most recent blockhash.
func (c *SolanaClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}

	if err := c.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return "", err
	}

	return result.Value.Blockhash, nil
}

// GetTransaction fetches a confirmed transaction with its balance metadata.
func (c *SolanaClient) GetTransaction(ctx context.Context, signature string) (*TransactionMeta, error) {
	var result *struct {
		Meta *struct {
			Err               json.RawMessage `json:"err"`
			PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
			PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
			PreBalances       []uint64        `json:"preBalances"`
			PostBalances      []uint64        `json:"postBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}

	params := []interface{}{
		signature,
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	}

	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}

	if result == nil || result.Meta == nil {
		logging.WithField("signature", signature).Debug("Transaction not found on chain")
		return nil, nil
	}

	return &TransactionMeta{
		Signature:         signature,
		Err:               result.Meta.Err,
		PreTokenBalances:  result.Meta.PreTokenBalances,
		PostTokenBalances: result.Meta.PostTokenBalances,
		PreBalances:       result.Meta.PreBalances,
		PostBalances:      result.Meta.PostBalances,
		AccountKeys:       result.Transaction.Message.AccountKeys,
	}, nil
}
