package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soltrade-core/internal/config"
)

// TransferSender builds, signs and submits a native SOL transfer from the
// platform treasury. Returns the submitted signature; confirmation is the
// caller's concern.
type TransferSender interface {
	SendNativeTransfer(ctx context.Context, toAddress string, lamports uint64) (string, error)
}

// WalletServiceClient talks to the internal wallet service, which holds the
// private keys. This process never sees key material.
type WalletServiceClient struct {
	baseURL  string
	treasury string
	client   *http.Client
}

// NewWalletServiceClient creates a wallet service client.
func NewWalletServiceClient(cfg *config.SolanaConfig) *WalletServiceClient {
	return &WalletServiceClient{
		baseURL:  cfg.WalletServiceEndpoint,
		treasury: cfg.TreasuryAddress,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *WalletServiceClient) post(ctx context.Context, path string, reqBody, out interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ClassifyTransient(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClassifyTransient(path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet service %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse wallet service response: %w", err)
		}
	}

	return nil
}

// SignTransaction signs an unsigned transaction with the given wallet's key.
func (c *WalletServiceClient) SignTransaction(ctx context.Context, walletID, unsignedTx string) (string, error) {
	var result struct {
		SignedTransaction string `json:"signedTransaction"`
	}

	err := c.post(ctx, "/v1/sign", map[string]string{
		"walletId":    walletID,
		"transaction": unsignedTx,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.SignedTransaction == "" {
		return "", fmt.Errorf("wallet service returned empty signed transaction")
	}

	return result.SignedTransaction, nil
}

// PayoutAddress resolves the wallet's registered on-chain payout address.
func (c *WalletServiceClient) PayoutAddress(ctx context.Context, walletID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/wallets/%s/address", c.baseURL, walletID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ClassifyTransient("payout-address", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ClassifyTransient("payout-address", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallet service address lookup failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse wallet service response: %w", err)
	}
	if result.Address == "" {
		return "", fmt.Errorf("wallet %s has no registered payout address", walletID)
	}

	return result.Address, nil
}

// SendNativeTransfer submits a treasury SOL transfer and returns the
// signature.
func (c *WalletServiceClient) SendNativeTransfer(ctx context.Context, toAddress string, lamports uint64) (string, error) {
	var result struct {
		Signature string `json:"signature"`
	}

	err := c.post(ctx, "/v1/transfer", map[string]interface{}{
		"fromAddress": c.treasury,
		"toAddress":   toAddress,
		"lamports":    lamports,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Signature == "" {
		return "", fmt.Errorf("wallet service returned empty signature")
	}

	return result.Signature, nil
}
