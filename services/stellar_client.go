package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"task-marketplace-api/utils"
)

// Balance is one asset line on an escrow account. A missing line for an
// asset means the account holds no trustline for it — distinct from a line
// with a zero amount.
type Balance struct {
	AssetCode   string          `json:"asset_code"`
	AssetIssuer string          `json:"asset_issuer"`
	Amount      decimal.Decimal `json:"amount"`
}

// TransferReceipt is the ledger's confirmation of a submitted payment.
// ConfirmedAt is the ledger close time, used as Transaction.DoneAt.
type TransferReceipt struct {
	TxHash      string    `json:"tx_hash"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Ledger is the escrow capability the orchestrator runs against.
type Ledger interface {
	GetBalances(ctx context.Context, address string) ([]Balance, error)
	Transfer(ctx context.Context, secret, destination, assetCode, assetIssuer string, amount decimal.Decimal) (*TransferReceipt, error)
	Refund(ctx context.Context, secret, taskID string) (*TransferReceipt, error)
}

// StellarServiceClient talks to the internal wallet service that signs and
// submits Stellar transactions. Ledger calls use a tight retry policy: stuck
// funds are costly to leave ambiguous, so fail fast and surface the error.
type StellarServiceClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

var ledgerRetry = utils.RetryOptions{
	MaxRetries:        2,
	BaseDelay:         time.Second,
	Timeout:           10 * time.Second,
	UseCircuitBreaker: true,
}

func NewStellarServiceClient(baseURL, token string) *StellarServiceClient {
	return &StellarServiceClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *StellarServiceClient) GetBalances(ctx context.Context, address string) ([]Balance, error) {
	return utils.ExecuteWithRetry(ctx, "stellar.get_balances", func(ctx context.Context) ([]Balance, error) {
		var out struct {
			Balances []Balance `json:"balances"`
		}
		err := c.do(ctx, "GET", fmt.Sprintf("/api/v1/accounts/%s/balances", address), nil, &out)
		if err != nil {
			return nil, err
		}
		return out.Balances, nil
	}, ledgerRetry)
}

func (c *StellarServiceClient) Transfer(ctx context.Context, secret, destination, assetCode, assetIssuer string, amount decimal.Decimal) (*TransferReceipt, error) {
	body := map[string]string{
		"secret":       secret,
		"destination":  destination,
		"asset_code":   assetCode,
		"asset_issuer": assetIssuer,
		"amount":       amount.String(),
	}
	return utils.ExecuteWithRetry(ctx, "stellar.transfer", func(ctx context.Context) (*TransferReceipt, error) {
		var out TransferReceipt
		if err := c.do(ctx, "POST", "/api/v1/payments", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}, utils.RetryOptions{
		// A payment may have been accepted by the network even when the
		// response was lost; never blindly resubmit.
		MaxRetries:        1,
		BaseDelay:         time.Second,
		Timeout:           10 * time.Second,
		UseCircuitBreaker: true,
		RetryCondition: func(err error, _ int) bool {
			// Only retry failures that provably never reached the network.
			var ext *ExternalError
			return errors.As(err, &ext) && ext.Status == http.StatusServiceUnavailable
		},
	})
}

func (c *StellarServiceClient) Refund(ctx context.Context, secret, taskID string) (*TransferReceipt, error) {
	body := map[string]string{
		"secret":  secret,
		"task_id": taskID,
	}
	return utils.ExecuteWithRetry(ctx, "stellar.refund", func(ctx context.Context) (*TransferReceipt, error) {
		var out TransferReceipt
		if err := c.do(ctx, "POST", "/api/v1/refunds", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}, ledgerRetry)
}

func (c *StellarServiceClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call wallet service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{Op: "wallet service", RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ExternalError{
			Op:        "wallet service",
			Status:    resp.StatusCode,
			Body:      string(excerpt),
			Retriable: resp.StatusCode >= 500,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode wallet service response: %w", err)
		}
	}
	return nil
}
