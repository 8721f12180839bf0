package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"bank-movements/internal/config"
	"bank-movements/internal/domain"
	"bank-movements/internal/errors"
)

// Client talks to the account service that owns balances. Reads return the
// balance together with a version; writes are compare-and-swap keyed on that
// version. Transient failures (network, timeout, 5xx) are retried with
// exponential backoff up to a small ceiling; business rejections (404, 409)
// are surfaced immediately and never retried here.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64
	retryBase  time.Duration
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	maxRetries := cfg.GatewayMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL: cfg.AccountServiceURL,
		httpClient: &http.Client{
			Timeout: cfg.GatewayTimeout,
		},
		logger:     logger,
		maxRetries: uint64(maxRetries),
		retryBase:  cfg.GatewayRetryBase,
	}
}

var _ domain.BalanceGateway = (*Client)(nil)

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	Active    bool   `json:"active"`
	Version   int64  `json:"version"`
}

type setBalanceRequest struct {
	Balance         string `json:"balance"`
	ExpectedVersion int64  `json:"expected_version"`
}

type setBalanceResponse struct {
	Version int64 `json:"version"`
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (*domain.AccountState, error) {
	url := fmt.Sprintf("%s/api/accounts/%s/balance", c.baseURL, accountID)

	var state *domain.AccountState
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(errors.NewAppError(errors.InternalError, "failed to build gateway request").WithDetails(err.Error()))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Balance read failed", "account_id", accountID, "error", err)
			return errors.ErrGatewayUnavailable.WithDetails(err.Error())
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body balanceResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return backoff.Permanent(errors.NewAppError(errors.InternalError, "failed to decode balance response").WithDetails(err.Error()))
			}
			balance, err := decimal.NewFromString(body.Balance)
			if err != nil {
				return backoff.Permanent(errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error()))
			}
			state = &domain.AccountState{
				ID:       accountID,
				Balance:  balance,
				Currency: body.Currency,
				Active:   body.Active,
				Version:  body.Version,
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errors.ErrAccountNotFound)
		case resp.StatusCode >= 500:
			c.logger.Warn("Account service error on read", "account_id", accountID, "status", resp.StatusCode)
			return errors.ErrGatewayUnavailable.WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
		default:
			body, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(errors.NewAppErrorf(errors.InternalError, "unexpected account service status %d", resp.StatusCode).WithDetails(string(body)))
		}
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (c *Client) SetBalance(ctx context.Context, accountID string, newBalance decimal.Decimal, expectedVersion int64) (int64, error) {
	url := fmt.Sprintf("%s/api/accounts/%s/balance", c.baseURL, accountID)

	payload, err := json.Marshal(setBalanceRequest{
		Balance:         newBalance.String(),
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return 0, errors.NewAppError(errors.InternalError, "failed to encode balance write").WithDetails(err.Error())
	}

	var newVersion int64
	err = c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(errors.NewAppError(errors.InternalError, "failed to build gateway request").WithDetails(err.Error()))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Balance write failed", "account_id", accountID, "error", err)
			return errors.ErrGatewayUnavailable.WithDetails(err.Error())
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body setBalanceResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return backoff.Permanent(errors.NewAppError(errors.InternalError, "failed to decode balance write response").WithDetails(err.Error()))
			}
			newVersion = body.Version
			return nil
		case resp.StatusCode == http.StatusConflict:
			return backoff.Permanent(errors.ErrVersionConflict)
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errors.ErrAccountNotFound)
		case resp.StatusCode >= 500:
			c.logger.Warn("Account service error on write", "account_id", accountID, "status", resp.StatusCode)
			return errors.ErrGatewayUnavailable.WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
		default:
			body, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(errors.NewAppErrorf(errors.InternalError, "unexpected account service status %d", resp.StatusCode).WithDetails(string(body)))
		}
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// withRetry runs op under the bounded backoff policy. Errors wrapped in
// backoff.Permanent pass through untouched; anything else is retried until
// the ceiling is hit and the last error surfaces.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}
