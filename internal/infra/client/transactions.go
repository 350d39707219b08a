// Package client holds HTTP adapters for the ingestion collaborator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// TransactionsClient fetches normalized transactions from the ingestion API.
type TransactionsClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewTransactionsClient creates a new TransactionsClient.
func NewTransactionsClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *TransactionsClient {
	return &TransactionsClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// GetTransactions fetches an account's transactions with retry, circuit breaker, and tracing.
func (c *TransactionsClient) GetTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "TransactionsClient.GetTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	result, err := c.cb.Execute(func() (any, error) {
		var transactions []domain.Transaction
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions", c.baseURL, url.PathEscape(accountID))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return resilience.Permanent(err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return resilience.Permanent(&domain.ErrNotFound{Resource: "transactions", ID: accountID})
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return resilience.Permanent(fmt.Errorf("transactions API returned status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("transactions API returned status %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			transactions, err = decodeTransactions(body)
			if err != nil {
				return resilience.Permanent(err)
			}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return transactions, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, resilience.ServiceError("transactions", err)
	}

	return result.([]domain.Transaction), nil
}

// transactionsEnvelope is the stored-upload shape of the ingestion API.
type transactionsEnvelope struct {
	Source       string               `json:"source"`
	UpdatedAt    string               `json:"updated_at"`
	Transactions []domain.Transaction `json:"transactions"`
}

// decodeTransactions accepts either a bare array or an envelope.
func decodeTransactions(body []byte) ([]domain.Transaction, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var txs []domain.Transaction
		if err := json.Unmarshal(body, &txs); err != nil {
			return nil, fmt.Errorf("decode transactions: %w", err)
		}
		return txs, nil
	}

	var env transactionsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode transactions envelope: %w", err)
	}
	return env.Transactions, nil
}
