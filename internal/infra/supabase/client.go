// Package supabase reads transactions from a Supabase (PostgREST) table.
// It is an alternative to the ingestion HTTP API as the transactions source.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// DefaultTable is the PostgREST table holding normalized transactions.
const DefaultTable = "transactions"

// maxRows bounds a single account fetch.
const maxRows = 500

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	table          string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client reading from table.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey, table string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if table == "" {
		table = DefaultTable
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		table:          table,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// doGet executes an authenticated GET against PostgREST. A 404 or 204 yields nil.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	key := c.serviceRoleKey
	if key == "" {
		key = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		err := fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	c.logger.Debug("supabase: request OK", zap.String("path", path), zap.Int("status", resp.StatusCode))
	return body, nil
}

// transactionRow maps the table columns.
type transactionRow struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Date           string          `json:"date"`
	MerchantName   string          `json:"merchant_name"`
	Amount         decimal.Decimal `json:"amount"`
	Category       []string        `json:"category"`
	Notes          string          `json:"notes"`
	CurrencyCode   string          `json:"currency"`
	CurrencySymbol string          `json:"currency_symbol"`
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:             r.ID,
		Date:           r.Date,
		MerchantName:   r.MerchantName,
		Amount:         r.Amount,
		Category:       r.Category,
		Notes:          r.Notes,
		CurrencyCode:   r.CurrencyCode,
		CurrencySymbol: r.CurrencySymbol,
	}
}

// GetTransactions fetches an account's transactions, newest first.
// An account without rows is not an error.
func (c *Client) GetTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	query := url.Values{}
	query.Set("account_id", "eq."+accountID)
	query.Set("order", "date.desc")
	query.Set("limit", fmt.Sprint(maxRows))
	path := c.table + "?" + query.Encode()

	var transactions []domain.Transaction
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doGet(ctx, path)
			if err != nil {
				return err
			}
			if body == nil {
				transactions = []domain.Transaction{}
				return nil
			}

			var rows []transactionRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return resilience.Permanent(fmt.Errorf("decode transactions: %w", err))
			}
			transactions = make([]domain.Transaction, 0, len(rows))
			for _, r := range rows {
				transactions = append(transactions, r.toDomain())
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, resilience.ServiceError("supabase/transactions", err)
	}

	span.SetAttributes(attribute.Int("transactions.count", len(transactions)))
	return transactions, nil
}
