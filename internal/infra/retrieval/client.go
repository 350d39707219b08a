// Package retrieval adapts the legal knowledge search service.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("retrieval")

// NoDocuments is returned when the search produced no hits.
const NoDocuments = "No specific legal documents found."

const excerptLimit = 500

// Hit is one search result as returned by the search service.
type Hit struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Page     any    `json:"page"`
	Merchant string `json:"merchant"`
}

type searchRequest struct {
	Query    string `json:"query"`
	Merchant string `json:"merchant,omitempty"`
	TopK     int    `json:"top_k"`
}

type searchResponse struct {
	Results []Hit `json:"results"`
}

// Client calls POST /v1/search on the retrieval service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	topK       int
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewClient creates a retrieval client returning at most topK excerpts.
func NewClient(httpClient *http.Client, baseURL string, topK int, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *Client {
	if topK <= 0 {
		topK = 2
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, topK: topK, cb: cb, cfg: cfg}
}

// Search runs query, optionally restricted to merchant, and formats the hits.
func (c *Client) Search(ctx context.Context, query, merchant string) (string, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.Search")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.merchant", merchant))

	body, err := json.Marshal(searchRequest{Query: query, Merchant: merchant, TopK: c.topK})
	if err != nil {
		return "", fmt.Errorf("encode search request: %w", err)
	}

	result, err := c.cb.Execute(func() (any, error) {
		var out searchResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return resilience.Permanent(fmt.Errorf("retrieval API returned status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("retrieval API returned status %d", resp.StatusCode)
			}
			out = searchResponse{}
			return json.NewDecoder(resp.Body).Decode(&out)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return out.Results, nil
	})
	if err != nil {
		span.RecordError(err)
		return "", resilience.ServiceError("retrieval", err)
	}

	hits := result.([]Hit)
	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	return FormatHits(hits), nil
}

// FormatHits renders hits as delimited SOURCE/PAGE/MERCHANT/EXCERPT blocks.
func FormatHits(hits []Hit) string {
	if len(hits) == 0 {
		return NoDocuments
	}
	var sb strings.Builder
	for _, h := range hits {
		source := h.Source
		if source == "" {
			source = "unknown"
		}
		page := "?"
		if h.Page != nil {
			page = fmt.Sprint(h.Page)
		}
		merchant := h.Merchant
		if merchant == "" {
			merchant = "none"
		}
		fmt.Fprintf(&sb, "---\nSOURCE: %s\nPAGE: %s\nMERCHANT: %s\nEXCERPT: %s\n---\n",
			source, page, merchant, truncateRunes(h.Text, excerptLimit))
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
