package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetry = resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "netflix", req.Merchant)
		assert.Equal(t, 2, req.TopK)

		_, _ = w.Write([]byte(`{"results":[
			{"text":"Subscribers may cancel at any time.","source":"netflix_terms.pdf","page":4,"merchant":"netflix"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 2, resilience.NewCircuitBreaker("retrieval-ok"), testRetry)
	got, err := c.Search(context.Background(), "price increase", "netflix")
	require.NoError(t, err)
	assert.Equal(t, "---\nSOURCE: netflix_terms.pdf\nPAGE: 4\nMERCHANT: netflix\nEXCERPT: Subscribers may cancel at any time.\n---\n", got)
}

func TestClient_SearchNoHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 0, resilience.NewCircuitBreaker("retrieval-empty"), testRetry)
	got, err := c.Search(context.Background(), "anything", "")
	require.NoError(t, err)
	assert.Equal(t, NoDocuments, got)
}

func TestClient_SearchFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL, 2, resilience.NewCircuitBreaker("retrieval-503"), testRetry)
	_, err := c.Search(context.Background(), "anything", "")

	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "retrieval", ext.Service)
}

func TestFormatHits_DefaultsAndTruncation(t *testing.T) {
	long := strings.Repeat("é", excerptLimit+20)
	got := FormatHits([]Hit{{Text: long}})

	assert.Contains(t, got, "SOURCE: unknown\n")
	assert.Contains(t, got, "PAGE: ?\n")
	assert.Contains(t, got, "MERCHANT: none\n")
	assert.Contains(t, got, "EXCERPT: "+strings.Repeat("é", excerptLimit)+"\n---\n")
}
