package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/analysis"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/config"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/handler"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/cache"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/client"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/history"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/llm"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/retrieval"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/port"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/service"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/workflow"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger("fiscal-sentinel", cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("history_backend", cfg.HistoryBackend),
		zap.Int("history_limit", cfg.HistoryLimit),
		zap.Bool("retrieval_enabled", cfg.RetrievalAPIURL != ""),
		zap.Bool("transactions_enabled", cfg.TransactionsAPIURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	ctx := context.Background()

	// --- Workflow graph ---
	if err := workflow.Validate(); err != nil {
		logger.Fatal("invalid workflow graph", zap.Error(err))
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(ctx, "fiscal-sentinel", cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	completer, err := newCompleter(ctx, cfg, httpClient, resilienceCfg)
	if err != nil {
		logger.Fatal("failed to create completion client", zap.Error(err))
	}

	var retriever port.Retriever
	if cfg.RetrievalAPIURL != "" {
		retriever = retrieval.NewClient(httpClient, cfg.RetrievalAPIURL, cfg.RetrievalTopK,
			resilience.NewCircuitBreaker("retrieval"), resilienceCfg)
	} else {
		logger.Warn("retrieval: RETRIEVAL_API_URL not set, evidence will be empty")
	}

	var transactions port.TransactionsFetcher
	switch {
	case cfg.TransactionsAPIURL != "":
		transactions = client.NewTransactionsClient(httpClient, cfg.TransactionsAPIURL,
			resilience.NewCircuitBreaker("transactions"), resilienceCfg)
	case cfg.SupabaseURL != "":
		logger.Info("using Supabase as transactions source",
			zap.String("supabase_url", cfg.SupabaseURL),
			zap.String("table", cfg.SupabaseTable),
		)
		transactions = supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey,
			cfg.SupabaseTable, resilience.NewCircuitBreaker("supabase"), resilienceCfg, logger)
	default:
		logger.Warn("transactions: no source configured, requests must inline transactions")
	}

	// --- History ---
	historyStore, closeHistory, err := newHistoryStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create history store", zap.Error(err))
	}
	defer closeHistory()

	// --- Services ---
	analyzer := analysis.NewAnalyzer()
	queries := analysis.NewQueryEngine(analyzer, analysis.CurrencyConfig{
		DefaultSymbol: cfg.DefaultCurrencySymbol,
		DefaultCode:   cfg.DefaultCurrency,
	}, nil)

	wf := workflow.New(completer, retriever, analyzer, queries, metrics, logger)

	txCache := cache.New[[]domain.Transaction](cfg.CacheTTL)
	defer txCache.Close()

	sentinel := service.NewSentinel(
		wf,
		analyzer,
		queries,
		historyStore,
		transactions,
		txCache,
		metrics,
		logger,
		service.Options{HistoryLimit: cfg.HistoryLimit, Debug: cfg.DebugResponses},
	)

	// --- Router ---
	collaborators := map[string]bool{
		"llm":          true,
		"retrieval":    retriever != nil,
		"transactions": transactions != nil,
		"history":      true,
	}
	router := handler.NewRouter(sentinel, collaborators, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * cfg.HTTPTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newCompleter(ctx context.Context, cfg *config.Config, httpClient *http.Client, rc resilience.Config) (port.Completer, error) {
	cb := resilience.NewCircuitBreaker("llm")
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		gc, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cb, rc)
		if err != nil {
			return nil, err
		}
		return gc, nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(httpClient, cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel, cb, rc), nil
	}
	return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
}

// newHistoryStore builds the configured history backend and returns a func
// that releases its connections.
func newHistoryStore(ctx context.Context, cfg *config.Config) (port.HistoryStore, func(), error) {
	switch cfg.HistoryBackend {
	case config.HistoryRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return history.NewRedisStore(rdb, cfg.HistoryLimit, cfg.HistoryTTL), func() { rdb.Close() }, nil
	case config.HistoryMongo:
		mc, err := history.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mc.Disconnect(closeCtx)
		}
		return history.NewMongoStore(mc.Database(cfg.MongoDB), cfg.HistoryLimit), closeFn, nil
	case config.HistoryMemory:
		store := history.NewMemoryStore(cfg.HistoryLimit, cfg.HistoryTTL)
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown HISTORY_BACKEND %q", cfg.HistoryBackend)
}
