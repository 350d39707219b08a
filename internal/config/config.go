package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// History backends understood by HISTORY_BACKEND.
const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
	HistoryMongo  = "mongo"
)

// LLM providers understood by LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Completion service
	LLMProvider  string
	LLMAPIURL    string
	LLMAPIKey    string
	LLMModel     string
	GeminiAPIKey string
	GeminiModel  string

	// Other collaborators. An empty URL leaves the collaborator unconfigured.
	RetrievalAPIURL    string
	RetrievalTopK      int
	TransactionsAPIURL string

	// Supabase transactions table, used when TransactionsAPIURL is empty
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseTable      string

	// Conversation history
	HistoryBackend string
	HistoryLimit   int
	HistoryTTL     time.Duration
	RedisAddr      string
	MongoURI       string
	MongoDB        string

	// Currency defaults for transactions that carry none
	DefaultCurrency       string
	DefaultCurrencySymbol string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// DebugResponses attaches routing diagnostics to every chat response.
	DebugResponses bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		LLMAPIURL:    getEnv("LLM_API_URL", "https://api.openai.com"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "gpt-4o-mini"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		RetrievalAPIURL:    getEnv("RETRIEVAL_API_URL", ""),
		RetrievalTopK:      getEnvInt("RETRIEVAL_TOP_K", 2),
		TransactionsAPIURL: getEnv("TRANSACTIONS_API_URL", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseTable:      getEnv("SUPABASE_TRANSACTIONS_TABLE", "transactions"),

		HistoryBackend: strings.ToLower(getEnv("HISTORY_BACKEND", HistoryMemory)),
		HistoryLimit:   getEnvInt("HISTORY_LIMIT", 20),
		HistoryTTL:     getEnvDuration("HISTORY_TTL", 24*time.Hour),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:        getEnv("MONGO_DB", "fiscal_sentinel"),

		DefaultCurrency:       getEnv("DEFAULT_CURRENCY", ""),
		DefaultCurrencySymbol: getEnv("DEFAULT_CURRENCY_SYMBOL", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 20),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		DebugResponses: getEnvBool("DEBUG_RESPONSES", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
