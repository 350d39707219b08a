package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, HistoryMemory, cfg.HistoryBackend)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Empty(t, cfg.RetrievalAPIURL)
	assert.Empty(t, cfg.SupabaseURL)
	assert.Equal(t, "transactions", cfg.SupabaseTable)
	assert.False(t, cfg.DebugResponses)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HISTORY_BACKEND", "Redis")
	t.Setenv("HISTORY_TTL", "1h")
	t.Setenv("DEFAULT_CURRENCY", "NGN")
	t.Setenv("DEBUG_RESPONSES", "true")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, HistoryRedis, cfg.HistoryBackend)
	assert.Equal(t, time.Hour, cfg.HistoryTTL)
	assert.Equal(t, "NGN", cfg.DefaultCurrency)
	assert.True(t, cfg.DebugResponses)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SENTINEL_TEST_A=from-file\nSENTINEL_TEST_B=\"quoted\"\n"), 0o600))

	t.Setenv("SENTINEL_TEST_A", "from-env")
	t.Setenv("SENTINEL_TEST_B", "")
	require.NoError(t, os.Unsetenv("SENTINEL_TEST_B"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))

	assert.Equal(t, "from-env", os.Getenv("SENTINEL_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("SENTINEL_TEST_B"))
}
