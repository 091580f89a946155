package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "arena-api/pkg/broker/sim"
	_ "arena-api/pkg/market/hyperliquid"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

// Sections hydrate from sibling files with env placeholders expanded by
// each module's own loader.
func TestHydrateSections(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "llm.yaml"), `
base_url: ${ARENA_LLM_BASE_URL}
api_key: ${ARENA_LLM_API_KEY}
default_model: test-model
timeout: 2s
`)
	writeFile(t, filepath.Join(dir, "market.yaml"), `
default: hyper
providers:
  hyper:
    type: hyperliquid
    base_url: ${ARENA_MARKET_BASE}
    http_timeout: 11s
    max_retries: 2
`)
	writeFile(t, filepath.Join(dir, "broker.yaml"), `
default: sim
executors:
  sim:
    type: sim
`)

	t.Setenv("ARENA_LLM_BASE_URL", "https://llm.example/api")
	t.Setenv("ARENA_LLM_API_KEY", "test-key")
	t.Setenv("ARENA_MARKET_BASE", "https://api.hyperliquid.local/info")

	cfg := &Config{TTL: CacheTTL{Short: 10, Medium: 60, Long: 300}}
	cfg.LLM.File = "llm.yaml"
	cfg.Market.File = "market.yaml"
	cfg.Broker.File = "broker.yaml"
	cfg.baseDir = dir
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.hydrateSections())

	require.NotNil(t, cfg.LLM.Value)
	require.Equal(t, "https://llm.example/api", cfg.LLM.Value.BaseURL)
	require.Equal(t, "test-key", cfg.LLM.Value.APIKey)

	require.NotNil(t, cfg.Market.Value)
	p := cfg.Market.Value.Providers["hyper"]
	require.NotNil(t, p)
	require.Equal(t, "https://api.hyperliquid.local/info", p.BaseURL)
	require.Equal(t, "11s", p.HTTPTimeout.String())

	require.NotNil(t, cfg.Broker.Value)
	require.Equal(t, "sim", cfg.Broker.Value.Default)
}

func TestValidateEnv(t *testing.T) {
	cfg := &Config{TTL: CacheTTL{Short: 10, Medium: 60, Long: 300}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "test", cfg.Env)
	require.True(t, cfg.IsTestEnv())

	cfg.Env = "prod"
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.IsTestEnv())

	cfg.Env = "staging"
	require.Error(t, cfg.Validate())
}

func TestValidateTTLBounds(t *testing.T) {
	cfg := &Config{TTL: CacheTTL{Short: 0, Medium: 60, Long: 300}}
	require.Error(t, cfg.Validate())

	cfg.TTL = CacheTTL{Short: 10, Medium: 0, Long: 300}
	require.Error(t, cfg.Validate())

	cfg.TTL = CacheTTL{Short: 10, Medium: 60, Long: 0}
	require.Error(t, cfg.Validate())
}
