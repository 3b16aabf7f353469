package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/solana"
)

// writeTempConfig writes content into a config file inside a temp dir and
// returns its path.
func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testMarket = "So11111111111111111111111111111111111111112"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"RPC_URL", "PROGRAM_ID", "LENDING_MARKET", "SNAPSHOT_PATH", "PRICE_FEED_URL", "APP_ENV"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yml", `lendwatch:
  name: "TestApp"
  version: "1.0"
rpc:
  endpoint: "https://rpc.example.com"
  timeout: 5s
  batch_size: 50
snapshot:
  interval: 15s
  refresh: cached
  rediscover_every: 3
price_feed:
  staleness_window: 45s
  feeds:
    So11111111111111111111111111111111111111112: "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "TestApp", cfg.Lendwatch.Name)
	assert.Equal(t, "https://rpc.example.com", cfg.RPC.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, 50, cfg.RPC.BatchSize)
	assert.Equal(t, 15*time.Second, cfg.Snapshot.Interval)
	assert.Equal(t, RefreshCached, cfg.Snapshot.Refresh)
	assert.Equal(t, 45*time.Second, cfg.PriceFeed.StalenessWindow)
	assert.Len(t, cfg.PriceFeed.Feeds, 1)

	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Snapshot.Warmup)
	assert.Equal(t, "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD", cfg.Market.ProgramID)
	assert.Equal(t, 1, cfg.Market.MinPrimaryResults)
}

func TestLoadConfigMissingEndpoint(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.yml", "lendwatch:\n  name: x\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingEndpoint))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_URL", " https://env.example.com ")
	t.Setenv("LENDING_MARKET", testMarket)
	t.Setenv("SNAPSHOT_PATH", "/tmp/out.json")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.RPC.Endpoint)
	assert.Equal(t, testMarket, cfg.Market.LendingMarket)
	assert.Equal(t, "/tmp/out.json", cfg.Snapshot.OutputPath)
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non http endpoint", func(c *Config) { c.RPC.Endpoint = "ws://rpc" }},
		{"batch too large", func(c *Config) { c.RPC.BatchSize = 101 }},
		{"zero interval", func(c *Config) { c.Snapshot.Interval = 0 }},
		{"unknown refresh", func(c *Config) { c.Snapshot.Refresh = "sometimes" }},
		{"cached without cadence", func(c *Config) {
			c.Snapshot.Refresh = RefreshCached
			c.Snapshot.RediscoverEvery = 0
		}},
		{"bad feed id", func(c *Config) { c.PriceFeed.Feeds = map[string]string{"mint": "abc"} }},
		{"empty market", func(c *Config) { c.Market.LendingMarket = "" }},
		{"market not base58", func(c *Config) { c.Market.LendingMarket = "0OIl-market" }},
		{"market wrong length", func(c *Config) { c.Market.LendingMarket = "Market111" }},
		{"program not a key", func(c *Config) { c.Market.ProgramID = "KLend" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.RPC.Endpoint = "https://rpc.example.com"
			tc.mutate(&cfg)
			assert.Error(t, validateConfig(&cfg))
		})
	}

	cfg := Default()
	cfg.RPC.Endpoint = "https://rpc.example.com"
	assert.NoError(t, validateConfig(&cfg))
}

func TestValidateConfigRejectsMistypedMarket(t *testing.T) {
	cfg := Default()
	cfg.RPC.Endpoint = "https://rpc.example.com"
	cfg.Market.LendingMarket = cfg.Market.LendingMarket[:len(cfg.Market.LendingMarket)-3]

	err := validateConfig(&cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, solana.ErrInvalidPublicKey))
	assert.Contains(t, err.Error(), "market.lending_market")
}

func TestResolvePath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	require.NoError(t, os.WriteFile(base, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(prod, []byte("{}"), 0o644))

	assert.Equal(t, base, ResolvePath(base))

	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, prod, ResolvePath(base))

	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, base, ResolvePath(base))
}
