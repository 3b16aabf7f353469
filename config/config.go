package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendwatch/internal/solana"
)

// ErrMissingEndpoint is returned when neither rpc.endpoint nor RPC_URL is set.
var ErrMissingEndpoint = errors.New("rpc endpoint is required (set RPC_URL or rpc.endpoint)")

// Refresh policies for the snapshot obligation list.
const (
	RefreshAlways = "always"
	RefreshCached = "cached"
)

type Config struct {
	Lendwatch LendwatchConfig `yaml:"lendwatch"`
	RPC       RPCConfig       `yaml:"rpc"`
	Market    MarketConfig    `yaml:"market"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type LendwatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type RPCConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Commitment        string        `yaml:"commitment"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	BatchSize         int           `yaml:"batch_size"`
	BatchConcurrency  int           `yaml:"batch_concurrency"`
}

type MarketConfig struct {
	ProgramID         string `yaml:"program_id"`
	LendingMarket     string `yaml:"lending_market"`
	MinPrimaryResults int    `yaml:"min_primary_results"`
}

type PriceFeedConfig struct {
	URL               string            `yaml:"url"`
	ReconnectDelay    time.Duration     `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration     `yaml:"max_reconnect_delay"`
	KeepAlive         time.Duration     `yaml:"keep_alive"`
	StalenessWindow   time.Duration     `yaml:"staleness_window"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	TickBuffer        int               `yaml:"tick_buffer"`
	Feeds             map[string]string `yaml:"feeds"`
}

type SnapshotConfig struct {
	OutputPath      string        `yaml:"output_path"`
	Interval        time.Duration `yaml:"interval"`
	Warmup          time.Duration `yaml:"warmup"`
	Refresh         string        `yaml:"refresh"`
	RediscoverEvery int           `yaml:"rediscover_every"`
}

type DashboardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	LogHistory     int           `yaml:"log_history"`
	MetricsHistory int           `yaml:"metrics_history"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns a configuration populated with the values used when a key
// is absent from the YAML file.
func Default() Config {
	return Config{
		Lendwatch: LendwatchConfig{Name: "lendwatch", Version: "dev"},
		RPC: RPCConfig{
			Commitment:        "confirmed",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 10,
			BurstSize:         2,
			BatchSize:         100,
			BatchConcurrency:  4,
		},
		Market: MarketConfig{
			ProgramID:         "KLend2g3cP87fffoy8q1mQqGKjrxjC8boSyAYavgmjD",
			LendingMarket:     "7u3HeHxYDLhnCoErrtycNokbQYbWGzLs6JSDqGAv5PfF",
			MinPrimaryResults: 1,
		},
		PriceFeed: PriceFeedConfig{
			URL:               "wss://hermes.pyth.network/ws",
			ReconnectDelay:    2 * time.Second,
			MaxReconnectDelay: time.Minute,
			KeepAlive:         20 * time.Second,
			StalenessWindow:   60 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			TickBuffer:        1024,
		},
		Snapshot: SnapshotConfig{
			OutputPath:      "obligations_detailed.json",
			Interval:        30 * time.Second,
			Warmup:          10 * time.Second,
			Refresh:         RefreshAlways,
			RediscoverEvery: 10,
		},
		Dashboard: DashboardConfig{
			Address:        "0.0.0.0:8080",
			SampleInterval: 5 * time.Second,
			LogHistory:     200,
			MetricsHistory: 200,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: 30 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at path on top of Default and applies
// environment overrides. A missing file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		cfg.RPC.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("PROGRAM_ID")); v != "" {
		cfg.Market.ProgramID = v
	}
	if v := strings.TrimSpace(os.Getenv("LENDING_MARKET")); v != "" {
		cfg.Market.LendingMarket = v
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_PATH")); v != "" {
		cfg.Snapshot.OutputPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PRICE_FEED_URL")); v != "" {
		cfg.PriceFeed.URL = v
	}
	cfg.RPC.Endpoint = strings.TrimSpace(cfg.RPC.Endpoint)
	cfg.Snapshot.Refresh = strings.ToLower(strings.TrimSpace(cfg.Snapshot.Refresh))
}

func validateConfig(cfg *Config) error {
	if cfg.RPC.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if !strings.HasPrefix(cfg.RPC.Endpoint, "http://") && !strings.HasPrefix(cfg.RPC.Endpoint, "https://") {
		return fmt.Errorf("rpc.endpoint '%s' must be an http(s) url", cfg.RPC.Endpoint)
	}
	if cfg.RPC.Timeout <= 0 {
		return fmt.Errorf("rpc.timeout must be greater than 0")
	}
	if cfg.RPC.BatchSize <= 0 || cfg.RPC.BatchSize > 100 {
		return fmt.Errorf("rpc.batch_size must be between 1 and 100")
	}
	if cfg.RPC.BatchConcurrency <= 0 {
		return fmt.Errorf("rpc.batch_concurrency must be greater than 0")
	}

	if cfg.Market.ProgramID == "" {
		return fmt.Errorf("market.program_id is required")
	}
	if cfg.Market.LendingMarket == "" {
		return fmt.Errorf("market.lending_market is required")
	}
	if _, err := solana.ParsePublicKey(cfg.Market.ProgramID); err != nil {
		return fmt.Errorf("market.program_id: %w", err)
	}
	if _, err := solana.ParsePublicKey(cfg.Market.LendingMarket); err != nil {
		return fmt.Errorf("market.lending_market: %w", err)
	}
	if cfg.Market.MinPrimaryResults < 0 {
		return fmt.Errorf("market.min_primary_results must not be negative")
	}

	if cfg.PriceFeed.URL == "" {
		return fmt.Errorf("price_feed.url is required")
	}
	if cfg.PriceFeed.StalenessWindow <= 0 {
		return fmt.Errorf("price_feed.staleness_window must be greater than 0")
	}
	for mint, feed := range cfg.PriceFeed.Feeds {
		if !isValidFeedID(feed) {
			return fmt.Errorf("price_feed.feeds[%s] '%s' is not a 32-byte hex feed id", mint, feed)
		}
	}

	if cfg.Snapshot.OutputPath == "" {
		return fmt.Errorf("snapshot.output_path is required")
	}
	if cfg.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be greater than 0")
	}
	if cfg.Snapshot.Warmup < 0 {
		return fmt.Errorf("snapshot.warmup must not be negative")
	}
	switch cfg.Snapshot.Refresh {
	case RefreshAlways:
	case RefreshCached:
		if cfg.Snapshot.RediscoverEvery <= 0 {
			return fmt.Errorf("snapshot.rediscover_every must be greater than 0 when refresh is cached")
		}
	default:
		return fmt.Errorf("snapshot.refresh '%s' must be '%s' or '%s'", cfg.Snapshot.Refresh, RefreshAlways, RefreshCached)
	}

	return nil
}

func isValidFeedID(id string) bool {
	id = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
	if len(id) != 64 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
