package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/tokensync/service/ethaddr"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Cache storage. An empty DatabaseURL selects the in-memory cache.
	DatabaseURL string

	// NATS configuration. An empty NATSURL disables event publishing.
	NATSURL string

	// Ethplorer (top tokens)
	EthplorerBaseURL string
	EthplorerAPIKey  string

	// Etherscan (balances)
	EtherscanBaseURL   string
	EtherscanAPIKey    string
	EtherscanRateLimit int

	// Sync configuration
	WalletAddress  string
	TopTokensLimit int
	HTTPTimeout    time.Duration
	SearchDebounce time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Background refresh schedule
	RefreshInterval time.Duration
}

const (
	minRefreshInterval = time.Minute
	maxTopTokensLimit  = 1000
)

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Upstream configuration
	cfg.EthplorerBaseURL = getEnvOrDefault("ETHPLORER_BASE_URL", "https://api.ethplorer.io")
	cfg.EthplorerAPIKey = getEnvOrDefault("ETHPLORER_API_KEY", "freekey")
	cfg.EtherscanBaseURL = getEnvOrDefault("ETHERSCAN_BASE_URL", "https://api.etherscan.io")

	cfg.EtherscanAPIKey = os.Getenv("ETHERSCAN_API_KEY")
	if cfg.EtherscanAPIKey == "" {
		errs = append(errs, fmt.Errorf("ETHERSCAN_API_KEY is required"))
	}

	rateLimit, err := parseInt("ETHERSCAN_RATE_LIMIT", 4)
	if err != nil {
		errs = append(errs, err)
	} else if rateLimit < 1 {
		errs = append(errs, fmt.Errorf("ETHERSCAN_RATE_LIMIT must be at least 1"))
	} else {
		cfg.EtherscanRateLimit = rateLimit
	}

	// Sync configuration
	cfg.WalletAddress = os.Getenv("WALLET_ADDRESS")
	if cfg.WalletAddress == "" {
		errs = append(errs, fmt.Errorf("WALLET_ADDRESS is required"))
	} else if !ethaddr.IsHexAddress(cfg.WalletAddress) {
		errs = append(errs, fmt.Errorf("WALLET_ADDRESS %q is not a 0x-prefixed 40 hex digit address", cfg.WalletAddress))
	}

	limit, err := parseInt("TOP_TOKENS_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	} else if limit < 1 || limit > maxTopTokensLimit {
		errs = append(errs, fmt.Errorf("TOP_TOKENS_LIMIT must be between 1 and %d", maxTopTokensLimit))
	} else {
		cfg.TopTokensLimit = limit
	}

	timeout, err := parseDuration("HTTP_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HTTPTimeout = timeout
	}

	debounce, err := parseDuration("SEARCH_DEBOUNCE", "300ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SearchDebounce = debounce
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tokensync-refresh")

	interval, err := parseDuration("REFRESH_INTERVAL", "15m")
	if err != nil {
		errs = append(errs, err)
	} else if interval < minRefreshInterval {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL (%v) must be at least %v", interval, minRefreshInterval))
	} else {
		cfg.RefreshInterval = interval
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.EtherscanAPIKey == "" {
		errs = append(errs, fmt.Errorf("EtherscanAPIKey is required"))
	}

	if !ethaddr.IsHexAddress(c.WalletAddress) {
		errs = append(errs, fmt.Errorf("WalletAddress must be a 0x-prefixed 40 hex digit address"))
	}

	if c.EthplorerBaseURL == "" {
		errs = append(errs, fmt.Errorf("EthplorerBaseURL is required"))
	}

	if c.EtherscanBaseURL == "" {
		errs = append(errs, fmt.Errorf("EtherscanBaseURL is required"))
	}

	if c.EtherscanRateLimit < 1 {
		errs = append(errs, fmt.Errorf("EtherscanRateLimit must be at least 1"))
	}

	if c.TopTokensLimit < 1 || c.TopTokensLimit > maxTopTokensLimit {
		errs = append(errs, fmt.Errorf("TopTokensLimit must be between 1 and %d", maxTopTokensLimit))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.RefreshInterval < minRefreshInterval {
		errs = append(errs, fmt.Errorf("RefreshInterval must be at least 1 minute"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
