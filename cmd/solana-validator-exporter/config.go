package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
)

// Config is the exporter's environment-variable configuration surface.
type Config struct {
	// RpcUrl is the Solana JSON-RPC endpoint (including protocol and path).
	RpcUrl string
	// Identity is the tracked validator's identity (node) pubkey.
	Identity string
	// VoteAccount is the tracked validator's vote-account pubkey.
	VoteAccount string

	ListenAddress string
	HttpTimeout   time.Duration

	// ScrapeInterval is the cadence of the background collection cycle.
	ScrapeInterval time.Duration
	// CycleDeadline bounds one collection cycle. A cycle that overruns it is
	// abandoned and the previous snapshot is served with a staleness flag.
	CycleDeadline time.Duration

	// WindowBehind / WindowAhead bound the block-table window around the
	// current confirmed slot.
	WindowBehind int
	WindowAhead  int
	// BlockConcurrency limits parallel getBlock fetches for the window.
	BlockConcurrency int

	// PriceUrl overrides the Binance ticker with a compatible HTTP endpoint.
	PriceUrl        string
	PricePair       string
	PriceRefreshAge time.Duration
	PriceStaleAge   time.Duration
}

// LoadConfig reads the configuration from the environment, applying
// defaults. Only SOLANA_IDENTITY_KEY and SOLANA_VOTE_KEY are required;
// everything else has a sensible default.
func LoadConfig() (*Config, error) {
	logger := slog.Get()

	config := &Config{
		RpcUrl:        envString("SOLANA_RPC_URL", "http://localhost:8899"),
		Identity:      os.Getenv("SOLANA_IDENTITY_KEY"),
		VoteAccount:   os.Getenv("SOLANA_VOTE_KEY"),
		ListenAddress: envString("LISTEN_ADDRESS", ":8080"),
	}

	var err error
	if config.HttpTimeout, err = envDuration("SOLANA_RPC_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if config.ScrapeInterval, err = envDuration("SCRAPE_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if config.CycleDeadline, err = envDuration("CYCLE_DEADLINE", 12*time.Second); err != nil {
		return nil, err
	}
	if config.WindowBehind, err = envInt("BLOCK_WINDOW_BEHIND", 4); err != nil {
		return nil, err
	}
	if config.WindowAhead, err = envInt("BLOCK_WINDOW_AHEAD", 4); err != nil {
		return nil, err
	}
	if config.BlockConcurrency, err = envInt("BLOCK_FETCH_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	config.PriceUrl = os.Getenv("PRICE_URL")
	config.PricePair = envString("PRICE_PAIR", "SOLUSDT")
	if config.PriceRefreshAge, err = envDuration("PRICE_REFRESH_AGE", time.Minute); err != nil {
		return nil, err
	}
	if config.PriceStaleAge, err = envDuration("PRICE_STALE_AGE", 5*time.Minute); err != nil {
		return nil, err
	}

	if config.Identity == "" {
		return nil, fmt.Errorf("SOLANA_IDENTITY_KEY must be set")
	}
	if config.VoteAccount == "" {
		return nil, fmt.Errorf("SOLANA_VOTE_KEY must be set")
	}
	if config.CycleDeadline >= config.ScrapeInterval {
		logger.Warnf(
			"CYCLE_DEADLINE (%v) should be comfortably under SCRAPE_INTERVAL (%v)",
			config.CycleDeadline, config.ScrapeInterval,
		)
	}

	logger.Infow("Loaded config",
		"rpcUrl", config.RpcUrl,
		"identity", config.Identity,
		"voteAccount", config.VoteAccount,
		"listenAddress", config.ListenAddress,
		"httpTimeout", config.HttpTimeout,
		"scrapeInterval", config.ScrapeInterval,
		"cycleDeadline", config.CycleDeadline,
		"windowBehind", config.WindowBehind,
		"windowAhead", config.WindowAhead,
		"blockConcurrency", config.BlockConcurrency,
		"pricePair", config.PricePair,
	)
	return config, nil
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

// envDuration accepts Go duration strings ("30s") and, for compatibility
// with older deployments, bare numbers interpreted as seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}
