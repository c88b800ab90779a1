// Package config loads pipeline configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for tunable options.
const (
	DefaultStartDate        = "2022-01-01"
	DefaultCandidateSize    = 500
	DefaultUniverseSize     = 200
	DefaultRetryMaxAttempts = 3
	DefaultCooldownSecs     = 61
	DefaultCacheDir         = "cache"
	DefaultOutputFile       = "crypto_market_data.parquet"
)

// Config holds everything the pipeline reads from the environment.
// Provider API keys are required; stores and the remote cache tier are
// enabled only when their connection strings are set.
type Config struct {
	CoinGeckoAPIKey  string
	DefiLlamaAPIKey  string
	LunarCrushAPIKey string

	CacheDir      string
	RedisURL      string
	PostgresDSN   string
	ClickhouseDSN string
	OutputFile    string
	MetricsAddr   string

	StartDate         time.Time
	CandidateSize     int
	UniverseSize      int
	RetryMaxAttempts  int
	RateLimitCooldown time.Duration
}

// Load reads configuration from a .env file (when present) and the process
// environment. A missing provider API key is a fatal configuration error:
// no useful output is possible without all three sources.
func Load() (*Config, error) {
	// .env is optional; env vars win when both are set.
	_ = godotenv.Load()

	cfg := &Config{
		CoinGeckoAPIKey:  os.Getenv("COINGECKO_PRO_API_KEY"),
		DefiLlamaAPIKey:  os.Getenv("DEFILLAMA_PRO_API_KEY"),
		LunarCrushAPIKey: os.Getenv("LUNARCRUSH_PRO_API_KEY"),
		CacheDir:         os.Getenv("CACHE_DIR"),
		RedisURL:         os.Getenv("REDIS_URL"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN:    os.Getenv("CLICKHOUSE_DSN"),
		OutputFile:       os.Getenv("OUTPUT_FILE"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	var missing []string
	if cfg.CoinGeckoAPIKey == "" {
		missing = append(missing, "COINGECKO_PRO_API_KEY")
	}
	if cfg.DefiLlamaAPIKey == "" {
		missing = append(missing, "DEFILLAMA_PRO_API_KEY")
	}
	if cfg.LunarCrushAPIKey == "" {
		missing = append(missing, "LUNARCRUSH_PRO_API_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required API keys: %s (check your .env file)", strings.Join(missing, ", "))
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = DefaultOutputFile
	}

	startDate := DefaultStartDate
	if v := strings.TrimSpace(os.Getenv("START_DATE")); v != "" {
		startDate = v
	}
	start, err := time.ParseInLocation("2006-01-02", startDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid START_DATE %q: %w", startDate, err)
	}
	cfg.StartDate = start

	cfg.CandidateSize = intEnv("CANDIDATE_SIZE", DefaultCandidateSize)
	cfg.UniverseSize = intEnv("UNIVERSE_SIZE", DefaultUniverseSize)
	cfg.RetryMaxAttempts = intEnv("RETRY_MAX_ATTEMPTS", DefaultRetryMaxAttempts)
	cfg.RateLimitCooldown = time.Duration(intEnv("RATE_LIMIT_COOLDOWN_SECS", DefaultCooldownSecs)) * time.Second

	return cfg, nil
}

func intEnv(name string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
