// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// Config holds application configuration
type Config struct {
	// Scheduling. CronExpression is only honored when the interval was
	// not explicitly configured; an explicit interval wins.
	FetchIntervalMillis int64
	IntervalExplicit    bool
	CronExpression      string

	// Aggregation
	MinSources    int
	WindowMillis  int64
	DefaultMethod domain.Method
	TrimFraction  float64
	SourceWeights map[string]float64

	// Universe
	StockSymbols []string

	// Providers
	AlphaVantageAPIKey string
	FinnhubToken       string
	StreamURL          string

	// Publishing
	PublisherEndpoint string
	OracleDecimals    int

	// Storage
	HistoryDBPath string

	// Server
	Port     int
	LogLevel string
	DevMode  bool
}

const sourceWeightPrefix = "SOURCE_WEIGHT_"

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		FetchIntervalMillis: getEnvAsInt64("FETCH_INTERVAL_MILLIS", 60_000),
		IntervalExplicit:    os.Getenv("FETCH_INTERVAL_MILLIS") != "",
		CronExpression:      getEnv("CRON_EXPRESSION", ""),
		MinSources:          getEnvAsInt("MIN_SOURCES", 3),
		WindowMillis:        getEnvAsInt64("WINDOW_MILLIS", 30_000),
		DefaultMethod:       domain.Method(getEnv("DEFAULT_METHOD", string(domain.MethodWeightedMean))),
		TrimFraction:        getEnvAsFloat("TRIM_FRACTION", 0.20),
		SourceWeights:       loadSourceWeights(),
		StockSymbols:        ParseCSV(getEnv("STOCK_SYMBOLS", "")),
		AlphaVantageAPIKey:  getEnv("ALPHA_VANTAGE_API_KEY", ""),
		FinnhubToken:        getEnv("FINNHUB_TOKEN", ""),
		StreamURL:           getEnv("STREAM_URL", ""),
		PublisherEndpoint:   getEnv("PUBLISHER_ENDPOINT", ""),
		OracleDecimals:      getEnvAsInt("ORACLE_DECIMALS", 4),
		HistoryDBPath:       getEnv("HISTORY_DB_PATH", ""),
		Port:                getEnvAsInt("PORT", 8090),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DevMode:             getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration constraints
func (c *Config) Validate() error {
	if c.FetchIntervalMillis < 1000 {
		return fmt.Errorf("FETCH_INTERVAL_MILLIS must be at least 1000, got %d", c.FetchIntervalMillis)
	}
	if c.MinSources < 1 {
		return fmt.Errorf("MIN_SOURCES must be at least 1, got %d", c.MinSources)
	}
	if c.WindowMillis < 1000 {
		return fmt.Errorf("WINDOW_MILLIS must be at least 1000, got %d", c.WindowMillis)
	}
	if !domain.ValidMethod(c.DefaultMethod) {
		return fmt.Errorf("DEFAULT_METHOD must be one of weighted-mean, median, trimmed-mean; got %q", c.DefaultMethod)
	}
	if c.TrimFraction < 0 || c.TrimFraction >= 0.5 {
		return fmt.Errorf("TRIM_FRACTION must be in [0, 0.5), got %v", c.TrimFraction)
	}
	for source, w := range c.SourceWeights {
		if w < 0 {
			return fmt.Errorf("source weight for %s must be non-negative, got %v", source, w)
		}
	}
	return nil
}

// loadSourceWeights collects SOURCE_WEIGHT_<NAME> overrides. The name
// is lower-cased, so SOURCE_WEIGHT_FINNHUB=2.5 weights "finnhub".
func loadSourceWeights() map[string]float64 {
	weights := make(map[string]float64)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, sourceWeightPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, sourceWeightPrefix))
		if name == "" {
			continue
		}
		if w, err := strconv.ParseFloat(value, 64); err == nil {
			weights[name] = w
		}
	}
	return weights
}

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
