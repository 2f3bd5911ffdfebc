package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	// CoinGeckoBaseURL is the CoinGecko REST API base url.
	CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

	// RateLimitDelay is the minimum spacing between outbound API calls.
	// Slightly over 2 seconds to stay under 30 calls per minute.
	RateLimitDelay = 2100 * time.Millisecond

	// MaxRetries is the number of attempts for a single API request.
	MaxRetries = 3

	// ReqTimeout is the timeout for a single API request.
	ReqTimeout = 30 * time.Second

	// MaxLookbackDays is the CoinGecko free tier historical data limit.
	MaxLookbackDays = 365
)

// Asset is a tracked stablecoin with its CoinGecko id and metadata.
// MinPrice and MaxPrice bound the expected price range and are used only
// for anomaly flagging, never for dropping records.
type Asset struct {
	ID       string
	Name     string
	Symbol   string
	MinPrice float64
	MaxPrice float64
}

// Assets returns the fixed set of tracked stablecoins in processing order.
func Assets() []Asset {
	return []Asset{
		{ID: "tether", Name: "Tether", Symbol: "USDT", MinPrice: 0.90, MaxPrice: 1.10},
		{ID: "usd-coin", Name: "USD Coin", Symbol: "USDC", MinPrice: 0.90, MaxPrice: 1.10},
		{ID: "dai", Name: "Dai", Symbol: "DAI", MinPrice: 0.90, MaxPrice: 1.10},
		{ID: "binance-usd", Name: "Binance USD", Symbol: "BUSD", MinPrice: 0.90, MaxPrice: 1.10},
		{ID: "frax", Name: "Frax", Symbol: "FRAX", MinPrice: 0.90, MaxPrice: 1.10},
		{ID: "true-usd", Name: "TrueUSD", Symbol: "TUSD", MinPrice: 0.90, MaxPrice: 1.10},
	}
}

// Config contains config values for the app.
// Values are loaded from the process environment, optionally seeded
// from a .env file.
type Config struct {
	DBURL        string
	DBHost       string
	DBName       string
	DBUser       string
	DBPassword   string
	DBPort       string
	APIKey       string
	LookbackDays int
	LogLevel     string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present. Missing required database
// parameters fail the load before any network or database activity.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBURL:        os.Getenv("SUPABASE_DB_URL"),
		DBHost:       os.Getenv("SUPABASE_DB_HOST"),
		DBName:       os.Getenv("SUPABASE_DB_NAME"),
		DBUser:       os.Getenv("SUPABASE_DB_USER"),
		DBPassword:   os.Getenv("SUPABASE_DB_PASSWORD"),
		DBPort:       os.Getenv("SUPABASE_DB_PORT"),
		APIKey:       os.Getenv("COINGECKO_API_KEY"),
		LookbackDays: MaxLookbackDays,
		LogLevel:     os.Getenv("LOG_LEVEL"),
	}
	if cfg.DBPort == "" {
		cfg.DBPort = "5432"
	}

	// A single connection URL stands in for all discrete parameters.
	if cfg.DBURL == "" {
		var missing []string
		for _, v := range [][2]string{
			{"SUPABASE_DB_HOST", cfg.DBHost},
			{"SUPABASE_DB_NAME", cfg.DBName},
			{"SUPABASE_DB_USER", cfg.DBUser},
			{"SUPABASE_DB_PASSWORD", cfg.DBPassword},
		} {
			if v[1] == "" {
				missing = append(missing, v[0])
			}
		}
		if len(missing) > 0 {
			return nil, errors.Errorf("missing required environment variables: %v", strings.Join(missing, ", "))
		}
	}

	if days := os.Getenv("LOOKBACK_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, errors.Wrapf(err, "LOOKBACK_DAYS %q is not a number", days)
		}
		if n < 1 {
			return nil, errors.Errorf("LOOKBACK_DAYS must be positive, got %v", n)
		}
		if n > MaxLookbackDays {
			return nil, errors.Errorf("LOOKBACK_DAYS %v exceeds the %v day free tier limit", n, MaxLookbackDays)
		}
		cfg.LookbackDays = n
	}

	return cfg, nil
}

// DSN returns the Postgres connection string, preferring the single
// connection URL over discrete parameters.
func (c *Config) DSN() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName
}
