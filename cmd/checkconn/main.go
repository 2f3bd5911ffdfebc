// Command checkconn verifies the pipeline's environment before a run:
// required environment variables, database connectivity and write
// permissions, and CoinGecko API access.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gabmdln/stablecoin-pipeline/internal/coingecko"
	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/gabmdln/stablecoin-pipeline/internal/connector"
	"github.com/gabmdln/stablecoin-pipeline/internal/storage"
)

func main() {
	// Only the per-check results matter here, keep the log stream quiet.
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	log.Logger = zerolog.New(os.Stderr)

	fmt.Println("stablecoin pipeline connection tests")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ok := true
	cfg := checkEnv(&ok)
	if cfg != nil {
		checkDatabase(ctx, cfg, &ok)
		checkAPI(ctx, cfg, &ok)
	}

	if !ok {
		fmt.Println("FAIL: fix the issues above before running the pipeline")
		os.Exit(1)
	}
	fmt.Println("OK: environment is ready to run the pipeline")
}

func checkEnv(ok *bool) *config.Config {
	fmt.Println("-> environment variables")
	cfg, err := config.Load()
	if err != nil {
		fail(ok, "environment: %v", err)
		return nil
	}
	fmt.Println("   pass: required variables are set")
	return cfg
}

func checkDatabase(ctx context.Context, cfg *config.Config, ok *bool) {
	fmt.Println("-> database connection")
	pg, err := storage.InitPostgres(ctx, cfg)
	if err != nil {
		fail(ok, "database connection: %v", err)
		return
	}
	defer pg.Close(ctx)

	var version string
	if err := pg.Conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		fail(ok, "database query: %v", err)
		return
	}
	if len(version) > 50 {
		version = version[:50] + "..."
	}
	fmt.Printf("   pass: connected (%s)\n", version)

	// Round-trip a throwaway table to prove write permissions.
	fmt.Println("-> table operations")
	var count int
	batch := []string{
		`CREATE TABLE IF NOT EXISTS test_stablecoin_connection (
			id SERIAL PRIMARY KEY,
			test_timestamp TIMESTAMPTZ DEFAULT NOW()
		)`,
		`INSERT INTO test_stablecoin_connection DEFAULT VALUES`,
	}
	for _, stmt := range batch {
		if _, err := pg.Conn.Exec(ctx, stmt); err != nil {
			fail(ok, "table operations: %v", err)
			return
		}
	}
	if err := pg.Conn.QueryRow(ctx, "SELECT COUNT(*) FROM test_stablecoin_connection").Scan(&count); err != nil {
		fail(ok, "table operations: %v", err)
		return
	}
	if _, err := pg.Conn.Exec(ctx, "DROP TABLE test_stablecoin_connection"); err != nil {
		fail(ok, "table operations: %v", err)
		return
	}
	fmt.Printf("   pass: create/insert/drop succeeded (%d test rows)\n", count)
}

func checkAPI(ctx context.Context, cfg *config.Config, ok *bool) {
	fmt.Println("-> CoinGecko API")
	rest := connector.NewREST(cfg)

	if _, err := rest.Get(ctx, config.CoinGeckoBaseURL+"/ping", url.Values{}); err != nil {
		fail(ok, "API ping: %v", err)
		return
	}
	fmt.Println("   pass: API is accessible")

	// A short sample fetch proves the market data endpoint end to end.
	chart, err := coingecko.NewClient(rest).FetchMarketChart(ctx, "bitcoin", 7)
	if err != nil {
		fail(ok, "market data endpoint: %v", err)
		return
	}
	fmt.Printf("   pass: market data endpoint working (%d data points)\n", len(chart.MarketCaps))
}

func fail(ok *bool, format string, args ...any) {
	*ok = false
	fmt.Printf("   FAIL: "+format+"\n", args...)
}
