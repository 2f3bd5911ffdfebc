package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/gabmdln/stablecoin-pipeline/internal/coingecko"
	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/gabmdln/stablecoin-pipeline/internal/connector"
	"github.com/gabmdln/stablecoin-pipeline/internal/pipeline"
	"github.com/gabmdln/stablecoin-pipeline/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := storage.InitPostgres(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to database")
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}

	client := coingecko.NewClient(connector.NewREST(cfg))
	summary := pipeline.New(client, pg, cfg).Run(ctx)

	// Close on a fresh context so an interrupt mid-run still releases the
	// connection after any in-flight transaction has rolled back.
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pg.Close(closeCtx)
	cancel()

	if ctx.Err() != nil {
		fmt.Println("pipeline interrupted by user")
		return
	}

	fmt.Printf("pipeline completed: %d succeeded, %d failed, %d records stored\n",
		len(summary.Succeeded), len(summary.Failed), summary.TotalRecords)
}

func setupLogger(level string) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	switch level {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}
