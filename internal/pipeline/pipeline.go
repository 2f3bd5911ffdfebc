package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gabmdln/stablecoin-pipeline/internal/coingecko"
	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/gabmdln/stablecoin-pipeline/internal/storage"
)

// Fetcher provides raw market chart payloads per coin.
type Fetcher interface {
	FetchMarketChart(ctx context.Context, coinID string, days int) (*coingecko.MarketChart, error)
}

// Store persists normalized records and reports stored aggregates.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertRecords(ctx context.Context, records []storage.Record) error
	Stats(ctx context.Context) ([]storage.CoinStats, error)
}

// RunSummary is the outcome of one pipeline run: which coins made it all
// the way to storage, which did not, and the stored aggregates read back
// after the run.
type RunSummary struct {
	Succeeded    []string
	Failed       []string
	Stats        []storage.CoinStats
	TotalRecords int64
}

// Pipeline drives fetch, normalize and persist for every tracked asset,
// strictly one asset at a time.
type Pipeline struct {
	fetcher      Fetcher
	store        Store
	assets       []config.Asset
	lookbackDays int
}

// New creates a pipeline over the fixed asset set.
func New(fetcher Fetcher, store Store, cfg *config.Config) *Pipeline {
	return &Pipeline{
		fetcher:      fetcher,
		store:        store,
		assets:       config.Assets(),
		lookbackDays: cfg.LookbackDays,
	}
}

// Run executes the pipeline for all assets and returns the summary. A
// failure at any stage fails that asset only; the run always completes
// and reports unless the context is canceled.
func (p *Pipeline) Run(ctx context.Context) RunSummary {
	log.Info().Int("days", p.lookbackDays).Msg("starting stablecoin data pipeline")

	var summary RunSummary

	if err := p.store.EnsureSchema(ctx); err != nil {
		logErrStack(err)
		for _, asset := range p.assets {
			summary.Failed = append(summary.Failed, asset.ID)
		}
		return summary
	}

	for _, asset := range p.assets {
		if ctx.Err() != nil {
			log.Warn().Str("coin", asset.ID).Msg("run canceled, remaining assets skipped")
			summary.Failed = append(summary.Failed, asset.ID)
			continue
		}

		log.Info().Str("coin", asset.ID).Msg("processing daily data")

		if err := p.processAsset(ctx, asset); err != nil {
			if !errors.Is(err, ctx.Err()) {
				logErrStack(err)
			}
			log.Error().Str("coin", asset.ID).Msg("failed to process coin")
			summary.Failed = append(summary.Failed, asset.ID)
			continue
		}

		summary.Succeeded = append(summary.Succeeded, asset.ID)
		log.Info().Str("coin", asset.ID).Msg("completed daily data processing")
	}

	p.report(ctx, &summary)
	return summary
}

func (p *Pipeline) processAsset(ctx context.Context, asset config.Asset) error {
	chart, err := p.fetcher.FetchMarketChart(ctx, asset.ID, p.lookbackDays)
	if err != nil {
		return err
	}

	records := coingecko.Normalize(chart, asset)
	if len(records) == 0 {
		return errors.Errorf("no valid records after normalization for %v", asset.ID)
	}

	return p.store.UpsertRecords(ctx, records)
}

// report reads aggregates back from storage and logs the human-readable
// run summary. A stats failure is logged but does not fail the run.
func (p *Pipeline) report(ctx context.Context, summary *RunSummary) {
	log.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("failed", len(summary.Failed)).
		Msg("pipeline summary")
	if len(summary.Succeeded) > 0 {
		log.Info().Strs("coins", summary.Succeeded).Msg("successfully processed")
	}
	if len(summary.Failed) > 0 {
		log.Warn().Strs("coins", summary.Failed).Msg("failed to process")
	}

	stats, err := p.store.Stats(ctx)
	if err != nil {
		logErrStack(errors.Wrap(err, "data statistics"))
		return
	}
	summary.Stats = stats
	for _, s := range stats {
		summary.TotalRecords += s.Records
		log.Info().
			Str("coin", s.CoinID).
			Int64("records", s.Records).
			Str("earliest", s.Earliest.Format("2006-01-02")).
			Str("latest", s.Latest.Format("2006-01-02")).
			Msg("stored daily records")
	}
	log.Info().Int64("total_records", summary.TotalRecords).Msg("total daily records in database")
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
