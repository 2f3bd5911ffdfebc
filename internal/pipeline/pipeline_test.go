package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/gabmdln/stablecoin-pipeline/internal/coingecko"
	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/gabmdln/stablecoin-pipeline/internal/storage"
)

func fp(v float64) *float64 { return &v }

func chartWith(points int) *coingecko.MarketChart {
	day := int64(24 * time.Hour / time.Millisecond)
	base := int64(1700000000000)
	chart := &coingecko.MarketChart{}
	for i := int64(0); i < int64(points); i++ {
		ts := fp(float64(base + i*day))
		chart.MarketCaps = append(chart.MarketCaps, [2]*float64{ts, fp(1.0e9)})
		chart.Prices = append(chart.Prices, [2]*float64{ts, fp(1.0)})
		chart.TotalVolumes = append(chart.TotalVolumes, [2]*float64{ts, fp(5.0e7)})
	}
	return chart
}

type fakeFetcher struct {
	charts map[string]*coingecko.MarketChart
	errs   map[string]error
}

func (f *fakeFetcher) FetchMarketChart(ctx context.Context, coinID string, days int) (*coingecko.MarketChart, error) {
	if err := f.errs[coinID]; err != nil {
		return nil, err
	}
	if chart, ok := f.charts[coinID]; ok {
		return chart, nil
	}
	return chartWith(3), nil
}

type fakeStore struct {
	schemaErr  error
	upsertErrs map[string]error
	stats      []storage.CoinStats
	statsErr   error

	upserted map[string]int
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error { return s.schemaErr }

func (s *fakeStore) UpsertRecords(ctx context.Context, records []storage.Record) error {
	coin := records[0].CoinID
	if err := s.upsertErrs[coin]; err != nil {
		return err
	}
	if s.upserted == nil {
		s.upserted = map[string]int{}
	}
	s.upserted[coin] += len(records)
	return nil
}

func (s *fakeStore) Stats(ctx context.Context) ([]storage.CoinStats, error) {
	return s.stats, s.statsErr
}

func newTestPipeline(f Fetcher, s Store) *Pipeline {
	return New(f, s, &config.Config{LookbackDays: config.MaxLookbackDays})
}

func allAssetIDs() []string {
	var ids []string
	for _, a := range config.Assets() {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestRunAllSucceed(t *testing.T) {
	store := &fakeStore{}
	summary := newTestPipeline(&fakeFetcher{}, store).Run(context.Background())

	want := allAssetIDs()
	if len(summary.Succeeded) != len(want) {
		t.Fatalf("succeeded = %v, want %v", summary.Succeeded, want)
	}
	for i, id := range want {
		if summary.Succeeded[i] != id {
			t.Errorf("succeeded[%v] = %v, want %v (fixed order)", i, summary.Succeeded[i], id)
		}
	}
	if len(summary.Failed) != 0 {
		t.Errorf("failed = %v, want none", summary.Failed)
	}
	for _, id := range want {
		if store.upserted[id] != 3 {
			t.Errorf("upserted %v records for %v, want 3", store.upserted[id], id)
		}
	}
}

func TestRunFetchFailureIsolatedPerAsset(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"tether": errors.New("request to /market_chart failed after 3 attempts"),
	}}
	store := &fakeStore{}

	summary := newTestPipeline(fetcher, store).Run(context.Background())

	if len(summary.Failed) != 1 || summary.Failed[0] != "tether" {
		t.Fatalf("failed = %v, want [tether]", summary.Failed)
	}
	if len(summary.Succeeded) != 5 {
		t.Fatalf("succeeded = %v, want the other 5 assets", summary.Succeeded)
	}
	if _, ok := store.upserted["tether"]; ok {
		t.Error("nothing should be upserted for the failed asset")
	}
	if store.upserted["usd-coin"] != 3 {
		t.Error("assets after the failure should still be processed")
	}
}

func TestRunEmptyNormalizationFailsAsset(t *testing.T) {
	// Every point has a negative market cap, so normalization emits
	// nothing for dai.
	day := int64(24 * time.Hour / time.Millisecond)
	bad := &coingecko.MarketChart{}
	for i := int64(0); i < 3; i++ {
		bad.MarketCaps = append(bad.MarketCaps, [2]*float64{fp(float64(1700000000000 + i*day)), fp(-1)})
	}
	fetcher := &fakeFetcher{charts: map[string]*coingecko.MarketChart{"dai": bad}}
	store := &fakeStore{}

	summary := newTestPipeline(fetcher, store).Run(context.Background())

	if len(summary.Failed) != 1 || summary.Failed[0] != "dai" {
		t.Fatalf("failed = %v, want [dai]", summary.Failed)
	}
	if len(summary.Succeeded) != 5 {
		t.Errorf("succeeded = %v, want 5 assets", summary.Succeeded)
	}
}

func TestRunPersistFailureIsolatedPerAsset(t *testing.T) {
	store := &fakeStore{upsertErrs: map[string]error{
		"frax": errors.New("commit upsert transaction: connection lost"),
	}}

	summary := newTestPipeline(&fakeFetcher{}, store).Run(context.Background())

	if len(summary.Failed) != 1 || summary.Failed[0] != "frax" {
		t.Fatalf("failed = %v, want [frax]", summary.Failed)
	}
	if store.upserted["true-usd"] != 3 {
		t.Error("asset after the persistence failure should still be processed")
	}
}

func TestRunSchemaFailureFailsEverything(t *testing.T) {
	store := &fakeStore{schemaErr: errors.New("create table: permission denied")}

	summary := newTestPipeline(&fakeFetcher{}, store).Run(context.Background())

	if len(summary.Succeeded) != 0 {
		t.Errorf("succeeded = %v, want none", summary.Succeeded)
	}
	if len(summary.Failed) != len(allAssetIDs()) {
		t.Errorf("failed = %v, want all assets", summary.Failed)
	}
	if len(store.upserted) != 0 {
		t.Error("nothing should be upserted when the schema cannot be ensured")
	}
}

func TestRunReportsStats(t *testing.T) {
	store := &fakeStore{stats: []storage.CoinStats{
		{CoinID: "dai", Records: 365, Earliest: time.Now().AddDate(-1, 0, 0), Latest: time.Now()},
		{CoinID: "tether", Records: 200, Earliest: time.Now().AddDate(0, -6, 0), Latest: time.Now()},
	}}

	summary := newTestPipeline(&fakeFetcher{}, store).Run(context.Background())

	if len(summary.Stats) != 2 {
		t.Fatalf("stats = %v, want 2 entries", summary.Stats)
	}
	if summary.TotalRecords != 565 {
		t.Errorf("total records = %v, want 565", summary.TotalRecords)
	}
}

func TestRunStatsFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{statsErr: errors.New("read stats: connection lost")}

	summary := newTestPipeline(&fakeFetcher{}, store).Run(context.Background())

	if len(summary.Succeeded) != len(allAssetIDs()) {
		t.Errorf("succeeded = %v, want all assets despite stats failure", summary.Succeeded)
	}
	if summary.Stats != nil {
		t.Errorf("stats = %v, want none", summary.Stats)
	}
}

func TestRunCanceledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeStore{}
	summary := newTestPipeline(&fakeFetcher{}, store).Run(ctx)

	if len(summary.Succeeded) != 0 {
		t.Errorf("succeeded = %v, want none on canceled context", summary.Succeeded)
	}
	if len(summary.Failed) != len(allAssetIDs()) {
		t.Errorf("failed = %v, want all assets", summary.Failed)
	}
}
