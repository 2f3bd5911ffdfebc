package coingecko

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/gabmdln/stablecoin-pipeline/internal/storage"
)

const granularityDaily = "daily"

// Normalize flattens a market chart into persistable records for one asset.
//
// Records are keyed by the market cap series: price and volume are looked
// up at the exact same timestamp and left null when absent. Points with a
// negative market cap are dropped. Prices outside the asset's expected
// band are logged as anomalies but still emitted. A payload whose
// granularity is not daily is discarded whole, though the classifier only
// ever reports daily since that is the requested interval.
func Normalize(chart *MarketChart, asset config.Asset) []storage.Record {
	priceAt := seriesMap(chart.Prices)
	volumeAt := seriesMap(chart.TotalVolumes)

	granularity := classifyGranularity(chart.MarketCaps, asset.ID)
	if granularity != granularityDaily {
		log.Error().Str("coin", asset.ID).Str("granularity", granularity).Msg("expected daily data, skipping")
		return nil
	}

	log.Info().Str("coin", asset.ID).Int("points", len(chart.MarketCaps)).Msg("processing daily records")

	records := make([]storage.Record, 0, len(chart.MarketCaps))
	anomalies := 0

	for _, point := range chart.MarketCaps {
		if point[0] == nil {
			log.Warn().Str("coin", asset.ID).Msg("series point without timestamp, skipping")
			continue
		}
		ts := int64(*point[0])
		timestamp := time.UnixMilli(ts).UTC()
		marketCap := point[1]

		if marketCap != nil && *marketCap < 0 {
			log.Warn().Str("coin", asset.ID).Float64("market_cap", *marketCap).Msg("negative market cap detected, dropping point")
			continue
		}

		price := priceAt[ts]
		volume := volumeAt[ts]

		if price != nil && (*price < asset.MinPrice || *price > asset.MaxPrice) {
			anomalies++
			if anomalies <= 5 {
				log.Warn().Str("coin", asset.ID).Float64("price", *price).Time("timestamp", timestamp).Msg("price anomaly")
			}
		}

		records = append(records, storage.Record{
			CoinID:       asset.ID,
			CoinName:     asset.Name,
			CoinSymbol:   asset.Symbol,
			TimestampUTC: timestamp,
			MarketCapUSD: round(marketCap, 2),
			PriceUSD:     round(price, 6),
			Volume24hUSD: round(volume, 2),
			Granularity:  granularityDaily,
		})
	}

	if anomalies > 5 {
		log.Warn().Str("coin", asset.ID).Int("count", anomalies).Msg("total price anomalies")
	}

	log.Info().Str("coin", asset.ID).Int("records", len(records)).Msg("processed valid daily records")
	return records
}

// classifyGranularity samples up to the first 9 intervals of the market
// cap series and averages them in hours. Anything outside [20h, 30h) is
// logged as unexpected, but the result is forced to daily either way
// because daily is the only interval ever requested.
func classifyGranularity(marketCaps [][2]*float64, coinID string) string {
	var timestamps []int64
	for _, point := range marketCaps {
		if point[0] != nil {
			timestamps = append(timestamps, int64(*point[0]))
		}
		if len(timestamps) == 10 {
			break
		}
	}
	if len(timestamps) < 2 {
		return granularityDaily
	}

	var sum int64
	for i := 1; i < len(timestamps); i++ {
		sum += timestamps[i] - timestamps[i-1]
	}
	avgHours := float64(sum) / float64(len(timestamps)-1) / float64(time.Hour.Milliseconds())

	if avgHours < 20 || avgHours >= 30 {
		log.Warn().Str("coin", coinID).Float64("avg_interval_hours", avgHours).Msg("unexpected data interval, expected daily")
	}
	return granularityDaily
}

// seriesMap keys a series by timestamp for exact-match lookups. Values
// stay as pointers so a null upstream value becomes a null field.
func seriesMap(series [][2]*float64) map[int64]*float64 {
	m := make(map[int64]*float64, len(series))
	for _, point := range series {
		if point[0] == nil {
			continue
		}
		m[int64(*point[0])] = point[1]
	}
	return m
}

// round converts a raw value to an exact decimal rounded half-up. The
// float is first materialized through its shortest decimal representation
// so rounding is not subject to binary float artifacts.
func round(v *float64, places int32) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v).Round(places)
	return &d
}
