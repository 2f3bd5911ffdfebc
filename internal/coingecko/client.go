package coingecko

import (
	"context"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/gabmdln/stablecoin-pipeline/internal/connector"
)

// MarketChart is the CoinGecko market_chart response. Each series point is
// a [timestampMillis, value] pair; values can be null.
type MarketChart struct {
	MarketCaps   [][2]*float64 `json:"market_caps"`
	Prices       [][2]*float64 `json:"prices"`
	TotalVolumes [][2]*float64 `json:"total_volumes"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client fetches market data from the CoinGecko API.
type Client struct {
	rest *connector.REST

	// BaseURL is the API base, overridable in tests.
	BaseURL string
}

// NewClient creates a CoinGecko client on top of the given REST connection.
func NewClient(rest *connector.REST) *Client {
	return &Client{rest: rest, BaseURL: config.CoinGeckoBaseURL}
}

// FetchMarketChart fetches daily market cap, price and volume series for a
// coin over the last `days` days. The free tier serves at most 365 days;
// asking for more is an error rather than a silent truncation.
func (c *Client) FetchMarketChart(ctx context.Context, coinID string, days int) (*MarketChart, error) {
	if days < 1 {
		return nil, errors.Errorf("days must be positive, got %v", days)
	}
	if days > config.MaxLookbackDays {
		return nil, errors.Errorf("lookback of %v days exceeds the %v day free tier limit", days, config.MaxLookbackDays)
	}

	log.Info().Str("coin", coinID).Int("days", days).Msg("fetching daily market data")

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(days))
	q.Set("interval", "daily")

	body, err := c.rest.Get(ctx, c.BaseURL+"/coins/"+coinID+"/market_chart", q)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch market chart for %v", coinID)
	}

	var chart MarketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, errors.Wrapf(err, "decode market chart for %v", coinID)
	}
	if len(chart.MarketCaps) == 0 {
		return nil, errors.Errorf("no market data received for %v", coinID)
	}

	log.Info().Str("coin", coinID).Int("points", len(chart.MarketCaps)).Msg("fetched daily data points")
	return &chart, nil
}
