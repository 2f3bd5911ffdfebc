package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record represents the final form of one day of market data for one coin,
// ready to store. A nil money field persists as SQL NULL.
type Record struct {
	CoinID       string
	CoinName     string
	CoinSymbol   string
	TimestampUTC time.Time
	MarketCapUSD *decimal.Decimal
	PriceUSD     *decimal.Decimal
	Volume24hUSD *decimal.Decimal
	Granularity  string
}

// CoinStats is the stored row count and date range for one coin.
type CoinStats struct {
	CoinID   string
	Records  int64
	Earliest time.Time
	Latest   time.Time
}
