package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gabmdln/stablecoin-pipeline/internal/config"
)

// upsertPageSize is how many rows go into one batch round trip. Pages are
// only a throughput measure, the whole upsert stays in one transaction.
const upsertPageSize = 1000

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stablecoin_market_caps (
		id BIGSERIAL PRIMARY KEY,
		coin_id VARCHAR(50) NOT NULL,
		coin_name VARCHAR(100) NOT NULL,
		coin_symbol VARCHAR(10) NOT NULL,
		timestamp_utc TIMESTAMPTZ NOT NULL,
		market_cap_usd NUMERIC(20,2),
		price_usd NUMERIC(12,6),
		volume_24h_usd NUMERIC(20,2),
		data_granularity VARCHAR(20) DEFAULT 'daily',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW(),

		CONSTRAINT unique_coin_timestamp UNIQUE(coin_id, timestamp_utc)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coin_timestamp
	ON stablecoin_market_caps (coin_id, timestamp_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_timestamp
	ON stablecoin_market_caps (timestamp_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_coin_id
	ON stablecoin_market_caps (coin_id)`,
}

const upsertSQL = `INSERT INTO stablecoin_market_caps (
	coin_id, coin_name, coin_symbol, timestamp_utc,
	market_cap_usd, price_usd, volume_24h_usd, data_granularity
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (coin_id, timestamp_utc)
DO UPDATE SET
	coin_name = EXCLUDED.coin_name,
	coin_symbol = EXCLUDED.coin_symbol,
	market_cap_usd = EXCLUDED.market_cap_usd,
	price_usd = EXCLUDED.price_usd,
	volume_24h_usd = EXCLUDED.volume_24h_usd,
	data_granularity = EXCLUDED.data_granularity,
	updated_at = NOW()`

const statsSQL = `SELECT
	coin_id,
	COUNT(*) AS record_count,
	MIN(timestamp_utc) AS earliest_date,
	MAX(timestamp_utc) AS latest_date
FROM stablecoin_market_caps
GROUP BY coin_id
ORDER BY coin_id`

// Postgres is for connecting and upserting data to postgres. One
// connection, manual transaction boundaries.
type Postgres struct {
	Conn *pgx.Conn
}

// InitPostgres opens and verifies a postgres connection with configured
// values.
func InitPostgres(ctx context.Context, cfg *config.Config) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "postgres connection")
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, errors.Wrap(err, "postgres ping")
	}
	log.Info().Msg("connected to postgres database")
	return &Postgres{Conn: conn}, nil
}

// Close releases the database connection.
func (p *Postgres) Close(ctx context.Context) {
	if p.Conn != nil {
		_ = p.Conn.Close(ctx)
	}
}

// EnsureSchema creates the market caps table and its indexes if absent.
// Safe to call on every run.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	tx, err := p.Conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin schema transaction")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "create table")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit schema transaction")
	}
	log.Info().Msg("database table and indexes created/verified")
	return nil
}

// UpsertRecords writes records in one transaction, inserting new
// (coin_id, timestamp_utc) rows and overwriting existing ones. An empty
// record list is a no-op.
func (p *Postgres) UpsertRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		log.Warn().Msg("no records to upsert")
		return nil
	}

	tx, err := p.Conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin upsert transaction")
	}
	defer tx.Rollback(ctx)

	for _, page := range splitPages(records) {
		batch := &pgx.Batch{}
		for _, rec := range page {
			batch.Queue(upsertSQL,
				rec.CoinID, rec.CoinName, rec.CoinSymbol, rec.TimestampUTC,
				numeric(rec.MarketCapUSD), numeric(rec.PriceUSD), numeric(rec.Volume24hUSD), rec.Granularity)
		}
		if err := p.sendPage(ctx, tx, batch); err != nil {
			return errors.Wrap(err, "upsert records")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit upsert transaction")
	}
	log.Info().Int("records", len(records)).Msg("upserted records")
	return nil
}

func (p *Postgres) sendPage(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// Stats aggregates stored row counts and date ranges per coin. Read-only.
func (p *Postgres) Stats(ctx context.Context) ([]CoinStats, error) {
	rows, err := p.Conn.Query(ctx, statsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query stats")
	}
	defer rows.Close()

	var stats []CoinStats
	for rows.Next() {
		var s CoinStats
		if err := rows.Scan(&s.CoinID, &s.Records, &s.Earliest, &s.Latest); err != nil {
			return nil, errors.Wrap(err, "scan stats")
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read stats")
	}
	return stats, nil
}

// splitPages cuts records into pages of at most upsertPageSize rows.
func splitPages(records []Record) [][]Record {
	var pages [][]Record
	for start := 0; start < len(records); start += upsertPageSize {
		end := start + upsertPageSize
		if end > len(records) {
			end = len(records)
		}
		pages = append(pages, records[start:end])
	}
	return pages
}

// numeric passes a decimal to postgres by its exact text form, keeping
// NULL for absent values.
func numeric(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
