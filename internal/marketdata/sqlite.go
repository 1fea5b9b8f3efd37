package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/aristath/walkforward/internal/domain"
)

// BenchmarkID is the instrument identifier under which the benchmark series
// is stored.
const BenchmarkID = "_BENCHMARK"

// VolatilityIndexID is the instrument identifier under which an optional
// volatility-index series is stored.
const VolatilityIndexID = "_VOLINDEX"

const schema = `
CREATE TABLE IF NOT EXISTS daily_prices (
	instrument TEXT NOT NULL,
	date       INTEGER NOT NULL,
	open       REAL NOT NULL DEFAULT 0,
	high       REAL NOT NULL DEFAULT 0,
	low        REAL NOT NULL DEFAULT 0,
	close      REAL NOT NULL,
	volume     REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (instrument, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(instrument, date);
`

// SQLiteProvider reads price histories from a local SQLite database. It
// implements domain.MarketDataProvider. Dates are stored as Unix timestamps
// at UTC midnight.
type SQLiteProvider struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteProvider opens the database at path and ensures the schema
// exists.
func NewSQLiteProvider(path string, log zerolog.Logger) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize price schema: %w", err)
	}
	return &SQLiteProvider{
		db:  db,
		log: log.With().Str("component", "price_db").Logger(),
	}, nil
}

// Close releases the underlying connection.
func (p *SQLiteProvider) Close() error { return p.db.Close() }

// GetPriceHistory fetches the instrument's bars within [start, end).
func (p *SQLiteProvider) GetPriceHistory(instrument string, start, end time.Time) (domain.PriceSeries, error) {
	return p.query(instrument, start, end)
}

// GetBenchmarkHistory fetches the benchmark's bars within [start, end).
func (p *SQLiteProvider) GetBenchmarkHistory(start, end time.Time) (domain.BenchmarkSeries, error) {
	return p.query(BenchmarkID, start, end)
}

// GetVolatilityIndex fetches the volatility index bars within [start, end).
// It fails like any missing series when none is stored; callers treat the
// index as optional.
func (p *SQLiteProvider) GetVolatilityIndex(start, end time.Time) (domain.PriceSeries, error) {
	return p.query(VolatilityIndexID, start, end)
}

func (p *SQLiteProvider) query(instrument string, start, end time.Time) (domain.PriceSeries, error) {
	rows, err := p.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE instrument = ? AND date >= ? AND date < ?
		ORDER BY date ASC
	`, instrument, start.Unix(), end.Unix())
	if err != nil {
		return domain.PriceSeries{}, domain.DataProviderErrorf("query %s: %v", instrument, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var bar domain.Bar
		var dateUnix int64
		if err := rows.Scan(&dateUnix, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return domain.PriceSeries{}, domain.DataProviderErrorf("scan %s: %v", instrument, err)
		}
		bar.Date = time.Unix(dateUnix, 0).UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return domain.PriceSeries{}, domain.DataProviderErrorf("iterate %s: %v", instrument, err)
	}
	if len(bars) == 0 {
		return domain.PriceSeries{}, domain.DataProviderErrorf("no prices for %s in range", instrument)
	}

	return domain.NewPriceSeries(instrument, bars)
}

// SaveSeries upserts a full series, replacing any overlapping rows. Used by
// ingestion tooling and tests.
func (p *SQLiteProvider) SaveSeries(series domain.PriceSeries) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices (instrument, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range series.Bars {
		if _, err := stmt.Exec(series.Instrument, bar.Date.Unix(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("failed to insert %s @ %s: %w",
				series.Instrument, bar.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices: %w", err)
	}

	p.log.Debug().
		Str("instrument", series.Instrument).
		Int("bars", series.Len()).
		Msg("Saved price series")
	return nil
}

// Instruments lists every stored instrument identifier except the reserved
// benchmark and volatility-index series.
func (p *SQLiteProvider) Instruments() ([]string, error) {
	rows, err := p.db.Query(`
		SELECT DISTINCT instrument FROM daily_prices
		WHERE instrument NOT IN (?, ?)
		ORDER BY instrument ASC
	`, BenchmarkID, VolatilityIndexID)
	if err != nil {
		return nil, domain.DataProviderErrorf("list instruments: %v", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var instrument string
		if err := rows.Scan(&instrument); err != nil {
			return nil, domain.DataProviderErrorf("scan instrument: %v", err)
		}
		out = append(out, instrument)
	}
	return out, rows.Err()
}
