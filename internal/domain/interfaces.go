package domain

import "time"

// MarketDataProvider supplies price history for instruments and the
// benchmark index. Implementations are treated as pure functions of
// (identifier, date range): the pipeline neither caches nor schedules
// refreshes, and a failed fetch is a hard precondition failure for that
// instrument, never retried.
type MarketDataProvider interface {
	GetPriceHistory(instrument string, start, end time.Time) (PriceSeries, error)
	GetBenchmarkHistory(start, end time.Time) (BenchmarkSeries, error)
}

// VolatilityIndexProvider optionally supplies a volatility-index series
// (e.g. VIX-style). When available, the regime classifier uses it for the
// volatility axis instead of benchmark realized volatility.
type VolatilityIndexProvider interface {
	GetVolatilityIndex(start, end time.Time) (PriceSeries, error)
}
