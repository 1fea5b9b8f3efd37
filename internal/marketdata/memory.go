// Package marketdata supplies price histories to the pipeline: a SQLite
// store for real runs and an in-memory provider for tests and embedding.
package marketdata

import (
	"time"

	"github.com/aristath/walkforward/internal/domain"
)

// MemoryProvider serves pre-loaded series. It implements
// domain.MarketDataProvider and, when an index series is loaded,
// domain.VolatilityIndexProvider.
type MemoryProvider struct {
	benchmark domain.BenchmarkSeries
	volIndex  domain.PriceSeries
	prices    map[string]domain.PriceSeries
}

// NewMemoryProvider creates a provider over the given benchmark and
// instrument series.
func NewMemoryProvider(benchmark domain.BenchmarkSeries, series ...domain.PriceSeries) *MemoryProvider {
	prices := make(map[string]domain.PriceSeries, len(series))
	for _, s := range series {
		prices[s.Instrument] = s
	}
	return &MemoryProvider{benchmark: benchmark, prices: prices}
}

// WithVolatilityIndex loads an optional volatility-index series and returns
// the provider for chaining.
func (p *MemoryProvider) WithVolatilityIndex(s domain.PriceSeries) *MemoryProvider {
	p.volIndex = s
	return p
}

// GetVolatilityIndex returns the volatility index bars within [start, end).
func (p *MemoryProvider) GetVolatilityIndex(start, end time.Time) (domain.PriceSeries, error) {
	if p.volIndex.Len() == 0 {
		return domain.PriceSeries{}, domain.DataProviderErrorf("no volatility index loaded")
	}
	return clip(p.volIndex, start, end), nil
}

// GetPriceHistory returns the instrument's bars within [start, end).
func (p *MemoryProvider) GetPriceHistory(instrument string, start, end time.Time) (domain.PriceSeries, error) {
	s, ok := p.prices[instrument]
	if !ok {
		return domain.PriceSeries{}, domain.DataProviderErrorf("unknown instrument %q", instrument)
	}
	return clip(s, start, end), nil
}

// GetBenchmarkHistory returns the benchmark's bars within [start, end).
func (p *MemoryProvider) GetBenchmarkHistory(start, end time.Time) (domain.BenchmarkSeries, error) {
	if p.benchmark.Len() == 0 {
		return domain.BenchmarkSeries{}, domain.DataProviderErrorf("no benchmark loaded")
	}
	return clip(p.benchmark, start, end), nil
}

func clip(s domain.PriceSeries, start, end time.Time) domain.PriceSeries {
	lo := 0
	for lo < len(s.Bars) && s.Bars[lo].Date.Before(start) {
		lo++
	}
	hi := lo
	for hi < len(s.Bars) && s.Bars[hi].Date.Before(end) {
		hi++
	}
	return domain.PriceSeries{Instrument: s.Instrument, Bars: s.Bars[lo:hi]}
}
