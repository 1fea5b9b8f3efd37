// Package portfolio turns sized candidates into a target portfolio, keeping
// concentration and cross-correlation within configured bounds.
package portfolio

import (
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/pkg/formulas"
)

// Matrix is a symmetric instrument-to-instrument correlation lookup built
// from trailing daily returns.
type Matrix struct {
	corr map[string]map[string]float64
}

// NewMatrix computes pairwise Pearson correlations over the trailing
// `lookback` daily returns of each pair's common dates. Pairs with fewer
// than two common returns correlate at 0.
func NewMatrix(series []domain.PriceSeries, lookback int) Matrix {
	returns := make(map[string]map[int64]float64, len(series))
	for _, s := range series {
		r := make(map[int64]float64, s.Len())
		for i := 1; i < s.Len(); i++ {
			r[s.Bars[i].Date.Unix()] = s.Bars[i].Close/s.Bars[i-1].Close - 1
		}
		returns[s.Instrument] = r
	}

	m := Matrix{corr: make(map[string]map[string]float64, len(series))}
	for i := range series {
		for j := i + 1; j < len(series); j++ {
			a, b := series[i], series[j]
			x, y := alignedReturns(a, returns[a.Instrument], returns[b.Instrument], lookback)
			m.set(a.Instrument, b.Instrument, formulas.Correlation(x, y))
		}
	}
	return m
}

// alignedReturns walks a's bars in date order and collects the trailing
// common returns of both instruments.
func alignedReturns(a domain.PriceSeries, ra, rb map[int64]float64, lookback int) ([]float64, []float64) {
	var x, y []float64
	for _, bar := range a.Bars {
		key := bar.Date.Unix()
		va, ok := ra[key]
		if !ok {
			continue
		}
		vb, ok := rb[key]
		if !ok {
			continue
		}
		x = append(x, va)
		y = append(y, vb)
	}
	if len(x) > lookback {
		x = x[len(x)-lookback:]
		y = y[len(y)-lookback:]
	}
	return x, y
}

func (m Matrix) set(a, b string, value float64) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if m.corr[pair[0]] == nil {
			m.corr[pair[0]] = make(map[string]float64)
		}
		m.corr[pair[0]][pair[1]] = value
	}
}

// Between returns the correlation between two instruments: 1 for an
// instrument with itself, 0 for an unknown pair.
func (m Matrix) Between(a, b string) float64 {
	if a == b {
		return 1
	}
	return m.corr[a][b]
}
