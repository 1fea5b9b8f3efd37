package domain

import (
	"math"
	"time"
)

// GrossExposureEpsilon is the tolerance allowed on the Σ|weight| ≤ 1 portfolio
// invariant, absorbing float rounding from proportional re-scaling.
const GrossExposureEpsilon = 1e-9

// Bar is a single daily OHLCV observation.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is an ordered daily OHLCV history for one instrument.
// Construct through NewPriceSeries so the dates-strictly-increasing and
// positive-close invariants are validated exactly once, at the data
// provider boundary. Internal components never re-validate shape.
type PriceSeries struct {
	Instrument string `json:"instrument"`
	Bars       []Bar  `json:"bars"`
}

// BenchmarkSeries has the same shape as PriceSeries, for a reference index.
type BenchmarkSeries = PriceSeries

// NewPriceSeries validates and constructs a PriceSeries.
func NewPriceSeries(instrument string, bars []Bar) (PriceSeries, error) {
	for i := range bars {
		if bars[i].Close <= 0 {
			return PriceSeries{}, DataProviderErrorf("%s: non-positive close %.4f at %s",
				instrument, bars[i].Close, bars[i].Date.Format("2006-01-02"))
		}
		if i > 0 && !bars[i].Date.After(bars[i-1].Date) {
			return PriceSeries{}, DataProviderErrorf("%s: dates not strictly increasing at %s",
				instrument, bars[i].Date.Format("2006-01-02"))
		}
	}
	return PriceSeries{Instrument: instrument, Bars: bars}, nil
}

// Len returns the number of observations.
func (s PriceSeries) Len() int { return len(s.Bars) }

// Closes returns the close prices in date order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i := range s.Bars {
		out[i] = s.Bars[i].Close
	}
	return out
}

// Volumes returns the volumes in date order.
func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i := range s.Bars {
		out[i] = s.Bars[i].Volume
	}
	return out
}

// Dates returns the observation dates in order.
func (s PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i := range s.Bars {
		out[i] = s.Bars[i].Date
	}
	return out
}

// Truncate returns the prefix of the series with dates strictly before cutoff.
// The underlying bars are shared, not copied; callers must treat series as
// read-only.
func (s PriceSeries) Truncate(cutoff time.Time) PriceSeries {
	n := len(s.Bars)
	for n > 0 && !s.Bars[n-1].Date.Before(cutoff) {
		n--
	}
	return PriceSeries{Instrument: s.Instrument, Bars: s.Bars[:n]}
}

// From returns the suffix of the series with dates on or after start.
// The underlying bars are shared, not copied.
func (s PriceSeries) From(start time.Time) PriceSeries {
	i := 0
	for i < len(s.Bars) && s.Bars[i].Date.Before(start) {
		i++
	}
	return PriceSeries{Instrument: s.Instrument, Bars: s.Bars[i:]}
}

// IndexOf returns the position of the bar dated on or after t, or -1 when
// every bar precedes t.
func (s PriceSeries) IndexOf(t time.Time) int {
	for i := range s.Bars {
		if !s.Bars[i].Date.Before(t) {
			return i
		}
	}
	return -1
}

// TrendRegime labels the benchmark trend axis of a market regime.
type TrendRegime string

const (
	TrendBull     TrendRegime = "BULL"
	TrendBear     TrendRegime = "BEAR"
	TrendSideways TrendRegime = "SIDEWAYS"
)

// VolatilityRegime labels the volatility axis of a market regime.
type VolatilityRegime string

const (
	VolatilityLow  VolatilityRegime = "LOW"
	VolatilityHigh VolatilityRegime = "HIGH"
)

// RegimeLabel is the market regime for one day, derived from a trailing
// benchmark window ending at Date.
type RegimeLabel struct {
	Date       time.Time        `json:"date"`
	Trend      TrendRegime      `json:"trend"`
	Volatility VolatilityRegime `json:"volatility"`
}

// Key returns the combined regime bucket identifier, e.g. "BULL/LOW".
func (r RegimeLabel) Key() string {
	return string(r.Trend) + "/" + string(r.Volatility)
}

// SignalScore is a causal composite predictive score for one instrument on
// one day. Score is on the 0-100 scale (50 = neutral) and depends only on
// data dated ≤ Date.
type SignalScore struct {
	Instrument string             `json:"instrument"`
	Date       time.Time          `json:"date"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components,omitempty"`
}

// RobustnessResult measures how consistently an instrument's
// score-to-forward-return relationship holds across market regimes.
type RobustnessResult struct {
	Instrument      string  `json:"instrument"`
	Robustness      float64 `json:"robustness"` // in [0,1]
	RegimesObserved int     `json:"regimes_observed"`
	SampleCount     int     `json:"sample_count"`
}

// EdgeEstimate summarizes the win-rate/payoff profile of an instrument's
// top-score dates, feeding the Kelly sizer.
type EdgeEstimate struct {
	Instrument  string  `json:"instrument"`
	WinRate     float64 `json:"win_rate"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"` // positive magnitude
	SampleCount int     `json:"sample_count"`
}

// Direction of a sized position. The pipeline is long/flat only.
type Direction string

const (
	DirectionLong Direction = "LONG"
	DirectionFlat Direction = "FLAT"
)

// PositionSize is a risk-scaled target allocation for one instrument.
type PositionSize struct {
	Instrument string    `json:"instrument"`
	Date       time.Time `json:"date"`
	Fraction   float64   `json:"fraction"`
	Direction  Direction `json:"direction"`
}

// PortfolioSnapshot is the target portfolio frozen at a rebalance date.
// Invariants: Σ|weight| ≤ 1+ε and count(weight≠0) ≤ max_positions.
type PortfolioSnapshot struct {
	Date    time.Time          `json:"date"`
	Weights map[string]float64 `json:"weights"`
}

// GrossExposure returns Σ|weight|.
func (p PortfolioSnapshot) GrossExposure() float64 {
	total := 0.0
	for _, w := range p.Weights {
		total += math.Abs(w)
	}
	return total
}

// PositionCount returns the number of nonzero weights.
func (p PortfolioSnapshot) PositionCount() int {
	n := 0
	for _, w := range p.Weights {
		if w != 0 {
			n++
		}
	}
	return n
}

// Turnover returns Σ|w_new − w_old| versus a prior snapshot. A nil prior
// weight map means the portfolio started from cash.
func (p PortfolioSnapshot) Turnover(prev PortfolioSnapshot) float64 {
	total := 0.0
	for instrument, w := range p.Weights {
		total += math.Abs(w - prev.Weights[instrument])
	}
	for instrument, w := range prev.Weights {
		if _, ok := p.Weights[instrument]; !ok {
			total += math.Abs(w)
		}
	}
	return total
}

// BacktestWindow is one train/test split of the run horizon. Consecutive
// windows tile the horizon: window i's TestStart equals window i-1's
// TestEnd, with no gap and no overlap.
type BacktestWindow struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"` // exclusive; equals TestStart
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"` // exclusive
}

// DailyReturn is one day of the stitched out-of-sample return series.
type DailyReturn struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}
