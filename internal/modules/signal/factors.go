// Package signal implements the causal composite scoring engine. A score at
// date D is computed from bars dated ≤ D only.
package signal

import (
	"math"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/pkg/formulas"
)

// FactorKind identifies one of the closed set of signal sub-factors.
// Factors are registered at startup via NewFactorSet; there is no dynamic
// dispatch by name.
type FactorKind string

const (
	FactorMomentum  FactorKind = "momentum"
	FactorTrend     FactorKind = "trend"
	FactorLiquidity FactorKind = "liquidity"
)

// Factor is one sub-score of the composite signal. Compute returns the raw
// factor value for the final bar of the supplied history, or false when the
// history is too short. Raw values are normalized by the engine against the
// factor's own trailing distribution.
type Factor struct {
	Kind     FactorKind
	Lookback int
	Weight   float64
	Compute  func(bars []domain.Bar, lookback int) (float64, bool)
}

// NewFactorSet builds the enumerable factor set from configuration. Weights
// are renormalized to sum to 1.
func NewFactorSet(cfg config.Config) []Factor {
	factors := []Factor{
		{Kind: FactorMomentum, Lookback: cfg.MomentumLookback, Weight: cfg.MomentumWeight, Compute: momentumValue},
		{Kind: FactorTrend, Lookback: cfg.TrendLookback, Weight: cfg.TrendWeight, Compute: trendValue},
		{Kind: FactorLiquidity, Lookback: cfg.LiquidityLookback, Weight: cfg.LiquidityWeight, Compute: liquidityValue},
	}

	total := 0.0
	for i := range factors {
		total += factors[i].Weight
	}
	if total > 0 {
		for i := range factors {
			factors[i].Weight /= total
		}
	}
	return factors
}

// momentumValue is risk-adjusted momentum: total return over the lookback
// divided by the volatility accumulated over the same period. Consistent
// climbers score above volatile gappers with the same total return.
func momentumValue(bars []domain.Bar, lookback int) (float64, bool) {
	if len(bars) < lookback+1 {
		return 0, false
	}

	closes := closesOf(bars)
	momentum := formulas.CalculateMomentum(closes, lookback)
	if momentum == nil {
		return 0, false
	}

	window := closes[len(closes)-lookback-1:]
	periodVol := formulas.StdDev(formulas.CalculateReturns(window)) * math.Sqrt(float64(lookback))
	return *momentum / (periodVol + 1e-12), true
}

// trendValue is the close's fractional distance above its long moving
// average, scaled down by annualized realized volatility so that stretched
// prices in calm markets rank above the same stretch in turbulent ones.
func trendValue(bars []domain.Bar, lookback int) (float64, bool) {
	if len(bars) < lookback+1 {
		return 0, false
	}

	closes := closesOf(bars)
	ma := formulas.LastSMA(closes, lookback)
	if ma == nil || *ma == 0 {
		return 0, false
	}

	distance := closes[len(closes)-1]/(*ma) - 1

	volWindow := lookback
	if volWindow > 60 {
		volWindow = 60
	}
	vol := formulas.RealizedVolatility(closes, volWindow)
	if vol == nil {
		return 0, false
	}
	return distance / (*vol + 1e-12), true
}

// liquidityValue is the log ratio of recent volume to its trailing average,
// a volume-breakout measure of participation.
func liquidityValue(bars []domain.Bar, lookback int) (float64, bool) {
	if len(bars) < lookback+1 {
		return 0, false
	}

	volumes := make([]float64, len(bars))
	for i := range bars {
		volumes[i] = bars[i].Volume
	}

	recent := volumes[len(volumes)-1]
	trailing := formulas.Mean(volumes[len(volumes)-lookback-1 : len(volumes)-1])
	if trailing <= 0 || recent <= 0 {
		return 0, false
	}
	return math.Log(recent / trailing), true
}

func closesOf(bars []domain.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i := range bars {
		closes[i] = bars[i].Close
	}
	return closes
}
