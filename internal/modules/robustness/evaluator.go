// Package robustness implements the statistical-validity gate of the
// pipeline: a signal predictive in only one market regime is untrustworthy
// and must not reach the portfolio.
package robustness

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/pkg/formulas"
)

// row is one aligned (score, forward return, regime) observation.
type row struct {
	date    time.Time
	score   float64
	forward float64
	regime  string
}

// Evaluator certifies whether an instrument's score-to-forward-return
// relationship holds across distinct market regimes. Evaluate is a pure
// function of its inputs.
type Evaluator struct {
	minCommonDates int
	minUsableRows  int
	minRegimes     int
	lookback       int
	forwardDays    int
	log            zerolog.Logger
}

// NewEvaluator creates a robustness evaluator from configuration.
func NewEvaluator(cfg config.Config, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		minCommonDates: cfg.MinCommonDates,
		minUsableRows:  cfg.MinUsableRows,
		minRegimes:     cfg.MinDistinctRegimes,
		lookback:       cfg.RobustnessLookback,
		forwardDays:    cfg.ForwardReturnDays,
		log:            log.With().Str("component", "robustness_evaluator").Logger(),
	}
}

// ForwardReturns computes the N-day-ahead percentage return per date. The
// final N dates of the series have no forward return and are absent from the
// result.
func ForwardReturns(prices domain.PriceSeries, days int) map[int64]float64 {
	out := make(map[int64]float64)
	for i := 0; i+days < prices.Len(); i++ {
		out[prices.Bars[i].Date.Unix()] = prices.Bars[i+days].Close/prices.Bars[i].Close - 1
	}
	return out
}

// Evaluate runs the full gate for one instrument:
//
//  1. Align scores with defined forward returns on common dates.
//  2. Restrict to the most recent lookback observations.
//  3. Drop dates lacking a regime label.
//  4. Require the minimum usable rows and distinct regimes.
//  5. Measure the per-regime score/forward-return rank correlation.
//  6. Combine the positive strengths, penalized by cross-regime dispersion
//     and the smallest regime sample.
//
// A gate failure returns ErrInsufficientData; the instrument is excluded,
// never given a default robustness.
func (e *Evaluator) Evaluate(
	scores []domain.SignalScore,
	prices domain.PriceSeries,
	labels map[int64]domain.RegimeLabel,
) (domain.RobustnessResult, domain.EdgeEstimate, error) {
	forwards := ForwardReturns(prices, e.forwardDays)

	common := make([]row, 0, len(scores))
	for _, s := range scores {
		fwd, ok := forwards[s.Date.Unix()]
		if !ok {
			continue
		}
		common = append(common, row{date: s.Date, score: s.Score, forward: fwd})
	}
	if len(common) < e.minCommonDates {
		return domain.RobustnessResult{}, domain.EdgeEstimate{},
			domain.InsufficientDataf("%s: %d common dates, %d required",
				prices.Instrument, len(common), e.minCommonDates)
	}

	if len(common) > e.lookback {
		common = common[len(common)-e.lookback:]
	}

	usable := common[:0:0]
	for _, r := range common {
		label, ok := labels[r.date.Unix()]
		if !ok {
			continue
		}
		r.regime = label.Key()
		usable = append(usable, r)
	}
	if len(usable) < e.minUsableRows {
		return domain.RobustnessResult{}, domain.EdgeEstimate{},
			domain.InsufficientDataf("%s: %d usable rows, %d required",
				prices.Instrument, len(usable), e.minUsableRows)
	}

	buckets := make(map[string][]row)
	for _, r := range usable {
		buckets[r.regime] = append(buckets[r.regime], r)
	}
	if len(buckets) < e.minRegimes {
		return domain.RobustnessResult{}, domain.EdgeEstimate{},
			domain.InsufficientDataf("%s: %d distinct regimes, %d required",
				prices.Instrument, len(buckets), e.minRegimes)
	}

	robustness := combine(buckets, e.minUsableRows)

	result := domain.RobustnessResult{
		Instrument:      prices.Instrument,
		Robustness:      robustness,
		RegimesObserved: len(buckets),
		SampleCount:     len(usable),
	}

	e.log.Debug().
		Str("instrument", prices.Instrument).
		Float64("robustness", robustness).
		Int("regimes", len(buckets)).
		Int("rows", len(usable)).
		Msg("Evaluated regime robustness")

	return result, edgeEstimate(prices.Instrument, usable), nil
}

// combine folds the per-regime relationship strengths into a single [0,1]
// value: a sample-weighted mean of the positive rank correlations, shrunk by
// the dispersion of strengths across regimes and by the smallest regime
// sample relative to the minimum row requirement.
func combine(buckets map[string][]row, minRows int) float64 {
	// Regimes in sorted order keep the float accumulation identical run to
	// run.
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	strengths := make([]float64, 0, len(buckets))
	weights := make([]float64, 0, len(buckets))
	smallest := math.MaxInt

	for _, k := range keys {
		rows := buckets[k]
		scores := make([]float64, len(rows))
		forwards := make([]float64, len(rows))
		for i, r := range rows {
			scores[i] = r.score
			forwards[i] = r.forward
		}

		rho := formulas.SpearmanRankCorrelation(scores, forwards)
		if math.IsNaN(rho) {
			rho = 0
		}
		strengths = append(strengths, math.Max(0, rho))
		weights = append(weights, float64(len(rows)))
		if len(rows) < smallest {
			smallest = len(rows)
		}
	}

	totalWeight := 0.0
	weightedMean := 0.0
	for i := range strengths {
		weightedMean += weights[i] * strengths[i]
		totalWeight += weights[i]
	}
	weightedMean /= totalWeight

	dispersion := formulas.StdDev(strengths)
	confidence := math.Min(1, float64(smallest)/float64(minRows))

	return clamp01(weightedMean * (1 - dispersion) * confidence)
}

// edgeEstimate summarizes the win-rate/payoff profile of the top-score
// tercile of the usable rows, the score range the sizer will actually act on.
func edgeEstimate(instrument string, usable []row) domain.EdgeEstimate {
	sorted := make([]row, len(usable))
	copy(sorted, usable)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].score != sorted[b].score {
			return sorted[a].score > sorted[b].score
		}
		return sorted[a].date.Before(sorted[b].date)
	})

	n := len(sorted) / 3
	if n < 1 {
		n = 1
	}
	top := sorted[:n]

	wins, losses := 0, 0
	winSum, lossSum := 0.0, 0.0
	for _, r := range top {
		if r.forward > 0 {
			wins++
			winSum += r.forward
		} else if r.forward < 0 {
			losses++
			lossSum += -r.forward
		}
	}

	est := domain.EdgeEstimate{
		Instrument:  instrument,
		SampleCount: len(top),
		WinRate:     float64(wins) / float64(len(top)),
	}
	if wins > 0 {
		est.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		est.AvgLoss = lossSum / float64(losses)
	}
	return est
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
