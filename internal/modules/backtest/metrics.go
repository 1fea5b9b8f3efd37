package backtest

import (
	"math"

	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/pkg/formulas"
)

const tradingDaysPerYear = 252

// stitchReturns concatenates the per-window test-period returns into the
// single continuous out-of-sample series. Windows tile the horizon, so plain
// concatenation in window order preserves date order.
func stitchReturns(windows []WindowResult) []domain.DailyReturn {
	var out []domain.DailyReturn
	for _, w := range windows {
		out = append(out, w.DailyReturns...)
	}
	return out
}

// summarize computes the headline statistics of the stitched series against
// the benchmark's returns over the same dates.
func summarize(stitched []domain.DailyReturn, benchmark map[int64]float64, windows []WindowResult) PerformanceSummary {
	returns := make([]float64, len(stitched))
	active := make([]float64, 0, len(stitched))
	benchReturns := make([]float64, 0, len(stitched))
	for i, r := range stitched {
		returns[i] = r.Return
		if b, ok := benchmark[r.Date.Unix()]; ok {
			active = append(active, r.Return-b)
			benchReturns = append(benchReturns, b)
		}
	}

	summary := PerformanceSummary{
		TotalReturn:          compound(returns),
		BenchmarkTotalReturn: compound(benchReturns),
		SharpeRatio:          formulas.CalculateSharpeRatio(returns, 0, tradingDaysPerYear),
		MaxDrawdown:          formulas.CalculateMaxDrawdown(formulas.EquityCurve(returns)),
	}
	summary.AnnualizedReturn = formulas.AnnualizedReturn(summary.TotalReturn, len(returns), tradingDaysPerYear)

	if len(benchReturns) > 0 {
		annualizedBench := formulas.AnnualizedReturn(summary.BenchmarkTotalReturn, len(benchReturns), tradingDaysPerYear)
		summary.Alpha = summary.AnnualizedReturn - annualizedBench
	}
	if sd := formulas.StdDev(active); sd > 0 {
		ir := formulas.Mean(active) / sd * math.Sqrt(tradingDaysPerYear)
		summary.InformationRatio = &ir
	}
	if summary.MaxDrawdown != nil && *summary.MaxDrawdown > 0 {
		calmar := summary.AnnualizedReturn / *summary.MaxDrawdown
		summary.CalmarRatio = &calmar
	}

	for _, w := range windows {
		summary.TotalCosts += w.TransactionCost
		summary.TotalTurnover += w.Turnover
	}
	return summary
}

// compound folds periodic returns into a total return.
func compound(returns []float64) float64 {
	equity := 1.0
	for _, r := range returns {
		equity *= 1 + r
	}
	return equity - 1
}

// cohortStats splits the pooled robustness pairs at the configured cutoff and
// summarizes each cohort's realized returns. The comparison validates the
// gate independently: a working filter shows the high cohort outperforming.
func cohortStats(pairs []RobustnessPair, split float64) (high, low CohortStats) {
	high = CohortStats{Name: "high_robustness"}
	low = CohortStats{Name: "low_robustness"}

	var highReturns, lowReturns []float64
	for _, p := range pairs {
		if p.Robustness >= split {
			highReturns = append(highReturns, p.ForwardReturn)
		} else {
			lowReturns = append(lowReturns, p.ForwardReturn)
		}
	}

	fill := func(stats *CohortStats, returns []float64) {
		stats.SampleCount = len(returns)
		if len(returns) == 0 {
			return
		}
		wins := 0
		for _, r := range returns {
			if r > 0 {
				wins++
			}
		}
		stats.MeanReturn = formulas.Mean(returns)
		stats.HitRate = float64(wins) / float64(len(returns))
	}
	fill(&high, highReturns)
	fill(&low, lowReturns)
	return high, low
}
