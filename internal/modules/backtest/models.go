// Package backtest orchestrates the walk-forward validation run: window
// tiling, per-window training and testing, and the final stitched
// out-of-sample report.
package backtest

import (
	"time"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
)

// WindowState tracks a window's progress through the run.
type WindowState string

const (
	StateInitialized      WindowState = "INITIALIZED"
	StateTraining         WindowState = "TRAINING"
	StateTesting          WindowState = "TESTING"
	StateRebalanceApplied WindowState = "REBALANCE_APPLIED"
	StateComplete         WindowState = "COMPLETE"
)

// Exclusion records why one instrument was dropped for one window. Exclusions
// never abort the window.
type Exclusion struct {
	WindowIndex int    `json:"window_index"`
	Instrument  string `json:"instrument"`
	Reason      string `json:"reason"`
}

// RobustnessPair is one (certified robustness, realized out-of-sample return)
// observation, pooled across windows for independent validation of the gate.
type RobustnessPair struct {
	Instrument    string    `json:"instrument"`
	Date          time.Time `json:"date"` // rebalance date the certification was made
	Robustness    float64   `json:"robustness"`
	ForwardReturn float64   `json:"forward_return"` // realized over the test period
}

// CohortStats summarizes realized test-period returns for one robustness
// cohort.
type CohortStats struct {
	Name        string  `json:"name"`
	SampleCount int     `json:"sample_count"`
	MeanReturn  float64 `json:"mean_return"`
	HitRate     float64 `json:"hit_rate"` // share of positive realized returns
}

// WindowResult is the complete outcome of one train/test window.
type WindowResult struct {
	Window          domain.BacktestWindow    `json:"window"`
	State           WindowState              `json:"state"`
	Snapshot        domain.PortfolioSnapshot `json:"snapshot"`
	Flat            bool                     `json:"flat"` // no qualifying instruments, held cash
	Turnover        float64                  `json:"turnover"`
	TransactionCost float64                  `json:"transaction_cost"`
	DailyReturns    []domain.DailyReturn     `json:"daily_returns"`
	Exclusions      []Exclusion              `json:"exclusions,omitempty"`
}

// PerformanceSummary holds the headline statistics of the stitched
// out-of-sample series. Ratio fields are nil when undefined, such as a
// zero-variance return series.
type PerformanceSummary struct {
	TotalReturn          float64  `json:"total_return"`
	AnnualizedReturn     float64  `json:"annualized_return"`
	SharpeRatio          *float64 `json:"sharpe_ratio"`
	MaxDrawdown          *float64 `json:"max_drawdown"`
	CalmarRatio          *float64 `json:"calmar_ratio"`
	BenchmarkTotalReturn float64  `json:"benchmark_total_return"`
	Alpha                float64  `json:"alpha"` // annualized, vs benchmark
	InformationRatio     *float64 `json:"information_ratio"`
	TotalCosts           float64  `json:"total_costs"`
	TotalTurnover        float64  `json:"total_turnover"`
}

// Result is the single immutable output of a run. Identical inputs always
// produce an identical Result, RunID included.
type Result struct {
	RunID           string               `json:"run_id"`
	Config          config.Config        `json:"config"`
	Windows         []WindowResult       `json:"windows"`
	StitchedReturns []domain.DailyReturn `json:"stitched_returns"`
	Performance     PerformanceSummary   `json:"performance"`
	Pairs           []RobustnessPair     `json:"robustness_pairs"`
	HighCohort      CohortStats          `json:"high_robustness_cohort"`
	LowCohort       CohortStats          `json:"low_robustness_cohort"`
}
