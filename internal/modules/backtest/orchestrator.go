package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/internal/modules/portfolio"
	"github.com/aristath/walkforward/internal/modules/regime"
	"github.com/aristath/walkforward/internal/modules/robustness"
	"github.com/aristath/walkforward/internal/modules/signal"
	"github.com/aristath/walkforward/internal/modules/sizing"
)

// Orchestrator drives the walk-forward run: it fetches all data up front,
// tiles the horizon into windows, and walks each window through the
// TRAINING → TESTING → REBALANCE_APPLIED state machine. Windows run
// sequentially because each window's turnover depends on the prior
// snapshot; per-instrument training inside a window runs on the worker pool.
type Orchestrator struct {
	cfg        config.Config
	provider   domain.MarketDataProvider
	engine     *signal.Engine
	classifier *regime.Classifier
	evaluator  *robustness.Evaluator
	sizer      *sizing.Sizer
	allocator  *portfolio.Allocator
	pool       *Pool
	log        zerolog.Logger
}

// NewOrchestrator wires the pipeline components from one configuration.
func NewOrchestrator(cfg config.Config, provider domain.MarketDataProvider, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		provider:   provider,
		engine:     signal.NewEngine(cfg, log),
		classifier: regime.NewClassifier(cfg, log),
		evaluator:  robustness.NewEvaluator(cfg, log),
		sizer:      sizing.NewSizer(cfg, log),
		allocator:  portfolio.NewAllocator(cfg, log),
		pool:       NewPool(cfg.Workers),
		log:        log.With().Str("component", "backtest_orchestrator").Logger(),
	}
}

// Run executes the full walk-forward pipeline over [start, end) and returns
// the immutable result. Cancellation is honored between windows; a window in
// flight always completes.
func (o *Orchestrator) Run(ctx context.Context, instruments []string, start, end time.Time) (Result, error) {
	universe := append([]string(nil), instruments...)
	sort.Strings(universe)

	benchmark, err := o.provider.GetBenchmarkHistory(start, end)
	if err != nil {
		return Result{}, fmt.Errorf("benchmark history: %w", err)
	}

	windows, err := BuildWindows(benchmark.Dates(), o.cfg)
	if err != nil {
		return Result{}, err
	}

	var volIndex domain.PriceSeries
	if vip, ok := o.provider.(domain.VolatilityIndexProvider); ok {
		volIndex, err = vip.GetVolatilityIndex(start, end)
		if err != nil {
			o.log.Warn().Err(err).Msg("Volatility index unavailable, using benchmark realized volatility")
			volIndex = domain.PriceSeries{}
		}
	}

	labelSlice, err := o.classifier.ClassifyWithIndex(benchmark, volIndex)
	if err != nil {
		return Result{}, fmt.Errorf("regime classification: %w", err)
	}
	labels := regime.LabelMap(labelSlice)

	series := make([]domain.PriceSeries, 0, len(universe))
	fetchFailures := make(map[string]string)
	for _, instrument := range universe {
		s, err := o.provider.GetPriceHistory(instrument, start, end)
		if err != nil {
			fetchFailures[instrument] = fmt.Sprintf("price history: %v", err)
			o.log.Warn().Str("instrument", instrument).Err(err).Msg("Excluding instrument, data fetch failed")
			continue
		}
		series = append(series, s)
	}

	o.log.Info().
		Int("instruments", len(series)).
		Int("windows", len(windows)).
		Time("start", start).
		Time("end", end).
		Msg("Starting walk-forward run")

	result := Result{
		RunID:   runID(o.cfg, universe, start, end),
		Config:  o.cfg,
		Windows: make([]WindowResult, 0, len(windows)),
	}

	var prevSnapshot domain.PortfolioSnapshot
	for _, window := range windows {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("cancelled before window %d: %w", window.Index, err)
		}

		wr, pairs := o.runWindow(window, series, labels, benchmark.Dates(), prevSnapshot, fetchFailures)
		result.Windows = append(result.Windows, wr)
		result.Pairs = append(result.Pairs, pairs...)
		prevSnapshot = wr.Snapshot
	}

	result.StitchedReturns = stitchReturns(result.Windows)
	result.Performance = summarize(result.StitchedReturns, dailyReturnsByDate(benchmark), result.Windows)
	result.HighCohort, result.LowCohort = cohortStats(result.Pairs, o.cfg.HighRobustnessSplit)

	o.log.Info().
		Str("run_id", result.RunID).
		Float64("total_return", result.Performance.TotalReturn).
		Float64("total_costs", result.Performance.TotalCosts).
		Msg("Walk-forward run complete")

	return result, nil
}

// runWindow walks one window through the state machine. Training sees only
// data dated strictly before the window's test start.
func (o *Orchestrator) runWindow(
	window domain.BacktestWindow,
	series []domain.PriceSeries,
	labels map[int64]domain.RegimeLabel,
	sessions []time.Time,
	prevSnapshot domain.PortfolioSnapshot,
	fetchFailures map[string]string,
) (WindowResult, []RobustnessPair) {
	state := StateInitialized
	log := o.log.With().Int("window", window.Index).Logger()

	wr := WindowResult{Window: window}
	for instrument, reason := range fetchFailures {
		wr.Exclusions = append(wr.Exclusions, Exclusion{
			WindowIndex: window.Index, Instrument: instrument, Reason: reason,
		})
	}
	sort.Slice(wr.Exclusions, func(i, j int) bool {
		return wr.Exclusions[i].Instrument < wr.Exclusions[j].Instrument
	})

	state = StateTraining
	log.Debug().Str("state", string(state)).Time("train_end", window.TrainEnd).Msg("Training")

	trained := make([]domain.PriceSeries, len(series))
	for i, s := range series {
		trained[i] = o.trainingSlice(s, window)
	}

	evals := o.pool.EvaluateBatch(trained, func(s domain.PriceSeries) instrumentEval {
		return o.evaluateInstrument(s, labels)
	})

	var candidates []portfolio.Candidate
	var pairs []RobustnessPair
	for _, e := range evals {
		if e.err != nil {
			wr.Exclusions = append(wr.Exclusions, Exclusion{
				WindowIndex: window.Index, Instrument: e.instrument, Reason: e.err.Error(),
			})
			continue
		}
		if e.robustness != nil {
			if realized, ok := testPeriodReturn(seriesByInstrument(series, e.instrument), window); ok {
				pairs = append(pairs, RobustnessPair{
					Instrument:    e.instrument,
					Date:          window.TestStart,
					Robustness:    e.robustness.Robustness,
					ForwardReturn: realized,
				})
			}
		}
		if e.candidate == nil {
			wr.Exclusions = append(wr.Exclusions, Exclusion{
				WindowIndex: window.Index, Instrument: e.instrument,
				Reason: fmt.Sprintf("robustness %.3f below minimum %.3f", e.robustness.Robustness, o.cfg.MinRobustness),
			})
			continue
		}
		if e.candidate.Size.Fraction <= 0 {
			wr.Exclusions = append(wr.Exclusions, Exclusion{
				WindowIndex: window.Index, Instrument: e.instrument, Reason: "no positive sized edge",
			})
			continue
		}
		candidates = append(candidates, *e.candidate)
	}

	corr := portfolio.NewMatrix(trained, o.cfg.RobustnessLookback)
	wr.Snapshot = o.allocator.Allocate(window.TestStart, candidates, corr)
	wr.Flat = wr.Snapshot.PositionCount() == 0
	if wr.Flat {
		// Held as cash; an empty weight map keeps the turnover math exact.
		log.Info().Str("state", string(state)).Msg("No qualifying instruments, window held flat")
	}

	state = StateTesting
	wr.DailyReturns = o.markToMarket(window, wr.Snapshot, series, sessions)
	log.Debug().Str("state", string(state)).Int("sessions", len(wr.DailyReturns)).Msg("Marked to market")

	state = StateRebalanceApplied
	wr.Turnover = wr.Snapshot.Turnover(prevSnapshot)
	wr.TransactionCost = wr.Turnover * o.cfg.TransactionCostBps / 10000
	if len(wr.DailyReturns) > 0 {
		wr.DailyReturns[0].Return -= wr.TransactionCost
	}

	wr.State = StateComplete
	log.Debug().
		Str("state", string(state)).
		Int("positions", wr.Snapshot.PositionCount()).
		Float64("turnover", wr.Turnover).
		Int("exclusions", len(wr.Exclusions)).
		Msg("Window complete")

	return wr, pairs
}

// trainingSlice restricts an instrument's history to the window's training
// data: everything dated before the test start, and in rolling mode nothing
// before the train start, so every rebalance trains on a fixed-length market
// sample. Expanding mode keeps the full prefix.
func (o *Orchestrator) trainingSlice(s domain.PriceSeries, window domain.BacktestWindow) domain.PriceSeries {
	trained := s.Truncate(window.TestStart)
	if o.cfg.WindowMode == config.WindowModeRolling {
		trained = trained.From(window.TrainStart)
	}
	return trained
}

// evaluateInstrument runs the per-instrument training pipeline: causal
// scores, the robustness gate, and Kelly sizing. The supplied series is
// already truncated at the window's test start.
func (o *Orchestrator) evaluateInstrument(trained domain.PriceSeries, labels map[int64]domain.RegimeLabel) instrumentEval {
	eval := instrumentEval{instrument: trained.Instrument}

	scores, err := o.engine.ScoreSeries(trained)
	if err != nil {
		eval.err = err
		return eval
	}

	robust, edge, err := o.evaluator.Evaluate(scores, trained, labels)
	if err != nil {
		eval.err = err
		return eval
	}
	eval.robustness = &robust

	if robust.Robustness < o.cfg.MinRobustness {
		return eval
	}

	size := o.sizer.Size(scores[len(scores)-1], edge)
	eval.candidate = &portfolio.Candidate{
		Instrument: trained.Instrument,
		Robustness: robust.Robustness,
		Size:       size,
	}
	return eval
}

// markToMarket simulates holding the frozen snapshot through the window's
// test period, producing one portfolio return for every benchmark session in
// the period. Weights stay fixed at their rebalance values; an instrument
// missing a price on a session contributes zero that day, and a flat window
// yields all-zero cash returns.
func (o *Orchestrator) markToMarket(
	window domain.BacktestWindow,
	snapshot domain.PortfolioSnapshot,
	series []domain.PriceSeries,
	sessions []time.Time,
) []domain.DailyReturn {
	type position struct {
		weight  float64
		returns map[int64]float64
	}
	// Instruments in sorted order so the float summation below is identical
	// on every run.
	held := make([]string, 0, len(snapshot.Weights))
	for instrument := range snapshot.Weights {
		held = append(held, instrument)
	}
	sort.Strings(held)

	positions := make([]position, 0, len(held))
	for _, instrument := range held {
		s := seriesByInstrument(series, instrument)
		returns := make(map[int64]float64, s.Len())
		for i := 1; i < s.Len(); i++ {
			returns[s.Bars[i].Date.Unix()] = s.Bars[i].Close/s.Bars[i-1].Close - 1
		}
		positions = append(positions, position{weight: snapshot.Weights[instrument], returns: returns})
	}

	var out []domain.DailyReturn
	for _, d := range sessions {
		if d.Before(window.TestStart) || !d.Before(window.TestEnd) {
			continue
		}
		total := 0.0
		for _, p := range positions {
			total += p.weight * p.returns[d.Unix()]
		}
		out = append(out, domain.DailyReturn{Date: d, Return: total})
	}
	return out
}

// testPeriodReturn is the instrument's buy-and-hold return across the
// window's test period, the realized counterpart of its training
// certification.
func testPeriodReturn(s domain.PriceSeries, window domain.BacktestWindow) (float64, bool) {
	var first, last *domain.Bar
	for i := range s.Bars {
		d := s.Bars[i].Date
		if d.Before(window.TestStart) || !d.Before(window.TestEnd) {
			continue
		}
		if first == nil {
			first = &s.Bars[i]
		}
		last = &s.Bars[i]
	}
	if first == nil || first == last {
		return 0, false
	}
	return last.Close/first.Close - 1, true
}

func seriesByInstrument(series []domain.PriceSeries, instrument string) domain.PriceSeries {
	for _, s := range series {
		if s.Instrument == instrument {
			return s
		}
	}
	return domain.PriceSeries{Instrument: instrument}
}

// dailyReturnsByDate indexes the benchmark's daily returns for the summary's
// alpha and tracking computations.
func dailyReturnsByDate(benchmark domain.BenchmarkSeries) map[int64]float64 {
	out := make(map[int64]float64, benchmark.Len())
	for i := 1; i < benchmark.Len(); i++ {
		out[benchmark.Bars[i].Date.Unix()] = benchmark.Bars[i].Close/benchmark.Bars[i-1].Close - 1
	}
	return out
}

// runID derives a stable identifier from the run's full input fingerprint,
// so identical inputs reproduce the identical result, identifier included.
func runID(cfg config.Config, instruments []string, start, end time.Time) string {
	fingerprint := fmt.Sprintf("%+v|%s|%s|%s",
		cfg,
		strings.Join(instruments, ","),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
	)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fingerprint)).String()
}
