package backtest

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/internal/marketdata"
)

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.TrainWindowDays = 60
	cfg.TestWindowDays = 10
	cfg.MomentumLookback = 10
	cfg.TrendLookback = 15
	cfg.LiquidityLookback = 5
	cfg.ZScoreWindow = 10
	cfg.RegimeTrendLookback = 15
	cfg.VolShortWindow = 5
	cfg.VolHistWindow = 20
	cfg.ForwardReturnDays = 3
	cfg.MinCommonDates = 20
	cfg.MinUsableRows = 10
	cfg.RobustnessLookback = 60
	cfg.MinRobustness = 0.0
	cfg.Workers = 4
	return cfg
}

func runStart() time.Time {
	return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
}

// buildSeries compounds deterministic daily returns into a price series.
func buildSeries(t *testing.T, instrument string, returns []float64) domain.PriceSeries {
	t.Helper()

	bars := make([]domain.Bar, len(returns))
	price := 100.0
	for i, r := range returns {
		price *= 1 + r
		bars[i] = domain.Bar{
			Date:   runStart().AddDate(0, 0, i),
			Open:   price,
			High:   price * 1.002,
			Low:    price * 0.998,
			Close:  price,
			Volume: 1_000_000 + 1000*float64(i%17),
		}
	}
	s, err := domain.NewPriceSeries(instrument, bars)
	require.NoError(t, err)
	return s
}

// benchmarkReturns alternates calm and turbulent ten-day stretches so both
// volatility regimes appear inside every training window.
func benchmarkReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		base := 0.0005
		amp := 0.002
		if (i/10)%2 == 1 {
			amp = 0.02
		}
		out[i] = base + amp*math.Sin(float64(i))
	}
	return out
}

func trendingReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.0015 + 0.004*math.Sin(float64(i)/2)
	}
	return out
}

func noisyReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.006 * math.Sin(float64(i)*2.7+1)
	}
	return out
}

func testProvider(t *testing.T, n int) *marketdata.MemoryProvider {
	t.Helper()
	return marketdata.NewMemoryProvider(
		buildSeries(t, "BENCH", benchmarkReturns(n)),
		buildSeries(t, "TREND", trendingReturns(n)),
		buildSeries(t, "NOISE", noisyReturns(n)),
		buildSeries(t, "SHORTY", trendingReturns(20)),
	)
}

func runHorizon(n int) (time.Time, time.Time) {
	return runStart(), runStart().AddDate(0, 0, n)
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)

	orchestrator := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop())
	result, err := orchestrator.Run(context.Background(), []string{"TREND", "NOISE", "SHORTY"}, start, end)
	require.NoError(t, err)

	// (200-60)/10 = 14 tiled windows
	require.Len(t, result.Windows, 14)
	for i, w := range result.Windows {
		assert.Equal(t, StateComplete, w.State)
		assert.Equal(t, w.Window.TrainEnd, w.Window.TestStart)
		if i > 0 {
			assert.Equal(t, result.Windows[i-1].Window.TestEnd, w.Window.TestStart)
		}

		// Portfolio invariants hold for every snapshot
		assert.LessOrEqual(t, w.Snapshot.GrossExposure(), cfg.TargetGrossExposure+domain.GrossExposureEpsilon)
		assert.LessOrEqual(t, w.Snapshot.PositionCount(), cfg.MaxPositions)
		for _, weight := range w.Snapshot.Weights {
			assert.GreaterOrEqual(t, weight, 0.0)
			assert.LessOrEqual(t, weight, cfg.PositionCap+domain.GrossExposureEpsilon)
		}

		// Every test session of the window is marked to market
		assert.Len(t, w.DailyReturns, cfg.TestWindowDays)

		// SHORTY's history never reaches the scoring minimum
		found := false
		for _, e := range w.Exclusions {
			if e.Instrument == "SHORTY" {
				found = true
				assert.Contains(t, e.Reason, "insufficient data")
			}
		}
		assert.True(t, found, "window %d should exclude SHORTY", i)
	}

	// Stitched series is the windows' returns in date order
	require.Len(t, result.StitchedReturns, 14*cfg.TestWindowDays)
	for i := 1; i < len(result.StitchedReturns); i++ {
		assert.True(t, result.StitchedReturns[i-1].Date.Before(result.StitchedReturns[i].Date))
	}

	// IsNaN first: NaN satisfies testify's ordered comparisons
	for _, p := range result.Pairs {
		assert.False(t, math.IsNaN(p.Robustness))
		assert.False(t, math.IsNaN(p.ForwardReturn))
		assert.GreaterOrEqual(t, p.Robustness, 0.0)
		assert.LessOrEqual(t, p.Robustness, 1.0)
	}

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, cfg, result.Config)
}

// volIndexSeries mirrors the benchmark's calm and turbulent stretches as an
// implied-vol level.
func volIndexSeries(t *testing.T, n int) domain.PriceSeries {
	t.Helper()

	bars := make([]domain.Bar, n)
	for i := range bars {
		level := 15.0
		if (i/10)%2 == 1 {
			level = 30.0
		}
		bars[i] = domain.Bar{Date: runStart().AddDate(0, 0, i), Close: level}
	}
	s, err := domain.NewPriceSeries("VOLIDX", bars)
	require.NoError(t, err)
	return s
}

func TestRun_WithVolatilityIndex(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)
	instruments := []string{"TREND", "NOISE"}

	provider := testProvider(t, n).WithVolatilityIndex(volIndexSeries(t, n))
	first, err := NewOrchestrator(cfg, provider, zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	require.Len(t, first.Windows, 14)
	for _, w := range first.Windows {
		assert.Equal(t, StateComplete, w.State)
		assert.LessOrEqual(t, w.Snapshot.GrossExposure(), cfg.TargetGrossExposure+domain.GrossExposureEpsilon)
	}

	second, err := NewOrchestrator(cfg, testProvider(t, n).WithVolatilityIndex(volIndexSeries(t, n)), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_Deterministic(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)
	instruments := []string{"TREND", "NOISE", "SHORTY"}

	first, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	second, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_NoLookAhead(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)
	instruments := []string{"TREND", "NOISE"}

	baseline, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)
	firstTestStart := baseline.Windows[0].Window.TestStart

	// Rewrite every bar dated on or after the first window's test start.
	// The first window's training decisions must not change.
	mutate := func(s domain.PriceSeries) domain.PriceSeries {
		bars := append([]domain.Bar(nil), s.Bars...)
		for i := range bars {
			if !bars[i].Date.Before(firstTestStart) {
				bars[i].Open *= 3
				bars[i].High *= 3
				bars[i].Low *= 3
				bars[i].Close *= 3
				bars[i].Volume *= 7
			}
		}
		mutated, err := domain.NewPriceSeries(s.Instrument, bars)
		require.NoError(t, err)
		return mutated
	}

	provider := marketdata.NewMemoryProvider(
		mutate(buildSeries(t, "BENCH", benchmarkReturns(n))),
		mutate(buildSeries(t, "TREND", trendingReturns(n))),
		mutate(buildSeries(t, "NOISE", noisyReturns(n))),
	)

	altered, err := NewOrchestrator(cfg, provider, zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	assert.Equal(t, baseline.Windows[0].Window, altered.Windows[0].Window)
	assert.Equal(t, baseline.Windows[0].Snapshot, altered.Windows[0].Snapshot)
	assert.Equal(t, baseline.Windows[0].Turnover, altered.Windows[0].Turnover)
}

func TestTrainingSlice_Modes(t *testing.T) {
	cfg := fastConfig()
	n := 200
	series := buildSeries(t, "TREND", trendingReturns(n))

	benchmark := buildSeries(t, "BENCH", benchmarkReturns(n))
	windows, err := BuildWindows(benchmark.Dates(), cfg)
	require.NoError(t, err)
	window := windows[5]

	rolling := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop())
	sliced := rolling.trainingSlice(series, window)
	require.Equal(t, cfg.TrainWindowDays, sliced.Len())
	assert.Equal(t, window.TrainStart, sliced.Bars[0].Date)
	assert.True(t, sliced.Bars[sliced.Len()-1].Date.Before(window.TestStart))

	cfg.WindowMode = config.WindowModeExpanding
	expanding := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop())
	full := expanding.trainingSlice(series, window)
	require.Greater(t, full.Len(), sliced.Len())
	assert.Equal(t, series.Bars[0].Date, full.Bars[0].Date)
	assert.True(t, full.Bars[full.Len()-1].Date.Before(window.TestStart))
}

func TestRun_RollingTrainsOnFixedWindowOnly(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)
	instruments := []string{"TREND", "NOISE"}

	baseline, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	last := len(baseline.Windows) - 1
	lastTrainStart := baseline.Windows[last].Window.TrainStart

	// Rewrite every instrument bar dated before the final window's train
	// start. With a rolling training window the final window never sees that
	// data, so its rebalance decisions must not change. The benchmark stays
	// untouched so window boundaries and regime labels are identical.
	mutate := func(s domain.PriceSeries) domain.PriceSeries {
		bars := append([]domain.Bar(nil), s.Bars...)
		for i := range bars {
			if bars[i].Date.Before(lastTrainStart) {
				bars[i].Open *= 2
				bars[i].High *= 2
				bars[i].Low *= 2
				bars[i].Close *= 2
				bars[i].Volume *= 3
			}
		}
		mutated, err := domain.NewPriceSeries(s.Instrument, bars)
		require.NoError(t, err)
		return mutated
	}

	provider := marketdata.NewMemoryProvider(
		buildSeries(t, "BENCH", benchmarkReturns(n)),
		mutate(buildSeries(t, "TREND", trendingReturns(n))),
		mutate(buildSeries(t, "NOISE", noisyReturns(n))),
	)

	altered, err := NewOrchestrator(cfg, provider, zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	assert.Equal(t, baseline.Windows[last].Window, altered.Windows[last].Window)
	assert.Equal(t, baseline.Windows[last].Snapshot, altered.Windows[last].Snapshot)
	assert.Equal(t, baseline.Windows[last].Exclusions, altered.Windows[last].Exclusions)
	assert.Equal(t, baseline.Windows[last].Flat, altered.Windows[last].Flat)
}

func TestRun_FlatWhenNothingQualifies(t *testing.T) {
	cfg := fastConfig()
	cfg.MinRobustness = 1.0 // unreachable gate
	n := 200
	start, end := runHorizon(n)

	result, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), []string{"TREND", "NOISE"}, start, end)
	require.NoError(t, err)

	for _, w := range result.Windows {
		assert.True(t, w.Flat)
		assert.Zero(t, w.Snapshot.PositionCount())
		for _, r := range w.DailyReturns {
			assert.Zero(t, r.Return)
		}
	}
	assert.Zero(t, result.Performance.TotalReturn)
}

func TestRun_RobustnessGateDiscriminates(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)
	instruments := []string{"TREND", "NOISE"}

	open, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)
	require.NotEmpty(t, open.Pairs)

	// Certified robustness per (instrument, rebalance date) with the gate
	// open, and the range those certifications span.
	type certKey struct {
		instrument string
		date       int64
	}
	certified := make(map[certKey]float64, len(open.Pairs))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range open.Pairs {
		certified[certKey{p.Instrument, p.Date.Unix()}] = p.Robustness
		lo = math.Min(lo, p.Robustness)
		hi = math.Max(hi, p.Robustness)
	}
	require.Greater(t, hi, lo, "fixture must produce a spread of robustness values")

	// Re-run with the gate between the extremes. Training is identical, so
	// every certification below the gate must now be excluded from its
	// window's portfolio with a recorded reason, and every certification at
	// or above it must not be gated.
	cfg.MinRobustness = (lo + hi) / 2
	gated, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), instruments, start, end)
	require.NoError(t, err)

	gatedOut, passed := 0, 0
	for _, w := range gated.Windows {
		belowMinimum := make(map[string]bool)
		for _, e := range w.Exclusions {
			if strings.Contains(e.Reason, "below minimum") {
				belowMinimum[e.Instrument] = true
			}
		}
		for _, instrument := range instruments {
			r, ok := certified[certKey{instrument, w.Window.TestStart.Unix()}]
			if !ok {
				continue
			}
			if r < cfg.MinRobustness {
				gatedOut++
				assert.True(t, belowMinimum[instrument],
					"window %d: %s robustness %.3f should be gated out", w.Window.Index, instrument, r)
				assert.NotContains(t, w.Snapshot.Weights, instrument)
			} else {
				passed++
				assert.False(t, belowMinimum[instrument],
					"window %d: %s robustness %.3f should pass the gate", w.Window.Index, instrument, r)
			}
		}
	}
	assert.Greater(t, gatedOut, 0)
	assert.Greater(t, passed, 0)
}

func TestRun_FetchFailureExcludesOnlyThatInstrument(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)

	result, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(context.Background(), []string{"TREND", "MISSING"}, start, end)
	require.NoError(t, err)

	require.Len(t, result.Windows, 14)
	for _, w := range result.Windows {
		found := false
		for _, e := range w.Exclusions {
			if e.Instrument == "MISSING" {
				found = true
				assert.Contains(t, e.Reason, "price history")
			}
		}
		assert.True(t, found)
		assert.NotContains(t, w.Snapshot.Weights, "MISSING")
	}
}

func TestRun_CancelledBetweenWindows(t *testing.T) {
	cfg := fastConfig()
	n := 200
	start, end := runHorizon(n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOrchestrator(cfg, testProvider(t, n), zerolog.Nop()).
		Run(ctx, []string{"TREND"}, start, end)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, strings.Contains(err.Error(), "cancelled before window"))
}

func TestRunID_StableAndInputSensitive(t *testing.T) {
	cfg := fastConfig()
	start, end := runHorizon(200)

	a := runID(cfg, []string{"AAA", "BBB"}, start, end)
	b := runID(cfg, []string{"AAA", "BBB"}, start, end)
	assert.Equal(t, a, b)

	c := runID(cfg, []string{"AAA"}, start, end)
	assert.NotEqual(t, a, c)

	cfg.MaxPositions = 3
	d := runID(cfg, []string{"AAA", "BBB"}, start, end)
	assert.NotEqual(t, a, d)
}
