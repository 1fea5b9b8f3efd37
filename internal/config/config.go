// Package config provides the pipeline configuration surface: every tunable
// parameter with an explicit default, loaded from environment variables.
package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/aristath/walkforward/internal/domain"
)

// WindowMode selects how the training window advances between backtest
// windows.
type WindowMode string

const (
	// WindowModeRolling keeps the training window at a fixed length.
	WindowModeRolling WindowMode = "rolling"
	// WindowModeExpanding anchors the training window at the global start.
	WindowModeExpanding WindowMode = "expanding"
)

// Config holds every tunable parameter of a pipeline run.
type Config struct {
	// Walk-forward windows
	TrainWindowDays int        `json:"train_window_days"`
	TestWindowDays  int        `json:"test_window_days"`
	WindowMode      WindowMode `json:"window_mode"`

	// Signal scoring
	MomentumLookback  int     `json:"momentum_lookback"`
	TrendLookback     int     `json:"trend_lookback"`
	LiquidityLookback int     `json:"liquidity_lookback"`
	ZScoreWindow      int     `json:"zscore_window"` // trailing window for factor normalization
	MomentumWeight    float64 `json:"momentum_weight"`
	TrendWeight       float64 `json:"trend_weight"`
	LiquidityWeight   float64 `json:"liquidity_weight"`

	// Regime classification
	RegimeTrendLookback int     `json:"regime_trend_lookback"` // benchmark moving-average length
	SidewaysBand        float64 `json:"sideways_band"`         // |close/MA - 1| below this is SIDEWAYS
	VolShortWindow      int     `json:"vol_short_window"`      // realized-vol window
	VolHistWindow       int     `json:"vol_hist_window"`       // trailing distribution for the vol cutoff
	VolPercentileCutoff float64 `json:"vol_percentile_cutoff"` // percentile splitting LOW from HIGH

	// Robustness gate
	ForwardReturnDays   int     `json:"forward_return_days"`
	MinCommonDates      int     `json:"min_common_dates"`
	MinUsableRows       int     `json:"min_usable_rows"`
	MinDistinctRegimes  int     `json:"min_distinct_regimes"`
	RobustnessLookback  int     `json:"robustness_lookback"`
	MinRobustness       float64 `json:"min_robustness"`
	HighRobustnessSplit float64 `json:"high_robustness_split"` // cohort cutoff for reporting

	// Position sizing and portfolio construction
	KellyMultiplier      float64 `json:"kelly_multiplier"` // fractional-Kelly safety multiplier
	PositionCap          float64 `json:"position_cap"`     // per-instrument cap on capital fraction
	MaxPositions         int     `json:"max_positions"`
	CorrelationThreshold float64 `json:"correlation_threshold"`
	TargetGrossExposure  float64 `json:"target_gross_exposure"`

	// Costs and execution
	TransactionCostBps float64 `json:"transaction_cost_bps"` // cost per unit turnover

	// Concurrency
	Workers int `json:"workers"` // per-instrument evaluation workers

	// Operational (CLI only)
	LogLevel string `json:"-"`
}

// Default returns the configuration with every documented default applied.
func Default() Config {
	return Config{
		TrainWindowDays: 252,
		TestWindowDays:  63,
		WindowMode:      WindowModeRolling,

		MomentumLookback:  126,
		TrendLookback:     126,
		LiquidityLookback: 20,
		ZScoreWindow:      40,
		MomentumWeight:    0.40,
		TrendWeight:       0.35,
		LiquidityWeight:   0.25,

		RegimeTrendLookback: 200,
		SidewaysBand:        0.02,
		VolShortWindow:      20,
		VolHistWindow:       252,
		VolPercentileCutoff: 0.5,

		ForwardReturnDays:   10,
		MinCommonDates:      60,
		MinUsableRows:       20,
		MinDistinctRegimes:  2,
		RobustnessLookback:  252,
		MinRobustness:       0.5,
		HighRobustnessSplit: 0.7,

		KellyMultiplier:      0.25,
		PositionCap:          0.15,
		MaxPositions:         5,
		CorrelationThreshold: 0.7,
		TargetGrossExposure:  1.0,

		TransactionCostBps: 5.0,

		Workers: runtime.NumCPU(),

		LogLevel: "info",
	}
}

// Load reads configuration from environment variables, falling back to the
// documented defaults. A .env file is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.TrainWindowDays = getEnvAsInt("WF_TRAIN_WINDOW_DAYS", cfg.TrainWindowDays)
	cfg.TestWindowDays = getEnvAsInt("WF_TEST_WINDOW_DAYS", cfg.TestWindowDays)
	cfg.WindowMode = WindowMode(getEnv("WF_WINDOW_MODE", string(cfg.WindowMode)))

	cfg.MomentumLookback = getEnvAsInt("WF_MOMENTUM_LOOKBACK", cfg.MomentumLookback)
	cfg.TrendLookback = getEnvAsInt("WF_TREND_LOOKBACK", cfg.TrendLookback)
	cfg.LiquidityLookback = getEnvAsInt("WF_LIQUIDITY_LOOKBACK", cfg.LiquidityLookback)
	cfg.ZScoreWindow = getEnvAsInt("WF_ZSCORE_WINDOW", cfg.ZScoreWindow)
	cfg.MomentumWeight = getEnvAsFloat("WF_MOMENTUM_WEIGHT", cfg.MomentumWeight)
	cfg.TrendWeight = getEnvAsFloat("WF_TREND_WEIGHT", cfg.TrendWeight)
	cfg.LiquidityWeight = getEnvAsFloat("WF_LIQUIDITY_WEIGHT", cfg.LiquidityWeight)

	cfg.RegimeTrendLookback = getEnvAsInt("WF_REGIME_TREND_LOOKBACK", cfg.RegimeTrendLookback)
	cfg.SidewaysBand = getEnvAsFloat("WF_SIDEWAYS_BAND", cfg.SidewaysBand)
	cfg.VolShortWindow = getEnvAsInt("WF_VOL_SHORT_WINDOW", cfg.VolShortWindow)
	cfg.VolHistWindow = getEnvAsInt("WF_VOL_HIST_WINDOW", cfg.VolHistWindow)
	cfg.VolPercentileCutoff = getEnvAsFloat("WF_VOL_PERCENTILE_CUTOFF", cfg.VolPercentileCutoff)

	cfg.ForwardReturnDays = getEnvAsInt("WF_FORWARD_RETURN_DAYS", cfg.ForwardReturnDays)
	cfg.MinCommonDates = getEnvAsInt("WF_MIN_COMMON_DATES", cfg.MinCommonDates)
	cfg.MinUsableRows = getEnvAsInt("WF_MIN_USABLE_ROWS", cfg.MinUsableRows)
	cfg.MinDistinctRegimes = getEnvAsInt("WF_MIN_DISTINCT_REGIMES", cfg.MinDistinctRegimes)
	cfg.RobustnessLookback = getEnvAsInt("WF_ROBUSTNESS_LOOKBACK", cfg.RobustnessLookback)
	cfg.MinRobustness = getEnvAsFloat("WF_MIN_ROBUSTNESS", cfg.MinRobustness)
	cfg.HighRobustnessSplit = getEnvAsFloat("WF_HIGH_ROBUSTNESS_SPLIT", cfg.HighRobustnessSplit)

	cfg.KellyMultiplier = getEnvAsFloat("WF_KELLY_MULTIPLIER", cfg.KellyMultiplier)
	cfg.PositionCap = getEnvAsFloat("WF_POSITION_CAP", cfg.PositionCap)
	cfg.MaxPositions = getEnvAsInt("WF_MAX_POSITIONS", cfg.MaxPositions)
	cfg.CorrelationThreshold = getEnvAsFloat("WF_CORRELATION_THRESHOLD", cfg.CorrelationThreshold)
	cfg.TargetGrossExposure = getEnvAsFloat("WF_TARGET_GROSS_EXPOSURE", cfg.TargetGrossExposure)

	cfg.TransactionCostBps = getEnvAsFloat("WF_TRANSACTION_COST_BPS", cfg.TransactionCostBps)
	cfg.Workers = getEnvAsInt("WF_WORKERS", cfg.Workers)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on contradictory settings, before any window executes.
func (c Config) Validate() error {
	if c.TrainWindowDays <= 0 {
		return domain.InvalidConfigurationf("training window must be positive, got %d", c.TrainWindowDays)
	}
	if c.TestWindowDays <= 0 {
		return domain.InvalidConfigurationf("testing window must be positive, got %d", c.TestWindowDays)
	}
	if c.WindowMode != WindowModeRolling && c.WindowMode != WindowModeExpanding {
		return domain.InvalidConfigurationf("unknown window mode %q", c.WindowMode)
	}
	if c.MomentumLookback <= 0 || c.TrendLookback <= 0 || c.LiquidityLookback <= 0 {
		return domain.InvalidConfigurationf("factor lookbacks must be positive")
	}
	if c.ZScoreWindow < 2 {
		return domain.InvalidConfigurationf("z-score window must be at least 2, got %d", c.ZScoreWindow)
	}
	if c.MomentumWeight < 0 || c.TrendWeight < 0 || c.LiquidityWeight < 0 {
		return domain.InvalidConfigurationf("factor weights must be non-negative")
	}
	if c.MomentumWeight+c.TrendWeight+c.LiquidityWeight <= 0 {
		return domain.InvalidConfigurationf("factor weights must not all be zero")
	}
	if c.RegimeTrendLookback <= 0 || c.VolShortWindow < 2 || c.VolHistWindow <= c.VolShortWindow {
		return domain.InvalidConfigurationf("regime windows are contradictory")
	}
	if c.VolPercentileCutoff <= 0 || c.VolPercentileCutoff >= 1 {
		return domain.InvalidConfigurationf("volatility percentile cutoff must be in (0,1), got %.3f", c.VolPercentileCutoff)
	}
	if c.ForwardReturnDays <= 0 {
		return domain.InvalidConfigurationf("forward return horizon must be positive, got %d", c.ForwardReturnDays)
	}
	if c.MinCommonDates <= 0 || c.MinUsableRows <= 0 {
		return domain.InvalidConfigurationf("robustness minimums must be positive")
	}
	if c.MinDistinctRegimes < 2 {
		return domain.InvalidConfigurationf("robustness requires at least 2 distinct regimes, got %d", c.MinDistinctRegimes)
	}
	if c.RobustnessLookback < c.MinUsableRows {
		return domain.InvalidConfigurationf("robustness lookback %d below minimum usable rows %d",
			c.RobustnessLookback, c.MinUsableRows)
	}
	if c.MinRobustness < 0 || c.MinRobustness > 1 {
		return domain.InvalidConfigurationf("minimum robustness must be in [0,1], got %.3f", c.MinRobustness)
	}
	if c.KellyMultiplier <= 0 || c.KellyMultiplier > 1 {
		return domain.InvalidConfigurationf("Kelly multiplier must be in (0,1], got %.3f", c.KellyMultiplier)
	}
	if c.PositionCap <= 0 || c.PositionCap > 1 {
		return domain.InvalidConfigurationf("position cap must be in (0,1], got %.3f", c.PositionCap)
	}
	if c.MaxPositions <= 0 {
		return domain.InvalidConfigurationf("max positions must be positive, got %d", c.MaxPositions)
	}
	if c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1 {
		return domain.InvalidConfigurationf("correlation threshold must be in (0,1], got %.3f", c.CorrelationThreshold)
	}
	if c.TargetGrossExposure <= 0 || c.TargetGrossExposure > 1 {
		return domain.InvalidConfigurationf("target gross exposure must be in (0,1], got %.3f", c.TargetGrossExposure)
	}
	if c.TransactionCostBps < 0 {
		return domain.InvalidConfigurationf("transaction cost must be non-negative, got %.2f", c.TransactionCostBps)
	}
	if c.Workers <= 0 {
		return domain.InvalidConfigurationf("workers must be positive, got %d", c.Workers)
	}
	if c.WindowMode == WindowModeRolling {
		// A rolling window trains on exactly TrainWindowDays sessions, so the
		// signal warm-up, forward-return horizon and common-date minimum must
		// all fit inside it or no window can ever certify an instrument.
		warmup := c.MaxSignalLookback() + c.ZScoreWindow
		if warmup+c.ForwardReturnDays+c.MinCommonDates > c.TrainWindowDays {
			return domain.InvalidConfigurationf(
				"rolling training window %d cannot fit signal warm-up %d + forward horizon %d + common-date minimum %d",
				c.TrainWindowDays, warmup, c.ForwardReturnDays, c.MinCommonDates)
		}
	}
	return nil
}

// MaxSignalLookback returns the longest lookback any signal sub-factor
// requires. Instruments with shorter histories cannot be scored.
func (c Config) MaxSignalLookback() int {
	longest := c.MomentumLookback
	if c.TrendLookback > longest {
		longest = c.TrendLookback
	}
	if c.LiquidityLookback > longest {
		longest = c.LiquidityLookback
	}
	return longest
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
