package signal

import (
	"github.com/rs/zerolog"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/pkg/formulas"
)

const zClip = 3.0

// Engine computes daily composite signal scores from a closed factor set.
// Scores are deterministic and strictly causal: the score at index i of a
// series reads bars[0..i] only.
type Engine struct {
	factors []Factor
	zWindow int
	log     zerolog.Logger
}

// NewEngine creates a scoring engine from configuration.
func NewEngine(cfg config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		factors: NewFactorSet(cfg),
		zWindow: cfg.ZScoreWindow,
		log:     log.With().Str("component", "signal_engine").Logger(),
	}
}

// MinHistory returns the number of observations required before the first
// score can be produced: the longest factor lookback plus the trailing
// normalization window.
func (e *Engine) MinHistory() int {
	longest := 0
	for _, f := range e.factors {
		if f.Lookback > longest {
			longest = f.Lookback
		}
	}
	return longest + e.zWindow
}

// ScoreSeries computes a SignalScore for every date of the series with
// sufficient prior history. It returns ErrInsufficientData when no date
// qualifies; callers must treat that as "no score", never a neutral value.
func (e *Engine) ScoreSeries(series domain.PriceSeries) ([]domain.SignalScore, error) {
	n := series.Len()
	first := e.MinHistory() - 1
	if n <= first {
		return nil, domain.InsufficientDataf("%s: %d observations, %d required",
			series.Instrument, n, e.MinHistory())
	}

	// Raw factor values per index, computed causally once per factor.
	raw := make(map[FactorKind][]float64, len(e.factors))
	for _, f := range e.factors {
		values := make([]float64, n)
		for i := f.Lookback; i < n; i++ {
			if v, ok := f.Compute(series.Bars[:i+1], f.Lookback); ok {
				values[i] = v
			}
		}
		raw[f.Kind] = values
	}

	scores := make([]domain.SignalScore, 0, n-first)
	for i := first; i < n; i++ {
		scores = append(scores, e.compositeAt(series, raw, i))
	}

	e.log.Debug().
		Str("instrument", series.Instrument).
		Int("scores", len(scores)).
		Msg("Scored series")

	return scores, nil
}

// ScoreAt computes the score for the bar at index idx from scratch, reading
// bars[0..idx] only. Slower than ScoreSeries; used for spot checks.
func (e *Engine) ScoreAt(series domain.PriceSeries, idx int) (domain.SignalScore, error) {
	if idx < e.MinHistory()-1 || idx >= series.Len() {
		return domain.SignalScore{}, domain.InsufficientDataf("%s: index %d needs %d observations",
			series.Instrument, idx, e.MinHistory())
	}

	raw := make(map[FactorKind][]float64, len(e.factors))
	for _, f := range e.factors {
		values := make([]float64, idx+1)
		for i := f.Lookback; i <= idx; i++ {
			if v, ok := f.Compute(series.Bars[:i+1], f.Lookback); ok {
				values[i] = v
			}
		}
		raw[f.Kind] = values
	}
	return e.compositeAt(series, raw, idx), nil
}

// compositeAt normalizes each factor's raw value at idx against its own
// trailing zWindow distribution and combines the 0-100 sub-scores by weight.
func (e *Engine) compositeAt(series domain.PriceSeries, raw map[FactorKind][]float64, idx int) domain.SignalScore {
	components := make(map[string]float64, len(e.factors))
	composite := 0.0
	for _, f := range e.factors {
		values := raw[f.Kind]
		window := values[idx-e.zWindow+1 : idx+1]
		score := formulas.ZToScore(formulas.ZScore(values[idx], window), zClip)
		components[string(f.Kind)] = score
		composite += f.Weight * score
	}

	if composite < 0 {
		composite = 0
	}
	if composite > 100 {
		composite = 100
	}

	return domain.SignalScore{
		Instrument: series.Instrument,
		Date:       series.Bars[idx].Date,
		Score:      composite,
		Components: components,
	}
}
