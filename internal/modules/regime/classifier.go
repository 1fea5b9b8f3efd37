// Package regime classifies each trading day of the benchmark into one of six
// market regimes, a trend axis crossed with a volatility axis. Labels are
// causal: the label at date D reads benchmark bars dated ≤ D only.
package regime

import (
	"github.com/rs/zerolog"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/pkg/formulas"
)

// Classifier labels benchmark trading days with a market regime.
type Classifier struct {
	trendLookback int
	sidewaysBand  float64
	volWindow     int
	volHistWindow int
	volPercentile float64
	log           zerolog.Logger
}

// NewClassifier creates a regime classifier from configuration.
func NewClassifier(cfg config.Config, log zerolog.Logger) *Classifier {
	return &Classifier{
		trendLookback: cfg.RegimeTrendLookback,
		sidewaysBand:  cfg.SidewaysBand,
		volWindow:     cfg.VolShortWindow,
		volHistWindow: cfg.VolHistWindow,
		volPercentile: cfg.VolPercentileCutoff,
		log:           log.With().Str("component", "regime_classifier").Logger(),
	}
}

// MinHistory returns the number of benchmark observations required before the
// first label can be produced.
func (c *Classifier) MinHistory() int {
	need := c.volWindow + c.volHistWindow
	if c.trendLookback > need {
		need = c.trendLookback
	}
	return need
}

// Classify labels every benchmark date with sufficient prior history. It
// returns ErrInsufficientData when no date qualifies.
func (c *Classifier) Classify(benchmark domain.BenchmarkSeries) ([]domain.RegimeLabel, error) {
	return c.ClassifyWithIndex(benchmark, domain.PriceSeries{})
}

// ClassifyWithIndex is Classify with an optional volatility-index series
// (a VIX-style implied-vol level). On dates where the index has a full
// trailing history, its level replaces benchmark realized volatility on the
// volatility axis; other dates fall back to realized volatility. An empty
// index series reduces to Classify.
func (c *Classifier) ClassifyWithIndex(benchmark domain.BenchmarkSeries, volIndex domain.PriceSeries) ([]domain.RegimeLabel, error) {
	n := benchmark.Len()
	first := c.MinHistory() - 1
	if n <= first {
		return nil, domain.InsufficientDataf("benchmark: %d observations, %d required",
			n, c.MinHistory())
	}

	closes := benchmark.Closes()

	// Trailing realized vol per index, computed once. Indices before the
	// first defined value stay NaN-free at zero and are never read: the
	// volatility axis only looks back volHistWindow values from an index
	// where the full history exists.
	vols := make([]float64, n)
	for i := c.volWindow; i < n; i++ {
		if v := formulas.RealizedVolatility(closes[:i+1], c.volWindow); v != nil {
			vols[i] = *v
		}
	}

	indexAxis := c.indexVolatility(volIndex)

	labels := make([]domain.RegimeLabel, 0, n-first)
	for i := first; i < n; i++ {
		date := benchmark.Bars[i].Date
		vol, ok := indexAxis[date.Unix()]
		if !ok {
			vol = c.volatilityAt(vols, i)
		}
		labels = append(labels, domain.RegimeLabel{
			Date:       date,
			Trend:      c.trendAt(closes[:i+1]),
			Volatility: vol,
		})
	}

	c.log.Debug().
		Int("labels", len(labels)).
		Bool("vol_index", volIndex.Len() > 0).
		Msg("Classified benchmark regimes")
	return labels, nil
}

// indexVolatility classifies the volatility axis per date from a
// volatility-index series: the level on date D ranked against its own
// trailing volHistWindow distribution, same cutoff as the realized-vol
// path. Dates without a full trailing history are omitted.
func (c *Classifier) indexVolatility(volIndex domain.PriceSeries) map[int64]domain.VolatilityRegime {
	out := make(map[int64]domain.VolatilityRegime)
	levels := volIndex.Closes()
	for i := c.volHistWindow - 1; i < len(levels); i++ {
		cutoff := formulas.Percentile(levels[i-c.volHistWindow+1:i+1], c.volPercentile)
		vol := domain.VolatilityLow
		if levels[i] > cutoff {
			vol = domain.VolatilityHigh
		}
		out[volIndex.Bars[i].Date.Unix()] = vol
	}
	return out
}

// trendAt classifies the trend axis from the final close of the history
// against its long moving average.
func (c *Classifier) trendAt(closes []float64) domain.TrendRegime {
	ma := formulas.LastSMA(closes, c.trendLookback)
	if ma == nil || *ma == 0 {
		return domain.TrendSideways
	}

	distance := closes[len(closes)-1]/(*ma) - 1
	switch {
	case distance > c.sidewaysBand:
		return domain.TrendBull
	case distance < -c.sidewaysBand:
		return domain.TrendBear
	default:
		return domain.TrendSideways
	}
}

// volatilityAt classifies the volatility axis by ranking the current realized
// vol against its own trailing distribution. Percentile rank above the cutoff
// is HIGH.
func (c *Classifier) volatilityAt(vols []float64, idx int) domain.VolatilityRegime {
	history := vols[idx-c.volHistWindow+1 : idx+1]
	cutoff := formulas.Percentile(history, c.volPercentile)
	if vols[idx] > cutoff {
		return domain.VolatilityHigh
	}
	return domain.VolatilityLow
}

// LabelMap indexes labels by date for joining against score and return rows.
func LabelMap(labels []domain.RegimeLabel) map[int64]domain.RegimeLabel {
	m := make(map[int64]domain.RegimeLabel, len(labels))
	for _, l := range labels {
		m[l.Date.Unix()] = l
	}
	return m
}
