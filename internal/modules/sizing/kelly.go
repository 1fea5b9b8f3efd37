// Package sizing converts edge estimates into fractional target allocations
// using a capped fractional-Kelly rule.
package sizing

import (
	"github.com/rs/zerolog"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
)

// Sizer computes the capital fraction for one instrument from its edge
// estimate. Output is always within [0, PositionCap].
type Sizer struct {
	multiplier float64
	cap        float64
	log        zerolog.Logger
}

// NewSizer creates a position sizer from configuration.
func NewSizer(cfg config.Config, log zerolog.Logger) *Sizer {
	return &Sizer{
		multiplier: cfg.KellyMultiplier,
		cap:        cfg.PositionCap,
		log:        log.With().Str("component", "position_sizer").Logger(),
	}
}

// Size computes the fractional Kelly allocation f = (p·b − q)/b where p is
// the win rate, q = 1−p and b the payoff ratio avg_win/avg_loss. A
// non-positive implied edge or a degenerate payoff profile sizes to zero; a
// positive raw fraction is scaled by the safety multiplier and clipped to the
// per-instrument cap.
func (s *Sizer) Size(score domain.SignalScore, edge domain.EdgeEstimate) domain.PositionSize {
	flat := domain.PositionSize{
		Instrument: score.Instrument,
		Date:       score.Date,
		Fraction:   0,
		Direction:  domain.DirectionFlat,
	}

	if edge.SampleCount <= 0 || edge.AvgWin <= 0 || edge.WinRate <= 0 {
		return flat
	}

	p := edge.WinRate
	if p >= 1 || edge.AvgLoss <= 0 {
		// A sample with no observed losses is an estimation artifact, not
		// an edge the Kelly formula can price. Cap, don't extrapolate.
		return domain.PositionSize{
			Instrument: score.Instrument,
			Date:       score.Date,
			Fraction:   s.cap,
			Direction:  domain.DirectionLong,
		}
	}

	b := edge.AvgWin / edge.AvgLoss
	raw := (p*b - (1 - p)) / b
	if raw <= 0 {
		return flat
	}

	fraction := raw * s.multiplier
	if fraction > s.cap {
		fraction = s.cap
	}

	return domain.PositionSize{
		Instrument: score.Instrument,
		Date:       score.Date,
		Fraction:   fraction,
		Direction:  domain.DirectionLong,
	}
}
