package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
)

// Candidate is an instrument that passed the robustness gate, carrying its
// certification and sized allocation.
type Candidate struct {
	Instrument string
	Robustness float64
	Size       domain.PositionSize
}

// rank orders candidates for selection: robustness-weighted Kelly fraction.
func (c Candidate) rank() float64 {
	return c.Robustness * c.Size.Fraction
}

// Allocator greedily builds a PortfolioSnapshot from gated candidates,
// skipping instruments too correlated with anything already selected.
// Allocation is deterministic: ties break on lower average correlation to the
// selected set, then on instrument identifier.
type Allocator struct {
	maxPositions  int
	corrThreshold float64
	grossTarget   float64
	positionCap   float64
	log           zerolog.Logger
}

// NewAllocator creates a portfolio allocator from configuration.
func NewAllocator(cfg config.Config, log zerolog.Logger) *Allocator {
	return &Allocator{
		maxPositions:  cfg.MaxPositions,
		corrThreshold: cfg.CorrelationThreshold,
		grossTarget:   cfg.TargetGrossExposure,
		positionCap:   cfg.PositionCap,
		log:           log.With().Str("component", "portfolio_allocator").Logger(),
	}
}

// Allocate selects up to maxPositions candidates and scales their fractions
// toward the gross exposure target. An empty candidate set yields an
// all-cash snapshot with no weights. The result always satisfies
// Σ|weight| ≤ grossTarget+ε and count ≤ maxPositions.
func (a *Allocator) Allocate(date time.Time, candidates []Candidate, corr Matrix) domain.PortfolioSnapshot {
	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Size.Fraction > 0 && c.Size.Direction == domain.DirectionLong {
			pool = append(pool, c)
		}
	}
	// A stable base order makes the selection loop independent of caller
	// ordering.
	sort.Slice(pool, func(i, j int) bool {
		return pool[i].Instrument < pool[j].Instrument
	})

	var selected []Candidate
	for len(selected) < a.maxPositions && len(pool) > 0 {
		best := -1
		for i, c := range pool {
			if a.tooCorrelated(c, selected, corr) {
				continue
			}
			if best < 0 || a.prefer(c, pool[best], selected, corr) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, pool[best])
		pool = append(pool[:best], pool[best+1:]...)
	}

	snapshot := domain.PortfolioSnapshot{Date: date, Weights: make(map[string]float64, len(selected))}
	total := 0.0
	for _, c := range selected {
		total += c.Size.Fraction
	}
	if total > 0 {
		scale := a.grossTarget / total
		for _, c := range selected {
			weight := c.Size.Fraction * scale
			if weight > a.positionCap {
				weight = a.positionCap
			}
			snapshot.Weights[c.Instrument] = weight
		}
	}

	a.log.Debug().
		Time("date", date).
		Int("candidates", len(candidates)).
		Int("selected", len(selected)).
		Float64("gross", snapshot.GrossExposure()).
		Msg("Allocated portfolio")

	return snapshot
}

// tooCorrelated reports whether the candidate's correlation to any selected
// instrument exceeds the threshold in absolute value.
func (a *Allocator) tooCorrelated(c Candidate, selected []Candidate, corr Matrix) bool {
	for _, s := range selected {
		if math.Abs(corr.Between(c.Instrument, s.Instrument)) > a.corrThreshold {
			return true
		}
	}
	return false
}

// prefer reports whether candidate x outranks candidate y for the next slot.
func (a *Allocator) prefer(x, y Candidate, selected []Candidate, corr Matrix) bool {
	if x.rank() != y.rank() {
		return x.rank() > y.rank()
	}
	ax, ay := avgCorrelation(x, selected, corr), avgCorrelation(y, selected, corr)
	if ax != ay {
		return ax < ay
	}
	return x.Instrument < y.Instrument
}

func avgCorrelation(c Candidate, selected []Candidate, corr Matrix) float64 {
	if len(selected) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range selected {
		total += math.Abs(corr.Between(c.Instrument, s.Instrument))
	}
	return total / float64(len(selected))
}
