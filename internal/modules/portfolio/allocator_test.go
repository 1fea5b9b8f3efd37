package portfolio

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
)

func rebalanceDate() time.Time {
	return time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
}

func candidate(instrument string, robustness, fraction float64) Candidate {
	return Candidate{
		Instrument: instrument,
		Robustness: robustness,
		Size: domain.PositionSize{
			Instrument: instrument,
			Date:       rebalanceDate(),
			Fraction:   fraction,
			Direction:  domain.DirectionLong,
		},
	}
}

// fixedMatrix builds a Matrix with explicit pairwise correlations.
func fixedMatrix(pairs map[[2]string]float64) Matrix {
	m := Matrix{corr: make(map[string]map[string]float64)}
	for pair, value := range pairs {
		m.set(pair[0], pair[1], value)
	}
	return m
}

func newAllocator(maxPositions int, threshold float64) *Allocator {
	cfg := config.Default()
	cfg.MaxPositions = maxPositions
	cfg.CorrelationThreshold = threshold
	return NewAllocator(cfg, zerolog.Nop())
}

func TestAllocate_RespectsMaxPositionsAndGross(t *testing.T) {
	candidates := []Candidate{
		candidate("AAA", 0.9, 0.10),
		candidate("BBB", 0.8, 0.10),
		candidate("CCC", 0.7, 0.10),
		candidate("DDD", 0.6, 0.10),
	}

	snapshot := newAllocator(3, 0.7).Allocate(rebalanceDate(), candidates, fixedMatrix(nil))

	assert.Equal(t, 3, snapshot.PositionCount())
	assert.LessOrEqual(t, snapshot.GrossExposure(), 1.0+domain.GrossExposureEpsilon)

	// Highest-ranked three selected
	assert.Contains(t, snapshot.Weights, "AAA")
	assert.Contains(t, snapshot.Weights, "BBB")
	assert.Contains(t, snapshot.Weights, "CCC")
	assert.NotContains(t, snapshot.Weights, "DDD")

	// Scaling toward gross target is re-capped per instrument
	for _, w := range snapshot.Weights {
		assert.LessOrEqual(t, w, config.Default().PositionCap+domain.GrossExposureEpsilon)
	}
}

func TestAllocate_PerfectlyCorrelatedPairSelectsOne(t *testing.T) {
	candidates := []Candidate{
		candidate("AAA", 0.9, 0.10),
		candidate("BBB", 0.8, 0.10),
	}
	corr := fixedMatrix(map[[2]string]float64{{"AAA", "BBB"}: 1.0})

	snapshot := newAllocator(1, 0.9).Allocate(rebalanceDate(), candidates, corr)

	assert.Equal(t, 1, snapshot.PositionCount())
	assert.Contains(t, snapshot.Weights, "AAA") // higher rank wins
	assert.NotContains(t, snapshot.Weights, "BBB")
}

func TestAllocate_SkipsCorrelatedCandidateForNextBest(t *testing.T) {
	candidates := []Candidate{
		candidate("AAA", 0.9, 0.10),
		candidate("BBB", 0.8, 0.10), // highly correlated with AAA
		candidate("CCC", 0.5, 0.10),
	}
	corr := fixedMatrix(map[[2]string]float64{
		{"AAA", "BBB"}: 0.95,
		{"AAA", "CCC"}: 0.10,
		{"BBB", "CCC"}: 0.10,
	})

	snapshot := newAllocator(2, 0.7).Allocate(rebalanceDate(), candidates, corr)

	assert.Contains(t, snapshot.Weights, "AAA")
	assert.Contains(t, snapshot.Weights, "CCC")
	assert.NotContains(t, snapshot.Weights, "BBB")
}

func TestAllocate_NegativeCorrelationAlsoExcluded(t *testing.T) {
	candidates := []Candidate{
		candidate("AAA", 0.9, 0.10),
		candidate("BBB", 0.8, 0.10),
	}
	corr := fixedMatrix(map[[2]string]float64{{"AAA", "BBB"}: -0.95})

	snapshot := newAllocator(2, 0.7).Allocate(rebalanceDate(), candidates, corr)
	assert.Equal(t, 1, snapshot.PositionCount())
}

func TestAllocate_TieBreaks(t *testing.T) {
	// BBB and CCC tie on rank; BBB is less correlated to the selected AAA.
	candidates := []Candidate{
		candidate("AAA", 0.9, 0.12),
		candidate("BBB", 0.8, 0.10),
		candidate("CCC", 0.8, 0.10),
	}
	corr := fixedMatrix(map[[2]string]float64{
		{"AAA", "BBB"}: 0.10,
		{"AAA", "CCC"}: 0.50,
		{"BBB", "CCC"}: 0.10,
	})

	snapshot := newAllocator(2, 0.7).Allocate(rebalanceDate(), candidates, corr)
	assert.Contains(t, snapshot.Weights, "AAA")
	assert.Contains(t, snapshot.Weights, "BBB")
	assert.NotContains(t, snapshot.Weights, "CCC")

	// Fully tied candidates fall back to the instrument identifier
	tied := []Candidate{
		candidate("ZZZ", 0.8, 0.10),
		candidate("MMM", 0.8, 0.10),
	}
	snapshot = newAllocator(1, 0.7).Allocate(rebalanceDate(), tied, fixedMatrix(nil))
	assert.Contains(t, snapshot.Weights, "MMM")
}

func TestAllocate_EmptyAndZeroCandidates(t *testing.T) {
	allocator := newAllocator(5, 0.7)

	snapshot := allocator.Allocate(rebalanceDate(), nil, fixedMatrix(nil))
	assert.Zero(t, snapshot.PositionCount())
	assert.Zero(t, snapshot.GrossExposure())

	flat := []Candidate{{
		Instrument: "AAA",
		Robustness: 0.9,
		Size:       domain.PositionSize{Instrument: "AAA", Direction: domain.DirectionFlat},
	}}
	snapshot = allocator.Allocate(rebalanceDate(), flat, fixedMatrix(nil))
	assert.Zero(t, snapshot.PositionCount())
}

func TestAllocate_DeterministicAcrossInputOrder(t *testing.T) {
	corr := fixedMatrix(map[[2]string]float64{
		{"AAA", "BBB"}: 0.2,
		{"AAA", "CCC"}: 0.3,
		{"BBB", "CCC"}: 0.4,
	})
	forward := []Candidate{
		candidate("AAA", 0.9, 0.08),
		candidate("BBB", 0.7, 0.11),
		candidate("CCC", 0.8, 0.09),
	}
	reversed := []Candidate{forward[2], forward[0], forward[1]}

	allocator := newAllocator(2, 0.7)
	first := allocator.Allocate(rebalanceDate(), forward, corr)
	second := allocator.Allocate(rebalanceDate(), reversed, corr)

	assert.Equal(t, first.Weights, second.Weights)
}

func TestNewMatrix_PairwiseCorrelations(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(instrument string, closes []float64) domain.PriceSeries {
		bars := make([]domain.Bar, len(closes))
		for i, c := range closes {
			bars[i] = domain.Bar{Date: base.AddDate(0, 0, i), Close: c}
		}
		s, err := domain.NewPriceSeries(instrument, bars)
		require.NoError(t, err)
		return s
	}

	// BBB moves in lockstep with AAA; CCC moves opposite.
	aaa := mk("AAA", []float64{100, 101, 99, 102, 101, 103})
	bbb := mk("BBB", []float64{50, 50.5, 49.5, 51, 50.5, 51.5})
	ccc := mk("CCC", []float64{100, 99.01, 101.01, 98.06, 99.03, 97.10})

	m := NewMatrix([]domain.PriceSeries{aaa, bbb, ccc}, 252)

	assert.InDelta(t, 1.0, m.Between("AAA", "BBB"), 1e-6)
	assert.Less(t, m.Between("AAA", "CCC"), -0.9)
	assert.Equal(t, m.Between("AAA", "BBB"), m.Between("BBB", "AAA"))
	assert.Equal(t, 1.0, m.Between("AAA", "AAA"))
	assert.Zero(t, m.Between("AAA", "ZZZ"))
}
