package formulas

import (
	"math"
	"sort"
)

// SpearmanRankCorrelation calculates the Spearman rank correlation between
// two datasets: the Pearson correlation of their ranks. Ties receive the
// average of the ranks they span.
//
// Returns 0 for empty or mismatched inputs, or when either side is constant
// (all ranks tied, correlation undefined).
func SpearmanRankCorrelation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	rho := Correlation(Ranks(x), Ranks(y))
	if math.IsNaN(rho) {
		return 0
	}
	return rho
}

// Ranks returns the 1-based fractional ranks of the input values.
// Equal values share the average of their rank positions.
func Ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, n)
	i := 0
	for i < n {
		// Find the run of tied values starting at sorted position i.
		j := i + 1
		for j < n && values[idx[j]] == values[idx[i]] {
			j++
		}
		avgRank := float64(i+j+1) / 2.0 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[idx[k]] = avgRank
		}
		i = j
	}
	return ranks
}
