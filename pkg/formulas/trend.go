package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// LastSMA returns the simple moving average of the final `length` values,
// or nil if there is insufficient data.
func LastSMA(values []float64, length int) *float64 {
	if length <= 0 || len(values) < length {
		return nil
	}

	sma := talib.Sma(values, length)
	last := sma[len(sma)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

// RealizedVolatility calculates annualized volatility from the trailing
// `window` daily prices, or nil if there is insufficient data.
func RealizedVolatility(prices []float64, window int) *float64 {
	if window < 2 || len(prices) < window+1 {
		return nil
	}

	tail := prices[len(prices)-window-1:]
	vol := AnnualizedVolatility(CalculateReturns(tail))
	return &vol
}
