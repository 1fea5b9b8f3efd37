package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
)

func flatBars(n int, close, volume float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Close:  close,
			Volume: volume,
		}
	}
	return bars
}

func TestNewFactorSet_WeightsNormalized(t *testing.T) {
	cfg := config.Default()
	cfg.MomentumWeight = 2
	cfg.TrendWeight = 1
	cfg.LiquidityWeight = 1

	factors := NewFactorSet(cfg)
	require.Len(t, factors, 3)

	total := 0.0
	for _, f := range factors {
		total += f.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.InDelta(t, 0.5, factors[0].Weight, 1e-9)
}

func TestMomentumValue(t *testing.T) {
	bars := flatBars(30, 100, 1000)
	for i := range bars {
		bars[i].Close = 100 + float64(i) // steady climber
	}

	v, ok := momentumValue(bars, 20)
	require.True(t, ok)
	assert.Greater(t, v, 0.0)

	_, ok = momentumValue(bars[:10], 20)
	assert.False(t, ok)
}

func TestTrendValue_SignFollowsDistanceFromAverage(t *testing.T) {
	up := flatBars(40, 100, 1000)
	for i := range up {
		up[i].Close = 100 * (1 + 0.01*float64(i))
	}
	v, ok := trendValue(up, 30)
	require.True(t, ok)
	assert.Greater(t, v, 0.0)

	down := flatBars(40, 100, 1000)
	for i := range down {
		down[i].Close = 200 - float64(i)
	}
	v, ok = trendValue(down, 30)
	require.True(t, ok)
	assert.Less(t, v, 0.0)
}

func TestLiquidityValue(t *testing.T) {
	bars := flatBars(20, 100, 1000)
	bars[len(bars)-1].Volume = 2000 // volume spike

	v, ok := liquidityValue(bars, 10)
	require.True(t, ok)
	assert.Greater(t, v, 0.0)

	calm := flatBars(20, 100, 1000)
	v, ok = liquidityValue(calm, 10)
	require.True(t, ok)
	assert.InDelta(t, 0.0, v, 1e-9)

	zero := flatBars(20, 100, 0)
	_, ok = liquidityValue(zero, 10)
	assert.False(t, ok)
}
