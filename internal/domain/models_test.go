package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestNewPriceSeries_Validation(t *testing.T) {
	tests := []struct {
		name    string
		bars    []Bar
		wantErr bool
	}{
		{
			name: "valid series",
			bars: []Bar{
				{Date: day(0), Close: 100, Volume: 1000},
				{Date: day(1), Close: 101, Volume: 1100},
			},
			wantErr: false,
		},
		{
			name:    "empty series",
			bars:    nil,
			wantErr: false,
		},
		{
			name: "duplicate dates",
			bars: []Bar{
				{Date: day(0), Close: 100},
				{Date: day(0), Close: 101},
			},
			wantErr: true,
		},
		{
			name: "decreasing dates",
			bars: []Bar{
				{Date: day(1), Close: 100},
				{Date: day(0), Close: 101},
			},
			wantErr: true,
		},
		{
			name: "non-positive close",
			bars: []Bar{
				{Date: day(0), Close: 0},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPriceSeries("TEST", tt.bars)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDataProvider)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPriceSeries_Truncate(t *testing.T) {
	series, err := NewPriceSeries("TEST", []Bar{
		{Date: day(0), Close: 100},
		{Date: day(1), Close: 101},
		{Date: day(2), Close: 102},
	})
	require.NoError(t, err)

	truncated := series.Truncate(day(2))
	assert.Equal(t, 2, truncated.Len())
	assert.Equal(t, day(1), truncated.Bars[truncated.Len()-1].Date)

	// Cutoff before all bars yields an empty series
	assert.Equal(t, 0, series.Truncate(day(-1)).Len())

	// Cutoff after all bars keeps everything
	assert.Equal(t, 3, series.Truncate(day(10)).Len())
}

func TestPriceSeries_From(t *testing.T) {
	series, err := NewPriceSeries("TEST", []Bar{
		{Date: day(0), Close: 100},
		{Date: day(1), Close: 101},
		{Date: day(2), Close: 102},
	})
	require.NoError(t, err)

	suffix := series.From(day(1))
	assert.Equal(t, 2, suffix.Len())
	assert.Equal(t, day(1), suffix.Bars[0].Date)

	// Start before all bars keeps everything
	assert.Equal(t, 3, series.From(day(-5)).Len())

	// Start after all bars yields an empty series
	assert.Equal(t, 0, series.From(day(10)).Len())

	// Truncate then From carves a half-open date window
	window := series.Truncate(day(2)).From(day(1))
	assert.Equal(t, 1, window.Len())
	assert.Equal(t, day(1), window.Bars[0].Date)
}

func TestRegimeLabel_Key(t *testing.T) {
	label := RegimeLabel{Date: day(0), Trend: TrendBull, Volatility: VolatilityLow}
	assert.Equal(t, "BULL/LOW", label.Key())
}

func TestPortfolioSnapshot_Invariants(t *testing.T) {
	snapshot := PortfolioSnapshot{
		Date:    day(0),
		Weights: map[string]float64{"AAA": 0.5, "BBB": 0.3, "CCC": 0.0},
	}

	assert.InDelta(t, 0.8, snapshot.GrossExposure(), 1e-9)
	assert.Equal(t, 2, snapshot.PositionCount())
}

func TestPortfolioSnapshot_Turnover(t *testing.T) {
	prev := PortfolioSnapshot{Weights: map[string]float64{"AAA": 0.5, "BBB": 0.5}}
	next := PortfolioSnapshot{Weights: map[string]float64{"AAA": 0.3, "CCC": 0.4}}

	// |0.3-0.5| + |0.4-0| + dropped |0.5| = 1.1
	assert.InDelta(t, 1.1, next.Turnover(prev), 1e-9)

	// From cash: turnover equals gross exposure
	assert.InDelta(t, 0.7, next.Turnover(PortfolioSnapshot{}), 1e-9)
}

func TestErrorTaxonomy(t *testing.T) {
	err := InsufficientDataf("only %d rows", 5)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Contains(t, err.Error(), "only 5 rows")

	assert.ErrorIs(t, InvalidConfigurationf("bad"), ErrInvalidConfiguration)
	assert.ErrorIs(t, DataProviderErrorf("down"), ErrDataProvider)
}
