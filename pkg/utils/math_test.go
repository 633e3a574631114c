package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 42.5, ParseFloat("42.5"))
	assert.Equal(t, 0.0, ParseFloat("not-a-number"))
	assert.Equal(t, 0.0, ParseFloat(""))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{1, 2, 3, 4}))
	assert.Equal(t, 5.0, Median([]float64{5}))
	assert.Equal(t, 0.0, Median(nil))
}

func TestCalculateVolatility(t *testing.T) {
	// Constant prices have zero volatility.
	flat := []float64{100, 100, 100, 100, 100}
	assert.Equal(t, 0.0, CalculateVolatility(flat))

	// Alternating moves have positive volatility.
	choppy := []float64{100, 102, 99, 103, 98}
	assert.Greater(t, CalculateVolatility(choppy), 0.0)

	assert.Equal(t, 0.0, CalculateVolatility([]float64{100}))
}

func TestCalculateATR(t *testing.T) {
	highs := []float64{11, 12, 13, 14, 15}
	lows := []float64{9, 10, 11, 12, 13}
	closes := []float64{10, 11, 12, 13, 14}

	atr := CalculateATR(highs, lows, closes, 3)
	assert.Greater(t, atr, 0.0)
	// True range for each bar is at most high-low plus the gap.
	assert.LessOrEqual(t, atr, 3.0)

	assert.Equal(t, 0.0, CalculateATR(highs[:1], lows[:1], closes[:1], 14))
}

func TestRegressionSlope(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, RegressionSlope(rising), 1e-9)

	falling := []float64{5, 4, 3, 2, 1}
	assert.InDelta(t, -1.0, RegressionSlope(falling), 1e-9)

	flat := []float64{3, 3, 3, 3}
	assert.InDelta(t, 0.0, RegressionSlope(flat), 1e-9)
}

func TestSigmoidNormalize(t *testing.T) {
	// Midpoint maps to 0.5, extremes saturate toward 0 and 1.
	assert.InDelta(t, 0.5, SigmoidNormalize(1.0, 1.0, 10), 1e-9)
	assert.Greater(t, SigmoidNormalize(5.0, 1.0, 10), 0.99)
	assert.Less(t, SigmoidNormalize(-5.0, 1.0, 10), 0.01)

	// Monotonic in the value.
	assert.Greater(t, SigmoidNormalize(1.2, 1.0, 10), SigmoidNormalize(0.8, 1.0, 10))
}
