package utils

import (
	"math"
	"sort"
	"strconv"
)

// ParseFloat parses an exchange-supplied numeric string, returning 0
// for empty or malformed input.
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// CalculateATR returns the simple moving average of true ranges over the
// last period observations.
func CalculateATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) < 2 || len(lows) < 2 || len(closes) < 2 || period <= 0 {
		return 0
	}

	var trueRanges []float64
	for i := 1; i < len(highs); i++ {
		tr1 := highs[i] - lows[i]
		tr2 := math.Abs(highs[i] - closes[i-1])
		tr3 := math.Abs(lows[i] - closes[i-1])
		trueRanges = append(trueRanges, math.Max(tr1, math.Max(tr2, tr3)))
	}

	if len(trueRanges) < period {
		period = len(trueRanges)
	}

	sum := 0.0
	for i := len(trueRanges) - period; i < len(trueRanges); i++ {
		sum += trueRanges[i]
	}
	return sum / float64(period)
}

// CalculateVolatility returns the standard deviation of simple returns.
func CalculateVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	return stdDev(returns)
}

// LogReturnVolatility returns the standard deviation of log returns over the
// trailing window observations.
func LogReturnVolatility(closes []float64, window int) float64 {
	if len(closes) < 2 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}
	if window > 0 && len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	return stdDev(returns)
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// RegressionSlope fits a least-squares line over the values (x = index) and
// returns its slope.
func RegressionSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Median returns the middle value of the samples. Used for the multi-sample
// reliable price.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// SigmoidNormalize maps a value onto (0,1) through a sigmoid centered at
// midpoint, clamped against overflow.
func SigmoidNormalize(value, midpoint, steepness float64) float64 {
	x := steepness * (value - midpoint)
	if x > 100 {
		return 1.0
	}
	if x < -100 {
		return 0.0
	}
	return 1 / (1 + math.Exp(-x))
}
