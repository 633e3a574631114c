package strategy

import (
	"github.com/markcheno/go-talib"

	"bybit-rotation-bot/pkg/models"
)

func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func volumesOf(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func highsLowsCloses(candles []models.Candle) (highs, lows, cls []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	cls = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		cls[i] = c.Close
	}
	return
}

// ema wraps talib.Ema, returning nil when the series is too short for
// the period.
func ema(values []float64, period int) []float64 {
	if len(values) < period || period < 1 {
		return nil
	}
	return talib.Ema(values, period)
}

func rsi(values []float64, period int) []float64 {
	if len(values) <= period || period < 2 {
		return nil
	}
	return talib.Rsi(values, period)
}

func atr(highs, lows, cls []float64, period int) []float64 {
	if len(cls) <= period || period < 1 {
		return nil
	}
	return talib.Atr(highs, lows, cls, period)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}
