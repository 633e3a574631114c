package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/pkg/models"
)

type stubForecaster struct {
	predictions []float64
	err         error
}

func (s stubForecaster) Predict(_ context.Context, _ []models.Candle) ([]float64, error) {
	return s.predictions, s.err
}

func testForecastConfig() config.ForecastConfig {
	return config.ForecastConfig{
		Enabled:   true,
		Timeout:   time.Second,
		SeqLength: 30,
		Steps:     3,
	}
}

// lastClose is the final price of the standard reversal fixture.
func lastClose() float64 {
	closes := trendReversalCloses(60, 0)
	return closes[len(closes)-1]
}

// quietForecast builds a forecast strategy over a quiescent base engine
// and a snapshot whose latest candle has not been evaluated yet.
func quietForecast(t *testing.T, f Forecaster) (*ForecastStrategy, Snapshot) {
	t.Helper()

	base := NewMACrossover(testStrategyConfig(), newTestLogger())
	base.now = func() time.Time { return time.Unix(0, 0) }

	closes := trendReversalCloses(60, 0)
	candles := candlesFromCloses(closes, 0)

	fs := NewForecastStrategy(base, f, testForecastConfig(), newTestLogger())
	snap := Snapshot{Candles: candles, Price: candles[len(candles)-1].Close}
	return fs, snap
}

// armedForecast returns a forecast strategy whose base will emit a buy
// on the next evaluated candle.
func armedForecast(t *testing.T, f Forecaster) (*ForecastStrategy, Snapshot) {
	t.Helper()

	base := NewMACrossover(testStrategyConfig(), newTestLogger())
	base.now = func() time.Time { return time.Unix(0, 0) }

	closes := trendReversalCloses(60, 0)
	candles := candlesFromCloses(closes, 0)
	base.Evaluate(Snapshot{Candles: candles, Price: candles[len(candles)-1].Close}, PositionView{})

	base.pending = ActionBuy
	base.confirmCount = 2

	next := append(append([]float64{}, closes...), closes[len(closes)-1]*1.001)
	nextCandles := candlesFromCloses(next, 0)
	snap := Snapshot{Candles: nextCandles, Price: nextCandles[len(nextCandles)-1].Close}

	fs := NewForecastStrategy(base, f, testForecastConfig(), newTestLogger())
	return fs, snap
}

func TestForecastStrategy_FallsBackOnError(t *testing.T) {
	t.Parallel()

	fs, snap := armedForecast(t, stubForecaster{err: errors.New("model down")})
	decision := fs.Evaluate(snap, PositionView{})
	assert.Equal(t, ActionBuy, decision.Action, "forecaster failure must not block the base signal")
}

func TestForecastStrategy_QuietForecastDelegatesToBase(t *testing.T) {
	t.Parallel()

	// A forecast inside the threshold band produces no signal of its
	// own; the armed base engine still confirms its pending buy.
	fs, snap := armedForecast(t, stubForecaster{predictions: []float64{lastClose()}})
	decision := fs.Evaluate(snap, PositionView{})
	assert.Equal(t, ActionBuy, decision.Action)
	assert.NotContains(t, decision.Reason, "forecast")
}

func TestForecastStrategy_PredictedRiseBuysWhenFlat(t *testing.T) {
	t.Parallel()

	up := lastClose() * 1.02
	fs, snap := quietForecast(t, stubForecaster{predictions: []float64{up}})

	decision := fs.Evaluate(snap, PositionView{})
	require.Equal(t, ActionBuy, decision.Action)
	assert.Contains(t, decision.Reason, "forecast")
}

func TestForecastStrategy_PredictedDropSellsOpenPosition(t *testing.T) {
	t.Parallel()

	down := lastClose() * 0.95
	fs, snap := quietForecast(t, stubForecaster{predictions: []float64{down}})

	pos := PositionView{Open: true, EntryPrice: snap.Price, NetPnL: 0}
	decision := fs.Evaluate(snap, pos)
	require.Equal(t, ActionSell, decision.Action, "predicted drop beyond threshold must map to SELL")
	assert.Contains(t, decision.Reason, "forecast")
}

func TestForecastStrategy_SignalsRespectPositionState(t *testing.T) {
	t.Parallel()

	// A predicted rise while a position is open must not double-enter.
	up := lastClose() * 1.02
	fs, snap := quietForecast(t, stubForecaster{predictions: []float64{up}})
	decision := fs.Evaluate(snap, PositionView{Open: true, EntryPrice: snap.Price})
	assert.NotEqual(t, ActionBuy, decision.Action)

	// A predicted drop with no position cannot sell anything.
	down := lastClose() * 0.95
	fs, snap = quietForecast(t, stubForecaster{predictions: []float64{down}})
	decision = fs.Evaluate(snap, PositionView{})
	assert.NotEqual(t, ActionSell, decision.Action)
}

func TestForecastStrategy_PassesThroughExits(t *testing.T) {
	t.Parallel()

	base := NewMACrossover(testStrategyConfig(), newTestLogger())
	now := time.Unix(10_000_000, 0)
	base.now = func() time.Time { return now }
	base.lastTradeTime = now.Add(-5 * time.Minute)

	fs := NewForecastStrategy(base, stubForecaster{err: errors.New("down")}, testForecastConfig(), newTestLogger())

	closes := trendReversalCloses(60, 0)
	candles := candlesFromCloses(closes, 0)
	pos := PositionView{Open: true, EntryPrice: candles[len(candles)-1].Close * 1.02, NetPnL: -0.02}

	decision := fs.Evaluate(Snapshot{Candles: candles, Price: candles[len(candles)-1].Close}, pos)
	assert.Equal(t, ActionSell, decision.Action, "base exits apply when the forecaster is down")
}
