package rotation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/pkg/models"
)

type fakeCandleSource struct {
	calls   int32
	failing map[string]bool
	hanging map[string]bool
	rising  map[string]bool
}

func (f *fakeCandleSource) Candles(ctx context.Context, coin, interval string, limit int) ([]models.Candle, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.failing[coin] {
		return nil, errors.New("fetch failed")
	}
	if f.hanging[coin] {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	out := make([]models.Candle, limit)
	price := 100.0
	for i := range out {
		if f.rising[coin] {
			price *= 1.01
		} else if i%2 == 0 {
			price *= 1.001
		} else {
			price *= 0.999
		}
		out[i] = models.Candle{
			Timestamp: int64(i) * 900_000,
			Open:      price,
			High:      price * 1.005,
			Low:       price * 0.995,
			Close:     price,
			Volume:    1000,
		}
	}
	return out, nil
}

func testSelectorConfig() config.SelectorConfig {
	return config.SelectorConfig{
		CandleInterval: "15",
		CandleLimit:    16,
		Workers:        4,
		TaskTimeout:    200 * time.Millisecond,
		BatchTimeout:   time.Second,
		CacheTTL:       time.Hour,
		TopN:           5,
	}
}

func TestEvaluateCoins_RanksAllCandidates(t *testing.T) {
	t.Parallel()

	source := &fakeCandleSource{rising: map[string]bool{"SOL": true}}
	sel := NewSelector(source, []string{"BTC", "ETH", "SOL"}, testSelectorConfig(), newTestLogger())

	scored, err := sel.EvaluateCoins(context.Background())
	require.NoError(t, err)
	require.Len(t, scored, 3)

	assert.Equal(t, "SOL", scored[0].Coin, "strong trend scores highest")
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Score, scored[i].Score, "results sorted best first")
	}
}

func TestEvaluateCoins_FailingCandidateScoresZero(t *testing.T) {
	t.Parallel()

	source := &fakeCandleSource{failing: map[string]bool{"ETH": true}}
	sel := NewSelector(source, []string{"BTC", "ETH"}, testSelectorConfig(), newTestLogger())

	scored, err := sel.EvaluateCoins(context.Background())
	require.NoError(t, err)
	require.Len(t, scored, 2)

	byCoin := map[string]float64{}
	for _, sc := range scored {
		byCoin[sc.Coin] = sc.Score
	}
	assert.Equal(t, 0.0, byCoin["ETH"], "failures score zero instead of blocking the batch")
	assert.Greater(t, byCoin["BTC"], 0.0)
}

func TestEvaluateCoins_HangingCandidateTimesOut(t *testing.T) {
	t.Parallel()

	source := &fakeCandleSource{hanging: map[string]bool{"XRP": true}}
	sel := NewSelector(source, []string{"BTC", "XRP"}, testSelectorConfig(), newTestLogger())

	start := time.Now()
	scored, err := sel.EvaluateCoins(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), testSelectorConfig().BatchTimeout,
		"a hanging candidate is bounded by its task timeout")

	byCoin := map[string]float64{}
	for _, sc := range scored {
		byCoin[sc.Coin] = sc.Score
	}
	assert.Equal(t, 0.0, byCoin["XRP"])
}

func TestEvaluateCoins_UsesCache(t *testing.T) {
	t.Parallel()

	source := &fakeCandleSource{}
	sel := NewSelector(source, []string{"BTC", "ETH"}, testSelectorConfig(), newTestLogger())

	_, err := sel.EvaluateCoins(context.Background())
	require.NoError(t, err)
	callsAfterFirst := atomic.LoadInt32(&source.calls)

	_, err = sel.EvaluateCoins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, atomic.LoadInt32(&source.calls),
		"second evaluation within the TTL hits the cache")
}

func TestTopCoins(t *testing.T) {
	t.Parallel()

	source := &fakeCandleSource{rising: map[string]bool{"SOL": true}}
	sel := NewSelector(source, []string{"BTC", "ETH", "SOL"}, testSelectorConfig(), newTestLogger())

	top, err := sel.TopCoins(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "SOL", top[0])
}
