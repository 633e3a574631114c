package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bybit-rotation-bot/internal/config"
)

type fakeGuard struct {
	open bool
}

func (f fakeGuard) IsOpen() bool { return f.open }

func testRotationConfig() config.RotationConfig {
	return config.RotationConfig{
		Interval:       24 * time.Hour,
		MinHoldCandles: 12,
	}
}

func newTestRotator(t *testing.T, guard PositionGuard, source CandleSource) (*Rotator, *Ranker) {
	t.Helper()
	ranker := newTestRanker(t)
	selector := NewSelector(source, []string{"BTC", "ETH"}, testSelectorConfig(), newTestLogger())
	rotator := NewRotator(ranker, selector, guard, testRotationConfig(), "3", newTestLogger())
	return rotator, ranker
}

func TestShouldRotate_NeverWithOpenPosition(t *testing.T) {
	t.Parallel()

	rotator, _ := newTestRotator(t, fakeGuard{open: true}, &fakeCandleSource{})
	rotator.RestoreLastRotation(time.Now().Add(-48 * time.Hour))

	assert.False(t, rotator.ShouldRotate(), "an open position forbids rotation")
}

func TestShouldRotate_RespectsMinHoldAndInterval(t *testing.T) {
	t.Parallel()

	rotator, _ := newTestRotator(t, fakeGuard{}, &fakeCandleSource{})

	now := time.Unix(1_000_000_000, 0)
	rotator.now = func() time.Time { return now }

	// Inside the minimum hold window (12 candles of 3 minutes).
	rotator.RestoreLastRotation(now.Add(-20 * time.Minute))
	assert.False(t, rotator.ShouldRotate())

	// Past minimum hold but inside the rotation interval.
	rotator.RestoreLastRotation(now.Add(-2 * time.Hour))
	assert.False(t, rotator.ShouldRotate())

	// Past the full interval.
	rotator.RestoreLastRotation(now.Add(-25 * time.Hour))
	assert.True(t, rotator.ShouldRotate())
}

func TestRotate_MovesToRankerLeader(t *testing.T) {
	t.Parallel()

	rotator, ranker := newTestRotator(t, fakeGuard{}, &fakeCandleSource{})
	ranker.AddCoin("BTC")
	ranker.AddCoin("ETH")
	for i := 0; i < 5; i++ {
		ranker.RecordTradeResult("ETH", 0.02)
	}
	rotator.RestoreLastRotation(time.Now().Add(-25 * time.Hour))

	next := rotator.Rotate(context.Background(), "BTC")
	require.Equal(t, "ETH", next)

	assert.False(t, rotator.LastRotation().IsZero(), "rotation clock advances")
	assert.Equal(t, 1, ranker.data.ActiveCoins["ETH"].TrialUsed, "real rotation consumes trial budget")
}

func TestRotate_KeepsLeadingCoin(t *testing.T) {
	t.Parallel()

	rotator, ranker := newTestRotator(t, fakeGuard{}, &fakeCandleSource{})
	ranker.AddCoin("BTC")
	ranker.AddCoin("ETH")
	for i := 0; i < 5; i++ {
		ranker.RecordTradeResult("BTC", 0.02)
	}
	rotator.RestoreLastRotation(time.Now().Add(-25 * time.Hour))

	next := rotator.Rotate(context.Background(), "BTC")
	assert.Equal(t, "BTC", next, "the ranking leader keeps the slot")
}

func TestRotate_NoCandidatesKeepsCurrent(t *testing.T) {
	t.Parallel()

	rotator, ranker := newTestRotator(t, fakeGuard{}, &fakeCandleSource{})
	ranker.AddCoin("BTC")
	rotator.RestoreLastRotation(time.Now().Add(-25 * time.Hour))

	next := rotator.Rotate(context.Background(), "BTC")
	assert.Equal(t, "BTC", next)
}
