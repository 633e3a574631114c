package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bybit-rotation-bot/pkg/models"
)

type MockAccountAPI struct {
	mock.Mock
}

func (m *MockAccountAPI) BaseBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	args := m.Called(ctx, coin)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAccountAPI) LastFill(ctx context.Context, coin, side string) (*models.Fill, error) {
	args := m.Called(ctx, coin, side)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Fill), args.Error(1)
}

func (m *MockAccountAPI) ReliablePrice(ctx context.Context, coin string) (float64, error) {
	args := m.Called(ctx, coin)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockAccountAPI) IsDust(ctx context.Context, coin string, qty decimal.Decimal, price float64) (bool, error) {
	args := m.Called(ctx, coin, qty, price)
	return args.Bool(0), args.Error(1)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func buyFill(qty, price string, ts int64) models.Fill {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	return models.Fill{
		Side:      "Buy",
		ExecQty:   q,
		ExecValue: q.Mul(p),
		Timestamp: ts,
	}
}

func TestApplyFill_BuyOpensPosition(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(new(MockAccountAPI), 0.0018, newTestLogger())
	tracker.Retarget("BTC")

	tracker.ApplyFill(buyFill("0.5", "100", time.Now().UnixMilli()))

	pos := tracker.Position()
	require.True(t, pos.IsOpen())
	assert.Equal(t, "0.5", pos.Quantity.String())
	assert.Equal(t, "100", pos.AverageCost.String())
	assert.Equal(t, "100", pos.PeakPrice.String())
	assert.False(t, pos.OpenedAt.IsZero())
}

func TestApplyFill_BuyAveragesCost(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(new(MockAccountAPI), 0.0018, newTestLogger())
	tracker.Retarget("BTC")

	tracker.ApplyFill(buyFill("1", "100", 1))
	tracker.ApplyFill(buyFill("1", "200", 2))

	pos := tracker.Position()
	assert.Equal(t, "2", pos.Quantity.String())
	assert.Equal(t, "150", pos.AverageCost.String())
}

func TestApplyFill_SellClosesPosition(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(new(MockAccountAPI), 0.0018, newTestLogger())
	tracker.Retarget("BTC")
	tracker.ApplyFill(buyFill("1", "100", 1))

	sell := buyFill("1", "110", 2)
	sell.Side = "Sell"
	tracker.ApplyFill(sell)

	pos := tracker.Position()
	assert.False(t, pos.IsOpen())
	assert.Equal(t, "BTC", pos.Coin, "coin binding survives the close")
	assert.True(t, pos.PeakPrice.IsZero())
}

func TestUnrealizedPnL_NetOfFees(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(new(MockAccountAPI), 0.0018, newTestLogger())
	tracker.Retarget("BTC")
	tracker.ApplyFill(buyFill("1", "100", 1))

	// 1% gross gain minus 0.36% round-trip fees.
	assert.InDelta(t, 0.0064, tracker.UnrealizedPnL(101), 1e-9)
	// Flat price is a net loss after fees.
	assert.InDelta(t, -0.0036, tracker.UnrealizedPnL(100), 1e-9)
	assert.Equal(t, 0.0, tracker.UnrealizedPnL(0))
}

func TestObservePrice_TracksPeakMonotonically(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(new(MockAccountAPI), 0.0018, newTestLogger())
	tracker.Retarget("BTC")
	tracker.ApplyFill(buyFill("1", "100", 1))

	assert.Equal(t, "105", tracker.ObservePrice(105).String())
	assert.Equal(t, "105", tracker.ObservePrice(103).String(), "peak never falls")
	assert.Equal(t, "110", tracker.ObservePrice(110).String())

	assert.InDelta(t, 110.0/110.0-105.0/110.0, tracker.DrawdownFromPeak(105), 1e-9)
	assert.Equal(t, 0.0, tracker.DrawdownFromPeak(111))
}

func TestRefresh_ClearsDustPosition(t *testing.T) {
	t.Parallel()

	api := new(MockAccountAPI)
	dust := decimal.RequireFromString("0.00001")
	api.On("BaseBalance", mock.Anything, "BTC").Return(dust, nil)
	api.On("ReliablePrice", mock.Anything, "BTC").Return(100.0, nil)
	api.On("IsDust", mock.Anything, "BTC", dust, 100.0).Return(true, nil)

	tracker := NewTracker(api, 0.0018, newTestLogger())
	tracker.Retarget("BTC")
	tracker.ApplyFill(buyFill("1", "100", 1))

	require.NoError(t, tracker.Refresh(context.Background()))
	assert.False(t, tracker.IsOpen())
	api.AssertExpectations(t)
}

func TestRefresh_RecoversUntrackedPosition(t *testing.T) {
	t.Parallel()

	api := new(MockAccountAPI)
	balance := decimal.RequireFromString("2")
	fill := buyFill("2", "95", time.Now().Add(-time.Hour).UnixMilli())
	api.On("BaseBalance", mock.Anything, "BTC").Return(balance, nil)
	api.On("ReliablePrice", mock.Anything, "BTC").Return(100.0, nil)
	api.On("IsDust", mock.Anything, "BTC", balance, 100.0).Return(false, nil)
	api.On("LastFill", mock.Anything, "BTC", "Buy").Return(&fill, nil)

	tracker := NewTracker(api, 0.0018, newTestLogger())
	tracker.Retarget("BTC")

	require.NoError(t, tracker.Refresh(context.Background()))

	pos := tracker.Position()
	require.True(t, pos.IsOpen())
	assert.Equal(t, "2", pos.Quantity.String())
	assert.Equal(t, "95", pos.AverageCost.String())
}

func TestCheckDesync(t *testing.T) {
	t.Parallel()

	api := new(MockAccountAPI)
	api.On("BaseBalance", mock.Anything, "BTC").Return(decimal.RequireFromString("0.9"), nil)

	tracker := NewTracker(api, 0.0018, newTestLogger())
	tracker.Retarget("BTC")
	tracker.ApplyFill(buyFill("1", "100", 1))

	desynced, err := tracker.CheckDesync(context.Background())
	require.NoError(t, err)
	assert.True(t, desynced, "10% divergence must be flagged")
}

func TestCheckDesync_RefreshResyncsFromWallet(t *testing.T) {
	t.Parallel()

	// Applied fill says 1.0 but the wallet holds 0.9, e.g. the order
	// history lagged a partial fill.
	api := new(MockAccountAPI)
	wallet := decimal.RequireFromString("0.9")
	api.On("BaseBalance", mock.Anything, "BTC").Return(wallet, nil)
	api.On("ReliablePrice", mock.Anything, "BTC").Return(100.0, nil)
	api.On("IsDust", mock.Anything, "BTC", wallet, 100.0).Return(false, nil)

	tracker := NewTracker(api, 0.0018, newTestLogger())
	tracker.Retarget("BTC")
	tracker.ApplyFill(buyFill("1", "100", 1))

	desynced, err := tracker.CheckDesync(context.Background())
	require.NoError(t, err)
	require.True(t, desynced)

	require.NoError(t, tracker.Refresh(context.Background()))

	pos := tracker.Position()
	assert.True(t, pos.Quantity.Equal(wallet), "refresh must adopt the wallet quantity")
	assert.True(t, pos.AverageCost.Equal(decimal.RequireFromString("100")), "cost basis survives the re-sync")

	desynced, err = tracker.CheckDesync(context.Background())
	require.NoError(t, err)
	assert.False(t, desynced)
}
