package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/pkg/models"
	"bybit-rotation-bot/pkg/utils"
)

// AccountAPI is the slice of the exchange the tracker needs.
type AccountAPI interface {
	BaseBalance(ctx context.Context, coin string) (decimal.Decimal, error)
	LastFill(ctx context.Context, coin, side string) (*models.Fill, error)
	ReliablePrice(ctx context.Context, coin string) (float64, error)
	IsDust(ctx context.Context, coin string, qty decimal.Decimal, price float64) (bool, error)
}

// Tracker maintains the single tracked position for the active coin,
// reconciled against the exchange wallet. All methods are safe for
// concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	account  AccountAPI
	takerFee decimal.Decimal
	logger   *logrus.Logger

	position models.Position
}

func NewTracker(account AccountAPI, takerFee float64, logger *logrus.Logger) *Tracker {
	return &Tracker{
		account:  account,
		takerFee: utils.FloatToDecimal(takerFee),
		logger:   logger,
	}
}

// Position returns a copy of the tracked position.
func (t *Tracker) Position() models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

func (t *Tracker) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position.IsOpen()
}

func (t *Tracker) Coin() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position.Coin
}

// Retarget switches the tracker to a new coin, discarding any tracked
// state. Callers must ensure the previous position is flat first.
func (t *Tracker) Retarget(coin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = models.Position{Coin: coin}
	t.logger.WithField("coin", coin).Info("Tracking new coin")
}

// Refresh reconciles the tracked position with the exchange wallet.
// When the wallet holds a balance the tracker did not know about, cost
// basis is recovered from the most recent buy fill. Dust balances are
// treated as flat.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.Lock()
	coin := t.position.Coin
	t.mu.Unlock()
	if coin == "" {
		return nil
	}

	balance, err := t.account.BaseBalance(ctx, coin)
	if err != nil {
		return fmt.Errorf("failed to refresh %s position: %w", coin, err)
	}

	price, err := t.account.ReliablePrice(ctx, coin)
	if err != nil {
		return fmt.Errorf("failed to price %s position: %w", coin, err)
	}

	dust, err := t.account.IsDust(ctx, coin, balance, price)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if balance.IsZero() || dust {
		if t.position.IsOpen() {
			t.logger.WithField("coin", coin).Info("Position closed on exchange, clearing")
		}
		t.position = models.Position{Coin: coin}
		return nil
	}

	if !t.position.IsOpen() {
		// Live balance with no local state: recover cost from the last
		// buy fill so risk limits stay meaningful.
		fill, fillErr := t.account.LastFill(ctx, coin, "Buy")
		cost := utils.FloatToDecimal(price)
		openedAt := time.Now()
		if fillErr == nil && fill != nil && !fill.ExecQty.IsZero() {
			cost = fill.ExecValue.Div(fill.ExecQty)
			openedAt = time.UnixMilli(fill.Timestamp)
		}
		t.position = models.Position{
			Coin:        coin,
			Quantity:    balance,
			AverageCost: cost,
			PeakPrice:   cost,
			OpenedAt:    openedAt,
		}
		t.logger.WithFields(logrus.Fields{
			"coin": coin,
			"qty":  balance.String(),
			"cost": cost.String(),
		}).Warn("Recovered untracked position from wallet")
		return nil
	}

	t.position.Quantity = balance
	return nil
}

// ApplyFill folds an executed order into the position. Buys update the
// weighted average cost; sells reduce quantity, closing the position
// when it reaches zero.
func (t *Tracker) ApplyFill(fill models.Fill) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fill.ExecQty.IsZero() {
		return
	}
	fillPrice := fill.ExecValue.Div(fill.ExecQty)

	switch fill.Side {
	case "Buy":
		if !t.position.IsOpen() {
			t.position.Quantity = fill.ExecQty
			t.position.AverageCost = fillPrice
			t.position.PeakPrice = fillPrice
			t.position.OpenedAt = time.UnixMilli(fill.Timestamp)
		} else {
			oldValue := t.position.Quantity.Mul(t.position.AverageCost)
			newQty := t.position.Quantity.Add(fill.ExecQty)
			t.position.AverageCost = oldValue.Add(fill.ExecValue).Div(newQty)
			t.position.Quantity = newQty
		}
	case "Sell":
		t.position.Quantity = t.position.Quantity.Sub(fill.ExecQty)
		if t.position.Quantity.Sign() <= 0 {
			coin := t.position.Coin
			t.position = models.Position{Coin: coin}
		}
	}

	t.logger.WithFields(logrus.Fields{
		"coin":  t.position.Coin,
		"side":  fill.Side,
		"qty":   fill.ExecQty.String(),
		"price": fillPrice.String(),
	}).Info("Fill applied to position")
}

// ObservePrice records a new price observation, advancing the peak
// when exceeded. Returns the current peak.
func (t *Tracker) ObservePrice(price float64) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.position.IsOpen() {
		return decimal.Zero
	}
	p := utils.FloatToDecimal(price)
	if p.GreaterThan(t.position.PeakPrice) {
		t.position.PeakPrice = p
	}
	return t.position.PeakPrice
}

// UnrealizedPnL returns the fractional profit of the open position at
// price, net of the taker fee paid on entry and due on exit.
func (t *Tracker) UnrealizedPnL(price float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.position.IsOpen() || t.position.AverageCost.IsZero() {
		return 0
	}
	p := utils.FloatToDecimal(price)
	gross := p.Sub(t.position.AverageCost).Div(t.position.AverageCost)
	net := gross.Sub(t.takerFee.Mul(decimal.NewFromInt(2)))
	return utils.DecimalToFloat(net)
}

// DrawdownFromPeak returns the fractional drop of price below the
// recorded peak, zero when flat or at the peak.
func (t *Tracker) DrawdownFromPeak(price float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.position.IsOpen() || t.position.PeakPrice.IsZero() {
		return 0
	}
	p := utils.FloatToDecimal(price)
	dd := t.position.PeakPrice.Sub(p).Div(t.position.PeakPrice)
	if dd.Sign() < 0 {
		return 0
	}
	return utils.DecimalToFloat(dd)
}

// HoldDuration returns how long the position has been open.
func (t *Tracker) HoldDuration(now time.Time) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.position.IsOpen() || t.position.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(t.position.OpenedAt)
}

// CheckDesync compares the tracked quantity against the wallet and
// reports a mismatch beyond 1%.
func (t *Tracker) CheckDesync(ctx context.Context) (bool, error) {
	t.mu.RLock()
	coin := t.position.Coin
	tracked := t.position.Quantity
	t.mu.RUnlock()
	if coin == "" {
		return false, nil
	}

	balance, err := t.account.BaseBalance(ctx, coin)
	if err != nil {
		return false, fmt.Errorf("failed to check %s balance: %w", coin, err)
	}

	diff := tracked.Sub(balance).Abs()
	if tracked.IsZero() {
		return !balance.IsZero(), nil
	}
	ratio := diff.Div(tracked)
	desynced := ratio.GreaterThan(decimal.NewFromFloat(0.01))
	if desynced {
		t.logger.WithFields(logrus.Fields{
			"coin":    coin,
			"tracked": tracked.String(),
			"wallet":  balance.String(),
		}).Warn("Position desync detected")
	}
	return desynced, nil
}

// SetOpenedAt restores the open time from persisted state after a
// restart.
func (t *Tracker) SetOpenedAt(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.position.IsOpen() && !ts.IsZero() {
		t.position.OpenedAt = ts
	}
}
