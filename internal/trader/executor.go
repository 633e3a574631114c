package trader

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/exchange"
	"bybit-rotation-bot/internal/position"
	"bybit-rotation-bot/pkg/models"
	"bybit-rotation-bot/pkg/utils"
)

// quoteReserve is kept back on buys to absorb fee rounding.
var quoteReserve = decimal.NewFromFloat(0.1)

// Executor turns strategy decisions into exchange orders and feeds the
// resulting fills back into the position tracker.
type Executor struct {
	exchange   *exchange.Exchange
	tracker    *position.Tracker
	minBalance decimal.Decimal
	logger     *logrus.Logger
}

func NewExecutor(ex *exchange.Exchange, tracker *position.Tracker, minBalance float64, logger *logrus.Logger) *Executor {
	return &Executor{
		exchange:   ex,
		tracker:    tracker,
		minBalance: utils.FloatToDecimal(minBalance),
		logger:     logger,
	}
}

// Buy spends the full available quote balance, minus a small reserve,
// on coin. Returns the fill when the order executed.
func (e *Executor) Buy(ctx context.Context, coin string) (*models.Fill, error) {
	balance, err := e.exchange.QuoteBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote balance: %w", err)
	}

	spend := balance.Sub(quoteReserve)
	if spend.LessThan(e.minBalance) {
		return nil, fmt.Errorf("quote balance %s below minimum %s",
			spend.String(), e.minBalance.String())
	}

	if _, err := e.exchange.MarketBuyQuote(ctx, coin, spend); err != nil {
		return nil, err
	}
	return e.confirmFill(ctx, coin, "Buy")
}

// Sell closes the full base balance of coin.
func (e *Executor) Sell(ctx context.Context, coin string) (*models.Fill, error) {
	balance, err := e.exchange.BaseBalance(ctx, coin)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s balance: %w", coin, err)
	}
	if balance.IsZero() {
		return nil, fmt.Errorf("nothing to sell, %s balance is zero", coin)
	}

	if _, err := e.exchange.MarketSellBase(ctx, coin, balance); err != nil {
		return nil, err
	}
	return e.confirmFill(ctx, coin, "Sell")
}

// SellPartial sells a fraction of the position.
func (e *Executor) SellPartial(ctx context.Context, coin string, fraction float64) (*models.Fill, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("invalid partial fraction %f", fraction)
	}
	balance, err := e.exchange.BaseBalance(ctx, coin)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s balance: %w", coin, err)
	}
	qty := balance.Mul(utils.FloatToDecimal(fraction))
	if _, err := e.exchange.MarketSellBase(ctx, coin, qty); err != nil {
		return nil, err
	}
	return e.confirmFill(ctx, coin, "Sell")
}

// ForceClose liquidates whatever base balance exists, ignoring the
// strategy. Used on shutdown deadlines and coin switches.
func (e *Executor) ForceClose(ctx context.Context, coin string) error {
	balance, err := e.exchange.BaseBalance(ctx, coin)
	if err != nil {
		return fmt.Errorf("failed to read %s balance: %w", coin, err)
	}
	if balance.IsZero() {
		return nil
	}

	e.logger.WithFields(logrus.Fields{
		"coin": coin,
		"qty":  balance.String(),
	}).Warn("Force closing position")

	if _, err := e.exchange.MarketSellBase(ctx, coin, balance); err != nil {
		return err
	}
	if fill, err := e.confirmFill(ctx, coin, "Sell"); err == nil && fill != nil {
		e.tracker.ApplyFill(*fill)
	}
	return nil
}

// CleanResiduals sells any leftover base balance after a close. Dust
// below the instrument minimum is left alone.
func (e *Executor) CleanResiduals(ctx context.Context, coin string) error {
	balance, err := e.exchange.BaseBalance(ctx, coin)
	if err != nil {
		return fmt.Errorf("failed to read %s balance: %w", coin, err)
	}
	if balance.IsZero() {
		return nil
	}

	price, err := e.exchange.Price(ctx, coin)
	if err != nil {
		return err
	}
	dust, err := e.exchange.IsDust(ctx, coin, balance, price)
	if err != nil {
		return err
	}
	if dust {
		e.logger.WithFields(logrus.Fields{
			"coin": coin,
			"qty":  balance.String(),
		}).Debug("Residual too small to sell")
		return nil
	}

	e.logger.WithFields(logrus.Fields{
		"coin": coin,
		"qty":  balance.String(),
	}).Info("Cleaning residual balance")
	_, err = e.exchange.MarketSellBase(ctx, coin, balance)
	return err
}

// confirmFill looks up the fill for the order just placed. A missing
// fill is reported as an error so the caller can reconcile on the next
// cycle instead of assuming success.
func (e *Executor) confirmFill(ctx context.Context, coin, side string) (*models.Fill, error) {
	fill, err := e.exchange.LastFill(ctx, coin, side)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm %s fill for %s: %w", side, coin, err)
	}
	if fill == nil {
		return nil, fmt.Errorf("no %s fill found for %s", side, coin)
	}
	e.tracker.ApplyFill(*fill)
	return fill, nil
}
