package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/pkg/bybit"
	"bybit-rotation-bot/pkg/models"
	"bybit-rotation-bot/pkg/utils"
)

// Exchange wraps the raw Bybit client with symbol handling and order
// sizing against instrument limits. Quantities are kept in decimal all
// the way to the wire to avoid float formatting surprises.
type Exchange struct {
	client    *bybit.Client
	quoteCoin string
	logger    *logrus.Logger
}

func New(client *bybit.Client, quoteCoin string, logger *logrus.Logger) *Exchange {
	return &Exchange{
		client:    client,
		quoteCoin: quoteCoin,
		logger:    logger,
	}
}

func (e *Exchange) Symbol(coin string) string {
	return coin + e.quoteCoin
}

func (e *Exchange) QuoteCoin() string {
	return e.quoteCoin
}

func (e *Exchange) Candles(ctx context.Context, coin, interval string, limit int) ([]models.Candle, error) {
	return e.client.GetCandles(ctx, e.Symbol(coin), interval, limit)
}

func (e *Exchange) Price(ctx context.Context, coin string) (float64, error) {
	return e.client.GetPrice(ctx, e.Symbol(coin))
}

func (e *Exchange) ReliablePrice(ctx context.Context, coin string) (float64, error) {
	return e.client.GetReliablePrice(ctx, e.Symbol(coin))
}

func (e *Exchange) BestBidAsk(ctx context.Context, coin string) (models.BestQuote, error) {
	return e.client.GetBestBidAsk(ctx, e.Symbol(coin))
}

func (e *Exchange) QuoteBalance(ctx context.Context) (decimal.Decimal, error) {
	return e.client.GetBalance(ctx, e.quoteCoin)
}

func (e *Exchange) BaseBalance(ctx context.Context, coin string) (decimal.Decimal, error) {
	return e.client.GetBalance(ctx, coin)
}

func (e *Exchange) WalletPositions(ctx context.Context) ([]models.WalletPosition, error) {
	return e.client.GetWalletPositions(ctx, e.quoteCoin)
}

func (e *Exchange) InstrumentLimits(ctx context.Context, coin string) (models.InstrumentLimits, error) {
	return e.client.GetInstrumentLimits(ctx, e.Symbol(coin))
}

func (e *Exchange) LastFill(ctx context.Context, coin, side string) (*models.Fill, error) {
	return e.client.GetLastFilledOrder(ctx, e.Symbol(coin), side)
}

func (e *Exchange) TransactionLog(ctx context.Context, since time.Time, limit int) ([]bybit.TransactionRow, error) {
	return e.client.TransactionLog(ctx, since, limit)
}

// MarketBuyQuote buys coin spending quoteAmount of the quote currency.
// The amount is rounded down to the instrument's quote precision and
// checked against the minimum order value.
func (e *Exchange) MarketBuyQuote(ctx context.Context, coin string, quoteAmount decimal.Decimal) (string, error) {
	limits, err := e.InstrumentLimits(ctx, coin)
	if err != nil {
		return "", err
	}

	amount := utils.RoundDownTo(quoteAmount, 2)
	if amount.LessThan(limits.MinOrderValue) {
		return "", fmt.Errorf("buy amount %s below minimum order value %s for %s",
			amount.String(), limits.MinOrderValue.String(), coin)
	}

	linkID := uuid.NewString()
	orderID, err := e.client.PlaceMarketOrder(ctx, e.Symbol(coin), "Buy", amount.String(), linkID)
	if err != nil {
		return "", fmt.Errorf("market buy failed for %s: %w", coin, err)
	}

	e.logger.WithFields(logrus.Fields{
		"coin":     coin,
		"quote":    amount.String(),
		"order_id": orderID,
	}).Info("Market buy submitted")
	return orderID, nil
}

// MarketSellBase sells qty of the base coin, rounded down to the
// instrument's base precision. Quantities below the minimum order size
// are rejected so residual dust never reaches the exchange.
func (e *Exchange) MarketSellBase(ctx context.Context, coin string, qty decimal.Decimal) (string, error) {
	limits, err := e.InstrumentLimits(ctx, coin)
	if err != nil {
		return "", err
	}

	rounded := utils.RoundDownTo(qty, limits.QtyPrecision)
	if rounded.LessThan(limits.MinOrderQty) || rounded.IsZero() {
		return "", fmt.Errorf("sell quantity %s below minimum %s for %s",
			rounded.String(), limits.MinOrderQty.String(), coin)
	}

	linkID := uuid.NewString()
	orderID, err := e.client.PlaceMarketOrder(ctx, e.Symbol(coin), "Sell", rounded.String(), linkID)
	if err != nil {
		return "", fmt.Errorf("market sell failed for %s: %w", coin, err)
	}

	e.logger.WithFields(logrus.Fields{
		"coin":     coin,
		"qty":      rounded.String(),
		"order_id": orderID,
	}).Info("Market sell submitted")
	return orderID, nil
}

// IsDust reports whether qty at price is too small to sell on the
// instrument.
func (e *Exchange) IsDust(ctx context.Context, coin string, qty decimal.Decimal, price float64) (bool, error) {
	limits, err := e.InstrumentLimits(ctx, coin)
	if err != nil {
		return false, err
	}
	rounded := utils.RoundDownTo(qty, limits.QtyPrecision)
	if rounded.LessThan(limits.MinOrderQty) {
		return true, nil
	}
	if price <= 0 {
		return false, nil
	}
	value := rounded.Mul(utils.FloatToDecimal(price))
	return value.LessThan(limits.MinOrderValue), nil
}
