package strategy

import (
	"time"

	"bybit-rotation-bot/pkg/models"
)

type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
	ActionSellPartial
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionSellPartial:
		return "sell_partial"
	default:
		return "none"
	}
}

// Decision is the outcome of one strategy evaluation. Fraction is only
// set for partial exits.
type Decision struct {
	Action   Action
	Reason   string
	Fraction float64
}

// PositionView is the read-only position state a strategy evaluates
// against.
type PositionView struct {
	Open       bool
	EntryPrice float64
	PeakPrice  float64
	OpenedAt   time.Time
	NetPnL     float64
}

// Snapshot carries the market data for one evaluation: primary
// candles, higher-timeframe candles for the trend filter, and the
// current reliable price.
type Snapshot struct {
	Candles      []models.Candle
	TrendCandles []models.Candle
	Price        float64
}

type Strategy interface {
	Evaluate(snap Snapshot, pos PositionView) Decision
	RecordTrade(action Action, at time.Time)
	Reset()
	Name() string
}
