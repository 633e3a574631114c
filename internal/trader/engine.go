package trader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/internal/exchange"
	"bybit-rotation-bot/internal/position"
	"bybit-rotation-bot/internal/rotation"
	"bybit-rotation-bot/internal/state"
	"bybit-rotation-bot/internal/strategy"
	"bybit-rotation-bot/pkg/utils"
)

type OutcomeKind int

const (
	OutcomeProceed OutcomeKind = iota
	OutcomeSkip
	OutcomeFatal
)

// Outcome reports how a cycle ended: normal completion, a skip with a
// reason, or a fatal error that should stop the loop.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

func proceed() Outcome           { return Outcome{Kind: OutcomeProceed} }
func skip(reason string) Outcome { return Outcome{Kind: OutcomeSkip, Reason: reason} }
func fatal(err error) Outcome    { return Outcome{Kind: OutcomeFatal, Err: err} }

// Notifier receives trade and status messages.
type Notifier interface {
	Notify(message string)
}

// Engine runs the per-candle trading cycle for the active coin:
// reconcile, synchronize, evaluate, execute, rotate.
type Engine struct {
	exchange *exchange.Exchange
	tracker  *position.Tracker
	executor *Executor
	strat    strategy.Strategy
	rotator  *rotation.Rotator
	ranker   *rotation.Ranker
	store    *state.Store
	notifier Notifier
	sync     *CandleSync
	logger   *logrus.Logger

	cfg        config.StrategyConfig
	maxHold    time.Duration
	coin       string
	firstRun   bool
	switchCoin func(coin string)
	now        func() time.Time
}

func NewEngine(
	ex *exchange.Exchange,
	tracker *position.Tracker,
	executor *Executor,
	strat strategy.Strategy,
	rotator *rotation.Rotator,
	ranker *rotation.Ranker,
	store *state.Store,
	notifier Notifier,
	cfg config.StrategyConfig,
	maxHold time.Duration,
	coin string,
	switchCoin func(coin string),
	logger *logrus.Logger,
) *Engine {
	minutes, err := strconv.Atoi(cfg.CandleInterval)
	if err != nil || minutes < 1 {
		minutes = 3
	}
	return &Engine{
		exchange:   ex,
		tracker:    tracker,
		executor:   executor,
		strat:      strat,
		rotator:    rotator,
		ranker:     ranker,
		store:      store,
		notifier:   notifier,
		sync:       NewCandleSync(time.Duration(minutes) * time.Minute),
		logger:     logger,
		cfg:        cfg,
		maxHold:    maxHold,
		coin:       coin,
		firstRun:   true,
		switchCoin: switchCoin,
		now:        time.Now,
	}
}

func (e *Engine) Coin() string { return e.coin }

// Retarget points the engine at a new coin, resetting strategy state
// and the position tracker. Must be called between cycles.
func (e *Engine) Retarget(coin string) {
	e.coin = coin
	e.strat.Reset()
	e.tracker.Retarget(coin)
	e.firstRun = true
}

// CycleInterval is the candle duration the engine is synchronized to.
func (e *Engine) CycleInterval() time.Duration {
	return e.sync.interval
}

// RunCycle executes one full trading cycle.
func (e *Engine) RunCycle(ctx context.Context) Outcome {
	if out := e.reconcileWallet(ctx); out.Kind != OutcomeProceed {
		return out
	}

	maxWait := 300 * time.Second
	if e.firstRun {
		maxWait = 60 * time.Second
	}
	e.firstRun = false
	if err := e.sync.Wait(ctx, maxWait); err != nil {
		return fatal(err)
	}

	if err := e.tracker.Refresh(ctx); err != nil {
		return skip(fmt.Sprintf("position refresh failed: %v", err))
	}

	candles, err := e.exchange.Candles(ctx, e.coin, e.cfg.CandleInterval, e.cfg.CandleLimit)
	if err != nil {
		return skip(fmt.Sprintf("candle fetch failed: %v", err))
	}
	if len(candles) < 10 {
		return skip(fmt.Sprintf("insufficient candles: %d", len(candles)))
	}

	trendCandles, err := e.exchange.Candles(ctx, e.coin, "30", 16)
	if err != nil {
		e.logger.WithError(err).Warn("Higher timeframe candles unavailable")
		trendCandles = nil
	}

	price, err := e.exchange.ReliablePrice(ctx, e.coin)
	if err != nil {
		return skip(fmt.Sprintf("no reliable price: %v", err))
	}

	peak := e.tracker.ObservePrice(price)

	if e.tracker.IsOpen() {
		e.logger.WithFields(logrus.Fields{
			"coin":     e.coin,
			"pnl":      e.tracker.UnrealizedPnL(price),
			"drawdown": e.tracker.DrawdownFromPeak(price),
		}).Debug("Position status")
	}

	if e.tracker.IsOpen() && e.tracker.HoldDuration(e.now()) > e.maxHold {
		e.logger.Warn("Position exceeded maximum hold time, force closing")
		if err := e.forceClose(ctx); err != nil {
			return skip(fmt.Sprintf("force close failed: %v", err))
		}
		return proceed()
	}

	pos := e.tracker.Position()
	view := strategy.PositionView{
		Open:       pos.IsOpen(),
		EntryPrice: utils.DecimalToFloat(pos.AverageCost),
		PeakPrice:  utils.DecimalToFloat(peak),
		OpenedAt:   pos.OpenedAt,
		NetPnL:     e.tracker.UnrealizedPnL(price),
	}

	decision := e.strat.Evaluate(strategy.Snapshot{
		Candles:      candles,
		TrendCandles: trendCandles,
		Price:        price,
	}, view)

	if decision.Action != strategy.ActionNone {
		e.logger.WithFields(logrus.Fields{
			"action": decision.Action.String(),
			"reason": decision.Reason,
			"coin":   e.coin,
		}).Info("Trade signal")
		if out := e.execute(ctx, decision, view); out.Kind != OutcomeProceed {
			return out
		}

		// Order history can lag the wallet; if the applied fill left the
		// tracker diverged, re-sync from exchange truth before the next
		// decision.
		if desynced, err := e.tracker.CheckDesync(ctx); err != nil {
			e.logger.WithError(err).Warn("Desync check failed")
		} else if desynced {
			if err := e.tracker.Refresh(ctx); err != nil {
				return skip(fmt.Sprintf("post-trade refresh failed: %v", err))
			}
		}
	}

	if !e.tracker.IsOpen() {
		e.maybeRotate(ctx)
	}

	return proceed()
}

// reconcileWallet detects positions held on a different coin than the
// one the engine trades, which happens after crashes mid-switch. The
// controller re-targets the bot to the held coin.
func (e *Engine) reconcileWallet(ctx context.Context) Outcome {
	positions, err := e.exchange.WalletPositions(ctx)
	if err != nil {
		return skip(fmt.Sprintf("wallet check failed: %v", err))
	}
	for _, p := range positions {
		dust, err := e.exchange.IsDust(ctx, p.Coin, p.Size, 0)
		if err != nil || dust {
			continue
		}
		if p.Coin != e.coin {
			e.logger.WithFields(logrus.Fields{
				"held":    p.Coin,
				"trading": e.coin,
			}).Warn("Wallet holds a different coin, switching")
			e.switchCoin(p.Coin)
			return skip("re-targeting to held coin")
		}
	}
	return proceed()
}

func (e *Engine) execute(ctx context.Context, decision strategy.Decision, view strategy.PositionView) Outcome {
	switch decision.Action {
	case strategy.ActionBuy:
		fill, err := e.executor.Buy(ctx, e.coin)
		if err != nil {
			e.logger.WithError(err).Error("Buy failed")
			return skip(fmt.Sprintf("buy failed: %v", err))
		}
		e.strat.RecordTrade(strategy.ActionBuy, e.now())
		openedAt := time.UnixMilli(fill.Timestamp)
		if err := e.store.MarkPositionOpen(e.coin, openedAt); err != nil {
			e.logger.WithError(err).Error("Failed to persist position state")
		}
		e.notifier.Notify(fmt.Sprintf("Bought %s %s at %s (%s)",
			fill.ExecQty.String(), e.coin, fill.AvgPrice.String(), decision.Reason))

	case strategy.ActionSell:
		entry := view.EntryPrice
		fill, err := e.executor.Sell(ctx, e.coin)
		if err != nil {
			e.logger.WithError(err).Error("Sell failed")
			return skip(fmt.Sprintf("sell failed: %v", err))
		}
		e.strat.RecordTrade(strategy.ActionSell, e.now())

		profit := 0.0
		if entry > 0 {
			exit := utils.DecimalToFloat(fill.AvgPrice)
			profit = (exit-entry)/entry - 2*e.cfg.TakerFee
		}
		e.ranker.RecordTradeResult(e.coin, profit)
		if err := e.store.MarkPositionClosed(); err != nil {
			e.logger.WithError(err).Error("Failed to persist position state")
		}
		if err := e.executor.CleanResiduals(ctx, e.coin); err != nil {
			e.logger.WithError(err).Warn("Residual cleanup failed")
		}
		e.notifier.Notify(fmt.Sprintf("Sold %s %s at %s, profit %.4f%% (%s)",
			fill.ExecQty.String(), e.coin, fill.AvgPrice.String(), profit*100, decision.Reason))

	case strategy.ActionSellPartial:
		fill, err := e.executor.SellPartial(ctx, e.coin, decision.Fraction)
		if err != nil {
			e.logger.WithError(err).Error("Partial sell failed")
			return skip(fmt.Sprintf("partial sell failed: %v", err))
		}
		e.strat.RecordTrade(strategy.ActionSellPartial, e.now())
		e.notifier.Notify(fmt.Sprintf("Partially sold %s %s (%s)",
			fill.ExecQty.String(), e.coin, decision.Reason))
	}
	return proceed()
}

func (e *Engine) forceClose(ctx context.Context) error {
	pos := e.tracker.Position()
	entry := utils.DecimalToFloat(pos.AverageCost)

	if err := e.executor.ForceClose(ctx, e.coin); err != nil {
		return err
	}
	e.strat.RecordTrade(strategy.ActionSell, e.now())

	if entry > 0 {
		if price, err := e.exchange.Price(ctx, e.coin); err == nil {
			profit := (price-entry)/entry - 2*e.cfg.TakerFee
			e.ranker.RecordTradeResult(e.coin, profit)
		}
	}
	if err := e.store.MarkPositionClosed(); err != nil {
		e.logger.WithError(err).Error("Failed to persist position state")
	}
	e.notifier.Notify(fmt.Sprintf("Force closed %s position after max hold time", e.coin))
	return nil
}

func (e *Engine) maybeRotate(ctx context.Context) {
	next := e.rotator.Rotate(ctx, e.coin)
	if next == e.coin {
		return
	}
	if err := e.store.MarkRotation(e.rotator.LastRotation()); err != nil {
		e.logger.WithError(err).Error("Failed to persist rotation time")
	}
	e.notifier.Notify(fmt.Sprintf("Rotating from %s to %s", e.coin, next))
	e.switchCoin(next)
}
