package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/internal/exchange"
	"bybit-rotation-bot/internal/notify"
	"bybit-rotation-bot/internal/position"
	"bybit-rotation-bot/internal/profit"
	"bybit-rotation-bot/internal/rotation"
	"bybit-rotation-bot/internal/state"
	"bybit-rotation-bot/internal/strategy"
	"bybit-rotation-bot/internal/trader"
	"bybit-rotation-bot/pkg/bybit"
)

const stopTimeout = 5 * time.Second

// Controller owns the whole trading stack: it wires the exchange
// client, tracker, strategy, rotation machinery and engine together
// and runs the cycle loop on a background goroutine.
type Controller struct {
	cfg      *config.Config
	logger   *logrus.Logger
	notifier notify.Notifier

	store     *state.Store
	exchange  *exchange.Exchange
	tracker   *position.Tracker
	ranker    *rotation.Ranker
	selector  *rotation.Selector
	rotator   *rotation.Rotator
	scheduler *rotation.Scheduler
	profits   *profit.Calculator
	engine    *trader.Engine

	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	requested atomic.Value // string: coin switch requested between cycles
	mu        sync.Mutex
}

// New builds the full stack from configuration and reconciles startup
// state: a live wallet position overrides the persisted coin.
func New(cfg *config.Config, logger *logrus.Logger) (*Controller, error) {
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to init telegram notifier: %w", err)
		}
		notifier = tg
	}

	store, err := state.NewStore(cfg.StateDir, cfg.InitialCoin, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init state store: %w", err)
	}

	client := bybit.NewClient(cfg.Bybit.BaseURL, cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.Timeout, logger)
	ex := exchange.New(client, cfg.QuoteCoin, logger)
	tracker := position.NewTracker(ex, cfg.Strategy.TakerFee, logger)

	ranker, err := rotation.NewRanker(cfg.StateDir, cfg.Ranking, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init ranker: %w", err)
	}
	ranker.AddCoins(cfg.CoinList)

	selector := rotation.NewSelector(ex, cfg.CoinList, cfg.Selector, logger)
	rotator := rotation.NewRotator(ranker, selector, tracker, cfg.Rotation, cfg.Strategy.CandleInterval, logger)
	scheduler := rotation.NewScheduler(ranker, notifier, logger)
	profits := profit.NewCalculator(ex, cfg.QuoteCoin, logger)

	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		notifier:  notifier,
		store:     store,
		exchange:  ex,
		tracker:   tracker,
		ranker:    ranker,
		selector:  selector,
		rotator:   rotator,
		scheduler: scheduler,
		profits:   profits,
		done:      make(chan struct{}),
	}

	coin, err := c.startupCoin()
	if err != nil {
		return nil, err
	}
	tracker.Retarget(coin)
	c.engine = c.buildEngine(coin)
	c.restorePersisted(coin)

	return c, nil
}

func (c *Controller) buildEngine(coin string) *trader.Engine {
	base := strategy.NewMACrossover(c.cfg.Strategy, c.logger)
	var strat strategy.Strategy = base
	if c.cfg.Forecast.Enabled {
		forecaster := strategy.NewHTTPForecaster(c.cfg.Forecast.URL, c.cfg.Forecast.Timeout, c.cfg.Forecast.Steps)
		strat = strategy.NewForecastStrategy(base, forecaster, c.cfg.Forecast, c.logger)
	}

	executor := trader.NewExecutor(c.exchange, c.tracker, c.cfg.MinBalance, c.logger)
	return trader.NewEngine(
		c.exchange, c.tracker, executor, strat,
		c.rotator, c.ranker, c.store, c.notifier,
		c.cfg.Strategy, c.cfg.MaxHoldTime, coin,
		c.RequestSwitch, c.logger,
	)
}

// startupCoin decides which coin to trade on boot. A non-dust wallet
// position wins over whatever the state file says, since the money is
// already committed there.
func (c *Controller) startupCoin() (string, error) {
	persisted := c.store.Get().CurrentCoin

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := c.exchange.WalletPositions(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Startup wallet check failed, using persisted coin")
		return persisted, nil
	}
	for _, p := range positions {
		dust, err := c.exchange.IsDust(ctx, p.Coin, p.Size, 0)
		if err != nil || dust {
			continue
		}
		if p.Coin != persisted {
			c.logger.WithFields(logrus.Fields{
				"persisted": persisted,
				"held":      p.Coin,
			}).Warn("Wallet position overrides persisted coin")
			if err := c.store.SetCoin(p.Coin); err != nil {
				return "", err
			}
			c.ranker.AddCoin(p.Coin)
		}
		return p.Coin, nil
	}
	return persisted, nil
}

func (c *Controller) restorePersisted(coin string) {
	st := c.store.Get()
	if st.PositionCoin == coin && st.PositionOpenTime != nil {
		c.tracker.SetOpenedAt(*st.PositionOpenTime)
	}
	if st.LastRotationTime != nil {
		c.rotator.RestoreLastRotation(*st.LastRotationTime)
	}
}

// Start launches the trading loop. Idempotent: a second call while
// running is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("already running")
	}

	if err := c.scheduler.Start(); err != nil {
		c.running.Store(false)
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.loop(ctx)

	c.logger.WithField("coin", c.engine.Coin()).Info("Trading loop started")
	c.notifier.Notify(fmt.Sprintf("Bot started, trading %s", c.engine.Coin()))
	return nil
}

// Stop cancels the loop and waits up to five seconds for it to drain.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.CompareAndSwap(true, false) {
		return fmt.Errorf("not running")
	}
	c.cancel()
	c.scheduler.Stop()

	select {
	case <-c.done:
	case <-time.After(stopTimeout):
		c.logger.Warn("Trading loop did not stop in time")
	}

	c.logger.Info("Trading loop stopped")
	c.notifier.Notify("Bot stopped")
	return nil
}

// Status reports whether the loop runs and on which coin.
func (c *Controller) Status() (running bool, coin string) {
	return c.running.Load(), c.engine.Coin()
}

// RequestSwitch asks the loop to move to a new coin between cycles.
// Safe to call from any goroutine.
func (c *Controller) RequestSwitch(coin string) {
	c.requested.Store(coin)
}

// ProfitStats returns realized profit over the standard windows.
func (c *Controller) ProfitStats(ctx context.Context) (profit.Stats, error) {
	return c.profits.Stats(ctx)
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.applyPendingSwitch()

		started := time.Now()
		outcome := c.engine.RunCycle(ctx)

		if outcome.Kind == trader.OutcomeFatal {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(outcome.Err).Error("Fatal cycle error")
			c.notifier.Notify(fmt.Sprintf("Trading loop stopped on error: %v", outcome.Err))
			c.running.Store(false)
			return
		}

		if outcome.Kind == trader.OutcomeSkip {
			c.logger.WithField("reason", outcome.Reason).Info("Cycle skipped")
			if !sleepCtx(ctx, c.cfg.CycleCooldown) {
				return
			}
			continue
		}

		// Pace the loop to the candle interval, with a floor that
		// keeps reconciliation responsive.
		elapsed := time.Since(started)
		rest := c.engine.CycleInterval() - elapsed
		if rest < 10*time.Second {
			rest = 10 * time.Second
		}
		if !sleepCtx(ctx, rest) {
			return
		}
	}
}

func (c *Controller) applyPendingSwitch() {
	v := c.requested.Load()
	if v == nil {
		return
	}
	coin, ok := v.(string)
	if !ok || coin == "" || coin == c.engine.Coin() {
		return
	}
	c.requested.Store("")

	c.ranker.AddCoin(coin)
	c.ranker.RecordSelection(coin, false)
	c.engine.Retarget(coin)
	if err := c.store.SetCoin(coin); err != nil {
		c.logger.WithError(err).Error("Failed to persist coin switch")
	}
	c.logger.WithField("coin", coin).Info("Switched trading coin")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
