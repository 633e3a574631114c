package strategy

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
	"bybit-rotation-bot/pkg/models"
	"bybit-rotation-bot/pkg/utils"
)

const (
	flatVolatilityThreshold = 0.0008
	flatMaxNoGrowth         = 25
	minHoldForFlat          = time.Hour
	dynamicStopGate         = 10 * time.Minute
	timeExitLoss            = time.Hour
	timeExitDeepLoss        = 30 * time.Minute
	deepLossLevel           = -0.005
	tuneEvery               = 50
	rangeWindow             = 20
	volumeLookback          = 20
	atrVolumeMult           = 1500
	minAvgPrice             = 0.01
	atrPeriod               = 14
	rsiPeriod               = 14
	sellProfitMargin        = 0.001
	minRiskReward           = 2.0
)

// MACrossover trades EMA crossovers on a single symbol. One instance
// tracks one coin; evaluation is driven once per engine cycle and only
// acts when a new candle has closed. Signals must survive a
// confirmation window of consecutive candles before they fire.
type MACrossover struct {
	cfg    config.StrategyConfig
	logger *logrus.Logger
	now    func() time.Time

	// tunable thresholds, adjusted by the self-tuning pass
	minCross float64
	minSlope float64

	lastCandleTS  int64
	prevFast      float64
	prevSlow      float64
	emaHistory    []float64
	pending       Action
	confirmCount  int
	crossedDown   bool
	flatCounter   int
	partialTaken  bool
	lastTradeTime time.Time

	evaluations    int
	executedTrades int
}

func NewMACrossover(cfg config.StrategyConfig, logger *logrus.Logger) *MACrossover {
	return &MACrossover{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		minCross: cfg.MinCrossStrength,
		minSlope: cfg.MinSlope,
	}
}

func (s *MACrossover) Name() string { return "ma_crossover" }

// Reset clears all per-coin state. Called when the controller switches
// to a new coin.
func (s *MACrossover) Reset() {
	s.lastCandleTS = 0
	s.prevFast = 0
	s.prevSlow = 0
	s.emaHistory = nil
	s.pending = ActionNone
	s.confirmCount = 0
	s.crossedDown = false
	s.flatCounter = 0
	s.partialTaken = false
	s.lastTradeTime = time.Time{}
}

// RecordTrade updates internal state after an executed order.
func (s *MACrossover) RecordTrade(action Action, at time.Time) {
	s.lastTradeTime = at
	s.executedTrades++
	switch action {
	case ActionBuy:
		s.crossedDown = false
		s.flatCounter = 0
		s.partialTaken = false
	case ActionSell:
		s.flatCounter = 0
		s.partialTaken = false
		s.crossedDown = false
	case ActionSellPartial:
		s.partialTaken = true
	}
}

// Evaluate runs one pass of the state machine. It returns ActionNone
// unless a new candle has closed since the previous call and an exit
// rule or a confirmed entry signal fires.
func (s *MACrossover) Evaluate(snap Snapshot, pos PositionView) Decision {
	candles := snap.Candles
	if len(candles) == 0 || snap.Price <= 0 {
		return Decision{Action: ActionNone}
	}

	latest := candles[len(candles)-1]
	if latest.Timestamp == s.lastCandleTS {
		return Decision{Action: ActionNone}
	}
	s.lastCandleTS = latest.Timestamp

	if len(candles) < s.cfg.TrendPeriod {
		s.logger.Debug("Not enough candles for analysis")
		return Decision{Action: ActionNone}
	}

	s.evaluations++
	defer s.maybeTune()

	cls := closes(candles)
	highs, lows, _ := highsLowsCloses(candles)

	fastSeries := ema(cls, s.cfg.FastPeriod)
	slowSeries := ema(cls, s.cfg.SlowPeriod)
	trendSeries := ema(cls, s.cfg.TrendPeriod)
	if fastSeries == nil || slowSeries == nil || trendSeries == nil {
		return Decision{Action: ActionNone}
	}
	fast := last(fastSeries)
	slow := last(slowSeries)

	s.emaHistory = append(s.emaHistory, fast)
	if len(s.emaHistory) > 10 {
		s.emaHistory = s.emaHistory[1:]
	}
	slope := s.fastSlope()

	vol := utils.LogReturnVolatility(cls, s.cfg.TrendPeriod)
	volFactor := 1.0
	if vol > 0 {
		volFactor = math.Min(5.0, vol*100/0.05)
	}

	minProfitDynamic := math.Max(s.cfg.MinProfit,
		math.Max(s.cfg.TakerFee*2+0.0003, vol*1.5))

	atrSeries := atr(highs, lows, cls, atrPeriod)
	currentATR := last(atrSeries)
	rsiSeries := rsi(cls, rsiPeriod)
	currentRSI := last(rsiSeries)

	defer func() {
		s.prevFast = fast
		s.prevSlow = slow
	}()

	if pos.Open {
		if d := s.checkExits(snap, pos, vol, minProfitDynamic, currentATR, fast, slow); d.Action != ActionNone {
			return d
		}
	}

	// A pending signal counts down across candles; a cross against it
	// cancels it outright.
	if s.pending == ActionBuy {
		if s.prevFast >= s.prevSlow && fast < slow {
			s.logger.Info("Pending buy cancelled by opposite cross")
			s.pending = ActionNone
			s.confirmCount = 0
		} else {
			s.confirmCount++
			if s.confirmCount >= s.cfg.ConfirmationCycles {
				s.pending = ActionNone
				s.confirmCount = 0
				return Decision{Action: ActionBuy, Reason: "confirmed crossover entry"}
			}
			s.logger.WithFields(logrus.Fields{
				"count":  s.confirmCount,
				"needed": s.cfg.ConfirmationCycles,
			}).Info("Waiting for signal confirmation")
			return Decision{Action: ActionNone}
		}
	}

	s.trackCrossDown(fast, slow, pos)

	if pos.Open {
		return s.checkSignalExit(pos, fast, slow, minProfitDynamic)
	}
	return s.checkEntry(snap, cls, fast, slow, slope, volFactor, currentATR, currentRSI, latest)
}

// fastSlope averages the last two relative changes of the fast EMA.
func (s *MACrossover) fastSlope() float64 {
	n := len(s.emaHistory)
	if n < 3 {
		if n == 2 && s.emaHistory[0] > 0 {
			return (s.emaHistory[1] - s.emaHistory[0]) / s.emaHistory[0]
		}
		return 0
	}
	sum := 0.0
	count := 0
	for i := n - 2; i < n; i++ {
		if s.emaHistory[i-1] > 0 {
			sum += (s.emaHistory[i] - s.emaHistory[i-1]) / s.emaHistory[i-1]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func (s *MACrossover) holdDuration(pos PositionView) time.Duration {
	ref := s.lastTradeTime
	if ref.IsZero() {
		ref = pos.OpenedAt
	}
	if ref.IsZero() {
		return 0
	}
	return s.now().Sub(ref)
}

// checkExits runs the risk exits in priority order: emergency stop,
// time exits, flat-market exits, trailing stop, dynamic stop loss and
// partial exit.
func (s *MACrossover) checkExits(snap Snapshot, pos PositionView, vol, minProfitDynamic, currentATR, fast, slow float64) Decision {
	pnl := pos.NetPnL
	held := s.holdDuration(pos)

	if pnl < s.cfg.EmergencyStop {
		return Decision{Action: ActionSell, Reason: "emergency stop"}
	}

	if held > timeExitLoss && pnl < 0 {
		return Decision{Action: ActionSell, Reason: "held over an hour at a loss"}
	}
	if held > timeExitDeepLoss && pnl < deepLossLevel {
		return Decision{Action: ActionSell, Reason: "held over 30m past loss limit"}
	}

	// Flat market: the price stopped making new highs.
	if snap.Price > pos.PeakPrice {
		s.flatCounter = 0
	} else {
		s.flatCounter++
	}
	if s.flatCounter >= flatMaxNoGrowth && pnl > 0 && held > minHoldForFlat {
		s.flatCounter = 0
		return Decision{Action: ActionSell, Reason: "no growth, exiting at breakeven"}
	}
	if vol < flatVolatilityThreshold && pnl >= -0.001 && held > minHoldForFlat {
		return Decision{Action: ActionSell, Reason: "flat market exit"}
	}

	// Trailing stop arms once the take-profit level has been reached.
	if pos.EntryPrice > 0 && pos.PeakPrice >= pos.EntryPrice*(1+minProfitDynamic) {
		trailingStop := pos.PeakPrice * (1 - s.cfg.TrailingDistance)
		if snap.Price <= trailingStop {
			return Decision{Action: ActionSell, Reason: "trailing stop"}
		}
	}

	dynamicStop := s.cfg.MaxLoss
	if pos.EntryPrice > 0 {
		atrContribution := currentATR * 2.5 / pos.EntryPrice
		dynamicStop = math.Max(dynamicStop, atrContribution)
	}
	if pnl <= -dynamicStop && held > dynamicStopGate {
		return Decision{Action: ActionSell, Reason: "stop loss"}
	}

	if pnl < s.cfg.PartialExitLevel && !s.partialTaken {
		return Decision{
			Action:   ActionSellPartial,
			Reason:   "partial de-risk on drawdown",
			Fraction: s.cfg.PartialExitRatio,
		}
	}

	return Decision{Action: ActionNone}
}

func (s *MACrossover) trackCrossDown(fast, slow float64, pos PositionView) {
	if s.prevFast == 0 || s.prevSlow == 0 {
		return
	}
	if s.prevFast <= s.prevSlow && fast > slow && s.crossedDown {
		s.logger.Info("Exit flag cleared, upward cross")
		s.crossedDown = false
	}
	if s.prevFast >= s.prevSlow && fast < slow && pos.Open {
		s.crossedDown = true
		s.logger.Info("Downward cross, exit flag set")
	}
}

// checkSignalExit sells on a confirmed downward cross once the minimum
// hold time has passed and the position clears the dynamic profit
// floor. A fast EMA back above slow cancels the flag as a false cross.
func (s *MACrossover) checkSignalExit(pos PositionView, fast, slow, minProfitDynamic float64) Decision {
	if !s.crossedDown {
		return Decision{Action: ActionNone}
	}
	if s.holdDuration(pos) < s.cfg.MinHoldTime {
		return Decision{Action: ActionNone}
	}
	if pos.NetPnL >= minProfitDynamic+sellProfitMargin {
		return Decision{Action: ActionSell, Reason: "crossover exit in profit"}
	}
	if fast > slow {
		s.crossedDown = false
	}
	return Decision{Action: ActionNone}
}

func (s *MACrossover) checkEntry(snap Snapshot, cls []float64, fast, slow, slope, volFactor, currentATR, currentRSI float64, latest models.Candle) Decision {
	price := snap.Price
	if price < minAvgPrice {
		return Decision{Action: ActionNone}
	}

	if currentRSI > s.cfg.RSIOverbought {
		s.logger.WithField("rsi", currentRSI).Debug("Skipping entry, overbought")
		return Decision{Action: ActionNone}
	}

	// Chasing filter: only buy near the candle low.
	if latest.Low > 0 && (price-latest.Low)/latest.Low > 0.005 {
		return Decision{Action: ActionNone}
	}

	if s.prevFast == 0 || s.prevSlow == 0 {
		return Decision{Action: ActionNone}
	}

	vols := volumesOf(snap.Candles)
	recentVols := vols[max(0, len(vols)-volumeLookback):]
	if maxOf(recentVols) == 0 {
		s.logger.Warn("Zero volume in recent candles, skipping entry")
		return Decision{Action: ActionNone}
	}
	currentVolume := vols[len(vols)-1]
	volumeRatio := 1.0
	if avg := meanOf(recentVols); avg > 0 {
		volumeRatio = currentVolume / avg
	}

	upper, lower := rangeBounds(cls, rangeWindow)
	levelDelta := (upper - lower) * 0.02

	adaptiveCross := math.Max(s.minCross, math.Min(0.01, volFactor*s.minCross))
	adaptiveSlope := math.Max(s.minSlope, math.Min(0.005, volFactor*s.minSlope))
	adaptiveVolume := math.Max(0.01, math.Min(1.0, 0.5/volFactor))
	if volFactor < 0.8 {
		adaptiveCross *= 0.7
		adaptiveSlope *= 0.6
		adaptiveVolume *= 0.5
	} else if volFactor > 1.5 {
		adaptiveCross *= 1.3
		adaptiveSlope *= 1.4
		adaptiveVolume *= 1.2
	}

	crossDiff := 0.0
	if slow > 0 {
		crossDiff = (fast - slow) / slow
	}

	trendStrength := 0
	if len(s.emaHistory) >= 5 {
		for i := 1; i <= 5 && i < len(s.emaHistory); i++ {
			if s.emaHistory[len(s.emaHistory)-i] > s.prevSlow {
				trendStrength++
			}
		}
	}

	recentHigh := maxOf(cls[max(0, len(cls)-6):len(cls)-1])

	freshCross := s.prevFast <= s.prevSlow && fast > slow
	continuation := trendStrength >= s.cfg.RequiredTrendScore &&
		fast > slow && slope > 0 && price > recentHigh

	if freshCross || continuation {
		if trendStrength < s.cfg.RequiredTrendScore && !freshCross {
			return Decision{Action: ActionNone}
		}

		if currentVolume < currentATR*atrVolumeMult {
			s.logger.WithFields(logrus.Fields{
				"volume":    currentVolume,
				"threshold": currentATR * atrVolumeMult,
			}).Debug("Skipping entry, volume below ATR threshold")
			return Decision{Action: ActionNone}
		}

		// Anti-churn: quiet markets get a longer re-entry interval.
		if !s.lastTradeTime.IsZero() {
			adjustment := math.Max(0.5, math.Min(2.0, volFactor))
			minInterval := time.Duration(float64(s.cfg.MinHoldTime) / adjustment)
			if s.now().Sub(s.lastTradeTime) < minInterval {
				s.logger.Debug("Skipping entry, re-entry interval not elapsed")
				return Decision{Action: ActionNone}
			}
		}

		conditionCross := crossDiff >= adaptiveCross
		conditionSlope := slope >= adaptiveSlope
		conditionVolume := volumeRatio >= adaptiveVolume
		conditionsMet := 0
		if conditionCross {
			conditionsMet++
		}
		if conditionSlope {
			conditionsMet++
		}
		if conditionVolume {
			conditionsMet++
		}

		strongSlope := slope >= adaptiveSlope*3 && (conditionCross || conditionVolume)

		if conditionsMet < 2 && !strongSlope {
			return Decision{Action: ActionNone}
		}

		// Range-top filter; strong momentum exempts itself.
		strongTrend := slope > adaptiveSlope*2 || volumeRatio > 1.5
		if price > upper-levelDelta && !strongTrend {
			s.logger.Debug("Skipping entry, price near top of range")
			return Decision{Action: ActionNone}
		}

		if !riskRewardOK(currentATR) {
			return Decision{Action: ActionNone}
		}

		if hourlyTrend(snap.TrendCandles) < 0 {
			s.logger.Info("Skipping entry, higher timeframe downtrend")
			return Decision{Action: ActionNone}
		}

		s.pending = ActionBuy
		s.confirmCount = 1
		s.logger.WithField("type", entryType(freshCross)).Info("Preliminary buy signal, awaiting confirmation")
		return Decision{Action: ActionNone}
	}

	return s.checkBounceEntry(cls, price, fast, upper, levelDelta, currentATR, snap.TrendCandles)
}

// checkBounceEntry arms a buy when a sustained decline turns up near
// the bottom of the recent range.
func (s *MACrossover) checkBounceEntry(cls []float64, price, fast, upper, levelDelta, currentATR float64, trendCandles []models.Candle) Decision {
	n := len(cls)
	if n <= 8 {
		return Decision{Action: ActionNone}
	}
	declining := true
	for i := 7; i > 2; i-- {
		if cls[n-i] >= cls[n-i-1] {
			declining = false
			break
		}
	}
	if !declining || cls[n-2] >= cls[n-1] {
		return Decision{Action: ActionNone}
	}
	if price >= fast*1.01 || price >= upper-levelDelta {
		return Decision{Action: ActionNone}
	}
	if !riskRewardOK(currentATR) {
		return Decision{Action: ActionNone}
	}
	if hourlyTrend(trendCandles) < 0 {
		return Decision{Action: ActionNone}
	}

	s.pending = ActionBuy
	s.confirmCount = 1
	s.logger.Info("Preliminary bounce buy signal, awaiting confirmation")
	return Decision{Action: ActionNone}
}

// maybeTune loosens thresholds when almost no signals execute and
// tightens them when too many do.
func (s *MACrossover) maybeTune() {
	if s.evaluations == 0 || s.evaluations%tuneEvery != 0 {
		return
	}
	ratio := float64(s.executedTrades) / float64(s.evaluations)
	switch {
	case ratio < 0.1:
		s.minCross *= 0.9
		s.minSlope *= 0.85
	case ratio > 0.3:
		s.minCross *= 1.1
		s.minSlope *= 1.15
	default:
		return
	}
	s.logger.WithFields(logrus.Fields{
		"ratio":     ratio,
		"min_cross": s.minCross,
		"min_slope": s.minSlope,
	}).Info("Thresholds tuned")
}

// hourlyTrend compares short and medium EMAs on the higher timeframe:
// 1 up, -1 down, 0 unknown or sideways.
func hourlyTrend(candles []models.Candle) int {
	if len(candles) < 10 {
		return 0
	}
	cls := closes(candles)
	short := last(ema(cls, 5))
	medium := last(ema(cls, 10))
	switch {
	case short > medium:
		return 1
	case short < medium:
		return -1
	default:
		return 0
	}
}

// riskRewardOK sizes risk at 2 ATR against a 4 ATR target.
func riskRewardOK(currentATR float64) bool {
	risk := currentATR * 2
	reward := currentATR * 4
	if risk <= 0 {
		return false
	}
	return reward/risk >= minRiskReward
}

func entryType(freshCross bool) string {
	if freshCross {
		return "new crossover"
	}
	return "trend continuation"
}

func rangeBounds(cls []float64, window int) (upper, lower float64) {
	start := max(0, len(cls)-window)
	upper = cls[start]
	lower = cls[start]
	for _, v := range cls[start:] {
		if v > upper {
			upper = v
		}
		if v < lower {
			lower = v
		}
	}
	return
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
