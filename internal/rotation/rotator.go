package rotation

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bybit-rotation-bot/internal/config"
)

// PositionGuard reports whether an open position forbids rotation.
type PositionGuard interface {
	IsOpen() bool
}

// Rotator decides when and where to move the single trading slot. It
// never rotates while a position is open, before the minimum hold in
// candles has elapsed, or before the rotation interval is due.
type Rotator struct {
	ranker   *Ranker
	selector *Selector
	guard    PositionGuard
	cfg      config.RotationConfig
	interval string
	logger   *logrus.Logger

	lastRotation time.Time
	now          func() time.Time
}

func NewRotator(ranker *Ranker, selector *Selector, guard PositionGuard, cfg config.RotationConfig, candleInterval string, logger *logrus.Logger) *Rotator {
	return &Rotator{
		ranker:   ranker,
		selector: selector,
		guard:    guard,
		cfg:      cfg,
		interval: candleInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// RestoreLastRotation seeds the rotation clock from persisted state.
func (r *Rotator) RestoreLastRotation(ts time.Time) {
	r.lastRotation = ts
}

func (r *Rotator) candleDuration() time.Duration {
	minutes, err := strconv.Atoi(r.interval)
	if err != nil || minutes < 1 {
		minutes = 3
	}
	return time.Duration(minutes) * time.Minute
}

// ShouldRotate checks the rotation preconditions.
func (r *Rotator) ShouldRotate() bool {
	if r.guard.IsOpen() {
		return false
	}
	if r.lastRotation.IsZero() {
		return true
	}
	held := r.now().Sub(r.lastRotation)
	heldCandles := float64(held) / float64(r.candleDuration())
	if heldCandles < float64(r.cfg.MinHoldCandles) {
		return false
	}
	return held >= r.cfg.Interval
}

// Rotate returns the coin to trade next. The ranker's overall best
// coin wins; the selector's market scores only gate whether any
// candidate besides the current coin exists at all. When nothing
// qualifies the current coin is kept.
func (r *Rotator) Rotate(ctx context.Context, current string) string {
	if !r.ShouldRotate() {
		return current
	}

	topN := r.selector.cfg.TopN
	if topN <= 0 {
		topN = 5
	}
	bestCoins := r.ranker.BestCoins(topN)

	topScored, err := r.selector.TopCoins(ctx, topN)
	if err != nil {
		r.logger.WithError(err).Warn("Selector unavailable, keeping current coin")
		return current
	}

	candidates := make(map[string]struct{})
	for _, coin := range bestCoins {
		candidates[coin] = struct{}{}
	}
	for _, coin := range topScored {
		candidates[coin] = struct{}{}
	}
	delete(candidates, current)

	if len(candidates) == 0 || len(bestCoins) == 0 {
		r.logger.Info("No rotation candidates, keeping current coin")
		return current
	}

	next := bestCoins[0]
	if next == current {
		return current
	}

	r.lastRotation = r.now()
	r.ranker.RecordSelection(next, true)

	r.logger.WithFields(logrus.Fields{
		"from": current,
		"to":   next,
	}).Info("Rotating coins")
	return next
}

// LastRotation exposes the rotation clock for persistence.
func (r *Rotator) LastRotation() time.Time {
	return r.lastRotation
}
