package trader

import (
	"context"
	"time"
)

// CandleSync aligns cycle execution with candle boundaries so the
// strategy always evaluates a freshly closed candle.
type CandleSync struct {
	interval time.Duration
	now      func() time.Time
}

func NewCandleSync(interval time.Duration) *CandleSync {
	return &CandleSync{
		interval: interval,
		now:      time.Now,
	}
}

// UntilNextCandle returns the duration until the next candle boundary.
func (c *CandleSync) UntilNextCandle() time.Duration {
	now := c.now()
	elapsed := now.UnixNano() % c.interval.Nanoseconds()
	if elapsed == 0 {
		return 0
	}
	return time.Duration(c.interval.Nanoseconds() - elapsed)
}

// Wait blocks until the next candle boundary, capped at maxWait, or
// until the context is cancelled.
func (c *CandleSync) Wait(ctx context.Context, maxWait time.Duration) error {
	wait := c.UntilNextCandle()
	if wait <= time.Second {
		return nil
	}
	if wait > maxWait {
		wait = maxWait
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
