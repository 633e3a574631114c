package bybit

import (
	"context"

	"golang.org/x/time/rate"
)

// limiter throttles public and private endpoints separately. Bybit
// enforces tighter budgets on signed endpoints, so private calls get a
// smaller bucket.
type limiter struct {
	public  *rate.Limiter
	private *rate.Limiter
}

func newLimiter() *limiter {
	return &limiter{
		public:  rate.NewLimiter(rate.Limit(10), 10),
		private: rate.NewLimiter(rate.Limit(5), 5),
	}
}

func (l *limiter) waitPublic(ctx context.Context) error {
	return l.public.Wait(ctx)
}

func (l *limiter) waitPrivate(ctx context.Context) error {
	return l.private.Wait(ctx)
}
