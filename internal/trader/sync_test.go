package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilNextCandle(t *testing.T) {
	t.Parallel()

	sync := NewCandleSync(3 * time.Minute)

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{
			name: "on the boundary",
			now:  time.Unix(180, 0),
			want: 0,
		},
		{
			name: "one second in",
			now:  time.Unix(181, 0),
			want: 179 * time.Second,
		},
		{
			name: "one second before",
			now:  time.Unix(359, 0),
			want: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync.now = func() time.Time { return tt.now }
			assert.Equal(t, tt.want, sync.UntilNextCandle())
		})
	}
}

func TestWait_ReturnsImmediatelyNearBoundary(t *testing.T) {
	t.Parallel()

	sync := NewCandleSync(3 * time.Minute)
	sync.now = func() time.Time { return time.Unix(359, 500_000_000) }

	start := time.Now()
	require.NoError(t, sync.Wait(context.Background(), time.Minute))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWait_CapsAtMaxWait(t *testing.T) {
	t.Parallel()

	sync := NewCandleSync(3 * time.Minute)
	// 170s until the boundary, capped well below that.
	sync.now = func() time.Time { return time.Unix(190, 0) }

	start := time.Now()
	require.NoError(t, sync.Wait(context.Background(), 50*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWait_HonorsContextCancellation(t *testing.T) {
	t.Parallel()

	sync := NewCandleSync(3 * time.Minute)
	sync.now = func() time.Time { return time.Unix(190, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := sync.Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
