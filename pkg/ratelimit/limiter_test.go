package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instant replaces the timer and records requested delays
func instant(f *FixedDelay) *[]time.Duration {
	var delays []time.Duration
	f.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return &delays
}

func TestFixedDelayFirstWaitIsFree(t *testing.T) {
	f := NewFixedDelay(time.Second)
	delays := instant(f)

	require.NoError(t, f.Wait(context.Background()))
	assert.Empty(t, *delays)

	require.NoError(t, f.Wait(context.Background()))
	require.NoError(t, f.Wait(context.Background()))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *delays)
	assert.Equal(t, 2, f.Waits())
}

func TestFixedDelayReset(t *testing.T) {
	f := NewFixedDelay(time.Second)
	delays := instant(f)

	require.NoError(t, f.Wait(context.Background()))
	require.NoError(t, f.Wait(context.Background()))
	f.Reset()
	require.NoError(t, f.Wait(context.Background()))

	assert.Len(t, *delays, 1)
}

func TestFixedDelayZero(t *testing.T) {
	f := NewFixedDelay(0)
	delays := instant(f)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.Empty(t, *delays)
	assert.Equal(t, time.Duration(0), f.Delay())
}

func TestFixedDelayCancelledWhileWaiting(t *testing.T) {
	f := NewFixedDelay(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.Wait(ctx))

	done := make(chan error, 1)
	go func() { done <- f.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.Equal(t, 0, f.Waits())
}

func TestFixedDelayCancelledBeforeWait(t *testing.T) {
	f := NewFixedDelay(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.Wait(ctx), context.Canceled)
}

func TestFixedDelayRealTimer(t *testing.T) {
	f := NewFixedDelay(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, f.Wait(context.Background()))
	require.NoError(t, f.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
