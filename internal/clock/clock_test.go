package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualAdvanceFiresInOrder(t *testing.T) {
	c := NewManual(time.UnixMilli(0))
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	late := c.AfterFunc(5*time.Second, func() { fired = append(fired, "late") })

	c.Advance(3 * time.Second)
	require.Equal(t, []string{"a", "b"}, fired)
	require.Equal(t, int64(3000), UnixMilli(c))
	require.Equal(t, 1, c.Pending())

	require.True(t, late.Stop())
	require.False(t, late.Stop())
	c.Advance(10 * time.Second)
	require.Equal(t, []string{"a", "b"}, fired)
}

func TestManualTimerCanReschedule(t *testing.T) {
	c := NewManual(time.UnixMilli(0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	require.Equal(t, 3, count)
	require.Zero(t, c.Pending())
}

func TestManualSleepAdvances(t *testing.T) {
	c := NewManual(time.UnixMilli(1000))
	require.NoError(t, c.Sleep(context.Background(), 100*time.Millisecond))
	require.Equal(t, int64(1100), UnixMilli(c))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
	require.Equal(t, int64(1100), UnixMilli(c))
}

func TestRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Real{}.Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Real{}.Sleep(context.Background(), time.Millisecond))
}
