package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNextSleep(t *testing.T) {
	tests := []struct {
		name      string
		remaining time.Duration
		wantSleep time.Duration
		wantOK    bool
	}{
		{"far away is capped at one second", 10 * time.Minute, time.Second, true},
		{"just over two seconds halves to the cap", 2 * time.Second, time.Second, true},
		{"between one and two seconds halves", 1500 * time.Millisecond, 750 * time.Millisecond, true},
		{"exactly one second is precision mode", time.Second, time.Millisecond, true},
		{"under one second is precision mode", 300 * time.Millisecond, time.Millisecond, true},
		{"one nanosecond is precision mode", time.Nanosecond, time.Millisecond, true},
		{"zero returns", 0, 0, false},
		{"past returns", -5 * time.Second, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleep, ok := nextSleep(tt.remaining)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantSleep, sleep)
		})
	}
}

func TestNextSleepHalvesAboveOneSecond(t *testing.T) {
	for remaining := 1001 * time.Millisecond; remaining < 5*time.Second; remaining += 37 * time.Millisecond {
		sleep, ok := nextSleep(remaining)
		require.True(t, ok)

		want := remaining / 2
		if want > time.Second {
			want = time.Second
		}
		assert.Equal(t, want, sleep, "remaining %v", remaining)
	}
}

func TestCountdownPastTargetDoesNotSleep(t *testing.T) {
	clock := newFakeClock()
	countdown := NewCountdown(clock, CountdownConfig{}, zaptest.NewLogger(t))

	err := countdown.WaitUntil(context.Background(), clock.Now().Add(-5*time.Second))
	require.NoError(t, err)
	assert.Empty(t, clock.sleeps)
}

func TestCountdownPastTargetWallClock(t *testing.T) {
	countdown := NewCountdown(systemClock{}, CountdownConfig{}, zaptest.NewLogger(t))

	start := time.Now()
	err := countdown.WaitUntil(context.Background(), time.Now().Add(-5*time.Second))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestCountdownReachesTarget(t *testing.T) {
	clock := newFakeClock()
	target := clock.Now().Add(10 * time.Second)
	countdown := NewCountdown(clock, CountdownConfig{}, zaptest.NewLogger(t))

	require.NoError(t, countdown.WaitUntil(context.Background(), target))

	assert.False(t, clock.Now().Before(target), "returned before target")
	assert.LessOrEqual(t, clock.Now().Sub(target), time.Millisecond, "overshot by more than one quantum")
	for _, sleep := range clock.sleeps {
		assert.LessOrEqual(t, sleep, time.Second)
	}
}

func TestCountdownAppliesOffsetAndNetworkDelay(t *testing.T) {
	tests := []struct {
		name      string
		config    CountdownConfig
		fireEarly time.Duration
	}{
		{"clock behind authority", CountdownConfig{Offset: 2 * time.Second}, 2 * time.Second},
		{"clock ahead of authority", CountdownConfig{Offset: -time.Second}, -time.Second},
		{"network delay compensation", CountdownConfig{NetworkDelay: 300 * time.Millisecond}, 300 * time.Millisecond},
		{"both", CountdownConfig{Offset: 500 * time.Millisecond, NetworkDelay: 100 * time.Millisecond}, 600 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			target := clock.Now().Add(30 * time.Second)
			countdown := NewCountdown(clock, tt.config, zaptest.NewLogger(t))

			require.NoError(t, countdown.WaitUntil(context.Background(), target))

			fireAt := target.Add(-tt.fireEarly)
			assert.False(t, clock.Now().Before(fireAt))
			assert.LessOrEqual(t, clock.Now().Sub(fireAt), time.Millisecond)
		})
	}
}

func TestCountdownCancel(t *testing.T) {
	clock := newFakeClock()
	countdown := NewCountdown(clock, CountdownConfig{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := countdown.WaitUntil(ctx, clock.Now().Add(time.Minute))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemClockSleepCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := systemClock{}.Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
