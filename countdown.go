package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	coarseSleepCap   = time.Second
	precisionQuantum = time.Millisecond
)

// CountdownConfig is fixed at construction; nothing in the scheduler reads
// process-wide state.
type CountdownConfig struct {
	Offset       time.Duration
	NetworkDelay time.Duration
}

// Countdown blocks until the calibrated clock reaches target − NetworkDelay.
type Countdown struct {
	clock  Clock
	config CountdownConfig
	logger *zap.Logger
}

func NewCountdown(clock Clock, config CountdownConfig, logger *zap.Logger) *Countdown {
	return &Countdown{clock: clock, config: config, logger: logger}
}

// nextSleep picks the next sleep for the given remaining time. The second
// return is false once the deadline has been reached.
func nextSleep(remaining time.Duration) (time.Duration, bool) {
	if remaining <= 0 {
		return 0, false
	}
	if remaining > coarseSleepCap {
		half := remaining / 2
		if half > coarseSleepCap {
			half = coarseSleepCap
		}
		return half, true
	}
	return precisionQuantum, true
}

func (c *Countdown) remaining(target time.Time) time.Duration {
	calibratedNow := c.clock.Now().Add(c.config.Offset)
	return target.Sub(calibratedNow) - c.config.NetworkDelay
}

// WaitUntil returns nil at the deadline, or ctx.Err() if interrupted.
func (c *Countdown) WaitUntil(ctx context.Context, target time.Time) error {
	c.logger.Info("waiting for target time",
		zap.Time("target", target),
		zap.Duration("offset", c.config.Offset),
		zap.Duration("network_delay", c.config.NetworkDelay))

	var lastReport time.Time
	for {
		remaining := c.remaining(target)
		sleep, ok := nextSleep(remaining)
		if !ok {
			c.logger.Info("target time reached", zap.Duration("late_by", -remaining))
			return nil
		}

		if now := c.clock.Now(); now.Sub(lastReport) >= reportEvery(remaining) {
			lastReport = now
			c.logger.Info("countdown", zap.Duration("remaining", remaining.Round(100*time.Millisecond)))
		}

		if err := c.clock.Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

func reportEvery(remaining time.Duration) time.Duration {
	switch {
	case remaining > time.Minute:
		return 10 * time.Second
	case remaining > 2*time.Second:
		return time.Second
	default:
		// the final stretch is too hot to log
		return time.Hour
	}
}
