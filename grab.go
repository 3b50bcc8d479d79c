package main

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GrabPhase is the state of one grab session. Phases only move forward.
type GrabPhase int

const (
	WaitingForTime GrabPhase = iota
	SeekingPrimaryAction
	SeekingSecondaryAction
	Succeeded
	Failed
)

func (p GrabPhase) String() string {
	switch p {
	case WaitingForTime:
		return "waiting_for_time"
	case SeekingPrimaryAction:
		return "seeking_primary"
	case SeekingSecondaryAction:
		return "seeking_secondary"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// AttemptBudget bounds the primary phase by count and the secondary phase by time.
type AttemptBudget struct {
	MaxAttempts       int
	RetryInterval     time.Duration
	SubmissionTimeout time.Duration
}

// GrabTiming holds the fixed cadences of the loop.
type GrabTiming struct {
	RefreshInterval time.Duration
	RefreshWait     time.Duration
	SubmitPoll      time.Duration
	ReadyPoll       time.Duration
}

func defaultGrabTiming() GrabTiming {
	return GrabTiming{
		RefreshInterval: 500 * time.Millisecond,
		RefreshWait:     1500 * time.Millisecond,
		SubmitPoll:      50 * time.Millisecond,
		ReadyPoll:       50 * time.Millisecond,
	}
}

// GrabOutcome is what the caller gets back once the machine stops. Final is
// Succeeded or Failed; Phase is the last working phase, i.e. where a failure
// ran out of budget.
type GrabOutcome struct {
	Final             GrabPhase
	Phase             GrabPhase
	Attempts          int
	Elapsed           time.Duration
	SubmitElapsed     time.Duration
	PrimarySelector   string
	SecondarySelector string
	Signal            string
}

func (o GrabOutcome) Succeeded() bool {
	return o.Final == Succeeded
}

// Waiter blocks until the grab may start.
type Waiter interface {
	WaitUntil(ctx context.Context, target time.Time) error
}

// GrabMachine drives WaitingForTime → SeekingPrimaryAction →
// SeekingSecondaryAction → Succeeded | Failed.
type GrabMachine struct {
	page      Page
	executor  *ActionExecutor
	waiter    Waiter
	clock     Clock
	rand      *rand.Rand
	logger    *zap.Logger
	primary   []string
	secondary []string
	keywords  []string
	budget    AttemptBudget
	timing    GrabTiming

	phase       GrabPhase
	lastRefresh time.Time
}

func NewGrabMachine(page Page, waiter Waiter, clock Clock, config *Config, logger *zap.Logger) *GrabMachine {
	return &GrabMachine{
		page:      page,
		executor:  NewActionExecutor(page, logger),
		waiter:    waiter,
		clock:     clock,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
		primary:   config.Selectors.Primary,
		secondary: config.Selectors.Secondary,
		keywords:  config.Selectors.SuccessURLKeywords,
		budget:    config.Budget(),
		timing:    config.Timing(),
	}
}

func (g *GrabMachine) enter(phase GrabPhase) {
	g.logger.Info("phase transition",
		zap.String("from", g.phase.String()),
		zap.String("to", phase.String()))
	g.phase = phase
}

// Run only returns an error when ctx is cancelled; running out of budget is a
// Failed outcome.
func (g *GrabMachine) Run(ctx context.Context, target time.Time) (GrabOutcome, error) {
	g.phase = WaitingForTime
	g.lastRefresh = time.Time{}
	if err := g.waiter.WaitUntil(ctx, target); err != nil {
		return GrabOutcome{Final: Failed, Phase: WaitingForTime}, err
	}

	start := g.clock.Now()
	outcome := GrabOutcome{}
	finish := func(final GrabPhase) GrabOutcome {
		outcome.Final = final
		outcome.Elapsed = g.clock.Now().Sub(start)
		g.enter(final)
		return outcome
	}

	g.enter(SeekingPrimaryAction)
	outcome.Phase = SeekingPrimaryAction
	log := g.logger.With(zap.String("phase", SeekingPrimaryAction.String()))

	var originLocation string
	clicked := false
	for outcome.Attempts < g.budget.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return finish(Failed), err
		}
		outcome.Attempts++
		if outcome.Attempts%10 == 0 {
			log.Info("grab attempt",
				zap.Int("attempt", outcome.Attempts),
				zap.Int("max_attempts", g.budget.MaxAttempts))
		}

		if g.lastRefresh.IsZero() || g.clock.Now().Sub(g.lastRefresh) > g.timing.RefreshInterval {
			if err := g.refresh(ctx, log); err != nil {
				return finish(Failed), err
			}
		}

		originLocation, _ = g.page.Location()
		if res := g.executor.TryClick(g.primary); res.Matched {
			outcome.PrimarySelector = res.Selector
			log.Info("primary action clicked",
				zap.String("selector", res.Selector),
				zap.Int("attempt", outcome.Attempts))
			clicked = true
			break
		}

		if outcome.Attempts == g.budget.MaxAttempts {
			break
		}
		if err := g.clock.Sleep(ctx, g.jitter(g.budget.RetryInterval)); err != nil {
			return finish(Failed), err
		}
	}

	if !clicked {
		log.Warn("attempt budget exhausted without primary click",
			zap.Int("attempts", outcome.Attempts))
		return finish(Failed), nil
	}

	g.enter(SeekingSecondaryAction)
	outcome.Phase = SeekingSecondaryAction
	submitStart := g.clock.Now()
	ok, err := g.seekSecondary(ctx, originLocation, &outcome)
	outcome.SubmitElapsed = g.clock.Now().Sub(submitStart)
	if err != nil {
		return finish(Failed), err
	}
	if !ok {
		return finish(Failed), nil
	}

	return finish(Succeeded), nil
}

// seekSecondary polls the submit selectors until SubmissionTimeout. A location
// change to an order/pay page counts as success too, because some item pages
// skip straight to the order form.
func (g *GrabMachine) seekSecondary(ctx context.Context, originLocation string, outcome *GrabOutcome) (bool, error) {
	log := g.logger.With(zap.String("phase", SeekingSecondaryAction.String()))
	deadline := g.clock.Now().Add(g.budget.SubmissionTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if res := g.executor.TryClick(g.secondary); res.Matched {
			outcome.SecondarySelector = res.Selector
			outcome.Signal = "click"
			log.Info("submit action clicked", zap.String("selector", res.Selector))
			return true, nil
		}

		if location, err := g.page.Location(); err == nil {
			if location != originLocation && containsAny(location, g.keywords...) {
				outcome.Signal = "location"
				log.Info("order page detected", zap.String("location", location))
				return true, nil
			}
		} else {
			log.Debug("location read failed", zap.Error(err))
		}

		if !g.clock.Now().Before(deadline) {
			log.Warn("submission timeout", zap.Duration("timeout", g.budget.SubmissionTimeout))
			return false, nil
		}

		if err := g.clock.Sleep(ctx, g.timing.SubmitPoll); err != nil {
			return false, err
		}
	}
}

// refresh reloads bypassing cache and waits for readyState "complete", capped
// at RefreshWait. Failures are logged and swallowed; only cancellation escapes.
func (g *GrabMachine) refresh(ctx context.Context, log *zap.Logger) error {
	g.lastRefresh = g.clock.Now()
	if err := g.page.Reload(true); err != nil {
		log.Debug("reload failed", zap.Error(err))
		return nil
	}

	deadline := g.clock.Now().Add(g.timing.RefreshWait)
	for g.clock.Now().Before(deadline) {
		state, err := g.page.Evaluate(`() => document.readyState`, deadline.Sub(g.clock.Now()))
		if err == nil && state == "complete" {
			return nil
		}
		if err != nil {
			log.Debug("ready state check failed", zap.Error(err))
		}
		if err := g.clock.Sleep(ctx, g.timing.ReadyPoll); err != nil {
			return err
		}
	}

	log.Debug("page not complete after refresh wait", zap.Duration("wait", g.timing.RefreshWait))
	return nil
}

// jitter spreads d uniformly over [0.9d, 1.1d].
func (g *GrabMachine) jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.9 + 0.2*g.rand.Float64()))
}

func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, substr := range substrs {
		if substr != "" && strings.Contains(s, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}
