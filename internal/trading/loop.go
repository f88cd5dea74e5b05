// Package trading contains the shared control loop that drives a strategy
// against the market clock: wait for open, run one cycle, wait for close,
// repeat, with a bounded linear-backoff failure path.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/broker"
	"github.com/CasualCodersProjects/autostonks/internal/strategy"
)

// CycleObserver receives cycle lifecycle events; implemented by the status
// tracker. A nil observer is ignored.
type CycleObserver interface {
	CycleStarted(strategyName string, at time.Time)
	CycleFinished(at time.Time, err error)
}

// Loop is the polling harness shared by all strategies. Cancellation is
// cooperative: the context is checked at every poll point, so the process
// exits between cycles rather than mid-order-submission.
type Loop struct {
	gw           broker.Gateway
	strat        strategy.Strategy
	policy       RetryPolicy
	pollInterval time.Duration
	observer     CycleObserver
	logger       *logrus.Logger
}

// NewLoop builds a control loop for one strategy.
func NewLoop(gw broker.Gateway, strat strategy.Strategy, policy RetryPolicy, pollInterval time.Duration, logger *logrus.Logger) *Loop {
	return &Loop{
		gw:           gw,
		strat:        strat,
		policy:       policy,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// SetObserver attaches a cycle observer.
func (l *Loop) SetObserver(o CycleObserver) { l.observer = o }

// Run drives the strategy until the context is cancelled, the strategy
// reports completion, or the retry budget is exhausted. A successful cycle
// resets the failure counter.
func (l *Loop) Run(ctx context.Context) error {
	failures := 0

	for {
		err := l.iteration(ctx)
		if err == nil {
			failures = 0
			continue
		}
		if errors.Is(err, strategy.ErrDone) {
			l.logger.WithField("strategy", l.strat.Name()).Info("Strategy finished")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		l.logger.WithFields(logrus.Fields{
			"strategy": l.strat.Name(),
			"failures": failures,
			"error":    err.Error(),
		}).Error("Cycle failed")

		if failures >= l.policy.MaxAttempts {
			return fmt.Errorf("giving up after %d consecutive failures: %w", failures, err)
		}

		if err := l.sleep(ctx, l.policy.Backoff(failures)); err != nil {
			return err
		}
	}
}

// iteration runs one pass: wait for open, one strategy cycle, wait for
// close. Panics inside a cycle are recovered and surfaced as cycle errors
// so a bad decision step costs a backoff, not the process.
func (l *Loop) iteration(ctx context.Context) (err error) {
	if err := l.waitForClock(ctx, true); err != nil {
		return err
	}

	started := time.Now()
	if l.observer != nil {
		l.observer.CycleStarted(l.strat.Name(), started)
	}

	err = l.runCycle(ctx)

	if l.observer != nil {
		l.observer.CycleFinished(time.Now(), err)
	}
	if err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"strategy": l.strat.Name(),
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("Cycle complete")

	return l.waitForClock(ctx, false)
}

func (l *Loop) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return l.strat.RunCycle(ctx)
}

// waitForClock polls the market clock until is_open matches wantOpen.
func (l *Loop) waitForClock(ctx context.Context, wantOpen bool) error {
	for {
		clock, err := l.gw.GetClock(ctx)
		if err != nil {
			return err
		}
		if clock.IsOpen == wantOpen {
			return nil
		}

		if wantOpen {
			l.logger.WithField("next_open", clock.NextOpen).Debug("Market closed, waiting")
		} else {
			l.logger.WithField("next_close", clock.NextClose).Debug("Market open, waiting for close")
		}

		if err := l.sleep(ctx, l.pollInterval); err != nil {
			return err
		}
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still yield a cancellation point.
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
