// Package agent provides the duty-cycle runner shared by the indexer,
// replayer and archive scanner: a single-threaded cooperative loop that
// calls DoWork repeatedly, idling with a backoff strategy when there is
// nothing to do, and stopping on context cancellation (spec.md §5
// "Scheduling model").
package agent

import (
	"context"
	"log/slog"
	"time"
)

// DutyCycle is one agent's unit of repeated work, mirroring spec.md
// §4.2/§4.4/§4.5's "do_work" vocabulary: it performs whatever work is
// immediately available and returns a count, so the runner's idle
// strategy can tell a busy agent from an idle one.
type DutyCycle interface {
	// DoWork performs one non-blocking unit of work and returns how much
	// work it did. A return of 0 means nothing was available this call.
	DoWork(ctx context.Context) (int, error)

	// Close releases the agent's resources. Called once after the
	// runner loop exits.
	Close() error
}

// IdleStrategy decides how long to pause after a DoWork call returned no
// work, grounded on the teacher's jittered timer approach
// (internal/bfd/session.go's ApplyJitter) generalized from a fixed
// interval to an exponential backoff since duty-cycle agents, unlike BFD
// timers, have no fixed period to jitter around.
type IdleStrategy interface {
	// Idle is called after a work-less DoWork; it sleeps or otherwise
	// yields for an implementation-chosen duration.
	Idle(ctx context.Context)

	// Reset is called after a DoWork call that returned work, so the
	// next idle period starts from the strategy's minimum again.
	Reset()
}

// BackoffIdleStrategy doubles its sleep duration on successive idle
// calls up to a ceiling, resetting to the floor as soon as work resumes.
type BackoffIdleStrategy struct {
	Min, Max time.Duration

	current time.Duration
}

// NewBackoffIdleStrategy returns a BackoffIdleStrategy with the given
// floor and ceiling.
func NewBackoffIdleStrategy(minDelay, maxDelay time.Duration) *BackoffIdleStrategy {
	return &BackoffIdleStrategy{Min: minDelay, Max: maxDelay}
}

// Idle sleeps for the current backoff duration, then doubles it (capped
// at Max) for the next call.
func (b *BackoffIdleStrategy) Idle(ctx context.Context) {
	if b.current == 0 {
		b.current = b.Min
	}

	timer := time.NewTimer(b.current)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
}

// Reset returns the next Idle call to the minimum backoff.
func (b *BackoffIdleStrategy) Reset() {
	b.current = b.Min
}

// Runner drives a DutyCycle's loop: call DoWork, idle on no work, repeat
// until the context is cancelled. Grounded on
// internal/bfd/session.go's Run/runLoop split (a thin Run wrapping a
// select-style loop), generalized from event-driven select to polling
// duty-cycle since this component's work source (subscription polling)
// has no channel to select on.
type Runner struct {
	name   string
	cycle  DutyCycle
	idle   IdleStrategy
	logger *slog.Logger
}

// NewRunner builds a Runner for the named agent.
func NewRunner(name string, cycle DutyCycle, idle IdleStrategy, logger *slog.Logger) *Runner {
	return &Runner{
		name:   name,
		cycle:  cycle,
		idle:   idle,
		logger: logger.With(slog.String("agent", name)),
	}
}

// Run blocks until ctx is cancelled, then closes the duty cycle and
// returns. Errors returned by DoWork are logged through the runner's
// error sink and do not stop the loop (spec.md §7 "the core never
// throws across agent boundaries; each agent has an error sink and
// continues").
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("agent started")

	defer func() {
		if err := r.cycle.Close(); err != nil {
			r.logger.Error("close failed", slog.String("error", err.Error()))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("agent stopped")

			return nil
		default:
		}

		work, err := r.cycle.DoWork(ctx)
		if err != nil {
			r.logger.Error("do_work failed", slog.String("error", err.Error()))
		}

		if work > 0 {
			r.idle.Reset()

			continue
		}

		r.idle.Idle(ctx)
	}
}
