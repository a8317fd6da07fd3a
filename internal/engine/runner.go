package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned when a tick would overlap an execution
// of the same loop that is still in flight.
var ErrAlreadyRunning = errors.New("loop execution already in flight")

// Loop runs a task repeatedly with a fixed sleep between executions.
// It replaces the bare infinite-loop-plus-sleep pattern with explicit
// Start/Stop and a single-flight guard: a tick that arrives while the
// previous execution is still running is skipped, never stacked.
type Loop struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *slog.Logger

	inFlight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewLoop creates a loop around task. The task's error is logged, not
// fatal: the loop keeps going.
func NewLoop(name string, interval time.Duration, task func(ctx context.Context) error) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		task:     task,
		logger:   slog.Default().With("loop", name),
	}
}

// Start runs the task once immediately, then on every interval tick,
// until the context is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		l.tick(ctx)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				l.logger.Info("loop stopped")
				return
			case <-ticker.C:
				l.tick(ctx)
			}
		}
	}()
	l.logger.Info("loop started", slog.Duration("interval", l.interval))
}

// tick runs one execution and absorbs task panics, so a single bad
// pass cannot kill the ticker goroutine.
func (l *Loop) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop panic recovered", slog.Any("panic", r))
		}
	}()

	err := l.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning):
		l.logger.Warn("skipping tick, previous execution still running")
	case errors.Is(err, context.Canceled):
	default:
		l.logger.Error("loop execution failed", slog.Any("error", err))
	}
}

// RunOnce executes the task immediately, subject to the single-flight
// guard. It is safe to call concurrently with the running loop, e.g.
// for an on-demand pass.
func (l *Loop) RunOnce(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.inFlight.Store(false)
	return l.task(ctx)
}

// Stop cancels the loop and waits for an in-flight execution to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}
