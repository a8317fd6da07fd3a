package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_RunOnceIsSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	loop := NewLoop("test", time.Hour, func(ctx context.Context) error {
		startedOnce.Do(func() { close(started) })
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- loop.RunOnce(context.Background()) }()
	<-started

	if err := loop.RunOnce(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning while in flight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first execution failed: %v", err)
	}

	t.Run("flight clears after completion", func(t *testing.T) {
		if err := loop.RunOnce(context.Background()); err != nil {
			t.Errorf("expected clean run after completion, got %v", err)
		}
	})
}

func TestLoop_StartRunsImmediatelyAndStops(t *testing.T) {
	var runs atomic.Int32
	ran := make(chan struct{}, 1)
	loop := NewLoop("test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	loop.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not run on start")
	}
	loop.Stop()

	if runs.Load() < 1 {
		t.Errorf("expected at least one run, got %d", runs.Load())
	}
}

func TestLoop_TaskErrorDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	second := make(chan struct{})
	loop := NewLoop("test", 10*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 2 {
			close(second)
		}
		return errors.New("boom")
	})

	loop.Start(context.Background())
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after a task error")
	}
	loop.Stop()
}

func TestLoop_TaskPanicDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	third := make(chan struct{})
	loop := NewLoop("test", 10*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 3 {
			close(third)
		}
		panic("boom")
	})

	loop.Start(context.Background())
	select {
	case <-third:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop stopped ticking after a task panic, ran %d time(s)", runs.Load())
	}
	loop.Stop()

	t.Run("single-flight guard clears after a panic", func(t *testing.T) {
		before := runs.Load()
		func() {
			defer func() { recover() }()
			loop.RunOnce(context.Background())
		}()
		if runs.Load() != before+1 {
			t.Error("RunOnce blocked by a stale in-flight flag")
		}
	})
}

func TestLoop_StopCancelsContext(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	loop := NewLoop("test", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	loop.Start(context.Background())
	<-started
	loop.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the task context")
	}
}
