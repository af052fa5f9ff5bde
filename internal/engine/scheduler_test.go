package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) RunPass(context.Context) (PassSummary, error) {
	r.calls.Add(1)
	return PassSummary{Patients: 1, Rules: 1}, nil
}

// slowRunner takes longer than the scheduler interval and tracks how many
// passes are in flight at once.
type slowRunner struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (r *slowRunner) RunPass(ctx context.Context) (PassSummary, error) {
	r.calls.Add(1)
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		old := r.maxSeen.Load()
		if n <= old || r.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}
	return PassSummary{}, nil
}

func TestScheduler_OverrunningPassesDoNotOverlap(t *testing.T) {
	runner := &slowRunner{delay: 50 * time.Millisecond}
	s := NewScheduler(runner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(130 * time.Millisecond)
	cancel()
	<-done

	if m := runner.maxSeen.Load(); m != 1 {
		t.Errorf("expected at most 1 pass in flight, got %d", m)
	}
	// Thirteen ticks elapse; collapsed ticks keep the pass count near
	// elapsed/delay rather than one pass per tick.
	if n := runner.calls.Load(); n < 2 || n > 5 {
		t.Errorf("expected 2 to 5 passes, got %d", n)
	}
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected scheduler to stop after cancel")
	}
	if n := runner.calls.Load(); n < 2 {
		t.Errorf("expected at least 2 passes, got %d", n)
	}
}

func TestScheduler_FirstPassWithoutWaiting(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for runner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if runner.calls.Load() != 1 {
		t.Errorf("expected exactly 1 pass, got %d", runner.calls.Load())
	}
}
