package engine

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	logx "shortsched/pkg/logx"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %q did not finish", h.Command())
	}
}

func TestRunnerReportsExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)
	r := NewRunner(ShellSpawner{}, logx.Nop())

	done := make(chan Completion, 1)
	h := r.Start("exit 3", func(c Completion) { done <- c })
	if h.PID() <= 0 {
		t.Fatalf("expected a pid, got %d", h.PID())
	}
	c := <-done
	if c.Command != "exit 3" || c.Handle != h {
		t.Fatalf("unexpected completion %+v", c)
	}
	if h.Running() {
		t.Fatal("handle still running after completion")
	}
	if h.ExitCode() != 3 {
		t.Fatalf("exit code = %d, want 3", h.ExitCode())
	}
	var ee *exec.ExitError
	if !errors.As(h.Err(), &ee) {
		t.Fatalf("expected *exec.ExitError, got %v", h.Err())
	}
}

func TestRunnerStartDoesNotBlock(t *testing.T) {
	t.Parallel()
	requireShell(t)
	r := NewRunner(ShellSpawner{}, logx.Nop())

	begin := time.Now()
	h := r.Start("sleep 0.3", nil)
	if time.Since(begin) > 100*time.Millisecond {
		t.Fatal("Start blocked on the process")
	}
	if !h.Running() {
		t.Fatal("expected running handle")
	}
	if r.Active() != 1 {
		t.Fatalf("Active = %d, want 1", r.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if h.ExitCode() != 0 || h.Err() != nil {
		t.Fatalf("exit = %d err = %v", h.ExitCode(), h.Err())
	}
	if h.Duration() < 250*time.Millisecond {
		t.Fatalf("duration %s shorter than the sleep", h.Duration())
	}
}

func TestRunnerSpawnFailureStillCompletes(t *testing.T) {
	t.Parallel()
	boom := errors.New("no fork for you")
	r := NewRunner(SpawnerFunc(func(context.Context, string) (Process, error) {
		return nil, boom
	}), logx.Nop())

	var calls atomic.Int32
	h := r.Start("anything", func(Completion) { calls.Add(1) })
	waitDone(t, h)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(h.Err(), boom) {
		t.Fatalf("Err = %v, want %v", h.Err(), boom)
	}
	if h.ExitCode() != -1 {
		t.Fatalf("ExitCode = %d, want -1", h.ExitCode())
	}
	if calls.Load() != 1 {
		t.Fatalf("callback calls = %d, want 1", calls.Load())
	}
}

func TestRunnerRecoversCallbackPanic(t *testing.T) {
	t.Parallel()
	r := NewRunner(SpawnerFunc(func(context.Context, string) (Process, error) {
		return fakeProcess{}, nil
	}), logx.Nop())
	r.Start("x", func(Completion) { panic("callback") })
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.Active() != 0 {
		t.Fatalf("Active = %d after panic", r.Active())
	}
}

func TestRunnerWaitHonorsContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	r := NewRunner(SpawnerFunc(func(context.Context, string) (Process, error) {
		return blockingProcess(release), nil
	}), logx.Nop())
	r.Start("block", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestRunState(t *testing.T) {
	t.Parallel()
	var s RunState
	if s.Running() {
		t.Fatal("zero RunState running")
	}
	s.Begin()
	s.Begin()
	if !s.Running() || s.InFlight() != 2 {
		t.Fatalf("in flight = %d", s.InFlight())
	}
	s.End()
	s.End()
	s.End()
	if s.Running() || s.InFlight() != 0 {
		t.Fatalf("in flight = %d after End", s.InFlight())
	}

	h := newHandle("a", time.Now())
	s.SetLast(h)
	if s.Last() != h || s.Runs() != 1 {
		t.Fatal("last handle not recorded")
	}
}

func TestShellSpawnerCapturesOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)
	r := NewRunner(ShellSpawner{CaptureOutput: true, Log: logx.Nop(), Env: []string{"SHORTSCHED_X=1"}}, logx.Nop())
	h := r.Start(`test "$SHORTSCHED_X" = 1 && echo ok && printf partial`, nil)
	waitDone(t, h)
	if h.ExitCode() != 0 {
		t.Fatalf("exit = %d err = %v", h.ExitCode(), h.Err())
	}
}

type fakeProcess struct{}

func (fakeProcess) PID() int           { return 42 }
func (fakeProcess) Wait() (int, error) { return 0, nil }

type blockingProcess chan struct{}

func (blockingProcess) PID() int { return 7 }
func (b blockingProcess) Wait() (int, error) {
	<-b
	return 0, nil
}
