package scheduler

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	logx "shortsched/pkg/logx"
)

func TestRegisterRejectsIntervalBeyondDuration(t *testing.T) {
	t.Parallel()
	s := New(Config{NodeID: "n1"}, Deps{})
	err := s.Register(func(sc *Schedule) {
		sc.Exec("huge").EverySeconds(1e10)
		sc.Exec("max ok").EverySeconds(9e9)
	})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("Register error = %v, want ErrInvalidInterval", err)
	}
	if !strings.Contains(err.Error(), "exceeds the maximum") {
		t.Fatalf("error should name the upper bound, got %v", err)
	}
	if strings.Contains(err.Error(), "below 1ms") {
		t.Fatalf("overflowed interval reported as too small: %v", err)
	}
	defs := s.Definitions()
	if len(defs) != 1 || defs[0].Command != "max ok" || defs[0].Interval <= 0 {
		t.Fatalf("unexpected definitions %+v", defs)
	}
}

func TestRegisterRejectsInvalidIntervalsOnly(t *testing.T) {
	t.Parallel()
	s := New(Config{NodeID: "n1"}, Deps{})
	err := s.Register(func(sc *Schedule) {
		sc.Exec("no interval")
		sc.Exec("zero").EverySeconds(0)
		sc.Exec("negative").EverySeconds(-1)
		sc.Exec("too fine").EverySeconds(0.0001)
		sc.Exec("ok fast").EverySeconds(0.05).WithoutOverlapping()
		sc.Exec("ok second").EverySecond().OnOneServer().Verbose()
		sc.Exec("ok duration").Every(250 * time.Millisecond).RunInMaintenanceMode()
	})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("Register error = %v, want ErrInvalidInterval", err)
	}

	defs := s.Definitions()
	if len(defs) != 3 {
		t.Fatalf("registered %d definitions, want 3", len(defs))
	}
	if defs[0].Command != "ok fast" || defs[0].Interval != 50*time.Millisecond || !defs[0].WithoutOverlapping {
		t.Fatalf("unexpected first definition %+v", defs[0])
	}
	if defs[1].Seconds != 1 || !defs[1].OnOneServer || !defs[1].Verbose {
		t.Fatalf("unexpected second definition %+v", defs[1])
	}
	if defs[2].Seconds != 0.25 || !defs[2].RunInMaintenanceMode {
		t.Fatalf("unexpected third definition %+v", defs[2])
	}
	for i, d := range defs {
		if d.Index != i {
			t.Fatalf("definition %d has index %d", i, d.Index)
		}
	}
}

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()
	var sc Schedule
	p := sc.Exec("echo hi").EverySeconds(1)
	def, err := p.build(0, "")
	if err != nil {
		t.Fatal(err)
	}
	if def.WithoutOverlapping || def.OnOneServer || def.RunInMaintenanceMode || def.Verbose {
		t.Fatalf("options should default to off: %+v", def)
	}
	if len(def.Predicates) != 0 {
		t.Fatal("no predicates expected")
	}
	if def.Fingerprint != Fingerprint(DefaultLockPrefix, 1, "echo hi") {
		t.Fatalf("fingerprint = %q", def.Fingerprint)
	}
}

func TestWhenAccumulates(t *testing.T) {
	t.Parallel()
	var sc Schedule
	p := sc.Exec("x").EverySecond().When(func() bool { return true }).When(nil).WhenE(func() (bool, error) { return false, nil })
	def, err := p.build(0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Predicates) != 2 {
		t.Fatalf("predicates = %d, want 2", len(def.Predicates))
	}
	if sc.Len() != 1 {
		t.Fatalf("Len = %d", sc.Len())
	}
}

func TestTaskErrorUnwraps(t *testing.T) {
	t.Parallel()
	base := errors.New("redis down")
	err := error(&TaskError{Command: "x", Stage: StageLock, Err: base})
	if !errors.Is(err, base) {
		t.Fatal("TaskError should unwrap")
	}
	if err.Error() != `task "x": lock: redis down` {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestRegisterLogsIntervalSeconds(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := New(Config{NodeID: "n1"}, Deps{Log: logx.NewWriter(&buf, "debug")})
	if err := s.Register(func(sc *Schedule) { sc.Exec("echo hi").EverySeconds(0.05) }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.Contains(buf.String(), `"every_seconds":0.05`) {
		t.Fatalf("registration log missing every_seconds: %s", buf.String())
	}
}
