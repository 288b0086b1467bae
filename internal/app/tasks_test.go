package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"shortsched/internal/config"
	"shortsched/internal/task/scheduler"
)

func TestConfigRegistrarMapsFields(t *testing.T) {
	s := scheduler.New(scheduler.Config{}, scheduler.Deps{})
	err := s.Register(configRegistrar([]config.TaskConfig{
		{Command: "echo a", EverySeconds: 0.5, WithoutOverlapping: true, Verbose: true},
		{Command: "echo b", Every: "250ms", OnOneServer: true, RunInMaintenanceMode: true},
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defs := s.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	a, b := defs[0], defs[1]
	if a.Command != "echo a" || a.Interval != 500*time.Millisecond || !a.WithoutOverlapping || !a.Verbose {
		t.Fatalf("first definition mismatch: %+v", a)
	}
	if b.Interval != 250*time.Millisecond || !b.OnOneServer || !b.RunInMaintenanceMode || b.WithoutOverlapping {
		t.Fatalf("second definition mismatch: %+v", b)
	}
}

func TestConfigRegistrarRejectsMissingInterval(t *testing.T) {
	s := scheduler.New(scheduler.Config{}, scheduler.Deps{})
	err := s.Register(configRegistrar([]config.TaskConfig{
		{Command: "echo ok", EverySeconds: 1},
		{Command: "echo bad"},
	}))
	if err == nil {
		t.Fatalf("expected error for task without interval")
	}
	if got := len(s.Definitions()); got != 1 {
		t.Fatalf("valid task should still register, got %d", got)
	}
}

func TestWhenPredicates(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	if err := os.WriteFile(present, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing")
	t.Setenv("SHORTSCHED_TEST_FLAG", "1")

	cases := []struct {
		name string
		when config.WhenConfig
		want bool
	}{
		{"exists ok", config.WhenConfig{FileExists: present}, true},
		{"exists fails", config.WhenConfig{FileExists: missing}, false},
		{"missing ok", config.WhenConfig{FileMissing: missing}, true},
		{"missing fails", config.WhenConfig{FileMissing: present}, false},
		{"env set", config.WhenConfig{EnvSet: "SHORTSCHED_TEST_FLAG"}, true},
		{"env unset", config.WhenConfig{EnvSet: "SHORTSCHED_TEST_UNSET_FLAG"}, false},
		{"all hold", config.WhenConfig{FileExists: present, FileMissing: missing, EnvSet: "SHORTSCHED_TEST_FLAG"}, true},
		{"one fails", config.WhenConfig{FileExists: present, FileMissing: present}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			all := true
			for _, p := range whenPredicates(tc.when) {
				ok, err := p()
				if err != nil {
					t.Fatalf("predicate error: %v", err)
				}
				all = all && ok
			}
			if all != tc.want {
				t.Fatalf("got %v, want %v", all, tc.want)
			}
		})
	}
}

func TestWhenPredicatesEmpty(t *testing.T) {
	if got := whenPredicates(config.WhenConfig{}); len(got) != 0 {
		t.Fatalf("expected no predicates, got %d", len(got))
	}
}
