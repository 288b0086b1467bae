package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  tick: 5ms
  lock_ttl: 30s
lock:
  driver: sqlite
  path: ./locks.db
maintenance:
  file: storage/framework/down
  watch: true
admin:
  enabled: true
  addr: 127.0.0.1:9090
tasks:
  - command: php artisan queue:heartbeat
    every_seconds: 0.5
    without_overlapping: true
  - command: ./bin/sync
    every: 2s
    on_one_server: true
    when:
      file_exists: /tmp/sync.enabled
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Scheduler.Tick != "5ms" || cfg.Lock.Driver != "sqlite" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[0].EverySeconds != 0.5 || !cfg.Tasks[0].WithoutOverlapping {
		t.Fatalf("unexpected tasks %+v", cfg.Tasks)
	}
	if cfg.Tasks[1].When == nil || cfg.Tasks[1].When.FileExists != "/tmp/sync.enabled" {
		t.Fatalf("unexpected when %+v", cfg.Tasks[1].When)
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte("# nothing yet\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(cfg.Tasks) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"config.json": `{"scheduler": {"timezone": "UTC"}}`,
		"config.yml":  "tasks:\n  - command: x\n    every: 1s\n    retries: 3\n",
	}
	for name, body := range cases {
		if _, err := Decode(name, []byte(body)); err == nil {
			t.Fatalf("%s: expected unknown field error", name)
		}
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok empty", Config{}, ""},
		{"bad tick", Config{Scheduler: SchedulerConfig{Tick: "fast"}}, "scheduler.tick"},
		{"bad driver", Config{Lock: LockConfig{Driver: "etcd"}}, "lock.driver"},
		{"sqlite needs path", Config{Lock: LockConfig{Driver: "sqlite"}}, "lock.path"},
		{"no interval", Config{Tasks: []TaskConfig{{Command: "x"}}}, "tasks[0]: every or every_seconds"},
		{"both intervals", Config{Tasks: []TaskConfig{{Command: "x", Every: "1s", EverySeconds: 1}}}, "only one"},
		{"negative seconds", Config{Tasks: []TaskConfig{{Command: "x", EverySeconds: -1}}}, "every_seconds"},
		{"zero every", Config{Tasks: []TaskConfig{{Command: "x", Every: "0s"}}}, "tasks[0].every"},
		{"sub-millisecond every", Config{Tasks: []TaskConfig{{Command: "x", Every: "500us"}}}, "at least 1ms"},
		{"sub-millisecond seconds", Config{Tasks: []TaskConfig{{Command: "x", EverySeconds: 0.0001}}}, "every_seconds"},
		{"millisecond ok", Config{Tasks: []TaskConfig{{Command: "x", EverySeconds: 0.001}}}, ""},
		{"bad admin addr", Config{Admin: AdminConfig{Enabled: true, Addr: "nope"}}, "admin.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Minute); err != nil || d != 250*time.Millisecond {
		t.Fatalf("parsed = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration should fail")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Lock: LockConfig{Driver: "redis", Password: "secret"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Lock: LockConfig{Driver: "redis", Password: "other"}}
	sections, _ := SummarizeChange(a, b)
	if strings.Join(sections, ",") != "lock,logging" {
		t.Fatalf("sections = %v", sections)
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "lock" {
		t.Fatalf("restart required = %v", got)
	}
}

func TestManagerWatchPublishesReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "info"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		// Rewrite until the watcher (registered asynchronously) picks it up.
		if err := os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("reloaded level = %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("reload not committed")
			}
			return
		case <-time.After(400 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestManagerRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "info"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"lock": {"driver": "etcd"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if m.Get().Logging.Level != "info" {
		t.Fatal("invalid reload must keep the previous config")
	}
}
