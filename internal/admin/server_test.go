package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shortsched/internal/metrics"
	"shortsched/internal/task/scheduler"
	logx "shortsched/pkg/logx"
)

func testSources() Sources {
	m := metrics.New()
	m.Tick()
	return Sources{
		Tasks: func() scheduler.Snapshot {
			return scheduler.Snapshot{Running: true, NodeID: "n1", Tasks: []scheduler.TaskInfo{{Command: "echo hi", Every: "0.5s"}}}
		},
		Metrics: m.Handler(),
	}
}

func get(t *testing.T, h http.Handler, path string, header http.Header) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(b)
}

func TestEndpoints(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, testSources(), logx.Nop())
	h := s.Handler()

	code, body := get(t, h, "/healthz", nil)
	if code != http.StatusOK || !strings.Contains(body, `"running": true`) {
		t.Fatalf("healthz = %d %s", code, body)
	}

	code, body = get(t, h, "/tasks", nil)
	if code != http.StatusOK {
		t.Fatalf("tasks = %d", code)
	}
	var snap scheduler.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if snap.NodeID != "n1" || len(snap.Tasks) != 1 || snap.Tasks[0].Command != "echo hi" {
		t.Fatalf("snapshot = %+v", snap)
	}

	code, body = get(t, h, "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(body, "shortsched_ticks_total") {
		t.Fatalf("metrics = %d", code)
	}

	if code, _ := get(t, h, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof should be disabled, got %d", code)
	}
}

func TestPprofEnabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Pprof: true}, testSources(), logx.Nop())
	if code, _ := get(t, s.Handler(), "/debug/pprof/", nil); code != http.StatusOK {
		t.Fatalf("pprof index = %d", code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Token: "s3cret"}, testSources(), logx.Nop())
	h := s.Handler()

	if code, _ := get(t, h, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", code)
	}
	if code, _ := get(t, h, "/tasks", nil); code != http.StatusUnauthorized {
		t.Fatalf("tasks without token = %d", code)
	}
	if code, _ := get(t, h, "/tasks?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("tasks with query token = %d", code)
	}
	hdr := http.Header{"Authorization": []string{"Bearer s3cret"}}
	if code, _ := get(t, h, "/tasks", hdr); code != http.StatusOK {
		t.Fatalf("tasks with bearer token = %d", code)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testSources(), logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Reconfigure(stopCtx, Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if s.Addr() != "" {
		t.Fatal("address should be cleared after stop")
	}
}
