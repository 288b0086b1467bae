package scheduler

import (
	"testing"
	"time"
)

func TestIntervalClockDue(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	c := newIntervalClock(50*time.Millisecond, t0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	steps := []struct {
		ms   int
		want bool
	}{
		{49, false},
		{50, true},
		{50, false}, // once per window
		{99, false},
		{100, true},
		{370, true}, // stalled: windows 150..350 collapse into one firing
		{390, false},
		{400, true},
	}
	for _, st := range steps {
		if got := c.Due(at(st.ms)); got != st.want {
			t.Fatalf("Due(+%dms) = %v, want %v", st.ms, got, st.want)
		}
	}
}

func TestIntervalClockNext(t *testing.T) {
	t.Parallel()
	t0 := time.Unix(1_700_000_000, 0)
	c := newIntervalClock(250*time.Millisecond, t0)

	if got := c.Next(t0); !got.Equal(t0.Add(250 * time.Millisecond)) {
		t.Fatalf("Next(start) = %v", got)
	}
	if got := c.Next(t0.Add(250 * time.Millisecond)); !got.Equal(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("Next(first) = %v", got)
	}
	if got := c.Next(t0.Add(1100 * time.Millisecond)); !got.Equal(t0.Add(1250 * time.Millisecond)) {
		t.Fatalf("Next(+1.1s) = %v", got)
	}
	// Next does not consume the window.
	if !c.Due(t0.Add(250 * time.Millisecond)) {
		t.Fatal("expected due after Next previews")
	}
}

func TestTickFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		configured time.Duration
		intervals  []time.Duration
		want       time.Duration
	}{
		{"configured wins", 3 * time.Millisecond, []time.Duration{time.Second}, 3 * time.Millisecond},
		{"no tasks", 0, nil, 10 * time.Millisecond},
		{"capped", 0, []time.Duration{time.Second}, 10 * time.Millisecond},
		{"tenth of shortest", 0, []time.Duration{time.Second, 50 * time.Millisecond}, 5 * time.Millisecond},
		{"floored", 0, []time.Duration{2 * time.Millisecond}, time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tickFor(tc.configured, tc.intervals); got != tc.want {
				t.Fatalf("tickFor = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	for in, want := range map[float64]string{0.05: "0.05", 1: "1", 2.5: "2.5", 0.1: "0.1"} {
		if got := FormatSeconds(in); got != want {
			t.Fatalf("FormatSeconds(%v) = %q, want %q", in, got, want)
		}
	}

	got := Fingerprint("", 0.05, "php artisan inspire")
	if want := "shortsched/schedule-366e3e82bddbce9dabcd6878a04b6834f1e96f5d"; got != want {
		t.Fatalf("Fingerprint = %q, want %q", got, want)
	}
	if got := Fingerprint("app:", 1, "echo hi"); got != "app:356f3f4536f6d9962bd2bc230225d18d658ea46e" {
		t.Fatalf("prefixed Fingerprint = %q", got)
	}
	if Fingerprint("", 1, "echo hi") == Fingerprint("", 2, "echo hi") {
		t.Fatal("interval must be part of the fingerprint")
	}
}
