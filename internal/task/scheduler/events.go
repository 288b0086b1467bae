package scheduler

import (
	"time"

	"shortsched/internal/task/engine"
)

// Payloads published on the event bus.

type StartedEvent struct {
	Index   int    `json:"index"`
	Command string `json:"command"`
	PID     int    `json:"pid"`
}

// FinishedEvent carries the process handle of a completed invocation.
type FinishedEvent struct {
	Index    int            `json:"index"`
	Command  string         `json:"command"`
	ExitCode int            `json:"exit_code"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
	Handle   *engine.Handle `json:"-"`
}

type SkippedEvent struct {
	Index   int    `json:"index"`
	Command string `json:"command"`
	Reason  string `json:"reason"`
}
