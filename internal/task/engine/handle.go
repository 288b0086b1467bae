package engine

import (
	"sync"
	"time"
)

// Handle observes one launched process.
type Handle struct {
	command string
	pid     int
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	exitCode int
	err      error
	finished time.Time
}

func newHandle(command string, started time.Time) *Handle {
	return &Handle{command: command, started: started, done: make(chan struct{}), exitCode: -1}
}

func (h *Handle) Command() string      { return h.command }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.started }

// Done is closed once the process has exited (or failed to start).
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode is -1 while running or when the process never started.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Duration is the wall time so far, or the total once finished.
func (h *Handle) Duration() time.Duration {
	h.mu.Lock()
	fin := h.finished
	h.mu.Unlock()
	if fin.IsZero() {
		return time.Since(h.started)
	}
	return fin.Sub(h.started)
}

func (h *Handle) finish(code int, err error) {
	h.mu.Lock()
	h.exitCode = code
	h.err = err
	h.finished = time.Now()
	h.mu.Unlock()
	close(h.done)
}
