package engine

import (
	"sync"
	"sync/atomic"
)

// RunState tracks whether a definition has an invocation in flight.
// The scheduler marks it running before dispatch and clears it on completion,
// so Running() is true for the entire dispatch-to-completion window.
type RunState struct {
	running atomic.Int32

	mu   sync.Mutex
	last *Handle
	runs uint64
}

func (s *RunState) Running() bool { return s.running.Load() > 0 }

// InFlight returns the number of invocations currently running.
func (s *RunState) InFlight() int { return int(s.running.Load()) }

func (s *RunState) Begin() { s.running.Add(1) }

func (s *RunState) End() {
	for {
		n := s.running.Load()
		if n <= 0 {
			return
		}
		if s.running.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// SetLast records the handle of the most recent dispatch.
func (s *RunState) SetLast(h *Handle) {
	s.mu.Lock()
	s.last = h
	s.runs++
	s.mu.Unlock()
}

func (s *RunState) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Runs returns how many times the definition has been dispatched.
func (s *RunState) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}
