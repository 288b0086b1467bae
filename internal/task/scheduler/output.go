package scheduler

import (
	"fmt"
	"io"
	"sync"

	logx "shortsched/pkg/logx"
)

// Sink receives run/skip lines for verbose definitions.
type Sink interface {
	Report(msg string)
}

type SinkFunc func(msg string)

func (f SinkFunc) Report(msg string) { f(msg) }

// WriterSink writes one line per report.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Report(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, msg)
}

// LogSink reports through the structured logger at info level.
type LogSink struct{ Log logx.Logger }

func (s LogSink) Report(msg string) { s.Log.Info(msg) }

type nopSink struct{}

func (nopSink) Report(string) {}
