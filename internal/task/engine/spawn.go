package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	logx "shortsched/pkg/logx"
)

// Process is a started external process.
type Process interface {
	PID() int
	// Wait blocks until exit. err is non-nil for a non-zero exit or a wait failure.
	Wait() (exitCode int, err error)
}

// Spawner starts commands. ctx bounds the start only; it must not be tied to
// the process lifetime.
type Spawner interface {
	Spawn(ctx context.Context, command string) (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, command string) (Process, error)

func (f SpawnerFunc) Spawn(ctx context.Context, command string) (Process, error) {
	return f(ctx, command)
}

// ShellSpawner runs commands through a POSIX shell (`sh -c`).
type ShellSpawner struct {
	Shell string // default "sh"
	Dir   string
	Env   []string // appended to the current environment

	// CaptureOutput sends stdout/stderr lines to Log at debug level.
	// Otherwise output is discarded.
	CaptureOutput bool
	Log           logx.Logger
}

func (s ShellSpawner) Spawn(ctx context.Context, command string) (Process, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	shell := strings.TrimSpace(s.Shell)
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	var out *lineLogger
	if s.CaptureOutput && !s.Log.IsZero() {
		out = &lineLogger{log: s.Log.With(logx.String("command", command))}
		cmd.Stdout = out.stream("stdout")
		cmd.Stderr = out.stream("stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &shellProcess{cmd: cmd, out: out}, nil
}

type shellProcess struct {
	cmd *exec.Cmd
	out *lineLogger
}

func (p *shellProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *shellProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.out != nil {
		p.out.flush()
	}
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	return code, err
}

// lineLogger splits process output into lines and logs each at debug level.
type lineLogger struct {
	log logx.Logger

	mu      sync.Mutex
	streams []*lineStream
}

type lineStream struct {
	parent *lineLogger
	name   string
	buf    bytes.Buffer
}

func (l *lineLogger) stream(name string) io.Writer {
	s := &lineStream{parent: l, name: name}
	l.mu.Lock()
	l.streams = append(l.streams, s)
	l.mu.Unlock()
	return s
}

func (s *lineStream) Write(p []byte) (int, error) {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.buf.Write(p)
	for {
		i := bytes.IndexByte(s.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(s.buf.Next(i+1), "\r\n"))
		s.parent.log.Debug("process output", logx.String("stream", s.name), logx.String("line", line))
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.streams {
		if s.buf.Len() == 0 {
			continue
		}
		l.log.Debug("process output", logx.String("stream", s.name), logx.String("line", s.buf.String()))
		s.buf.Reset()
	}
}
