package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "shortsched/pkg/logx"
)

// Completion is delivered once per Start, after the process has exited.
type Completion struct {
	Command string
	Handle  *Handle
}

// Runner launches commands without blocking and reports their completion.
type Runner struct {
	spawner Spawner
	log     logx.Logger

	mu     sync.Mutex
	active int
	idle   chan struct{}
}

func NewRunner(spawner Spawner, log logx.Logger) *Runner {
	if spawner == nil {
		spawner = ShellSpawner{Log: log}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{spawner: spawner, log: log}
}

// Start launches command and returns immediately. It never fails: a spawn
// error yields a handle that is already finished with that error, and onDone
// is still called (on another goroutine).
func (r *Runner) Start(command string, onDone func(Completion)) *Handle {
	h := newHandle(command, time.Now())
	r.enter()

	proc, err := r.spawn(command)
	if err == nil {
		h.pid = proc.PID()
	}

	go func() {
		defer r.leave()
		if err != nil {
			r.log.Warn("spawn failed", logx.String("command", command), logx.Err(err))
			h.finish(-1, err)
		} else {
			code, werr := r.wait(proc)
			h.finish(code, werr)
		}
		r.deliver(onDone, Completion{Command: command, Handle: h})
	}()
	return h
}

func (r *Runner) spawn(command string) (p Process, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("spawn panic: %v", rec)
		}
	}()
	p, err = r.spawner.Spawn(context.Background(), command)
	if err == nil && p == nil {
		err = fmt.Errorf("spawner returned no process")
	}
	return p, err
}

func (r *Runner) wait(p Process) (code int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			code, err = -1, fmt.Errorf("wait panic: %v", rec)
		}
	}()
	return p.Wait()
}

func (r *Runner) deliver(onDone func(Completion), c Completion) {
	if onDone == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("completion callback panic",
				logx.String("command", c.Command),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	onDone(c)
}

func (r *Runner) enter() {
	r.mu.Lock()
	r.active++
	if r.idle == nil {
		r.idle = make(chan struct{})
	}
	r.mu.Unlock()
}

func (r *Runner) leave() {
	r.mu.Lock()
	r.active--
	if r.active <= 0 {
		r.active = 0
		if r.idle != nil {
			close(r.idle)
			r.idle = nil
		}
	}
	r.mu.Unlock()
}

// Active returns the number of processes whose completion has not yet been delivered.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Wait blocks until every started process has completed and its callback
// returned, or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.active == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := r.idle
	r.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
