package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"shortsched/internal/eventbus"
	"shortsched/internal/task/engine"
	logx "shortsched/pkg/logx"
)

const releaseTimeout = 5 * time.Second

// Run ticks until ctx is done. It returns nil on cancellation and never
// waits for running processes; use Drain for that.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	now := time.Now()
	s.reset(now)
	tick := s.tickInterval()
	s.tickNs.Store(int64(tick))

	t := time.NewTicker(tick)
	defer t.Stop()

	s.log.Info("scheduler started",
		logx.Int("tasks", len(s.Definitions())),
		logx.Duration("tick", tick),
		logx.String("node", s.cfg.NodeID),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", logx.Duration("ran", time.Since(now)), logx.Int("in_flight", s.run.Active()))
			return nil
		case now := <-t.C:
			s.tickAt(ctx, now)
		}
	}
}

// RunFor runs the loop for d, then returns.
func (s *Service) RunFor(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return s.Run(ctx)
}

// Running reports whether the loop is active.
func (s *Service) Running() bool { return s.running.Load() }

func (s *Service) reset(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = start
	for _, t := range s.tasks {
		t.clock.reset(start)
	}
}

func (s *Service) tickInterval() time.Duration {
	s.mu.Lock()
	ivs := make([]time.Duration, 0, len(s.tasks))
	for _, t := range s.tasks {
		ivs = append(ivs, t.def.Interval)
	}
	s.mu.Unlock()
	return tickFor(s.cfg.Tick, ivs)
}

func (s *Service) snapshotTasks() []*task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*task(nil), s.tasks...)
}

// tickAt evaluates every due definition in registration order.
func (s *Service) tickAt(ctx context.Context, now time.Time) {
	s.m.Tick()
	for _, t := range s.snapshotTasks() {
		if !t.clock.Due(now) {
			continue
		}
		s.evaluate(ctx, t)
	}
}

func (s *Service) evaluate(ctx context.Context, t *task) {
	def := &t.def
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("task evaluation panic", logx.String("command", def.Command), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			s.report(taskErr(def, StageDispatch, panicErr(rec)))
		}
	}()

	dec, err := s.guard.Evaluate(ctx, def, t.state, s.maint.IsDown())
	if err != nil {
		s.report(err)
	}
	if !dec.Proceed {
		s.skipped(t, dec.Reason)
		return
	}
	s.dispatch(t, dec)
}

func (s *Service) skipped(t *task, reason SkipReason) {
	def := &t.def
	if def.Verbose && reason.Reported() {
		s.sink.Report(reason.Message())
	}
	s.m.Skipped(def.Command, reason.Label())
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Data: SkippedEvent{Index: def.Index, Command: def.Command, Reason: reason.Label()}})
	s.log.Trace("task skipped", logx.String("command", def.Command), logx.String("reason", reason.Label()))
}

func (s *Service) dispatch(t *task, dec Decision) {
	def := &t.def
	if def.Verbose {
		s.sink.Report("Running command: " + def.Command)
	}

	t.state.Begin()
	launched := false
	defer func() {
		if !launched {
			t.state.End()
			s.releaseLock(def, dec.LockOwner)
		}
	}()

	h := s.run.Start(def.Command, func(c engine.Completion) { s.complete(t, dec, c) })
	launched = true
	t.state.SetLast(h)

	s.m.Dispatched(def.Command)
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: h.StartedAt(), Data: StartedEvent{Index: def.Index, Command: def.Command, PID: h.PID()}})
	s.log.Debug("task started", logx.String("command", def.Command), logx.Int("pid", h.PID()))
}

func (s *Service) complete(t *task, dec Decision, c engine.Completion) {
	def := &t.def
	h := c.Handle

	s.releaseLock(def, dec.LockOwner)
	t.state.End()

	ev := FinishedEvent{Index: def.Index, Command: def.Command, ExitCode: h.ExitCode(), Duration: h.Duration(), Handle: h}
	if err := h.Err(); err != nil {
		ev.Error = err.Error()
	}
	s.m.Finished(def.Command, h.Err() == nil, ev.Duration.Seconds())
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: ev})
	s.log.Debug("task finished",
		logx.String("command", def.Command),
		logx.Int("exit_code", ev.ExitCode),
		logx.Duration("took", ev.Duration),
		logx.String("err", ev.Error),
	)
}

func (s *Service) releaseLock(def *Definition, owner string) {
	if owner == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.guard.Release(ctx, def, owner); err != nil {
		s.report(err)
	}
}

// report hands a task fault to OnError, or logs it at a bounded rate.
func (s *Service) report(err error) {
	if err == nil {
		return
	}
	var te *TaskError
	stage := StageDispatch
	if errors.As(err, &te) {
		stage = te.Stage
	}
	s.m.Error(string(stage))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskError, Data: err})

	if s.cfg.OnError != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.log.Error("error handler panic", logx.Any("panic", rec))
				}
			}()
			s.cfg.OnError(err)
		}()
		return
	}

	if !s.errLimiter.Allow() {
		s.errSuppressed.Add(1)
		return
	}
	fields := []logx.Field{logx.String("stage", string(stage)), logx.Err(err)}
	if n := s.errSuppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	if te != nil {
		fields = append(fields, logx.String("command", te.Command))
	}
	s.log.Error("task error", fields...)
}
