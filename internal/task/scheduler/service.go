package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shortsched/internal/eventbus"
	"shortsched/internal/maintenance"
	"shortsched/internal/metrics"
	"shortsched/internal/storage"
	"shortsched/internal/task/engine"
	logx "shortsched/pkg/logx"
)

// Config controls the scheduler loop.
type Config struct {
	// Tick overrides the loop granularity. 0 derives it from the shortest interval.
	Tick time.Duration
	// LockTTL bounds a single-node lock left behind by a crashed node.
	LockTTL time.Duration
	// NodeID prefixes lock owner tokens. Defaults to a random UUID.
	NodeID     string
	LockPrefix string

	// OnError receives every *TaskError. When nil, errors are logged with a rate limit.
	OnError func(error)
}

// Deps are the scheduler's collaborators. Zero values get working defaults:
// memory locks, never-down maintenance, a shell runner, no output.
type Deps struct {
	Log         logx.Logger
	Bus         eventbus.Bus
	Locker      storage.Locker
	Maintenance maintenance.Flag
	Runner      *engine.Runner
	Sink        Sink
	Metrics     *metrics.Metrics
}

type task struct {
	def   Definition
	clock *intervalClock
	state *engine.RunState
}

type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	maint maintenance.Flag
	run   *engine.Runner
	sink  Sink
	m     *metrics.Metrics
	guard *Guard

	mu      sync.Mutex
	tasks   []*task
	started time.Time

	running atomic.Bool
	tickNs  atomic.Int64 // effective tick, for Snapshot

	errLimiter    *rate.Limiter
	errSuppressed atomic.Uint64
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = DefaultLockPrefix
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = storage.DefaultTTL
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	locker := deps.Locker
	if locker == nil {
		locker = storage.NewMemory()
	}
	maint := deps.Maintenance
	if maint == nil {
		maint = &maintenance.Static{}
	}
	runner := deps.Runner
	if runner == nil {
		runner = engine.NewRunner(engine.ShellSpawner{Log: log}, log)
	}
	sink := deps.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Service{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		maint:      maint,
		run:        runner,
		sink:       sink,
		m:          deps.Metrics,
		guard:      NewGuard(locker, cfg.LockTTL, cfg.NodeID),
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (s *Service) NodeID() string { return s.cfg.NodeID }

// Register runs reg against a fresh Schedule and adds every valid definition.
// Invalid ones are rejected individually; their errors are joined.
func (s *Service) Register(reg Registrar) error {
	if reg == nil {
		return nil
	}
	var sched Schedule
	reg(&sched)
	return s.add(sched.pending)
}

func (s *Service) add(pending []*PendingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.started
	if start.IsZero() {
		start = time.Now()
	}
	var errs []error
	for _, p := range pending {
		def, err := p.build(len(s.tasks), s.cfg.LockPrefix)
		if err != nil {
			errs = append(errs, err)
			s.log.Warn("task rejected", logx.String("command", p.command), logx.Err(err))
			continue
		}
		t := &task{def: def, clock: newIntervalClock(def.Interval, start), state: &engine.RunState{}}
		s.tasks = append(s.tasks, t)

		args := []logx.Field{
			logx.Int("index", def.Index),
			logx.String("command", def.Command),
			logx.Float64("every_seconds", def.Seconds),
			logx.Bool("without_overlapping", def.WithoutOverlapping),
			logx.Bool("on_one_server", def.OnOneServer),
		}
		if next := previewNextRuns(s.log, t.clock, start, 3); next != "" {
			args = append(args, logx.String("next", next))
		}
		s.log.Debug("schedule registered", args...)
	}
	s.m.SetRegistered(len(s.tasks))
	return errors.Join(errs...)
}

// Definitions returns the registered definitions in evaluation order.
func (s *Service) Definitions() []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Definition, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.def)
	}
	return out
}

// Drain waits for in-flight processes and their completion handling.
func (s *Service) Drain(ctx context.Context) error {
	return s.run.Wait(ctx)
}

func previewNextRuns(log logx.Logger, c *intervalClock, from time.Time, n int) string {
	if log.IsZero() || !log.Enabled(logx.LevelDebug) {
		return ""
	}
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = c.Next(t)
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("15:04:05.000"))
	}
	return b.String()
}
