package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"

	"shortsched/internal/admin"
	"shortsched/internal/config"
	"shortsched/internal/eventbus"
	"shortsched/internal/maintenance"
	"shortsched/internal/metrics"
	rtsup "shortsched/internal/runtime/supervisor"
	"shortsched/internal/storage"
	"shortsched/internal/task/engine"
	"shortsched/internal/task/scheduler"
	logx "shortsched/pkg/logx"
)

const (
	DefaultMaintenanceFile = "storage/framework/down"
	defaultShutdownTimeout = 30 * time.Second
)

// Options extend what the config file declares.
type Options struct {
	// Registrars add tasks in code, after the config tasks.
	Registrars []scheduler.Registrar
	// Output receives verbose task messages. Default: stdout.
	Output io.Writer
	// OnError overrides the scheduler's rate-limited error log.
	OnError func(error)
}

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	locker  storage.Locker
	maint   *maintenance.FileFlag
	metrics *metrics.Metrics
	sched   *scheduler.Service
	admin   *admin.Service

	shutdownTimeout time.Duration
	watchMaint      bool
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	lc, err := mapLockConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	locker, err := storage.Open(lc, log.With(logx.String("comp", "lock")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Info("lock backend disabled; single-server locks are process-local")
		locker = storage.NewMemory()
	case err != nil:
		logSvc.Close()
		return nil, err
	default:
		log.Info("lock backend ready", logx.String("driver", driverName(lc.Driver)))
	}

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = locker.Close()
		logSvc.Close()
		return nil, err
	}
	sc.OnError = opts.OnError
	shutdown, err := config.ParseDurationOrDefault("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		_ = locker.Close()
		logSvc.Close()
		return nil, err
	}

	maintPath := strings.TrimSpace(cfg.Maintenance.File)
	if maintPath == "" {
		maintPath = DefaultMaintenanceFile
	}
	maint := maintenance.NewFileFlag(maintPath, log.With(logx.String("comp", "maintenance")), bus)

	m := metrics.New()
	schedLog := log.With(logx.String("comp", "scheduler"))
	runner := engine.NewRunner(engine.ShellSpawner{
		Shell:         strings.TrimSpace(cfg.Scheduler.Shell),
		CaptureOutput: cfg.Scheduler.CaptureOutput,
		Log:           log.With(logx.String("comp", "runner")),
	}, schedLog)

	out := opts.Output
	if out == nil {
		out = logx.Stdout()
	}
	sched := scheduler.New(sc, scheduler.Deps{
		Log:         schedLog,
		Bus:         bus,
		Locker:      locker,
		Maintenance: maint,
		Runner:      runner,
		Sink:        scheduler.NewWriterSink(out),
		Metrics:     m,
	})

	// Config tasks were validated on load. A bad code registration drops only
	// the offending task; Register has already logged each rejection.
	regs := append([]scheduler.Registrar{configRegistrar(cfg.Tasks)}, opts.Registrars...)
	for _, reg := range regs {
		if err := sched.Register(reg); err != nil {
			log.Warn("some tasks were not registered", logx.Err(err))
		}
	}

	a := &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		locker:          locker,
		maint:           maint,
		metrics:         m,
		sched:           sched,
		shutdownTimeout: shutdown,
		watchMaint:      cfg.Maintenance.Watch,
	}
	a.admin = admin.New(mapAdminConfig(cfg), admin.Sources{
		Tasks:      sched.Snapshot,
		Metrics:    m.Handler(),
		Supervisor: a.supervisorSnapshot,
	}, log.With(logx.String("comp", "admin")))
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service      { return a.sched }
func (a *App) Maintenance() *maintenance.FileFlag { return a.maint }
func (a *App) Bus() eventbus.Bus                  { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error,
// run duration elapsed or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) supervisorSnapshot() rtsup.Snapshot {
	if a.sup == nil {
		return rtsup.Snapshot{}
	}
	return a.sup.Snapshot()
}

// Start launches the scheduler loop and its supporting goroutines. The loop
// runs until ctx is canceled or Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapLockConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		// A task list that cannot register would fail the next restart.
		probe := scheduler.New(scheduler.Config{}, scheduler.Deps{})
		return probe.Register(configRegistrar(cfg.Tasks))
	})

	if err := a.admin.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("scheduler.loop", func(c context.Context) error {
		return a.sched.Run(c)
	})

	if a.watchMaint {
		a.sup.GoRestart("maintenance.watch", a.maint.Watch, 250*time.Millisecond, 5*time.Second)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Task events fire many times a second; keep them at trace.
				if strings.HasPrefix(e.Type, "task.") {
					a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log.With(logx.String("comp", "systemd")), a.sched.Running)
	})
	notifySystemd(a.log, daemon.SdNotifyReady)

	defs := a.sched.Definitions()
	a.log.Info("app started",
		logx.Int("tasks", len(defs)),
		logx.String("node", a.sched.NodeID()),
		logx.String("maintenance_file", a.maint.Path()),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(newCfg))

	if err := a.admin.Reconfigure(ctx, mapAdminConfig(newCfg)); err != nil {
		a.log.Warn("admin reconfigure failed; keeping previous listener", logx.Err(err))
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", fields...)
}

// Stop cancels the loop, lets running commands finish within the shutdown
// timeout, then closes the admin server and lock backend.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Commands are never killed; a drain timeout only stops waiting for them.
	step("commands", a.shutdownTimeout, func(c context.Context) error {
		if n := a.sched.Snapshot().InFlight; n > 0 {
			a.log.Info("waiting for running commands", logx.Int("in_flight", n))
		}
		return a.sched.Drain(c)
	})
	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("lock", 2*time.Second, func(c context.Context) error { return a.locker.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// ListTasks loads cfgPath and returns the definitions it would register,
// without opening the lock backend.
func ListTasks(cfgPath string, regs ...scheduler.Registrar) ([]scheduler.Definition, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	s := scheduler.New(sc, scheduler.Deps{})
	var errs []error
	for _, reg := range append([]scheduler.Registrar{configRegistrar(cfg.Tasks)}, regs...) {
		if err := s.Register(reg); err != nil {
			errs = append(errs, err)
		}
	}
	return s.Definitions(), errors.Join(errs...)
}

// OpenMaintenance loads cfgPath and returns its maintenance marker without
// starting anything else.
func OpenMaintenance(cfgPath string, log logx.Logger) (*maintenance.FileFlag, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(cfg.Maintenance.File)
	if path == "" {
		path = DefaultMaintenanceFile
	}
	return maintenance.NewFileFlag(path, log, nil), nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationField("scheduler.tick", sc.Tick)
	if err != nil {
		return scheduler.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("scheduler.lock_ttl", sc.LockTTL, storage.DefaultTTL)
	if err != nil {
		return scheduler.Config{}, err
	}
	node := strings.TrimSpace(sc.NodeID)
	if node == "" {
		node = defaultNodeID()
	}
	return scheduler.Config{
		Tick:       tick,
		LockTTL:    ttl,
		NodeID:     node,
		LockPrefix: strings.TrimSpace(sc.LockPrefix),
	}, nil
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	return admin.Config{
		Enabled: cfg.Admin.Enabled,
		Addr:    strings.TrimSpace(cfg.Admin.Addr),
		Token:   cfg.Admin.Token,
		Pprof:   cfg.Admin.Pprof,
	}
}

// defaultNodeID is host-<8 hex>, unique per process start.
func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}

func driverName(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return "memory"
	}
	return d
}
