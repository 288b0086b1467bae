package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
)

var drivers = map[string]bool{"": true, "memory": true, "none": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true, "nats": true}

// Validate checks values that a strict decode cannot: durations, enums and
// per-task interval settings. All problems are returned joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("scheduler.tick", cfg.Scheduler.Tick)
	add(err)
	_, err = ParseDurationField("scheduler.lock_ttl", cfg.Scheduler.LockTTL)
	add(err)
	_, err = ParseDurationField("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout)
	add(err)
	_, err = ParseDurationField("lock.busy_timeout", cfg.Lock.BusyTimeout)
	add(err)

	driver := strings.ToLower(strings.TrimSpace(cfg.Lock.Driver))
	if !drivers[driver] {
		add(fmt.Errorf("lock.driver: unknown driver %q", cfg.Lock.Driver))
	}
	if (driver == "file" || driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(cfg.Lock.Path) == "" {
		add(fmt.Errorf("lock.path is required for driver %q", driver))
	}
	if cfg.Lock.DB < 0 {
		add(errors.New("lock.db must be >= 0"))
	}

	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) != "" {
		if _, _, err := net.SplitHostPort(cfg.Admin.Addr); err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		}
	}

	for i, t := range cfg.Tasks {
		add(validateTask(i, t))
	}
	return errors.Join(errs...)
}

func validateTask(i int, t TaskConfig) error {
	path := fmt.Sprintf("tasks[%d]", i)
	every := strings.TrimSpace(t.Every)
	switch {
	case every != "" && t.EverySeconds != 0:
		return fmt.Errorf("%s: set only one of every and every_seconds", path)
	case every == "" && t.EverySeconds == 0:
		return fmt.Errorf("%s: every or every_seconds is required", path)
	case every != "":
		if _, err := ParseIntervalField(path+".every", every); err != nil {
			return err
		}
	case t.EverySeconds < 0.001 || math.IsNaN(t.EverySeconds) || math.IsInf(t.EverySeconds, 0):
		return fmt.Errorf("%s.every_seconds: must be at least 0.001", path)
	}
	return nil
}
