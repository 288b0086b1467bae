package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInterval rejects a registration whose interval is missing,
// non-positive, finer than one millisecond or beyond MaxInterval.
var ErrInvalidInterval = errors.New("invalid interval")

// MaxInterval is the longest interval a time.Duration can hold (about 292 years).
const MaxInterval = time.Duration(math.MaxInt64)

// Predicate is a run condition. A false result skips the due tick silently;
// an error (or panic) is reported as a *TaskError and also skips.
type Predicate func() (bool, error)

// Definition is one registered, immutable schedulable unit.
type Definition struct {
	Index    int
	Command  string
	Seconds  float64
	Interval time.Duration

	WithoutOverlapping   bool
	OnOneServer          bool
	RunInMaintenanceMode bool
	Verbose              bool

	Predicates []Predicate

	// Fingerprint is the single-node lock key.
	Fingerprint string
}

// Registrar is the host's registration callback, invoked once at startup.
type Registrar func(*Schedule)

// Schedule collects pending tasks during registration.
type Schedule struct {
	pending []*PendingTask
}

// Exec starts a fluent definition for command. The command is not
// validated; it is passed verbatim to the shell.
func (s *Schedule) Exec(command string) *PendingTask {
	p := &PendingTask{command: command}
	s.pending = append(s.pending, p)
	return p
}

// Len returns the number of pending tasks.
func (s *Schedule) Len() int { return len(s.pending) }

// PendingTask configures one definition. Every option returns the receiver.
type PendingTask struct {
	command   string
	seconds   float64
	hasPeriod bool

	withoutOverlapping   bool
	onOneServer          bool
	runInMaintenanceMode bool
	verbose              bool
	predicates           []Predicate
}

func (p *PendingTask) EverySeconds(seconds float64) *PendingTask {
	p.seconds = seconds
	p.hasPeriod = true
	return p
}

func (p *PendingTask) Every(d time.Duration) *PendingTask {
	return p.EverySeconds(d.Seconds())
}

func (p *PendingTask) EverySecond() *PendingTask { return p.EverySeconds(1) }

func (p *PendingTask) WithoutOverlapping() *PendingTask {
	p.withoutOverlapping = true
	return p
}

func (p *PendingTask) OnOneServer() *PendingTask {
	p.onOneServer = true
	return p
}

func (p *PendingTask) RunInMaintenanceMode() *PendingTask {
	p.runInMaintenanceMode = true
	return p
}

func (p *PendingTask) Verbose() *PendingTask {
	p.verbose = true
	return p
}

// When adds a run condition. Several calls must all pass.
func (p *PendingTask) When(fn func() bool) *PendingTask {
	if fn == nil {
		return p
	}
	return p.WhenE(func() (bool, error) { return fn(), nil })
}

// WhenE adds a run condition that may fail.
func (p *PendingTask) WhenE(fn func() (bool, error)) *PendingTask {
	if fn != nil {
		p.predicates = append(p.predicates, fn)
	}
	return p
}

func (p *PendingTask) build(index int, lockPrefix string) (Definition, error) {
	if !p.hasPeriod {
		return Definition{}, fmt.Errorf("task %q: no interval set: %w", p.command, ErrInvalidInterval)
	}
	if math.IsNaN(p.seconds) || math.IsInf(p.seconds, 0) {
		return Definition{}, fmt.Errorf("task %q: every %v seconds: %w", p.command, p.seconds, ErrInvalidInterval)
	}
	// float64(math.MaxInt64) rounds up to 2^63, so >= catches every overflow.
	ns := math.Round(p.seconds * float64(time.Second))
	if ns >= float64(math.MaxInt64) {
		return Definition{}, fmt.Errorf("task %q: every %s seconds exceeds the maximum of %s: %w",
			p.command, FormatSeconds(p.seconds), MaxInterval, ErrInvalidInterval)
	}
	interval := time.Duration(ns)
	if interval < time.Millisecond {
		return Definition{}, fmt.Errorf("task %q: every %s seconds is below 1ms: %w", p.command, FormatSeconds(p.seconds), ErrInvalidInterval)
	}
	return Definition{
		Index:                index,
		Command:              p.command,
		Seconds:              p.seconds,
		Interval:             interval,
		WithoutOverlapping:   p.withoutOverlapping,
		OnOneServer:          p.onOneServer,
		RunInMaintenanceMode: p.runInMaintenanceMode,
		Verbose:              p.verbose,
		Predicates:           append([]Predicate(nil), p.predicates...),
		Fingerprint:          Fingerprint(lockPrefix, p.seconds, p.command),
	}, nil
}
