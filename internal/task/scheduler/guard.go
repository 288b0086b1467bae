package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"shortsched/internal/storage"
	"shortsched/internal/task/engine"
)

// SkipReason explains why a due tick did not launch its command.
type SkipReason string

const (
	SkipMaintenance SkipReason = "system is down"
	SkipOverlap     SkipReason = "still is running"
	SkipOtherServer SkipReason = "has already run on another server"
	SkipPredicate   SkipReason = "condition not met"
	SkipError       SkipReason = "error"
)

// Reported reports whether verbose definitions announce this skip.
// Predicate skips stay silent so frequently-false conditions do not flood the output.
func (r SkipReason) Reported() bool {
	switch r {
	case SkipMaintenance, SkipOverlap, SkipOtherServer:
		return true
	}
	return false
}

func (r SkipReason) Message() string { return "Skipping command (" + string(r) + ")" }

// Label is the metrics/event form of the reason.
func (r SkipReason) Label() string {
	switch r {
	case SkipMaintenance:
		return "maintenance"
	case SkipOverlap:
		return "overlap"
	case SkipOtherServer:
		return "other_server"
	case SkipPredicate:
		return "predicate"
	}
	return "error"
}

// Decision is the guard's verdict for one due tick.
type Decision struct {
	Proceed bool
	Reason  SkipReason
	// LockOwner is set when the single-node lock was taken for this run.
	LockOwner string
}

func skip(r SkipReason) Decision { return Decision{Reason: r} }

// Guard vets due definitions. Checks run in a fixed order: maintenance,
// overlap, single-node lock, predicates.
type Guard struct {
	locker storage.Locker
	ttl    time.Duration
	node   string
	seq    atomic.Uint64
}

func NewGuard(locker storage.Locker, ttl time.Duration, node string) *Guard {
	if ttl <= 0 {
		ttl = storage.DefaultTTL
	}
	return &Guard{locker: locker, ttl: ttl, node: node}
}

// Evaluate returns the decision for def. A non-nil error is always a
// *TaskError and comes with a skip decision.
func (g *Guard) Evaluate(ctx context.Context, def *Definition, state *engine.RunState, down bool) (Decision, error) {
	if down && !def.RunInMaintenanceMode {
		return skip(SkipMaintenance), nil
	}
	if def.WithoutOverlapping && state != nil && state.Running() {
		return skip(SkipOverlap), nil
	}
	if def.OnOneServer {
		if g.locker == nil {
			return skip(SkipError), taskErr(def, StageLock, errors.New("no lock backend configured"))
		}
		held, err := g.locker.Held(ctx, def.Fingerprint)
		if err != nil {
			return skip(SkipError), taskErr(def, StageLock, err)
		}
		if held {
			return skip(SkipOtherServer), nil
		}
	}
	for _, p := range def.Predicates {
		ok, err := callPredicate(p)
		if err != nil {
			return skip(SkipError), taskErr(def, StagePredicate, err)
		}
		if !ok {
			return skip(SkipPredicate), nil
		}
	}
	if !def.OnOneServer {
		return Decision{Proceed: true}, nil
	}

	owner := g.owner()
	ok, err := g.locker.TryAcquire(ctx, def.Fingerprint, owner, g.ttl)
	if err != nil {
		return skip(SkipError), taskErr(def, StageLock, err)
	}
	if !ok {
		return skip(SkipOtherServer), nil
	}
	return Decision{Proceed: true, LockOwner: owner}, nil
}

// Release drops a lock taken by Evaluate.
func (g *Guard) Release(ctx context.Context, def *Definition, owner string) error {
	if owner == "" || g.locker == nil {
		return nil
	}
	if err := g.locker.Release(ctx, def.Fingerprint, owner); err != nil {
		return taskErr(def, StageRelease, err)
	}
	return nil
}

func (g *Guard) owner() string {
	return g.node + ":" + strconv.FormatUint(g.seq.Add(1), 10)
}

func callPredicate(p Predicate) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, panicErr(rec)
		}
	}()
	return p()
}
