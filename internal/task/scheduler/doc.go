// Package scheduler runs shell commands on sub-second intervals.
//
// A single loop ticks at a fine granularity, asks each definition's interval
// clock whether it is due, vets due definitions with the run guard
// (maintenance mode, overlap, single-node lock, predicates) and hands approved
// ones to the engine runner without waiting for them to finish.
package scheduler
