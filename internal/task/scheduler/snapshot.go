package scheduler

import "time"

type TaskInfo struct {
	Index                int           `json:"index"`
	Command              string        `json:"command"`
	Every                string        `json:"every"`
	Interval             time.Duration `json:"interval"`
	Fingerprint          string        `json:"fingerprint"`
	WithoutOverlapping   bool          `json:"without_overlapping"`
	OnOneServer          bool          `json:"on_one_server"`
	RunInMaintenanceMode bool          `json:"run_in_maintenance_mode"`
	Verbose              bool          `json:"verbose"`
	Conditions           int           `json:"conditions"`

	Running  bool      `json:"running"`
	InFlight int       `json:"in_flight"`
	Runs     uint64    `json:"runs"`
	Next     time.Time `json:"next"`

	LastStartedAt time.Time     `json:"last_started_at,omitempty"`
	LastDuration  time.Duration `json:"last_duration,omitempty"`
	LastExitCode  *int          `json:"last_exit_code,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running  bool          `json:"running"`
	NodeID   string        `json:"node_id"`
	Tick     time.Duration `json:"tick"`
	Down     bool          `json:"down"`
	InFlight int           `json:"in_flight"`
	Tasks    []TaskInfo    `json:"tasks"`
}

func (s *Service) Snapshot() Snapshot {
	tasks := s.snapshotTasks()
	tick := time.Duration(s.tickNs.Load())
	if tick == 0 {
		tick = s.tickInterval()
	}
	out := Snapshot{
		Running:  s.running.Load(),
		NodeID:   s.cfg.NodeID,
		Tick:     tick,
		Down:     s.maint.IsDown(),
		InFlight: s.run.Active(),
		Tasks:    make([]TaskInfo, 0, len(tasks)),
	}
	for _, t := range tasks {
		d := t.def
		it := TaskInfo{
			Index:                d.Index,
			Command:              d.Command,
			Every:                FormatSeconds(d.Seconds) + "s",
			Interval:             d.Interval,
			Fingerprint:          d.Fingerprint,
			WithoutOverlapping:   d.WithoutOverlapping,
			OnOneServer:          d.OnOneServer,
			RunInMaintenanceMode: d.RunInMaintenanceMode,
			Verbose:              d.Verbose,
			Conditions:           len(d.Predicates),
			Running:              t.state.Running(),
			InFlight:             t.state.InFlight(),
			Runs:                 t.state.Runs(),
			Next:                 t.clock.peek(),
		}
		if h := t.state.Last(); h != nil {
			it.LastStartedAt = h.StartedAt()
			it.LastDuration = h.Duration()
			if !h.Running() {
				code := h.ExitCode()
				it.LastExitCode = &code
				if err := h.Err(); err != nil {
					it.LastError = err.Error()
				}
			}
		}
		out.Tasks = append(out.Tasks, it)
	}
	return out
}
