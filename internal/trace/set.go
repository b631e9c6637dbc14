package trace

import (
	"os"
	"path/filepath"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// Set groups every exporter of a run behind one open/flush/close surface.
type Set struct {
	Jobs          *JobsTracer
	Schedule      *ScheduleTracer
	PStates       *PStateTracer
	Energy        *EnergyTracer
	MachineStates *MachineStateTracer
	Gantt         *GanttTracer

	tracers []Tracer
}

// NewSet creates the full exporter set bound to files under prefix
// (prefix+"jobs.csv" and so on). The prefix's directory is created if
// missing. energyEnabled controls whether consumed_energy.csv is written.
func NewSet(prefix string, energyEnabled bool) (*Set, error) {
	s := &Set{
		Jobs:          NewJobsTracer(),
		Schedule:      NewScheduleTracer(),
		PStates:       NewPStateTracer(),
		Energy:        NewEnergyTracer(),
		MachineStates: NewMachineStateTracer(),
		Gantt:         NewGanttTracer(),
	}

	if dir := filepath.Dir(prefix + "x"); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
				"creating export directory %q: %v", dir, err)
		}
	}

	bind := func(t Tracer, name string) error {
		f, err := os.Create(prefix + name)
		if err != nil {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
				"creating export file %q: %v", prefix+name, err)
		}
		t.SetContext(NewBufferedWriter(f, DefaultFlushSize))
		s.tracers = append(s.tracers, t)
		return nil
	}

	if err := bind(s.Jobs, "jobs.csv"); err != nil {
		return nil, err
	}
	if err := bind(s.Schedule, "schedule.csv"); err != nil {
		return nil, err
	}
	if err := bind(s.PStates, "pstate_changes.csv"); err != nil {
		return nil, err
	}
	if energyEnabled {
		if err := bind(s.Energy, "consumed_energy.csv"); err != nil {
			return nil, err
		}
	}
	if err := bind(s.MachineStates, "machine_states.csv"); err != nil {
		return nil, err
	}
	if err := bind(s.Gantt, "gantt.jsonl"); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemorySet creates a Set with no destinations bound; every write is a
// no-op until a tracer gets a SetContext. Used by tests and dry runs.
func NewMemorySet() *Set {
	return &Set{
		Jobs:          NewJobsTracer(),
		Schedule:      NewScheduleTracer(),
		PStates:       NewPStateTracer(),
		Energy:        NewEnergyTracer(),
		MachineStates: NewMachineStateTracer(),
		Gantt:         NewGanttTracer(),
	}
}

// Flush forces every bound tracer's buffer out, best effort: the first
// error is reported but every tracer is flushed regardless.
func (s *Set) Flush() error {
	var first error
	for _, t := range s.tracers {
		if err := t.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close flushes and closes every bound tracer, best effort.
func (s *Set) Close() error {
	var first error
	for _, t := range s.tracers {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
