package trace

import (
	"strconv"

	"github.com/oar-team/batsim-go/internal/machine"
)

const machineStatesHeader = "time,nb_sleeping,nb_s2c,nb_c2s,nb_idle,nb_computing"

// MachineStateCounts is one snapshot of how many machines sit in each
// state class.
type MachineStateCounts struct {
	Sleeping  int
	S2C       int // transiting sleeping -> computing
	C2S       int // transiting computing -> sleeping
	Idle      int
	Computing int
}

// CountMachineStates tallies reg's machines into a MachineStateCounts.
func CountMachineStates(reg *machine.Registry) MachineStateCounts {
	var c MachineStateCounts
	for _, m := range reg.All() {
		switch m.State {
		case machine.StateSleeping:
			c.Sleeping++
		case machine.StateTransitingFromSleepingToComputing:
			c.S2C++
		case machine.StateTransitingFromComputingToSleeping:
			c.C2S++
		case machine.StateIdle:
			c.Idle++
		case machine.StateComputing:
			c.Computing++
		}
	}
	return c
}

// MachineStateTracer writes machine_states.csv: one row per state-count
// change.
type MachineStateTracer struct {
	csvTracer
	last    MachineStateCounts
	hasLast bool
}

// NewMachineStateTracer creates an unbound machine_states.csv tracer.
func NewMachineStateTracer() *MachineStateTracer {
	return &MachineStateTracer{csvTracer: csvTracer{header: machineStatesHeader}}
}

// WriteCounts appends a snapshot row, skipping consecutive duplicates.
func (t *MachineStateTracer) WriteCounts(now float64, c MachineStateCounts) error {
	if t.hasLast && c == t.last {
		return nil
	}
	t.last = c
	t.hasLast = true
	return t.WriteRow([]string{
		fmtFloat(now),
		strconv.Itoa(c.Sleeping),
		strconv.Itoa(c.S2C),
		strconv.Itoa(c.C2S),
		strconv.Itoa(c.Idle),
		strconv.Itoa(c.Computing),
	})
}
