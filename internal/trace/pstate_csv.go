package trace

import (
	"strconv"

	"github.com/oar-team/batsim-go/internal/machine"
)

const pstateHeader = "time,machine_id_set,new_pstate"

// PStateTracer writes pstate_changes.csv: one row per pstate transition,
// machine sets rendered in hyphen-range notation. Transiting phases are
// logged with the placeholder pstates before the target pstate row.
type PStateTracer struct {
	csvTracer
}

// NewPStateTracer creates an unbound pstate_changes.csv tracer.
func NewPStateTracer() *PStateTracer {
	return &PStateTracer{csvTracer{header: pstateHeader}}
}

// WriteChange appends one transition row covering machineIDs.
func (t *PStateTracer) WriteChange(now float64, machineIDs []int, newPState int) error {
	return t.WriteRow([]string{
		fmtFloat(now),
		machine.HyphenRanges(machineIDs),
		strconv.Itoa(newPState),
	})
}
