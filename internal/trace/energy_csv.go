package trace

const energyHeader = "time,energy,event_type,wattmin,epower"

// EnergyEventType tags what caused an energy sample row.
type EnergyEventType string

const (
	EnergyEventJobStart     EnergyEventType = "s"
	EnergyEventJobEnd       EnergyEventType = "e"
	EnergyEventPStateChange EnergyEventType = "p"
)

// EnergyTracer writes consumed_energy.csv: a cumulative-joules sample at
// every job start, job end, and pstate change.
type EnergyTracer struct {
	csvTracer
}

// NewEnergyTracer creates an unbound consumed_energy.csv tracer.
func NewEnergyTracer() *EnergyTracer {
	return &EnergyTracer{csvTracer{header: energyHeader}}
}

// WriteSample appends one sample row. energy is the platform's cumulative
// consumption in joules, wattmin the platform-wide minimum power draw, and
// epower the instantaneous power estimate at this event.
func (t *EnergyTracer) WriteSample(now, energy float64, event EnergyEventType, wattmin, epower float64) error {
	return t.WriteRow([]string{
		fmtFloat(now),
		fmtFloat(energy),
		string(event),
		fmtFloat(wattmin),
		fmtFloat(epower),
	})
}
