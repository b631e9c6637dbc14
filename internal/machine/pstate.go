package machine

import (
	"fmt"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// SwitchClass classifies a requested pstate change: the classification
// determines whether the switch is instantaneous or drives a multi-step
// transiting actor.
type SwitchClass string

const (
	// SwitchInstantComputeToCompute is a same-tick computation-to-computation
	// pstate change: no transiting state, no tracer placeholder rows.
	SwitchInstantComputeToCompute SwitchClass = "compute_to_compute"
	// SwitchOff drives Computing/Idle -> TransitingFromComputingToSleeping -> Sleeping.
	SwitchOff SwitchClass = "switch_off"
	// SwitchOn drives Sleeping -> TransitingFromSleepingToComputing -> Idle.
	SwitchOn SwitchClass = "switch_on"
)

// SwitchOffTracePlaceholder and SwitchOnTracePlaceholder are the sentinel
// pstate values pstate_changes.csv emits for the transiting phase of a
// switch, before the real target pstate is reached.
const (
	SwitchOffTracePlaceholder = -1
	SwitchOnTracePlaceholder  = -2
)

// ClassifySwitch determines the SwitchClass of a requested pstate change
// from m's current state to targetPState. It returns a ConfigurationError
// if m has no such pstate, and an InvariantViolation if the request
// contradicts the machine's current state (e.g. targeting a sleep pstate
// while already sleeping without passing through computing).
func (m *Machine) ClassifySwitch(targetPState int) (SwitchClass, error) {
	targetType, ok := m.PStates[targetPState]
	if !ok {
		return "", batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"machine %d has no pstate %d", m.ID, targetPState)
	}

	if targetType == PStateTypeTransitionVirtual {
		return "", batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			fmt.Sprintf("machine=%d", m.ID), "machine %d: pstate %d is a virtual transition pstate and cannot be targeted directly", m.ID, targetPState)
	}

	switch m.State {
	case StateIdle, StateComputing:
		if targetType == PStateTypeComputation {
			return SwitchInstantComputeToCompute, nil
		}
		return SwitchOff, nil
	case StateSleeping:
		if targetType == PStateTypeSleep {
			return "", batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
				fmt.Sprintf("machine=%d", m.ID), "machine %d is already sleeping: cannot switch to another sleep pstate directly", m.ID)
		}
		return SwitchOn, nil
	default:
		return "", batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			fmt.Sprintf("machine=%d", m.ID), "machine %d cannot change pstate while in state %s", m.ID, m.State)
	}
}

// BeginSwitchOff moves the machine into the transiting-to-sleep state. The
// machine must have no jobs running.
func (m *Machine) BeginSwitchOff() error {
	if m.NbJobsBeingComputed() > 0 {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeSharingViolation,
			fmt.Sprintf("machine=%d", m.ID), "machine %d cannot switch off while jobs are running", m.ID)
	}
	m.State = StateTransitingFromComputingToSleeping
	return nil
}

// CompleteSwitchOff finishes a switch-off, landing the machine in Sleeping
// at targetPState.
func (m *Machine) CompleteSwitchOff(targetPState int) {
	m.CurrentPState = targetPState
	m.State = StateSleeping
}

// BeginSwitchOn moves the machine into the transiting-to-computing state.
func (m *Machine) BeginSwitchOn() error {
	if m.State != StateSleeping {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			fmt.Sprintf("machine=%d", m.ID), "machine %d is not sleeping, cannot switch on", m.ID)
	}
	m.State = StateTransitingFromSleepingToComputing
	return nil
}

// CompleteSwitchOn finishes a switch-on, landing the machine Idle at
// targetPState.
func (m *Machine) CompleteSwitchOn(targetPState int) {
	m.CurrentPState = targetPState
	m.State = StateIdle
}

// SwitchComputeToCompute applies an instantaneous computation pstate
// change with no transiting phase.
func (m *Machine) SwitchComputeToCompute(targetPState int) {
	m.CurrentPState = targetPState
}

// Switch is one pending pstate-change batch: the full machine set the
// request covered, the subset still transiting, and the target pstate. A
// batch is complete when no machine remains transiting; completion
// triggers a single ResourceStateChanged notification covering
// AllMachines.
type Switch struct {
	AllMachines  []int
	TargetPState int
	remaining    map[int]struct{}
}

// NbRemaining reports how many machines of the batch are still transiting.
func (s *Switch) NbRemaining() int {
	return len(s.remaining)
}

// CurrentSwitches tracks every pending pstate-change batch.
type CurrentSwitches struct {
	active []*Switch
}

// NewCurrentSwitches creates an empty switch tracker.
func NewCurrentSwitches() *CurrentSwitches {
	return &CurrentSwitches{}
}

// Add records a new batch: all machines the request covered, the subset
// actually transiting (the rest switched instantaneously), and the target
// pstate.
func (c *CurrentSwitches) Add(all, switching []int, targetPState int) *Switch {
	s := &Switch{
		AllMachines:  append([]int(nil), all...),
		TargetPState: targetPState,
		remaining:    make(map[int]struct{}, len(switching)),
	}
	for _, id := range switching {
		s.remaining[id] = struct{}{}
	}
	c.active = append(c.active, s)
	return s
}

// MarkDone records that machineID finished transiting toward targetPState.
// When that completes its batch, the batch is removed from the pending set
// and returned so the caller can emit the batch's single
// ResourceStateChanged notification.
func (c *CurrentSwitches) MarkDone(machineID, targetPState int) (completed *Switch, found bool) {
	for i, s := range c.active {
		if s.TargetPState != targetPState {
			continue
		}
		if _, ok := s.remaining[machineID]; !ok {
			continue
		}
		delete(s.remaining, machineID)
		if len(s.remaining) == 0 {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return s, true
		}
		return nil, true
	}
	return nil, false
}

// NbSwitchingMachines counts machines still transiting across every
// pending batch, for the termination predicate.
func (c *CurrentSwitches) NbSwitchingMachines() int {
	n := 0
	for _, s := range c.active {
		n += len(s.remaining)
	}
	return n
}
