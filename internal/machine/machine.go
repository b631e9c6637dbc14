// Package machine implements the compute-resource model: a registry of
// machines, each with a power-state machine, role, and the set of jobs
// currently allocated to it.
package machine

import (
	"fmt"
	"sort"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// State is a node of the per-machine power-state machine.
type State string

const (
	StateSleeping                           State = "sleeping"
	StateIdle                               State = "idle"
	StateComputing                          State = "computing"
	StateTransitingFromSleepingToComputing  State = "transiting_sleeping_to_computing"
	StateTransitingFromComputingToSleeping  State = "transiting_computing_to_sleeping"
	StateUnavailable                        State = "unavailable"
)

// Role identifies what a host in the platform is used for. Exactly one
// machine must carry RoleMaster; master and storage hosts are never
// allocated to jobs.
type Role string

const (
	RoleMaster      Role = "master"
	RoleStorage     Role = "storage"
	RoleComputeNode Role = "compute_node"
)

// PStateType distinguishes a computation power state from a sleep state.
type PStateType string

const (
	PStateTypeComputation       PStateType = "computation"
	PStateTypeSleep             PStateType = "sleep"
	PStateTypeTransitionVirtual PStateType = "transition_virtual"
)

// SleepPState names the two power states a switch-off/switch-on pair
// transits between.
type SleepPState struct {
	SleepPState     int
	SwitchOffPState int
	SwitchOnPState  int
}

// Machine is a single compute resource.
type Machine struct {
	ID    int
	Name  string
	Role  Role
	State State

	// jobsBeingComputed is an insertion-ordered set of job id strings: the
	// head is the earliest-added job still running.
	jobsBeingComputed []string
	jobsBeingComputedSet map[string]struct{}

	PStates      map[int]PStateType
	SleepPStates map[int]SleepPState
	CurrentPState int

	ConsumedEnergyWatt float64
}

// New creates an idle machine with a single computation pstate (0).
func New(id int, name string, role Role) *Machine {
	return &Machine{
		ID:                   id,
		Name:                 name,
		Role:                 role,
		State:                StateIdle,
		jobsBeingComputedSet: make(map[string]struct{}),
		PStates:              map[int]PStateType{0: PStateTypeComputation},
		SleepPStates:         make(map[int]SleepPState),
		CurrentPState:        0,
	}
}

// HasPState reports whether the machine has the given power state defined.
func (m *Machine) HasPState(pstate int) bool {
	_, ok := m.PStates[pstate]
	return ok
}

// IsAllocatable reports whether jobs may be placed on this machine: only
// compute-node-role, non-unavailable machines are eligible.
func (m *Machine) IsAllocatable() bool {
	return m.Role == RoleComputeNode && m.State != StateUnavailable
}

// AddJob records jobID as running on this machine and moves it to Computing.
func (m *Machine) AddJob(jobID string) error {
	if !m.IsAllocatable() {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeNonComputeAlloc,
			fmt.Sprintf("machine=%d job=%s", m.ID, jobID), "machine %d (role %s) cannot be allocated a job", m.ID, m.Role)
	}
	if m.State == StateSleeping || m.State == StateTransitingFromSleepingToComputing || m.State == StateTransitingFromComputingToSleeping {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeSharingViolation,
			fmt.Sprintf("machine=%d job=%s", m.ID, jobID), "machine %d is not computing-eligible (state=%s)", m.ID, m.State)
	}
	if m.jobsBeingComputedSet == nil {
		m.jobsBeingComputedSet = make(map[string]struct{})
	}
	if _, exists := m.jobsBeingComputedSet[jobID]; !exists {
		m.jobsBeingComputedSet[jobID] = struct{}{}
		m.jobsBeingComputed = append(m.jobsBeingComputed, jobID)
	}
	m.State = StateComputing
	return nil
}

// RemoveJob removes jobID from the machine's running set, returning the
// machine to Idle once no job remains.
func (m *Machine) RemoveJob(jobID string) {
	if _, exists := m.jobsBeingComputedSet[jobID]; !exists {
		return
	}
	delete(m.jobsBeingComputedSet, jobID)
	for i, id := range m.jobsBeingComputed {
		if id == jobID {
			m.jobsBeingComputed = append(m.jobsBeingComputed[:i], m.jobsBeingComputed[i+1:]...)
			break
		}
	}
	if len(m.jobsBeingComputed) == 0 && m.State == StateComputing {
		m.State = StateIdle
	}
}

// JobsBeingComputedOrdered returns the running job ids in insertion order;
// the first element is the earliest-added job still running.
func (m *Machine) JobsBeingComputedOrdered() []string {
	out := make([]string, len(m.jobsBeingComputed))
	copy(out, m.jobsBeingComputed)
	return out
}

// JobsBeingComputedSorted returns the running job ids in lexicographic
// order, independent of insertion order.
func (m *Machine) JobsBeingComputedSorted() []string {
	out := append([]string(nil), m.jobsBeingComputed...)
	sort.Strings(out)
	return out
}

// NbJobsBeingComputed reports how many jobs currently run on the machine.
func (m *Machine) NbJobsBeingComputed() int {
	return len(m.jobsBeingComputed)
}

// Registry owns every Machine in the platform, keyed by id.
type Registry struct {
	machines   map[int]*Machine
	order      []int
	masterID   int
	hasMaster  bool
}

// NewRegistry creates an empty machine registry.
func NewRegistry() *Registry {
	return &Registry{machines: make(map[int]*Machine)}
}

// Add registers m, enforcing the single-master invariant.
func (r *Registry) Add(m *Machine) error {
	if _, exists := r.machines[m.ID]; exists {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeDuplicateJobID,
			fmt.Sprintf("machine=%d", m.ID), "machine %d already registered", m.ID)
	}
	if m.Role == RoleMaster {
		if r.hasMaster {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeDuplicateMaster,
				"platform declares more than one master host (second: %s)", m.Name)
		}
		r.hasMaster = true
		r.masterID = m.ID
	}
	r.machines[m.ID] = m
	r.order = append(r.order, m.ID)
	return nil
}

// Finalize verifies exactly one master host was registered.
func (r *Registry) Finalize() error {
	if !r.hasMaster {
		return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMissingMaster,
			"platform must declare exactly one master host")
	}
	return nil
}

// Get looks up a machine by id.
func (r *Registry) Get(id int) (*Machine, error) {
	m, ok := r.machines[id]
	if !ok {
		return nil, batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeUnknownJobID,
			fmt.Sprintf("machine=%d", id), "unknown machine %d", id)
	}
	return m, nil
}

// All returns machines in registration order.
func (r *Registry) All() []*Machine {
	out := make([]*Machine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.machines[id])
	}
	return out
}

// ComputeNodes returns only the compute_node-role machines, the set
// eligible for job allocation and pstate switching.
func (r *Registry) ComputeNodes() []*Machine {
	var out []*Machine
	for _, id := range r.order {
		m := r.machines[id]
		if m.Role == RoleComputeNode {
			out = append(out, m)
		}
	}
	return out
}

// ApplyMmax caps the number of usable compute nodes to mmax, demoting the
// rest to Unavailable (the --mmax flag). A value of 0 means no cap.
func (r *Registry) ApplyMmax(mmax int) {
	if mmax <= 0 {
		return
	}
	kept := 0
	for _, id := range r.order {
		m := r.machines[id]
		if m.Role != RoleComputeNode {
			continue
		}
		kept++
		if kept > mmax {
			m.State = StateUnavailable
		}
	}
}

// AllocationSet is an ordered, duplicate-free set of machine ids, the
// currency of ExecuteJob/KillJobs allocations.
type AllocationSet struct {
	ids map[int]struct{}
}

// NewAllocationSet builds an AllocationSet from ids.
func NewAllocationSet(ids []int) *AllocationSet {
	s := &AllocationSet{ids: make(map[int]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Sorted returns the set's members in ascending order.
func (s *AllocationSet) Sorted() []int {
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Contains reports whether id is a member.
func (s *AllocationSet) Contains(id int) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of machines in the set.
func (s *AllocationSet) Len() int {
	return len(s.ids)
}

// HyphenRanges renders a sorted id set as Batsim's compact "a-b,c,d-e"
// machine-range notation, the format pstate_changes.csv uses.
func HyphenRanges(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	var out []string
	start := sorted[0]
	prev := sorted[0]
	flush := func(end int) {
		if start == end {
			out = append(out, fmt.Sprintf("%d", start))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, v := range sorted[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		flush(prev)
		start = v
		prev = v
	}
	flush(prev)

	result := out[0]
	for _, s := range out[1:] {
		result += "," + s
	}
	return result
}
