// Package job implements the Job model and its state machine: a job owned
// by a workload, tracking its submission, allocation, and terminal
// outcome.
package job

import (
	"fmt"

	"github.com/oar-team/batsim-go/internal/ids"
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// State is one node of the job state machine.
type State string

const (
	StateNotSubmitted             State = "not_submitted"
	StateSubmitted                State = "submitted"
	StateRejected                 State = "rejected"
	StateRunning                  State = "running"
	StateCompletedSuccessfully    State = "completed_successfully"
	StateCompletedFailed          State = "completed_failed"
	StateCompletedWalltimeReached State = "completed_walltime_reached"
	StateCompletedKilled          State = "completed_killed"
)

// IsTerminal reports whether s is one of the four Completed* states or Rejected.
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateCompletedSuccessfully, StateCompletedFailed,
		StateCompletedWalltimeReached, StateCompletedKilled:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[State]map[State]bool{
	StateNotSubmitted: {StateSubmitted: true},
	StateSubmitted:     {StateRejected: true, StateRunning: true},
	StateRunning: {
		StateCompletedSuccessfully:    true,
		StateCompletedFailed:          true,
		StateCompletedWalltimeReached: true,
		StateCompletedKilled:          true,
	},
}

// CanTransition reports whether from → to is a legal state-machine edge.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// ExecutionRequest is the placement an EDC supplied for ExecuteJob: the
// allocated machines plus optional executor→host and storage mappings.
type ExecutionRequest struct {
	Allocation      []int
	ExecutorToHost  map[int]int
	StorageMapping  map[string]int
}

// Job is a single unit of work within a workload.
type Job struct {
	ID              ids.JobID
	ProfileName     string
	SubmissionTime  float64
	Walltime        float64 // -1 means unbounded
	RequestedNbRes  int

	State         State
	StartingTime  float64
	Runtime       float64
	Allocation    []int
	ReturnCode    int
	ConsumedEnergy float64
	Metadata      map[string]string

	ExecutionRequest *ExecutionRequest
	IncomingMessages []string

	KillRequested bool
	TaskTreeRoot  any
}

// New creates a job in the NotSubmitted state.
func New(id ids.JobID, profileName string, submissionTime, walltime float64, requestedNbRes int) (*Job, error) {
	if submissionTime < 0 {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"job %s: submission_time must be >= 0, got %v", id, submissionTime)
	}
	if walltime != -1 && walltime <= 0 {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"job %s: walltime must be -1 or > 0, got %v", id, walltime)
	}
	if requestedNbRes <= 0 {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"job %s: requested_nb_res must be > 0, got %d", id, requestedNbRes)
	}
	return &Job{
		ID:             id,
		ProfileName:    profileName,
		SubmissionTime: submissionTime,
		Walltime:       walltime,
		RequestedNbRes: requestedNbRes,
		State:          StateNotSubmitted,
		Metadata:       map[string]string{},
	}, nil
}

// Transition moves the job to newState, rejecting any edge the state
// machine does not allow.
func (j *Job) Transition(newState State) error {
	if !CanTransition(j.State, newState) {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			j.ID.String(), "job %s: illegal transition %s -> %s", j.ID, j.State, newState)
	}
	j.State = newState
	return nil
}

// WaitingTime is StartingTime - SubmissionTime, valid once the job has started.
func (j *Job) WaitingTime() float64 {
	return j.StartingTime - j.SubmissionTime
}

// TurnaroundTime is FinishTime - SubmissionTime, valid once the job is terminal.
func (j *Job) TurnaroundTime(finishTime float64) float64 {
	return finishTime - j.SubmissionTime
}

// PushMessage appends an EDC-sent message to the job's incoming FIFO, read
// by a SchedulerRecv sub-task.
func (j *Job) PushMessage(msg string) {
	j.IncomingMessages = append(j.IncomingMessages, msg)
}

// PopMessage removes and returns the oldest queued message, if any.
func (j *Job) PopMessage() (string, bool) {
	if len(j.IncomingMessages) == 0 {
		return "", false
	}
	msg := j.IncomingMessages[0]
	j.IncomingMessages = j.IncomingMessages[1:]
	return msg, true
}

// TerminalStateFromReturnCode maps a profile execution's return code to the
// terminal job state: 0 success, >0 failed, <0 walltime reached.
func TerminalStateFromReturnCode(code int) State {
	switch {
	case code == 0:
		return StateCompletedSuccessfully
	case code > 0:
		return StateCompletedFailed
	default:
		return StateCompletedWalltimeReached
	}
}

// Registry owns every Job created during a run, keyed by JobID. Running
// jobs are referenced by exactly one executor plus this registry.
type Registry struct {
	jobs map[ids.JobID]*Job
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[ids.JobID]*Job)}
}

// Add registers j, rejecting a duplicate JobID.
func (r *Registry) Add(j *Job) error {
	if _, exists := r.jobs[j.ID]; exists {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeDuplicateJobID,
			j.ID.String(), "job %s already registered", j.ID)
	}
	r.jobs[j.ID] = j
	return nil
}

// Get looks up a job by id, erroring with ErrorCodeUnknownJobID when absent.
func (r *Registry) Get(id ids.JobID) (*Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeUnknownJobID,
			id.String(), "unknown job %s", id)
	}
	return j, nil
}

// Delete removes a job from the registry once it has been traced and is no
// longer referenced.
func (r *Registry) Delete(id ids.JobID) {
	delete(r.jobs, id)
}

// All returns every job currently registered, for termination-predicate
// counting and bulk tracer flushing.
func (r *Registry) All() []*Job {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// CountByState counts jobs currently in state.
func (r *Registry) CountByState(state State) int {
	n := 0
	for _, j := range r.jobs {
		if j.State == state {
			n++
		}
	}
	return n
}

// CountRunning counts jobs in StateRunning, used by the termination predicate.
func (r *Registry) CountRunning() int {
	return r.CountByState(StateRunning)
}

// String implements fmt.Stringer for debugging job dumps.
func (j *Job) String() string {
	return fmt.Sprintf("Job{%s state=%s}", j.ID, j.State)
}
