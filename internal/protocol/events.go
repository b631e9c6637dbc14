package protocol

import "encoding/json"

// This file holds the typed payload shapes for every event tag in
// message.go, used by the Server and its handlers instead of touching
// Event.Data directly. Payloads carry wire-serializable values only:
// machine ids, job id strings, raw JSON blobs.

// --- Outbound payloads (Batsim -> EDC) ---

// SimulationBeginsPayload carries the platform description and effective
// configuration the EDC needs to start making decisions.
type SimulationBeginsPayload struct {
	NbResources        int               `json:"nb_resources"`
	ComputeResources    []int             `json:"compute_resources"`
	StorageResources    []int             `json:"storage_resources"`
	Config             map[string]any    `json:"config"`
	DynamicJobsEnabled bool              `json:"dynamic_jobs_enabled"`
	AckDynamicRegistration bool          `json:"ack_dynamic_registration"`
}

// JobSubmittedPayload is emitted whenever a job enters the Submitted state,
// optionally carrying the inlined job/profile JSON when the key-value
// store is disabled.
type JobSubmittedPayload struct {
	JobID       string `json:"job_id"`
	JobJSON     string `json:"job,omitempty"`
	ProfileJSON string `json:"profile,omitempty"`
}

// JobCompletedPayload is emitted whenever a job reaches a terminal state.
type JobCompletedPayload struct {
	JobID      string `json:"job_id"`
	JobState   string `json:"job_state"`
	ReturnCode int    `json:"return_code"`
}

// JobProgress is one job's kill-time snapshot: the fraction of its task
// tree that had completed when the kill happened.
type JobProgress struct {
	JobID    string  `json:"job_id"`
	Progress float64 `json:"progress"`
}

// JobKilledPayload is emitted only for EDC-requested kills (never for a
// walltime-triggered completion), carrying each killed job's progress.
type JobKilledPayload struct {
	JobIDs   []string      `json:"job_ids"`
	Progress []JobProgress `json:"job_progress"`
}

// ResourceStateChangedPayload is emitted once per completed pstate-switch
// batch, covering every machine in that batch.
type ResourceStateChangedPayload struct {
	Resources string `json:"resources"` // hyphen-range notation
	State     int    `json:"state"`
}

// AnswerEnergyPayload answers a TellMeEnergy-style probe/request with the
// current total consumed energy.
type AnswerEnergyPayload struct {
	ConsumedEnergy float64 `json:"consumed_energy"`
}

// RequestedCallPayload is emitted when a single CallMeLater fires outside
// of a batch (kept for protocol compatibility; the common path batches
// fires into PeriodicTriggerPayload).
type RequestedCallPayload struct {
	ID string `json:"id"`
}

// PeriodicFire is one CallMeLater/Probe entity's contribution to a
// PeriodicTrigger batch.
type PeriodicFire struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"` // "call_me_later" | "probe"
	Metric       string  `json:"metric,omitempty"`
	Value        any     `json:"value,omitempty"`
	IsLast       bool    `json:"is_last,omitempty"`
}

// PeriodicTriggerPayload batches every CallMeLater fire and probe sample
// due at the same slice, sharing the enclosing Event's Timestamp (spec
// §4.4/§5's "events MUST share now").
type PeriodicTriggerPayload struct {
	Fires []PeriodicFire `json:"fires"`
}

// PeriodicEntityStoppedPayload announces that a finite-period entity has
// exhausted its remaining fires and been retired.
type PeriodicEntityStoppedPayload struct {
	ID string `json:"id"`
}

// NotifyPayload carries an opaque, implementation-defined notification.
type NotifyPayload struct {
	NotifyType string `json:"type"`
	Payload    string `json:"payload,omitempty"`
}

// FromJobMessagePayload is emitted by a SchedulerSend sub-task.
type FromJobMessagePayload struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// --- Inbound payloads (EDC -> Batsim) ---

// EdcHelloPayload configures the protocol's ACK/dynamic-registration
// behavior for the rest of the run. The choice is immutable once received
// and must be explicit in the message; there is no implicit default.
type EdcHelloPayload struct {
	AckDynamicRegistration bool `json:"ack_dynamic_registration"`
	EnableDynamicRegistration bool `json:"enable_dynamic_registration"`
}

// RejectJobPayload rejects a submitted job.
type RejectJobPayload struct {
	JobID string `json:"job_id"`
}

// ExecuteJobPayload places a job onto an allocation.
type ExecuteJobPayload struct {
	JobID          string         `json:"job_id"`
	Allocation     []int          `json:"allocation"`
	ExecutorToHost map[int]int    `json:"executor_to_host,omitempty"`
	StorageMapping map[string]int `json:"storage_mapping,omitempty"`
}

// KillJobsPayload requests that a set of jobs be killed.
type KillJobsPayload struct {
	JobIDs []string `json:"job_ids"`
}

// RegisterJobPayload dynamically registers a new job within an existing or
// newly-created workload.
type RegisterJobPayload struct {
	JobID          string  `json:"job_id"`
	ProfileName    string  `json:"profile_name"`
	SubmissionTime float64 `json:"subtime"`
	Walltime       float64 `json:"walltime"`
	RequestedNbRes int     `json:"res"`
}

// RegisterProfilePayload dynamically registers a new profile within an
// existing or newly-created workload.
type RegisterProfilePayload struct {
	WorkloadName string          `json:"workload_name"`
	ProfileName  string          `json:"profile_name"`
	Profile      json.RawMessage `json:"profile"`
}

// SetJobMetadataPayload attaches opaque key/value metadata to a job.
type SetJobMetadataPayload struct {
	JobID string `json:"job_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ChangeJobStatePayload forces an explicit job-state transition, obeying
// the state machine's legal edges.
type ChangeJobStatePayload struct {
	JobID    string `json:"job_id"`
	NewState string `json:"job_state"`
}

// CallMeLaterPayload registers a periodic wake-up.
type CallMeLaterPayload struct {
	ID               string  `json:"id"`
	PeriodMs         float64 `json:"period"`
	OffsetMs         float64 `json:"offset"`
	NbPeriods        int     `json:"nb_periods"` // 0 means infinite
}

// StopCallMeLaterPayload retires a previously-registered CallMeLater.
type StopCallMeLaterPayload struct {
	ID string `json:"id"`
}

// CreateProbePayload registers a periodic metric sample.
type CreateProbePayload struct {
	ID         string   `json:"id"`
	PeriodMs   float64  `json:"period"`
	OffsetMs   float64  `json:"offset"`
	NbPeriods  int      `json:"nb_periods"`
	Metric     string   `json:"metric"` // e.g. "power"
	Resources  []int    `json:"resources"`
	Aggregation string  `json:"aggregation"` // "none" | "sum" | "mean"
}

// StopProbePayload retires a previously-registered Probe.
type StopProbePayload struct {
	ID string `json:"id"`
}

// ChangeHostPstatePayload is PStateModification's inbound form.
type ChangeHostPstatePayload struct {
	Machines     []int `json:"machines"`
	TargetPState int   `json:"target_pstate"`
}

// ForceSimulationStopPayload lets the EDC abort the run early.
type ForceSimulationStopPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ToJobMessagePayload pushes a message onto a job's incoming FIFO, read by
// a SchedulerRecv sub-task.
type ToJobMessagePayload struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}
