package server

import (
	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/periodic"
	"github.com/oar-team/batsim-go/internal/protocol"
	"github.com/oar-team/batsim-go/internal/workload"
)

// MessageType tags a server mailbox message.
type MessageType string

const (
	// From submitters and actors.
	MsgSubmitterHello  MessageType = "submitter_hello"
	MsgSubmitterBye    MessageType = "submitter_bye"
	MsgJobSubmitted    MessageType = "job_submitted"
	MsgJobCompleted    MessageType = "job_completed"
	MsgEventOccurred   MessageType = "event_occurred"
	MsgSwitchedOn      MessageType = "switched_on"
	MsgSwitchedOff     MessageType = "switched_off"
	MsgPeriodicTrigger MessageType = "periodic_trigger"
	MsgFromJobMessage  MessageType = "from_job_message"
	MsgSchedReady      MessageType = "sched_ready"

	// Decoded EDC reply actions, delivered at their event timestamps.
	MsgExecuteJob          MessageType = "execute_job"
	MsgRejectJob           MessageType = "reject_job"
	MsgKillJobs            MessageType = "kill_jobs"
	MsgRegisterJob         MessageType = "register_job"
	MsgRegisterProfile     MessageType = "register_profile"
	MsgSetJobMetadata      MessageType = "set_job_metadata"
	MsgChangeJobState      MessageType = "change_job_state"
	MsgCallMeLater         MessageType = "call_me_later"
	MsgStopCallMeLater     MessageType = "stop_call_me_later"
	MsgCreateProbe         MessageType = "create_probe"
	MsgStopProbe           MessageType = "stop_probe"
	MsgPStateModification  MessageType = "pstate_modification"
	MsgToJobMessage        MessageType = "to_job_message"
	MsgFinishRegistration  MessageType = "finish_registration"
	MsgForceSimulationStop MessageType = "force_simulation_stop"
)

// SubmitterKind distinguishes job submitters from external-event
// submitters for the hello/bye bookkeeping.
type SubmitterKind string

const (
	SubmitterJobs   SubmitterKind = "jobs"
	SubmitterEvents SubmitterKind = "events"
)

// Message is one entry of the server mailbox. Only the fields relevant to
// Type are populated.
type Message struct {
	Type MessageType

	SubmitterName string
	SubmitterKind SubmitterKind

	Job        *job.Job
	JobID      ids.JobID
	ReturnCode int

	Execute         *protocol.ExecuteJobPayload
	Kill            *protocol.KillJobsPayload
	RegisterJob     *protocol.RegisterJobPayload
	RegisterProfile *protocol.RegisterProfilePayload
	SetMetadata     *protocol.SetJobMetadataPayload
	ChangeState     *protocol.ChangeJobStatePayload
	CallMeLater     *protocol.CallMeLaterPayload
	CreateProbe     *protocol.CreateProbePayload
	PStateChange    *protocol.ChangeHostPstatePayload
	ToJob           *protocol.ToJobMessagePayload

	ExternalEvent *workload.Event

	PeriodicFires   []periodic.Fire
	PeriodicRetired []string

	MachineID    int
	TargetPState int

	StopID  string
	Payload string
}

// Mailbox is the server's FIFO message queue. Every actor posts here; the
// server drains it within a single clock continuation, so arrival order
// at equal simulated times is processing order.
type Mailbox struct {
	queue []Message
}

// Post appends msg.
func (m *Mailbox) Post(msg Message) {
	m.queue = append(m.queue, msg)
}

// Take removes and returns the oldest message.
func (m *Mailbox) Take() (Message, bool) {
	if len(m.queue) == 0 {
		return Message{}, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

// Empty reports whether no message is queued.
func (m *Mailbox) Empty() bool {
	return len(m.queue) == 0
}
