// Package protocol implements the EDC wire boundary: a single outbound
// Message is an ordered sequence of Events plus a `now` timestamp; the
// reply is parsed back into inbound Events the Server dispatches to the
// execution, pstate, and periodic engines.
package protocol

import (
	"encoding/json"
	"fmt"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// EventType tags an Event's payload shape. The same enumeration carries
// both outbound (Batsim -> EDC) and inbound (EDC -> Batsim) tags; which
// direction a given tag is legal in is enforced by the codec's caller, not
// by the type itself.
type EventType string

// Outbound event types (Batsim -> EDC).
const (
	EventBatsimHello           EventType = "BATSIM_HELLO"
	EventSimulationBegins      EventType = "SIMULATION_BEGINS"
	EventSimulationEnds        EventType = "SIMULATION_ENDS"
	EventJobSubmitted          EventType = "JOB_SUBMITTED"
	EventJobCompleted          EventType = "JOB_COMPLETED"
	EventJobKilled             EventType = "JOB_KILLED"
	EventResourceStateChanged  EventType = "RESOURCE_STATE_CHANGED"
	EventAnswerEnergy          EventType = "ANSWER_ENERGY"
	EventRequestedCall         EventType = "REQUESTED_CALL"
	EventPeriodicTrigger       EventType = "PERIODIC_TRIGGER"
	EventPeriodicEntityStopped EventType = "PERIODIC_ENTITY_STOPPED"
	EventNotify                EventType = "NOTIFY"
	EventFromJobMessage        EventType = "FROM_JOB_MESSAGE"
)

// Inbound event types (EDC -> Batsim).
const (
	EventEdcHello            EventType = "EDC_HELLO"
	EventRejectJob           EventType = "REJECT_JOB"
	EventExecuteJob          EventType = "EXECUTE_JOB"
	EventKillJobs            EventType = "KILL_JOBS"
	EventRegisterJob         EventType = "REGISTER_JOB"
	EventRegisterProfile     EventType = "REGISTER_PROFILE"
	EventSetJobMetadata      EventType = "SET_JOB_METADATA"
	EventChangeJobState      EventType = "CHANGE_JOB_STATE"
	EventCallMeLater         EventType = "CALL_ME_LATER"
	EventStopCallMeLater     EventType = "STOP_CALL_ME_LATER"
	EventCreateProbe         EventType = "CREATE_PROBE"
	EventStopProbe           EventType = "STOP_PROBE"
	EventChangeHostPstate    EventType = "CHANGE_HOST_PSTATE"
	EventFinishRegistration  EventType = "FINISH_REGISTRATION"
	EventForceSimulationStop EventType = "FORCE_SIMULATION_STOP"
	EventToJobMessage        EventType = "TO_JOB_MESSAGE"
)

// Event is one entry of a Message's ordered event list: a tag, the instant
// it occurred at, and its tag-specific payload. Data is kept as raw JSON so
// the envelope codec never needs to know every payload shape; it is
// decoded into the payload structs of events.go with Decode and built
// from them with NewEvent.
type Event struct {
	Timestamp float64         `json:"timestamp"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an Event, marshaling payload to Data. payload may be nil
// for tag-only events (e.g. SimulationEnds).
func NewEvent(timestamp float64, eventType EventType, payload any) Event {
	e := Event{Timestamp: timestamp, Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			e.Data = data
		}
	}
	return e
}

// Decode unmarshals e.Data into out, wrapping any failure as a ProtocolError
// naming the offending event type.
func (e Event) Decode(out any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag,
			"event %s: malformed payload: %v", e.Type, err)
	}
	return nil
}

// Message is the single object exchanged with the EDC in one request/reply
// round trip: `{now, events}`.
type Message struct {
	Now    float64 `json:"now"`
	Events []Event `json:"events"`
}

func (m Message) String() string {
	return fmt.Sprintf("Message{now=%v, %d events}", m.Now, len(m.Events))
}
