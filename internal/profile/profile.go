// Package profile implements the tagged-union profile model: the
// parameterized resource-usage pattern a job's execution is built from.
package profile

import (
	"encoding/json"
	"fmt"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// Type tags a Profile's concrete variant.
type Type string

const (
	TypeDelay              Type = "delay"
	TypeParallelTask       Type = "parallel_task"
	TypeHomogeneousParallel Type = "homogeneous_parallel"
	TypeSequence           Type = "sequence"
	TypeMpiReplay          Type = "mpi_replay"
	TypeHomogeneousPfs     Type = "homogeneous_pfs"
	TypeDataStaging        Type = "data_staging"
	TypeSchedulerSend      Type = "scheduler_send"
	TypeSchedulerRecv      Type = "scheduler_recv"
)

// HomogeneousStrategy selects how HomogeneousParallel spreads its amounts.
type HomogeneousStrategy string

const (
	StrategyDefinedAmounts HomogeneousStrategy = "defined_amounts_used_for_each_value"
	StrategySpreadEvenly   HomogeneousStrategy = "total_amount_spread_evenly"
)

// Profile is a parameterized description of a job's resource usage
// pattern: a tagged union over nine variants. Exactly
// one of the Data* fields is populated, matching Type.
type Profile struct {
	Name       string
	Type       Type
	ReturnCode int

	Delay               *DelayData
	ParallelTask        *ParallelTaskData
	HomogeneousParallel *HomogeneousParallelData
	Sequence            *SequenceData
	MpiReplay           *MpiReplayData
	HomogeneousPfs      *HomogeneousPfsData
	DataStaging         *DataStagingData
	SchedulerSend       *SchedulerSendData
	SchedulerRecv       *SchedulerRecvData
}

// DelayData is the Delay variant's payload.
type DelayData struct {
	Seconds float64
}

// ParallelTaskData is the ParallelTask variant's payload: a computation
// vector and a communication matrix, one entry per (pair of) allocated
// resource(s).
type ParallelTaskData struct {
	NbRes int
	Cpu   []float64
	Com   []float64
}

// HomogeneousParallelData is the HomogeneousParallel variant's payload.
type HomogeneousParallelData struct {
	Cpu      float64
	Com      float64
	Strategy HomogeneousStrategy
}

// SequenceData is the Sequence variant's payload: the named sub-profiles,
// run in order, the whole list executed `Repeat` times. A sub-profile failure aborts the
// sequence (see pkg/errors.NewSubTaskFailure).
type SequenceData struct {
	Repeat   int
	Sequence []string
}

// MpiReplayData is the MpiReplay variant's payload: one SimGrid MPI trace
// filename per rank.
type MpiReplayData struct {
	TraceFilenames []string
}

// HomogeneousPfsData is the HomogeneousPfs variant's payload: reads and
// writes against a named storage host.
type HomogeneousPfsData struct {
	BytesToRead  int64
	BytesToWrite int64
	StorageLabel string
}

// DataStagingData is the DataStaging variant's payload: bytes moved
// between two storage hosts.
type DataStagingData struct {
	Bytes       int64
	FromStorage string
	ToStorage   string
}

// SchedulerSendData is the SchedulerSend variant's payload: a message sent
// to the EDC, after which the job sleeps Sleeptime seconds.
type SchedulerSendData struct {
	MessagePayload string
	Sleeptime      float64
}

// SchedulerRecvData is the SchedulerRecv variant's payload: waits for a
// message, branching to a named sub-profile depending on whether the
// message matched Regex (OnSuccess), did not match (OnFailure), or, when
// OnTimeout is set, none arrived within Polltime.
type SchedulerRecvData struct {
	Regex     string
	OnSuccess string
	OnFailure string
	OnTimeout string
	Polltime  float64
}

// IsParallelTask reports whether this profile (or a variant derived from
// it) occupies compute resources the way a parallel task does.
func (p *Profile) IsParallelTask() bool {
	switch p.Type {
	case TypeParallelTask, TypeHomogeneousParallel, TypeHomogeneousPfs:
		return true
	default:
		return false
	}
}

// IsRigid reports whether the profile's resource footprint is fixed
// regardless of the job's requested_nb_res (true for everything except
// the homogeneous variants, which scale to fit the allocation).
func (p *Profile) IsRigid() bool {
	switch p.Type {
	case TypeHomogeneousParallel, TypeHomogeneousPfs:
		return false
	default:
		return true
	}
}

type rawProfile struct {
	Type       Type   `json:"type"`
	ReturnCode *int   `json:"ret,omitempty"`
	Delay      float64 `json:"delay,omitempty"`
	NbRes      int    `json:"nb_res,omitempty"`
	// Cpu/Com carry either a parallel_task resource vector or a
	// homogeneous_parallel scalar amount under the same wire field names;
	// the concrete shape is decided by Type once it is known.
	Cpu                 json.RawMessage     `json:"cpu,omitempty"`
	Com                 json.RawMessage     `json:"com,omitempty"`
	Strategy            HomogeneousStrategy `json:"strategy,omitempty"`
	Repeat              int                 `json:"repeat,omitempty"`
	Sequence            []string            `json:"seq,omitempty"`
	TraceFilenames      []string            `json:"trace_filenames,omitempty"`
	BytesToRead         int64               `json:"bytes_to_read,omitempty"`
	BytesToWrite        int64               `json:"bytes_to_write,omitempty"`
	StorageLabel        string              `json:"storage_label,omitempty"`
	Bytes               int64               `json:"bytes,omitempty"`
	FromStorage         string              `json:"from_storage,omitempty"`
	ToStorage           string              `json:"to_storage,omitempty"`
	MessagePayload      string              `json:"message_payload,omitempty"`
	Sleeptime           float64             `json:"sleeptime,omitempty"`
	Regex               string              `json:"regex,omitempty"`
	OnSuccess           string              `json:"on_success,omitempty"`
	OnFailure           string              `json:"on_failure,omitempty"`
	OnTimeout           string              `json:"on_timeout,omitempty"`
	Polltime            float64             `json:"polltime,omitempty"`
}

// FromJSON parses name's description into a validated Profile,
// dispatching on the "type" tag.
func FromJSON(name string, data []byte) (*Profile, error) {
	var raw rawProfile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedProfile,
			"profile %q: invalid JSON: %v", name, err)
	}

	p := &Profile{Name: name, Type: raw.Type}
	if raw.ReturnCode != nil {
		p.ReturnCode = *raw.ReturnCode
	}

	switch raw.Type {
	case TypeDelay:
		if raw.Delay <= 0 {
			return nil, invariantErr(name, "delay must be > 0, got %v", raw.Delay)
		}
		p.Delay = &DelayData{Seconds: raw.Delay}

	case TypeParallelTask:
		if raw.NbRes <= 0 {
			return nil, invariantErr(name, "nb_res must be > 0, got %d", raw.NbRes)
		}
		var cpu, com []float64
		if len(raw.Cpu) > 0 {
			if err := json.Unmarshal(raw.Cpu, &cpu); err != nil {
				return nil, invariantErr(name, "cpu must be a vector of %d values: %v", raw.NbRes, err)
			}
		}
		if len(raw.Com) > 0 {
			if err := json.Unmarshal(raw.Com, &com); err != nil {
				return nil, invariantErr(name, "com must be a matrix of %d values: %v", raw.NbRes*raw.NbRes, err)
			}
		}
		if len(cpu) != raw.NbRes {
			return nil, invariantErr(name, "cpu vector length %d does not match nb_res %d", len(cpu), raw.NbRes)
		}
		if len(com) != raw.NbRes*raw.NbRes {
			return nil, invariantErr(name, "com matrix length %d does not match nb_res^2 %d", len(com), raw.NbRes*raw.NbRes)
		}
		for _, v := range cpu {
			if v < 0 {
				return nil, invariantErr(name, "cpu values must be >= 0")
			}
		}
		for _, v := range com {
			if v < 0 {
				return nil, invariantErr(name, "com values must be >= 0")
			}
		}
		p.ParallelTask = &ParallelTaskData{NbRes: raw.NbRes, Cpu: cpu, Com: com}

	case TypeHomogeneousParallel:
		var cpu, com float64
		if len(raw.Cpu) > 0 {
			if err := json.Unmarshal(raw.Cpu, &cpu); err != nil {
				return nil, invariantErr(name, "cpu must be a single number: %v", err)
			}
		}
		if len(raw.Com) > 0 {
			if err := json.Unmarshal(raw.Com, &com); err != nil {
				return nil, invariantErr(name, "com must be a single number: %v", err)
			}
		}
		if cpu < 0 || com < 0 {
			return nil, invariantErr(name, "cpu/com must be >= 0")
		}
		strategy := raw.Strategy
		if strategy == "" {
			strategy = StrategyDefinedAmounts
		}
		p.HomogeneousParallel = &HomogeneousParallelData{Cpu: cpu, Com: com, Strategy: strategy}

	case TypeSequence:
		if raw.Repeat <= 0 {
			return nil, invariantErr(name, "repeat must be > 0, got %d", raw.Repeat)
		}
		if len(raw.Sequence) == 0 {
			return nil, invariantErr(name, "sequence must name at least one sub-profile")
		}
		p.Sequence = &SequenceData{Repeat: raw.Repeat, Sequence: raw.Sequence}

	case TypeMpiReplay:
		if len(raw.TraceFilenames) == 0 {
			return nil, invariantErr(name, "mpi_replay requires at least one trace filename")
		}
		p.MpiReplay = &MpiReplayData{TraceFilenames: raw.TraceFilenames}

	case TypeHomogeneousPfs:
		if raw.BytesToRead < 0 || raw.BytesToWrite < 0 {
			return nil, invariantErr(name, "bytes_to_read/bytes_to_write must be >= 0")
		}
		if raw.StorageLabel == "" {
			return nil, invariantErr(name, "homogeneous_pfs requires storage_label")
		}
		p.HomogeneousPfs = &HomogeneousPfsData{
			BytesToRead:  raw.BytesToRead,
			BytesToWrite: raw.BytesToWrite,
			StorageLabel: raw.StorageLabel,
		}

	case TypeDataStaging:
		if raw.FromStorage == "" || raw.ToStorage == "" {
			return nil, invariantErr(name, "data_staging requires from_storage and to_storage")
		}
		p.DataStaging = &DataStagingData{Bytes: raw.Bytes, FromStorage: raw.FromStorage, ToStorage: raw.ToStorage}

	case TypeSchedulerSend:
		if raw.Sleeptime <= 0 {
			return nil, invariantErr(name, "scheduler_send sleeptime must be > 0")
		}
		p.SchedulerSend = &SchedulerSendData{MessagePayload: raw.MessagePayload, Sleeptime: raw.Sleeptime}

	case TypeSchedulerRecv:
		if raw.Polltime <= 0 {
			return nil, invariantErr(name, "scheduler_recv polltime must be > 0")
		}
		p.SchedulerRecv = &SchedulerRecvData{
			Regex:     raw.Regex,
			OnSuccess: raw.OnSuccess,
			OnFailure: raw.OnFailure,
			OnTimeout: raw.OnTimeout,
			Polltime:  raw.Polltime,
		}

	default:
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedProfile,
			"profile %q: unknown type %q", name, raw.Type)
	}

	return p, nil
}

// ToJSON re-emits p in the workload-file wire shape, for inlining into
// JobSubmitted notifications and for round-trip checks.
func (p *Profile) ToJSON() ([]byte, error) {
	raw := rawProfile{Type: p.Type}
	if p.ReturnCode != 0 {
		rc := p.ReturnCode
		raw.ReturnCode = &rc
	}
	marshal := func(v any) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}
	switch p.Type {
	case TypeDelay:
		raw.Delay = p.Delay.Seconds
	case TypeParallelTask:
		raw.NbRes = p.ParallelTask.NbRes
		raw.Cpu = marshal(p.ParallelTask.Cpu)
		raw.Com = marshal(p.ParallelTask.Com)
	case TypeHomogeneousParallel:
		raw.Cpu = marshal(p.HomogeneousParallel.Cpu)
		raw.Com = marshal(p.HomogeneousParallel.Com)
		raw.Strategy = p.HomogeneousParallel.Strategy
	case TypeSequence:
		raw.Repeat = p.Sequence.Repeat
		raw.Sequence = p.Sequence.Sequence
	case TypeMpiReplay:
		raw.TraceFilenames = p.MpiReplay.TraceFilenames
	case TypeHomogeneousPfs:
		raw.BytesToRead = p.HomogeneousPfs.BytesToRead
		raw.BytesToWrite = p.HomogeneousPfs.BytesToWrite
		raw.StorageLabel = p.HomogeneousPfs.StorageLabel
	case TypeDataStaging:
		raw.Bytes = p.DataStaging.Bytes
		raw.FromStorage = p.DataStaging.FromStorage
		raw.ToStorage = p.DataStaging.ToStorage
	case TypeSchedulerSend:
		raw.MessagePayload = p.SchedulerSend.MessagePayload
		raw.Sleeptime = p.SchedulerSend.Sleeptime
	case TypeSchedulerRecv:
		raw.Regex = p.SchedulerRecv.Regex
		raw.OnSuccess = p.SchedulerRecv.OnSuccess
		raw.OnFailure = p.SchedulerRecv.OnFailure
		raw.OnTimeout = p.SchedulerRecv.OnTimeout
		raw.Polltime = p.SchedulerRecv.Polltime
	}
	return json.Marshal(raw)
}

func invariantErr(name, format string, args ...any) *batsimerrors.BatsimError {
	return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedProfile,
		"profile %q: %s", name, fmt.Sprintf(format, args...))
}
