package trace

import (
	"encoding/json"
	"strconv"

	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/machine"
)

const jobsHeader = "job_id,workload_name,profile,submission_time,requested_number_of_resources,requested_time,success,final_state,starting_time,execution_time,finish_time,waiting_time,turnaround_time,stretch,allocated_resources,consumed_energy,metadata"

// stretchEpsilon substitutes for a zero runtime when computing stretch, so
// instantaneous jobs report a finite ratio.
const stretchEpsilon = 1e-5

// JobsTracer writes one row per job that reached a terminal state.
type JobsTracer struct {
	csvTracer
}

// NewJobsTracer creates an unbound jobs.csv tracer.
func NewJobsTracer() *JobsTracer {
	return &JobsTracer{csvTracer{header: jobsHeader}}
}

// WriteJob appends j's terminal row. finishTime is the simulated instant
// the job reached its terminal state; it is ignored for rejected jobs,
// whose timing fields stay empty.
func (t *JobsTracer) WriteJob(j *job.Job, finishTime float64) error {
	success := "0"
	if j.State == job.StateCompletedSuccessfully {
		success = "1"
	}

	metadata := ""
	if len(j.Metadata) > 0 {
		if data, err := json.Marshal(j.Metadata); err == nil {
			metadata = string(data)
		}
	}

	if j.State == job.StateRejected {
		return t.WriteRow([]string{
			j.ID.String(),
			string(j.ID.Workload),
			j.ProfileName,
			fmtFloat(j.SubmissionTime),
			strconv.Itoa(j.RequestedNbRes),
			fmtFloat(j.Walltime),
			success,
			string(j.State),
			"", "", "", "", "", "",
			"",
			fmtFloat(j.ConsumedEnergy),
			metadata,
		})
	}

	runtime := finishTime - j.StartingTime
	waiting := j.StartingTime - j.SubmissionTime
	turnaround := finishTime - j.SubmissionTime
	stretchBase := runtime
	if stretchBase < stretchEpsilon {
		stretchBase = stretchEpsilon
	}

	return t.WriteRow([]string{
		j.ID.String(),
		string(j.ID.Workload),
		j.ProfileName,
		fmtFloat(j.SubmissionTime),
		strconv.Itoa(j.RequestedNbRes),
		fmtFloat(j.Walltime),
		success,
		string(j.State),
		fmtFloat(j.StartingTime),
		fmtFloat(runtime),
		fmtFloat(finishTime),
		fmtFloat(waiting),
		fmtFloat(turnaround),
		fmtFloat(turnaround / stretchBase),
		machine.HyphenRanges(j.Allocation),
		fmtFloat(j.ConsumedEnergy),
		metadata,
	})
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
