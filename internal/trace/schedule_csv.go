package trace

import (
	"strconv"

	"github.com/oar-team/batsim-go/pkg/analytics"
)

const scheduleHeader = "nb_jobs,nb_jobs_success,nb_jobs_failed,success_rate,makespan,mean_waiting_time,max_waiting_time,mean_turnaround_time,max_turnaround_time,mean_stretch,max_stretch,scheduling_time,simulation_time,time_sleeping,time_switching_on,time_switching_off,time_idle,time_computing,consumed_joules,nb_switches_started,nb_switches_completed"

// RunTimings carries the wall-clock and energy totals that belong in the
// schedule summary but not in the per-job aggregate.
type RunTimings struct {
	// SchedulingWallSeconds is real time spent inside EDC round trips.
	SchedulingWallSeconds float64
	// SimulationWallSeconds is real time for the whole run.
	SimulationWallSeconds float64
	ConsumedJoules        float64
	NbSwitchesStarted     int64
	NbSwitchesCompleted   int64
}

// ScheduleTracer writes schedule.csv: one header line and one value line
// for the whole run.
type ScheduleTracer struct {
	csvTracer
}

// NewScheduleTracer creates an unbound schedule.csv tracer.
func NewScheduleTracer() *ScheduleTracer {
	return &ScheduleTracer{csvTracer{header: scheduleHeader}}
}

// WriteSummary appends the run's single value row.
func (t *ScheduleTracer) WriteSummary(s analytics.ScheduleSummary, timings RunTimings) error {
	stateSeconds := func(state string) string {
		return fmtFloat(s.MachineStateSeconds[state])
	}
	return t.WriteRow([]string{
		strconv.Itoa(s.NbJobs),
		strconv.Itoa(s.NbJobsSuccess),
		strconv.Itoa(s.NbJobsFailed),
		fmtFloat(s.SuccessRate),
		fmtFloat(s.Makespan),
		fmtFloat(s.MeanWaitingTime),
		fmtFloat(s.MaxWaitingTime),
		fmtFloat(s.MeanTurnaroundTime),
		fmtFloat(s.MaxTurnaroundTime),
		fmtFloat(s.MeanStretch),
		fmtFloat(s.MaxStretch),
		fmtFloat(timings.SchedulingWallSeconds),
		fmtFloat(timings.SimulationWallSeconds),
		stateSeconds("sleeping"),
		stateSeconds("switching_on"),
		stateSeconds("switching_off"),
		stateSeconds("idle"),
		stateSeconds("computing"),
		fmtFloat(timings.ConsumedJoules),
		strconv.FormatInt(timings.NbSwitchesStarted, 10),
		strconv.FormatInt(timings.NbSwitchesCompleted, 10),
	})
}
