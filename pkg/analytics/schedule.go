// Package analytics aggregates per-job schedule metrics into the summary
// statistics written to schedule.csv: makespan, mean/max waiting and
// turnaround time, mean stretch, success rate, and cumulative time spent in
// each machine state.
package analytics

import "math"

// stretchEpsilon is the floor on runtime in a job's stretch
// (turnaround / max(runtime, epsilon)). A job whose runtime is below it is
// flagged, and its stretch is still reported as that ratio.
const stretchEpsilon = 1e-5

// JobRecord is the subset of a completed job's timing needed for the
// schedule summary.
type JobRecord struct {
	SubmitTime     float64
	StartTime      float64
	FinishTime     float64
	Requested      int
	Allocated      int
	Success        bool
	StretchFlagged bool
}

func (j JobRecord) waitingTime() float64 {
	return j.StartTime - j.SubmitTime
}

func (j JobRecord) turnaroundTime() float64 {
	return j.FinishTime - j.SubmitTime
}

func (j JobRecord) runtime() float64 {
	return j.FinishTime - j.StartTime
}

func (j JobRecord) stretch() (value float64, flagged bool) {
	runtime := j.runtime()
	if runtime < stretchEpsilon {
		return j.turnaroundTime() / stretchEpsilon, true
	}
	return j.turnaroundTime() / runtime, false
}

// ScheduleSummary is the aggregate statistics set the schedule.csv tracer
// renders for a completed run.
type ScheduleSummary struct {
	Makespan float64

	NbJobs         int
	NbJobsSuccess  int
	NbJobsFailed   int
	SuccessRate    float64

	MeanWaitingTime    float64
	MaxWaitingTime     float64
	MeanTurnaroundTime float64
	MaxTurnaroundTime  float64
	MeanStretch        float64
	MaxStretch         float64
	StretchFlaggedJobs int

	MachineStateSeconds map[string]float64
}

// ScheduleAggregator accumulates JobRecords and machine-state durations as
// the simulation runs, producing a ScheduleSummary on demand.
type ScheduleAggregator struct {
	jobs          []JobRecord
	machineStates map[string]float64
	lastEventTime float64
}

// NewScheduleAggregator creates an empty aggregator.
func NewScheduleAggregator() *ScheduleAggregator {
	return &ScheduleAggregator{
		machineStates: make(map[string]float64),
	}
}

// RecordJob adds a completed job's timing to the running aggregate.
func (a *ScheduleAggregator) RecordJob(rec JobRecord) {
	if _, flagged := rec.stretch(); flagged {
		rec.StretchFlagged = true
	}
	a.jobs = append(a.jobs, rec)
}

// RecordMachineStateDuration adds duration seconds spent in state across
// however many machines observed it, for the per-state cumulative totals.
func (a *ScheduleAggregator) RecordMachineStateDuration(state string, duration float64) {
	a.machineStates[state] += duration
}

// Summary computes a ScheduleSummary as of now, the simulation's current or
// final time (used for Makespan).
func (a *ScheduleAggregator) Summary(now float64) ScheduleSummary {
	summary := ScheduleSummary{
		Makespan:            now,
		NbJobs:              len(a.jobs),
		MachineStateSeconds: make(map[string]float64, len(a.machineStates)),
	}
	for state, seconds := range a.machineStates {
		summary.MachineStateSeconds[state] = seconds
	}

	if len(a.jobs) == 0 {
		return summary
	}

	var (
		waitingSum, turnaroundSum, stretchSum float64
		maxWaiting, maxTurnaround, maxStretch  float64
	)

	for _, job := range a.jobs {
		if job.Success {
			summary.NbJobsSuccess++
		} else {
			summary.NbJobsFailed++
		}

		waiting := job.waitingTime()
		turnaround := job.turnaroundTime()
		stretch, flagged := job.stretch()
		if flagged {
			summary.StretchFlaggedJobs++
		}

		waitingSum += waiting
		turnaroundSum += turnaround
		stretchSum += stretch

		maxWaiting = math.Max(maxWaiting, waiting)
		maxTurnaround = math.Max(maxTurnaround, turnaround)
		maxStretch = math.Max(maxStretch, stretch)
	}

	n := float64(len(a.jobs))
	summary.SuccessRate = float64(summary.NbJobsSuccess) / n
	summary.MeanWaitingTime = waitingSum / n
	summary.MaxWaitingTime = maxWaiting
	summary.MeanTurnaroundTime = turnaroundSum / n
	summary.MaxTurnaroundTime = maxTurnaround
	summary.MeanStretch = stretchSum / n
	summary.MaxStretch = maxStretch

	return summary
}
