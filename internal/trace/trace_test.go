package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/pkg/analytics"
)

// sink is an in-memory WriteFlusher for assertions.
type sink struct {
	buf    bytes.Buffer
	closed bool
}

func (s *sink) WriteLine(line string) error {
	s.buf.WriteString(line)
	s.buf.WriteByte('\n')
	return nil
}
func (s *sink) Flush() error { return nil }
func (s *sink) Close() error {
	s.closed = true
	return nil
}

func lines(s *sink) []string {
	text := strings.TrimRight(s.buf.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestBufferedWriter_FlushesPastThreshold(t *testing.T) {
	var out bytes.Buffer
	bw := NewBufferedWriter(&out, 16)

	require.NoError(t, bw.WriteLine("short"))
	assert.Zero(t, out.Len(), "below threshold, nothing written yet")

	require.NoError(t, bw.WriteLine("this line crosses it"))
	assert.Positive(t, out.Len())

	require.NoError(t, bw.WriteLine("tail"))
	require.NoError(t, bw.Flush())
	assert.Equal(t, "short\nthis line crosses it\ntail\n", out.String())
}

func mustJob(t *testing.T, name string) *job.Job {
	t.Helper()
	id, err := ids.NewJobID("w", ids.JobName(name))
	require.NoError(t, err)
	j, err := job.New(id, "prof", 10, 100, 2)
	require.NoError(t, err)
	return j
}

func TestJobsTracer_CompletedRow(t *testing.T) {
	j := mustJob(t, "j1")
	require.NoError(t, j.Transition(job.StateSubmitted))
	require.NoError(t, j.Transition(job.StateRunning))
	j.StartingTime = 15
	j.Allocation = []int{0, 1}
	require.NoError(t, j.Transition(job.StateCompletedSuccessfully))

	tr := NewJobsTracer()
	out := &sink{}
	tr.SetContext(out)
	require.NoError(t, tr.WriteJob(j, 45))

	rows := lines(out)
	require.Len(t, rows, 2)
	assert.Equal(t, jobsHeader, rows[0])

	fields := strings.Split(rows[1], ",")
	require.Len(t, fields, 17)
	assert.Equal(t, "w!j1", fields[0])
	assert.Equal(t, "w", fields[1])
	assert.Equal(t, "1", fields[6], "success flag")
	assert.Equal(t, "15", fields[8], "starting_time")
	assert.Equal(t, "30", fields[9], "execution_time")
	assert.Equal(t, "45", fields[10], "finish_time")
	assert.Equal(t, "5", fields[11], "waiting_time")
	assert.Equal(t, "35", fields[12], "turnaround_time")
	assert.Equal(t, "0-1", fields[14], "allocated_resources")
}

func TestJobsTracer_RejectedRowLeavesTimingEmpty(t *testing.T) {
	j := mustJob(t, "j2")
	require.NoError(t, j.Transition(job.StateSubmitted))
	require.NoError(t, j.Transition(job.StateRejected))

	tr := NewJobsTracer()
	out := &sink{}
	tr.SetContext(out)
	require.NoError(t, tr.WriteJob(j, 0))

	fields := strings.Split(lines(out)[1], ",")
	require.Len(t, fields, 17)
	for i := 8; i <= 13; i++ {
		assert.Empty(t, fields[i], "timing field %d must be empty for a rejected job", i)
	}
	assert.Equal(t, string(job.StateRejected), fields[7])
}

func TestJobsTracer_ZeroRuntimeStretchIsFinite(t *testing.T) {
	j := mustJob(t, "j3")
	require.NoError(t, j.Transition(job.StateSubmitted))
	require.NoError(t, j.Transition(job.StateRunning))
	j.StartingTime = 10
	require.NoError(t, j.Transition(job.StateCompletedSuccessfully))

	tr := NewJobsTracer()
	out := &sink{}
	tr.SetContext(out)
	require.NoError(t, tr.WriteJob(j, 10))

	fields := strings.Split(lines(out)[1], ",")
	assert.NotContains(t, fields[13], "Inf")
	assert.NotContains(t, fields[13], "NaN")
}

func TestScheduleTracer_SingleValueRow(t *testing.T) {
	agg := analytics.NewScheduleAggregator()
	agg.RecordJob(analytics.JobRecord{SubmitTime: 0, StartTime: 5, FinishTime: 20, Success: true})
	agg.RecordMachineStateDuration("idle", 12.5)

	tr := NewScheduleTracer()
	out := &sink{}
	tr.SetContext(out)
	require.NoError(t, tr.WriteSummary(agg.Summary(20), RunTimings{
		SchedulingWallSeconds: 0.25,
		SimulationWallSeconds: 1.5,
		ConsumedJoules:        42,
		NbSwitchesStarted:     3,
		NbSwitchesCompleted:   3,
	}))

	rows := lines(out)
	require.Len(t, rows, 2)
	assert.Equal(t, len(strings.Split(scheduleHeader, ",")), len(strings.Split(rows[1], ",")))
	assert.Equal(t, "1", strings.Split(rows[1], ",")[0], "nb_jobs")
}

func TestPStateTracer_HyphenRangeRow(t *testing.T) {
	tr := NewPStateTracer()
	out := &sink{}
	tr.SetContext(out)
	require.NoError(t, tr.WriteChange(3.5, []int{0, 1, 2, 5}, 3))

	rows := lines(out)
	require.Len(t, rows, 2)
	assert.Equal(t, "time,machine_id_set,new_pstate", rows[0])
	assert.Equal(t, "3.5,\"0-2,5\",3", rows[1])
}

func TestMachineStateTracer_SkipsDuplicateSnapshots(t *testing.T) {
	tr := NewMachineStateTracer()
	out := &sink{}
	tr.SetContext(out)

	counts := MachineStateCounts{Idle: 4}
	require.NoError(t, tr.WriteCounts(0, counts))
	require.NoError(t, tr.WriteCounts(1, counts))
	counts.Computing = 2
	counts.Idle = 2
	require.NoError(t, tr.WriteCounts(2, counts))

	rows := lines(out)
	require.Len(t, rows, 3)
	assert.Equal(t, "0,0,0,0,4,0", rows[1])
	assert.Equal(t, "2,0,0,0,2,2", rows[2])
}

func TestGanttTracer_SpanPairPerMachine(t *testing.T) {
	tr := NewGanttTracer()
	out := &sink{}
	tr.SetContext(out)

	require.NoError(t, tr.SpanOpen(1, []int{0, 1}, "w!j1", "job"))
	require.NoError(t, tr.SpanClose(9, []int{0, 1}, "w!j1", "job"))

	rows := lines(out)
	require.Len(t, rows, 4)

	var ev ganttEvent
	require.NoError(t, json.Unmarshal([]byte(rows[0]), &ev))
	assert.Equal(t, "span_open", ev.Event)
	assert.Equal(t, 0, ev.Machine)
	assert.Equal(t, "w!j1", ev.JobID)

	require.NoError(t, json.Unmarshal([]byte(rows[3]), &ev))
	assert.Equal(t, "span_close", ev.Event)
	assert.Equal(t, 1, ev.Machine)
	assert.Equal(t, 9.0, ev.Time)
}

func TestEnergyTracer_EventTypes(t *testing.T) {
	tr := NewEnergyTracer()
	out := &sink{}
	tr.SetContext(out)

	require.NoError(t, tr.WriteSample(0, 0, EnergyEventJobStart, 10, 200))
	require.NoError(t, tr.WriteSample(5, 1000, EnergyEventJobEnd, 10, 10))
	require.NoError(t, tr.WriteSample(6, 1010, EnergyEventPStateChange, 10, 10))

	rows := lines(out)
	require.Len(t, rows, 4)
	assert.Equal(t, "time,energy,event_type,wattmin,epower", rows[0])
	assert.Equal(t, "0,0,s,10,200", rows[1])
	assert.Equal(t, "5,1000,e,10,10", rows[2])
	assert.Equal(t, "6,1010,p,10,10", rows[3])
}
