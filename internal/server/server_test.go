package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-team/batsim-go/internal/exec"
	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/machine"
	"github.com/oar-team/batsim-go/internal/protocol"
	"github.com/oar-team/batsim-go/internal/sim"
	"github.com/oar-team/batsim-go/internal/workload"
)

// scriptedEDC is a protocol.Client driven by a policy closure: it records
// every request and replies with whatever events the policy returns.
type scriptedEDC struct {
	policy   func(req protocol.Message) []protocol.Event
	requests []protocol.Message
}

func (s *scriptedEDC) RoundTrip(_ context.Context, msg protocol.Message) (protocol.Message, error) {
	s.requests = append(s.requests, msg)
	var events []protocol.Event
	if s.policy != nil {
		events = s.policy(msg)
	}
	return protocol.Message{Now: msg.Now, Events: events}, nil
}

func (s *scriptedEDC) Close() error { return nil }

// allEvents flattens every outbound event the server ever sent.
func (s *scriptedEDC) allEvents() []protocol.Event {
	var out []protocol.Event
	for _, req := range s.requests {
		out = append(out, req.Events...)
	}
	return out
}

func (s *scriptedEDC) eventsOfType(t protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, ev := range s.allEvents() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// hello replies EdcHello once, at the start of the policy chain.
func hello(enableDynamic, ack bool) func(msg protocol.Message) []protocol.Event {
	sent := false
	return func(msg protocol.Message) []protocol.Event {
		if sent {
			return nil
		}
		sent = true
		return []protocol.Event{protocol.NewEvent(msg.Now, protocol.EventEdcHello, protocol.EdcHelloPayload{
			AckDynamicRegistration:    ack,
			EnableDynamicRegistration: enableDynamic,
		})}
	}
}

func newTestMachines(t *testing.T, nbCompute int) *machine.Registry {
	t.Helper()
	reg := machine.NewRegistry()
	require.NoError(t, reg.Add(machine.New(100, "master_host", machine.RoleMaster)))
	for i := 0; i < nbCompute; i++ {
		m := machine.New(i, fmt.Sprintf("node%d", i), machine.RoleComputeNode)
		m.PStates[3] = machine.PStateTypeSleep
		m.PStates[4] = machine.PStateTypeTransitionVirtual
		m.PStates[5] = machine.PStateTypeTransitionVirtual
		m.SleepPStates[3] = machine.SleepPState{SleepPState: 3, SwitchOffPState: 5, SwitchOnPState: 4}
		require.NoError(t, reg.Add(m))
	}
	require.NoError(t, reg.Finalize())
	return reg
}

func newTestServer(t *testing.T, edc protocol.Client, nbCompute int) (*Server, *sim.Clock) {
	t.Helper()
	clock := sim.NewClock()
	return New(Options{
		Clock:     clock,
		Client:    edc,
		Machines:  newTestMachines(t, nbCompute),
		Jobs:      job.NewRegistry(),
		Workloads: workload.NewRegistry(),
		Platform:  exec.NewReferencePlatform(),
	}), clock
}

func loadWorkload(t *testing.T, name, jsonText string) (*workload.Workload, []*job.Job) {
	t.Helper()
	w, jobs, err := workload.LoadFile(ids.WorkloadName(name), []byte(jsonText))
	require.NoError(t, err)
	return w, jobs
}

func executeEvent(now float64, jobID string, allocation []int) protocol.Event {
	return protocol.NewEvent(now, protocol.EventExecuteJob, protocol.ExecuteJobPayload{
		JobID:      jobID,
		Allocation: allocation,
	})
}

func TestRun_SingleDelayJobCompletes(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		for _, ev := range msg.Events {
			if ev.Type == protocol.EventJobSubmitted {
				var p protocol.JobSubmittedPayload
				require.NoError(t, ev.Decode(&p))
				events = append(events, executeEvent(msg.Now, p.JobID, []int{0}))
			}
		}
		return events
	}

	srv, clock := newTestServer(t, edc, 1)
	w, jobs := loadWorkload(t, "w", `{
		"nb_res": 1,
		"jobs": [{"id": "j1", "subtime": 0, "res": 1, "profile": "sleep10"}],
		"profiles": {"sleep10": {"type": "delay", "delay": 10}}
	}`)
	require.NoError(t, srv.AddStaticWorkload(w, jobs))

	require.NoError(t, srv.Run(context.Background()))

	completed := edc.eventsOfType(protocol.EventJobCompleted)
	require.Len(t, completed, 1)
	var p protocol.JobCompletedPayload
	require.NoError(t, completed[0].Decode(&p))
	assert.Equal(t, "w!j1", p.JobID)
	assert.Equal(t, string(job.StateCompletedSuccessfully), p.JobState)
	assert.Equal(t, 10.0, completed[0].Timestamp)

	require.Len(t, edc.eventsOfType(protocol.EventSimulationEnds), 1)

	// JobSubmitted carried the inlined job and profile descriptions.
	submitted := edc.eventsOfType(protocol.EventJobSubmitted)
	require.Len(t, submitted, 1)
	var sub protocol.JobSubmittedPayload
	require.NoError(t, submitted[0].Decode(&sub))
	assert.Contains(t, sub.ProfileJSON, `"delay"`)

	assert.Equal(t, 10.0, clock.Now())
}

func TestRun_WalltimeReached(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		for _, ev := range msg.Events {
			if ev.Type == protocol.EventJobSubmitted {
				var p protocol.JobSubmittedPayload
				require.NoError(t, ev.Decode(&p))
				events = append(events, executeEvent(msg.Now, p.JobID, []int{0}))
			}
		}
		return events
	}

	srv, clock := newTestServer(t, edc, 1)
	w, jobs := loadWorkload(t, "w", `{
		"nb_res": 1,
		"jobs": [{"id": "long", "subtime": 0, "walltime": 10, "res": 1, "profile": "sleep30"}],
		"profiles": {"sleep30": {"type": "delay", "delay": 30}}
	}`)
	require.NoError(t, srv.AddStaticWorkload(w, jobs))

	require.NoError(t, srv.Run(context.Background()))

	completed := edc.eventsOfType(protocol.EventJobCompleted)
	require.Len(t, completed, 1)
	var p protocol.JobCompletedPayload
	require.NoError(t, completed[0].Decode(&p))
	assert.Equal(t, string(job.StateCompletedWalltimeReached), p.JobState)
	assert.Equal(t, 10.0, completed[0].Timestamp, "the final sleep is truncated at the walltime")

	// A walltime death is not an EDC-requested kill.
	assert.Empty(t, edc.eventsOfType(protocol.EventJobKilled))
	assert.Equal(t, 10.0, clock.Now())
}

func TestRun_FcfsWithBackfilling(t *testing.T) {
	// Four hosts; job1 (res=2, 10s), job2 (res=4, 50s), job3/job4 (res=1,
	// 5s). job2 must wait for the whole platform, job3/job4 backfill on
	// the two free hosts.
	greet := hello(false, false)
	edc := &scriptedEDC{}
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		for _, ev := range msg.Events {
			switch ev.Type {
			case protocol.EventJobSubmitted:
				var p protocol.JobSubmittedPayload
				require.NoError(t, ev.Decode(&p))
				switch p.JobID {
				case "w!job1":
					events = append(events, executeEvent(msg.Now, p.JobID, []int{0, 1}))
				case "w!job3":
					events = append(events, executeEvent(msg.Now, p.JobID, []int{2}))
				case "w!job4":
					events = append(events, executeEvent(msg.Now, p.JobID, []int{3}))
				}
			case protocol.EventJobCompleted:
				var p protocol.JobCompletedPayload
				require.NoError(t, ev.Decode(&p))
				if p.JobID == "w!job1" {
					events = append(events, executeEvent(msg.Now, "w!job2", []int{0, 1, 2, 3}))
				}
			}
		}
		return events
	}

	srv, clock := newTestServer(t, edc, 4)
	w, jobs := loadWorkload(t, "w", `{
		"nb_res": 4,
		"jobs": [
			{"id": "job1", "subtime": 0, "walltime": 10, "res": 2, "profile": "d10"},
			{"id": "job2", "subtime": 0, "walltime": 50, "res": 4, "profile": "d50"},
			{"id": "job3", "subtime": 0, "walltime": 5, "res": 1, "profile": "d5"},
			{"id": "job4", "subtime": 0, "walltime": 5, "res": 1, "profile": "d5"}
		],
		"profiles": {
			"d10": {"type": "delay", "delay": 10},
			"d50": {"type": "delay", "delay": 50},
			"d5": {"type": "delay", "delay": 5}
		}
	}`)
	require.NoError(t, srv.AddStaticWorkload(w, jobs))

	require.NoError(t, srv.Run(context.Background()))

	states := map[string]string{}
	for _, ev := range edc.eventsOfType(protocol.EventJobCompleted) {
		var p protocol.JobCompletedPayload
		require.NoError(t, ev.Decode(&p))
		states[p.JobID] = p.JobState
	}
	require.Len(t, states, 4)
	for id, state := range states {
		assert.Equal(t, string(job.StateCompletedSuccessfully), state, "job %s", id)
	}
	assert.Equal(t, 60.0, clock.Now(), "makespan = job1 end (10) + job2 duration (50)")
}

func TestRun_KillReportsProgress(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		for _, ev := range msg.Events {
			switch ev.Type {
			case protocol.EventJobSubmitted:
				var p protocol.JobSubmittedPayload
				require.NoError(t, ev.Decode(&p))
				events = append(events,
					executeEvent(msg.Now, p.JobID, []int{0}),
					protocol.NewEvent(msg.Now, protocol.EventCallMeLater, protocol.CallMeLaterPayload{
						ID: "killtimer", PeriodMs: 5000, NbPeriods: 1,
					}))
			case protocol.EventPeriodicTrigger:
				events = append(events, protocol.NewEvent(msg.Now, protocol.EventKillJobs, protocol.KillJobsPayload{
					JobIDs: []string{"w!victim"},
				}))
			}
		}
		return events
	}

	srv, clock := newTestServer(t, edc, 1)
	w, jobs := loadWorkload(t, "w", `{
		"nb_res": 1,
		"jobs": [{"id": "victim", "subtime": 0, "res": 1, "profile": "d20"}],
		"profiles": {"d20": {"type": "delay", "delay": 20}}
	}`)
	require.NoError(t, srv.AddStaticWorkload(w, jobs))

	require.NoError(t, srv.Run(context.Background()))

	killedEvents := edc.eventsOfType(protocol.EventJobKilled)
	require.Len(t, killedEvents, 1)
	var killed protocol.JobKilledPayload
	require.NoError(t, killedEvents[0].Decode(&killed))
	require.Len(t, killed.Progress, 1)
	assert.Equal(t, "w!victim", killed.Progress[0].JobID)
	assert.InDelta(t, 0.25, killed.Progress[0].Progress, 1e-9, "killed at t=5 of a 20s delay")

	states := map[string]string{}
	for _, ev := range edc.eventsOfType(protocol.EventJobCompleted) {
		var p protocol.JobCompletedPayload
		require.NoError(t, ev.Decode(&p))
		states[p.JobID] = p.JobState
	}
	assert.Equal(t, string(job.StateCompletedKilled), states["w!victim"])
	assert.Equal(t, 5.0, clock.Now())
}

func TestRun_DynamicRegistrationWithoutAck(t *testing.T) {
	greet := hello(true, false)
	edc := &scriptedEDC{}
	registered := false
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		if !registered {
			registered = true
			events = append(events,
				protocol.NewEvent(msg.Now, protocol.EventRegisterProfile, protocol.RegisterProfilePayload{
					WorkloadName: "dyn",
					ProfileName:  "p",
					Profile:      []byte(`{"type": "delay", "delay": 3}`),
				}),
				protocol.NewEvent(msg.Now, protocol.EventRegisterJob, protocol.RegisterJobPayload{
					JobID:          "dyn!j",
					ProfileName:    "p",
					SubmissionTime: msg.Now,
					Walltime:       -1,
					RequestedNbRes: 1,
				}),
				executeEvent(msg.Now, "dyn!j", []int{0}),
				protocol.NewEvent(msg.Now, protocol.EventFinishRegistration, nil),
			)
		}
		return events
	}

	srv, _ := newTestServer(t, edc, 1)
	require.NoError(t, srv.Run(context.Background()))

	// No JobSubmitted ACK was requested, so none may be sent.
	assert.Empty(t, edc.eventsOfType(protocol.EventJobSubmitted))

	completed := edc.eventsOfType(protocol.EventJobCompleted)
	require.Len(t, completed, 1)
	var p protocol.JobCompletedPayload
	require.NoError(t, completed[0].Decode(&p))
	assert.Equal(t, "dyn!j", p.JobID)
	assert.Equal(t, string(job.StateCompletedSuccessfully), p.JobState)
}

func TestRun_NonMultiplePeriodsAbort(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	sent := false
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		if !sent {
			sent = true
			events = append(events,
				protocol.NewEvent(msg.Now, protocol.EventCallMeLater, protocol.CallMeLaterPayload{ID: "every3", PeriodMs: 3}),
				protocol.NewEvent(msg.Now, protocol.EventCallMeLater, protocol.CallMeLaterPayload{ID: "every5", PeriodMs: 5}),
			)
		}
		return events
	}

	srv, _ := newTestServer(t, edc, 1)
	err := srv.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every3")
	assert.Contains(t, err.Error(), "every5")
}

func TestRun_PstateSwitchOffThenOn(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	step := 0
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		switch step {
		case 0:
			step = 1
			events = append(events, protocol.NewEvent(msg.Now, protocol.EventChangeHostPstate, protocol.ChangeHostPstatePayload{
				Machines: []int{0}, TargetPState: 3,
			}))
		case 1:
			for _, ev := range msg.Events {
				if ev.Type == protocol.EventResourceStateChanged {
					step = 2
					events = append(events, protocol.NewEvent(msg.Now, protocol.EventChangeHostPstate, protocol.ChangeHostPstatePayload{
						Machines: []int{0}, TargetPState: 0,
					}))
				}
			}
		}
		return events
	}

	srv, _ := newTestServer(t, edc, 1)
	require.NoError(t, srv.Run(context.Background()))

	changes := edc.eventsOfType(protocol.EventResourceStateChanged)
	require.Len(t, changes, 2)
	var first, second protocol.ResourceStateChangedPayload
	require.NoError(t, changes[0].Decode(&first))
	require.NoError(t, changes[1].Decode(&second))
	assert.Equal(t, 3, first.State)
	assert.Equal(t, 0, second.State)
	assert.Equal(t, "0", first.Resources)

	m, err := srv.machines.Get(0)
	require.NoError(t, err)
	assert.Equal(t, machine.StateIdle, m.State)
	assert.Equal(t, 0, m.CurrentPState)
}

func TestRun_RejectJob(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		for _, ev := range msg.Events {
			if ev.Type == protocol.EventJobSubmitted {
				var p protocol.JobSubmittedPayload
				require.NoError(t, ev.Decode(&p))
				events = append(events, protocol.NewEvent(msg.Now, protocol.EventRejectJob, protocol.RejectJobPayload{JobID: p.JobID}))
			}
		}
		return events
	}

	srv, _ := newTestServer(t, edc, 1)
	w, jobs := loadWorkload(t, "w", `{
		"nb_res": 1,
		"jobs": [{"id": "nope", "subtime": 0, "res": 1, "profile": "d1"}],
		"profiles": {"d1": {"type": "delay", "delay": 1}}
	}`)
	require.NoError(t, srv.AddStaticWorkload(w, jobs))

	require.NoError(t, srv.Run(context.Background()))

	assert.Empty(t, edc.eventsOfType(protocol.EventJobCompleted))
	require.Len(t, edc.eventsOfType(protocol.EventSimulationEnds), 1)
}

func TestRun_ProbeSumMatchesVector(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	sent := false
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		if !sent {
			sent = true
			events = append(events,
				protocol.NewEvent(msg.Now, protocol.EventCreateProbe, protocol.CreateProbePayload{
					ID: "vec", PeriodMs: 1000, NbPeriods: 2, Metric: "power",
					Resources: []int{0, 1, 2, 3}, Aggregation: "none",
				}),
				protocol.NewEvent(msg.Now, protocol.EventCreateProbe, protocol.CreateProbePayload{
					ID: "sum", PeriodMs: 1000, NbPeriods: 2, Metric: "power",
					Resources: []int{0, 1, 2, 3}, Aggregation: "sum",
				}),
			)
		}
		return events
	}

	srv, _ := newTestServer(t, edc, 4)
	require.NoError(t, srv.Run(context.Background()))

	triggers := edc.eventsOfType(protocol.EventPeriodicTrigger)
	require.NotEmpty(t, triggers)
	for _, ev := range triggers {
		var p protocol.PeriodicTriggerPayload
		require.NoError(t, ev.Decode(&p))
		var vecSum, aggregate float64
		var haveVec, haveSum bool
		for _, fire := range p.Fires {
			switch fire.ID {
			case "vec":
				haveVec = true
				values, ok := fire.Value.([]any)
				require.True(t, ok)
				for _, v := range values {
					vecSum += v.(float64)
				}
			case "sum":
				haveSum = true
				aggregate = fire.Value.(float64)
			}
		}
		require.True(t, haveVec, "both probes share every slice")
		require.True(t, haveSum, "both probes share every slice")
		assert.InDelta(t, aggregate, vecSum, 1e-6)
	}
}

func TestTerminationPredicateCountsEverything(t *testing.T) {
	edc := &scriptedEDC{policy: hello(false, false)}
	srv, _ := newTestServer(t, edc, 1)

	assert.True(t, srv.isSimulationFinished())
	srv.nbActiveSubmitters = 1
	assert.False(t, srv.isSimulationFinished())
	srv.nbActiveSubmitters = 0

	srv.nbSubmitted = 2
	srv.nbCompleted = 1
	assert.False(t, srv.isSimulationFinished())
	srv.nbCompleted = 2

	srv.nbKillers = 1
	assert.False(t, srv.isSimulationFinished())
	srv.nbKillers = 0

	srv.dynamicEnabled = true
	assert.False(t, srv.isSimulationFinished())
	srv.registrationFinished = true
	assert.True(t, srv.isSimulationFinished())
}

func TestRun_WorkflowPrecedence(t *testing.T) {
	greet := hello(false, false)
	edc := &scriptedEDC{}
	edc.policy = func(msg protocol.Message) []protocol.Event {
		events := greet(msg)
		for _, ev := range msg.Events {
			if ev.Type == protocol.EventJobSubmitted {
				var p protocol.JobSubmittedPayload
				require.NoError(t, ev.Decode(&p))
				events = append(events, executeEvent(msg.Now, p.JobID, []int{0}))
			}
		}
		return events
	}

	srv, clock := newTestServer(t, edc, 1)
	tasks, err := workload.ParseWorkflow([]byte(`{
		"name": "chain",
		"tasks": [
			{"name": "a", "num_procs": 1, "execution_time": 4},
			{"name": "b", "num_procs": 1, "execution_time": 6, "parents": ["a"]}
		]
	}`))
	require.NoError(t, err)
	require.NoError(t, srv.AddWorkflow("wf", tasks))

	require.NoError(t, srv.Run(context.Background()))

	var submitTimes []float64
	for _, ev := range edc.eventsOfType(protocol.EventJobSubmitted) {
		submitTimes = append(submitTimes, ev.Timestamp)
	}
	require.Len(t, submitTimes, 2)
	assert.Equal(t, 0.0, submitTimes[0], "root task submits immediately")
	assert.Equal(t, 4.0, submitTimes[1], "dependent task submits when its parent completes")
	assert.Equal(t, 10.0, clock.Now())
}
