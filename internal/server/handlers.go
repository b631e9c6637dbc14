package server

import (
	"encoding/json"

	"github.com/oar-team/batsim-go/internal/exec"
	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/machine"
	"github.com/oar-team/batsim-go/internal/periodic"
	"github.com/oar-team/batsim-go/internal/profile"
	"github.com/oar-team/batsim-go/internal/protocol"
	"github.com/oar-team/batsim-go/internal/trace"
	"github.com/oar-team/batsim-go/internal/workload"
	"github.com/oar-team/batsim-go/pkg/analytics"
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// handle dispatches one mailbox message. A returned error aborts the
// simulation.
func (s *Server) handle(msg Message) error {
	now := s.clock.Now()

	switch msg.Type {
	case MsgSubmitterHello:
		s.nbActiveSubmitters++
		switch msg.SubmitterKind {
		case SubmitterJobs:
			s.nbJobSubmitters++
		case SubmitterEvents:
			s.nbEventSubmitters++
		}
		return nil

	case MsgSubmitterBye:
		s.nbActiveSubmitters--
		switch msg.SubmitterKind {
		case SubmitterJobs:
			s.nbJobSubmitters--
			if s.nbJobSubmitters == 0 {
				s.appendEvent(protocol.EventNotify, protocol.NotifyPayload{NotifyType: "no_more_static_job_to_submit"})
			}
		case SubmitterEvents:
			s.nbEventSubmitters--
			if s.nbEventSubmitters == 0 {
				s.appendEvent(protocol.EventNotify, protocol.NotifyPayload{NotifyType: "no_more_external_event_to_occur"})
			}
		}
		return nil

	case MsgJobSubmitted:
		return s.handleJobSubmitted(msg.Job)

	case MsgJobCompleted:
		return s.handleJobCompleted(now, msg.JobID, msg.ReturnCode)

	case MsgExecuteJob:
		return s.handleExecuteJob(now, msg.JobID, msg.Execute)

	case MsgRejectJob:
		return s.handleRejectJob(msg.JobID)

	case MsgKillJobs:
		return s.handleKillJobs(msg.Kill)

	case MsgChangeJobState:
		return s.handleChangeJobState(now, msg.ChangeState)

	case MsgRegisterJob:
		return s.handleRegisterJob(msg.RegisterJob)

	case MsgRegisterProfile:
		return s.handleRegisterProfile(msg.RegisterProfile)

	case MsgSetJobMetadata:
		j, err := s.jobs.Get(mustParseJobID(msg.SetMetadata.JobID))
		if err != nil {
			return err
		}
		j.Metadata[msg.SetMetadata.Key] = msg.SetMetadata.Value
		return nil

	case MsgCallMeLater:
		p := msg.CallMeLater
		infinite := p.NbPeriods <= 0
		if err := s.periodicEng.Add(periodic.Entity{
			ID:               p.ID,
			PeriodMs:         p.PeriodMs,
			OffsetMs:         p.OffsetMs,
			Kind:             periodic.KindCallMeLater,
			Infinite:         infinite,
			RemainingPeriods: p.NbPeriods,
		}); err != nil {
			return err
		}
		s.periodicActor.Rearm()
		return nil

	case MsgCreateProbe:
		p := msg.CreateProbe
		infinite := p.NbPeriods <= 0
		agg := periodic.Aggregation(p.Aggregation)
		if agg == "" {
			agg = periodic.AggregationNone
		}
		if err := s.periodicEng.Add(periodic.Entity{
			ID:               p.ID,
			PeriodMs:         p.PeriodMs,
			OffsetMs:         p.OffsetMs,
			Kind:             periodic.KindProbe,
			Infinite:         infinite,
			RemainingPeriods: p.NbPeriods,
			Probe: &periodic.ProbeSpec{
				Metric:      p.Metric,
				Resources:   p.Resources,
				Aggregation: agg,
			},
		}); err != nil {
			return err
		}
		s.periodicActor.Rearm()
		return nil

	case MsgStopCallMeLater, MsgStopProbe:
		return s.periodicEng.Remove(msg.StopID)

	case MsgPeriodicTrigger:
		s.handlePeriodicTrigger(now, msg.PeriodicFires, msg.PeriodicRetired)
		return nil

	case MsgPStateModification:
		return s.handlePStateModification(now, msg.PStateChange)

	case MsgSwitchedOn:
		return s.handleSwitchCompleted(now, msg.MachineID, msg.TargetPState)

	case MsgSwitchedOff:
		return s.handleSwitchCompleted(now, msg.MachineID, msg.TargetPState)

	case MsgEventOccurred:
		return s.handleEventOccurred(now, msg.ExternalEvent)

	case MsgFromJobMessage:
		s.appendEvent(protocol.EventFromJobMessage, protocol.FromJobMessagePayload{
			JobID:   msg.JobID.String(),
			Message: msg.Payload,
		})
		return nil

	case MsgToJobMessage:
		j, err := s.jobs.Get(mustParseJobID(msg.ToJob.JobID))
		if err != nil {
			return err
		}
		j.PushMessage(msg.ToJob.Message)
		return nil

	case MsgFinishRegistration:
		s.registrationFinished = true
		return nil

	case MsgForceSimulationStop:
		s.logger.Info("simulation stop forced by EDC", "reason", msg.Payload)
		s.forcedStop = true
		_ = s.tracers.Flush()
		return nil

	case MsgSchedReady:
		s.edcReady = true
		if s.endSent {
			s.endAckReceived = true
		}
		s.deleteProcessedJobs()
		return nil

	default:
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag,
			"unknown mailbox message type %q", msg.Type)
	}
}

// handleEdcHello configures the protocol's ACK and dynamic-registration
// behavior for the rest of the run. ack_dynamic_registration must be
// present; a missing enable_dynamic_registration reads as false.
func (s *Server) handleEdcHello(ev protocol.Event) error {
	var raw map[string]json.RawMessage
	if err := ev.Decode(&raw); err != nil {
		return err
	}
	if _, ok := raw["ack_dynamic_registration"]; !ok {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeAckMismatch,
			"EDC_HELLO must state ack_dynamic_registration explicitly")
	}
	var p protocol.EdcHelloPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.ackRegistration = p.AckDynamicRegistration
	s.dynamicEnabled = p.EnableDynamicRegistration
	return nil
}

func (s *Server) handleJobSubmitted(j *job.Job) error {
	if err := j.Transition(job.StateSubmitted); err != nil {
		return err
	}
	s.nbSubmitted++
	s.metrics.RecordJobSubmitted(string(j.ID.Workload))

	payload := protocol.JobSubmittedPayload{JobID: j.ID.String()}
	// No key-value store is attached, so the job and profile descriptions
	// are inlined for the EDC.
	if jobJSON, err := json.Marshal(map[string]any{
		"id":       j.ID.String(),
		"subtime":  j.SubmissionTime,
		"walltime": j.Walltime,
		"res":      j.RequestedNbRes,
		"profile":  j.ProfileName,
	}); err == nil {
		payload.JobJSON = string(jobJSON)
	}
	if wl, err := s.workloads.Get(j.ID.Workload); err == nil {
		if prof, err := wl.Lookup(ids.ProfileName(j.ProfileName)); err == nil {
			if profJSON, err := prof.ToJSON(); err == nil {
				payload.ProfileJSON = string(profJSON)
			}
		}
	}
	s.appendEvent(protocol.EventJobSubmitted, payload)
	return nil
}

func (s *Server) handleExecuteJob(now float64, id ids.JobID, p *protocol.ExecuteJobPayload) error {
	j, err := s.jobs.Get(id)
	if err != nil {
		return err
	}
	if j.State != job.StateSubmitted {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeInvalidMessageOrder,
			"EXECUTE_JOB for job %s in state %s (want submitted)", id, j.State)
	}

	wl, err := s.workloads.Get(id.Workload)
	if err != nil {
		return err
	}
	prof, err := wl.Lookup(ids.ProfileName(j.ProfileName))
	if err != nil {
		return err
	}

	placement := exec.Placement{
		Machines:       append([]int(nil), p.Allocation...),
		ExecutorToHost: p.ExecutorToHost,
		StorageMapping: p.StorageMapping,
	}

	if prof.Type == profile.TypeDataStaging {
		// The allocation is forcibly replaced by the {from, to} storage
		// pair; the EDC-supplied machines are ignored.
		from, err := exec.ResolveStorageHost(s.machines, placement, prof.DataStaging.FromStorage)
		if err != nil {
			return err
		}
		to, err := exec.ResolveStorageHost(s.machines, placement, prof.DataStaging.ToStorage)
		if err != nil {
			return err
		}
		placement.Machines = []int{from, to}
	} else {
		if err := exec.ValidateAllocation(s.machines, placement, j.RequestedNbRes, prof.IsRigid(),
			s.sharingCompute, s.sharingStorage); err != nil {
			return err
		}
	}

	if err := j.Transition(job.StateRunning); err != nil {
		return err
	}
	j.StartingTime = now
	j.Allocation = machine.NewAllocationSet(placement.Machines).Sorted()
	j.ExecutionRequest = &job.ExecutionRequest{
		Allocation:     j.Allocation,
		ExecutorToHost: p.ExecutorToHost,
		StorageMapping: p.StorageMapping,
	}

	if prof.Type != profile.TypeDataStaging {
		for _, mID := range j.Allocation {
			m, err := s.machines.Get(mID)
			if err != nil {
				return err
			}
			if err := m.AddJob(id.String()); err != nil {
				return err
			}
		}
	}

	s.metrics.RecordJobRunning(string(id.Workload))
	s.writeMachineStates(now)
	s.writeEnergySample(now, trace.EnergyEventJobStart)
	if err := s.tracers.Gantt.SpanOpen(now, j.Allocation, id.String(), "job"); err != nil {
		s.logger.Warn("gantt span open", "error", err)
	}

	resolver := func(name string) (*profile.Profile, error) {
		return wl.Lookup(ids.ProfileName(name))
	}
	return s.engine.Start(j, resolver, placement, func(code int) {
		s.deliver(Message{Type: MsgJobCompleted, JobID: id, ReturnCode: code})
	})
}

func (s *Server) handleJobCompleted(now float64, id ids.JobID, code int) error {
	j, err := s.jobs.Get(id)
	if err != nil {
		return err
	}
	if j.State != job.StateRunning {
		// The job was killed between completion and delivery; the killer
		// already accounted for it.
		return nil
	}
	j.ReturnCode = code
	newState := job.TerminalStateFromReturnCode(code)
	return s.completeJob(now, j, newState)
}

// completeJob applies the shared terminal bookkeeping: machine release,
// tracer rows, aggregate metrics, the JobCompleted notification, and
// deletion staging.
func (s *Server) completeJob(now float64, j *job.Job, newState job.State) error {
	if err := j.Transition(newState); err != nil {
		return err
	}
	j.Runtime = now - j.StartingTime
	s.chargeJobEnergy(j)

	for _, mID := range j.Allocation {
		if m, err := s.machines.Get(mID); err == nil {
			m.RemoveJob(j.ID.String())
		}
	}
	s.nbCompleted++
	s.metrics.RecordJobCompleted(string(j.ID.Workload), string(newState))

	s.writeMachineStates(now)
	s.writeEnergySample(now, trace.EnergyEventJobEnd)
	if err := s.tracers.Gantt.SpanClose(now, j.Allocation, j.ID.String(), "job"); err != nil {
		s.logger.Warn("gantt span close", "error", err)
	}
	if err := s.tracers.Jobs.WriteJob(j, now); err != nil {
		s.logger.Warn("writing job row", "error", err)
	}
	s.aggregator.RecordJob(analytics.JobRecord{
		SubmitTime: j.SubmissionTime,
		StartTime:  j.StartingTime,
		FinishTime: now,
		Requested:  j.RequestedNbRes,
		Allocated:  len(j.Allocation),
		Success:    newState == job.StateCompletedSuccessfully,
	})

	s.appendEvent(protocol.EventJobCompleted, protocol.JobCompletedPayload{
		JobID:      j.ID.String(),
		JobState:   string(newState),
		ReturnCode: j.ReturnCode,
	})
	s.jobsToDelete = append(s.jobsToDelete, j.ID)
	s.resolveWorkflowDeps(j.ID, now)
	return nil
}

// chargeJobEnergy attributes the job's allocation draw over its runtime.
func (s *Server) chargeJobEnergy(j *job.Job) {
	if s.platform == nil || len(j.Allocation) == 0 {
		return
	}
	var watts float64
	for _, w := range s.platform.EnergyWatts(j.Allocation) {
		watts += w
	}
	j.ConsumedEnergy += watts * j.Runtime
}

func (s *Server) handleRejectJob(id ids.JobID) error {
	j, err := s.jobs.Get(id)
	if err != nil {
		return err
	}
	if j.State != job.StateSubmitted {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeInvalidMessageOrder,
			"REJECT_JOB for job %s in state %s (want submitted)", id, j.State)
	}
	if err := j.Transition(job.StateRejected); err != nil {
		return err
	}
	s.nbCompleted++
	s.metrics.RecordJobRejected(string(id.Workload))
	if err := s.tracers.Jobs.WriteJob(j, s.clock.Now()); err != nil {
		s.logger.Warn("writing job row", "error", err)
	}
	s.jobsToDelete = append(s.jobsToDelete, id)
	return nil
}

func (s *Server) handleKillJobs(p *protocol.KillJobsPayload) error {
	var targets []*job.Job
	for _, jidStr := range p.JobIDs {
		id, err := ids.ParseJobID(jidStr)
		if err != nil {
			return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag, "KILL_JOBS: %v", err)
		}
		j, err := s.jobs.Get(id)
		if err != nil {
			return err
		}
		if j.State != job.StateRunning || j.KillRequested {
			continue
		}
		j.KillRequested = true
		targets = append(targets, j)
	}

	s.nbKillers++
	s.clock.After(0, func(now float64) {
		killed := protocol.JobKilledPayload{}
		for _, j := range targets {
			progress, _ := s.engine.Kill(j.ID)
			if err := s.completeJob(now, j, job.StateCompletedKilled); err != nil {
				s.nbKillers--
				s.fail(err)
				return
			}
			killed.JobIDs = append(killed.JobIDs, j.ID.String())
			killed.Progress = append(killed.Progress, protocol.JobProgress{
				JobID:    j.ID.String(),
				Progress: progress,
			})
		}
		s.appendEvent(protocol.EventJobKilled, killed)
		s.nbKillers--
		s.drain()
	})
	return nil
}

func (s *Server) handleChangeJobState(now float64, p *protocol.ChangeJobStatePayload) error {
	id := mustParseJobID(p.JobID)
	j, err := s.jobs.Get(id)
	if err != nil {
		return err
	}
	newState := job.State(p.NewState)
	if !job.CanTransition(j.State, newState) {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			id.String(), "CHANGE_JOB_STATE: illegal transition %s -> %s for job %s", j.State, newState, id)
	}
	if newState.IsTerminal() && j.State == job.StateRunning {
		s.engine.Kill(j.ID)
		return s.completeJob(now, j, newState)
	}
	if err := j.Transition(newState); err != nil {
		return err
	}
	if newState == job.StateSubmitted {
		s.nbSubmitted++
	}
	if newState == job.StateRejected {
		s.nbCompleted++
		if err := s.tracers.Jobs.WriteJob(j, now); err != nil {
			s.logger.Warn("writing job row", "error", err)
		}
		s.jobsToDelete = append(s.jobsToDelete, id)
	}
	return nil
}

func (s *Server) handleRegisterProfile(p *protocol.RegisterProfilePayload) error {
	if err := s.checkRegistrationOpen("REGISTER_PROFILE"); err != nil {
		return err
	}
	wl := s.dynamicWorkload(ids.WorkloadName(p.WorkloadName))
	prof, err := profile.FromJSON(p.ProfileName, p.Profile)
	if err != nil {
		return err
	}
	return wl.RegisterProfile(ids.ProfileName(p.ProfileName), prof)
}

func (s *Server) handleRegisterJob(p *protocol.RegisterJobPayload) error {
	if err := s.checkRegistrationOpen("REGISTER_JOB"); err != nil {
		return err
	}
	id, err := ids.ParseJobID(p.JobID)
	if err != nil {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag, "REGISTER_JOB: %v", err)
	}
	wl := s.dynamicWorkload(id.Workload)
	if _, err := wl.Lookup(ids.ProfileName(p.ProfileName)); err != nil {
		return err
	}

	walltime := p.Walltime
	if walltime == 0 {
		walltime = -1
	}
	j, err := job.New(id, p.ProfileName, p.SubmissionTime, walltime, p.RequestedNbRes)
	if err != nil {
		return err
	}
	if err := s.jobs.Add(j); err != nil {
		return err
	}
	if _, err := wl.ResolveProfile(ids.ProfileName(p.ProfileName)); err != nil {
		return err
	}
	if err := j.Transition(job.StateSubmitted); err != nil {
		return err
	}
	s.nbSubmitted++
	s.metrics.RecordJobSubmitted(string(id.Workload))

	if s.ackRegistration {
		s.appendEvent(protocol.EventJobSubmitted, protocol.JobSubmittedPayload{JobID: id.String()})
	}
	return nil
}

func (s *Server) checkRegistrationOpen(op string) error {
	if !s.dynamicEnabled {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeRegistrationClosed,
			"%s received but dynamic registration was not enabled in EDC_HELLO", op)
	}
	if s.registrationFinished {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeRegistrationClosed,
			"%s received after FINISH_REGISTRATION", op)
	}
	return nil
}

// dynamicWorkload finds or creates the dynamic workload named name.
func (s *Server) dynamicWorkload(name ids.WorkloadName) *workload.Workload {
	if wl, err := s.workloads.Get(name); err == nil {
		return wl
	}
	wl := workload.NewDynamic(name)
	_ = s.workloads.Add(wl)
	return wl
}

func (s *Server) handlePeriodicTrigger(now float64, fires []periodic.Fire, retired []string) {
	payload := protocol.PeriodicTriggerPayload{}
	for _, f := range fires {
		pf := protocol.PeriodicFire{
			ID:     f.Entity.ID,
			Kind:   string(f.Entity.Kind),
			IsLast: f.IsLast,
		}
		if f.Entity.Kind == periodic.KindProbe && f.Entity.Probe != nil {
			spec := f.Entity.Probe
			pf.Metric = spec.Metric
			values := s.probeValues(spec)
			pf.Value = periodic.Sample(values, spec.Aggregation)
		}
		payload.Fires = append(payload.Fires, pf)
	}
	s.appendEvent(protocol.EventPeriodicTrigger, payload)
	for _, id := range retired {
		s.appendEvent(protocol.EventPeriodicEntityStopped, protocol.PeriodicEntityStoppedPayload{ID: id})
	}
}

// probeValues samples one metric vector, ordered like spec.Resources.
func (s *Server) probeValues(spec *periodic.ProbeSpec) []float64 {
	if s.platform == nil {
		return make([]float64, len(spec.Resources))
	}
	watts := s.platform.EnergyWatts(spec.Resources)
	values := make([]float64, len(spec.Resources))
	for i, id := range spec.Resources {
		values[i] = watts[id]
	}
	return values
}

func (s *Server) handlePStateModification(now float64, p *protocol.ChangeHostPstatePayload) error {
	target := p.TargetPState
	var instant, switching []int

	for _, mID := range p.Machines {
		m, err := s.machines.Get(mID)
		if err != nil {
			return err
		}
		class, err := m.ClassifySwitch(target)
		if err != nil {
			return err
		}
		switch class {
		case machine.SwitchInstantComputeToCompute:
			instant = append(instant, mID)
		case machine.SwitchOff:
			if err := s.startSwitchOff(now, m, target); err != nil {
				return err
			}
			switching = append(switching, mID)
		case machine.SwitchOn:
			if err := s.startSwitchOn(now, m, target); err != nil {
				return err
			}
			switching = append(switching, mID)
		}
	}

	for _, mID := range instant {
		m, _ := s.machines.Get(mID)
		m.SwitchComputeToCompute(target)
	}

	if len(switching) == 0 {
		if len(instant) > 0 {
			s.writeEnergySample(now, trace.EnergyEventPStateChange)
			if err := s.tracers.PStates.WriteChange(now, instant, target); err != nil {
				s.logger.Warn("writing pstate change", "error", err)
			}
			s.appendEvent(protocol.EventResourceStateChanged, protocol.ResourceStateChangedPayload{
				Resources: machine.HyphenRanges(instant),
				State:     target,
			})
		}
		return nil
	}

	s.switches.Add(p.Machines, switching, target)
	return nil
}

// startSwitchOff drives Idle/Computing -> transiting -> Sleeping: the host
// is put on the sleep's off-virtual pstate, one flop is accounted to make
// the transition cost time and energy, then the sleep pstate applies.
func (s *Server) startSwitchOff(now float64, m *machine.Machine, target int) error {
	sp, ok := m.SleepPStates[target]
	if !ok {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			machine.HyphenRanges([]int{m.ID}),
			"machine %d: sleep pstate %d has no virtual transition pstates", m.ID, target)
	}
	if err := m.BeginSwitchOff(); err != nil {
		return err
	}
	s.metrics.RecordPStateSwitchStarted()
	s.writeEnergySample(now, trace.EnergyEventPStateChange)
	if err := s.tracers.PStates.WriteChange(now, []int{m.ID}, machine.SwitchOffTracePlaceholder); err != nil {
		s.logger.Warn("writing pstate change", "error", err)
	}
	s.writeMachineStates(now)

	m.CurrentPState = sp.SwitchOffPState
	duration := s.platform.AccountFlop([]int{m.ID})
	mID := m.ID
	s.clock.After(duration, func(float64) {
		m.CompleteSwitchOff(target)
		s.deliver(Message{Type: MsgSwitchedOff, MachineID: mID, TargetPState: target})
	})
	return nil
}

// startSwitchOn drives Sleeping -> transiting -> Idle via the sleep
// pstate's on-virtual pstate.
func (s *Server) startSwitchOn(now float64, m *machine.Machine, target int) error {
	sp, ok := m.SleepPStates[m.CurrentPState]
	if !ok {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			machine.HyphenRanges([]int{m.ID}),
			"machine %d: current sleep pstate %d has no virtual transition pstates", m.ID, m.CurrentPState)
	}
	if err := m.BeginSwitchOn(); err != nil {
		return err
	}
	s.metrics.RecordPStateSwitchStarted()
	s.writeEnergySample(now, trace.EnergyEventPStateChange)
	if err := s.tracers.PStates.WriteChange(now, []int{m.ID}, machine.SwitchOnTracePlaceholder); err != nil {
		s.logger.Warn("writing pstate change", "error", err)
	}
	s.writeMachineStates(now)

	m.CurrentPState = sp.SwitchOnPState
	duration := s.platform.AccountFlop([]int{m.ID})
	mID := m.ID
	s.clock.After(duration, func(float64) {
		m.CompleteSwitchOn(target)
		s.deliver(Message{Type: MsgSwitchedOn, MachineID: mID, TargetPState: target})
	})
	return nil
}

func (s *Server) handleSwitchCompleted(now float64, machineID, target int) error {
	s.metrics.RecordPStateSwitchCompleted()
	s.writeMachineStates(now)
	s.writeEnergySample(now, trace.EnergyEventPStateChange)

	completed, found := s.switches.MarkDone(machineID, target)
	if !found {
		return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
			machine.HyphenRanges([]int{machineID}),
			"machine %d finished a switch to pstate %d that was never requested", machineID, target)
	}
	if completed == nil {
		return nil
	}
	if err := s.tracers.PStates.WriteChange(now, completed.AllMachines, target); err != nil {
		s.logger.Warn("writing pstate change", "error", err)
	}
	s.appendEvent(protocol.EventResourceStateChanged, protocol.ResourceStateChangedPayload{
		Resources: machine.HyphenRanges(completed.AllMachines),
		State:     target,
	})
	return nil
}

// externalEventResources mirrors the machine-availability events' data
// shape: {"resources": [ids]}.
type externalEventResources struct {
	Resources []int `json:"resources"`
}

func (s *Server) handleEventOccurred(now float64, ev *workload.Event) error {
	switch ev.Type {
	case workload.EventMachineUnavailable, workload.EventMachineAvailable:
		var data externalEventResources
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
					"external event %s: %v", ev.Type, err)
			}
		}
		for _, mID := range data.Resources {
			m, err := s.machines.Get(mID)
			if err != nil {
				return err
			}
			if ev.Type == workload.EventMachineUnavailable {
				if m.State != machine.StateUnavailable {
					s.unavailablePrev[mID] = m.State
					m.State = machine.StateUnavailable
				}
			} else {
				prev, ok := s.unavailablePrev[mID]
				if !ok {
					prev = machine.StateIdle
				}
				delete(s.unavailablePrev, mID)
				m.State = prev
			}
		}
		s.writeMachineStates(now)
	}
	s.appendEvent(protocol.EventNotify, protocol.NotifyPayload{
		NotifyType: string(ev.Type),
		Payload:    string(ev.Data),
	})
	return nil
}

// deleteProcessedJobs drops jobs staged during the finished round trip,
// releasing their profile references.
func (s *Server) deleteProcessedJobs() {
	for _, id := range s.jobsToDelete {
		j, err := s.jobs.Get(id)
		if err != nil {
			continue
		}
		if wl, err := s.workloads.Get(id.Workload); err == nil {
			wl.ReleaseProfile(ids.ProfileName(j.ProfileName))
		}
		s.jobs.Delete(id)
	}
	s.jobsToDelete = nil
}

// appendEvent buffers one outbound event at the current instant.
func (s *Server) appendEvent(eventType protocol.EventType, payload any) {
	s.pending = append(s.pending, protocol.NewEvent(s.clock.Now(), eventType, payload))
}

func mustParseJobID(raw string) ids.JobID {
	id, err := ids.ParseJobID(raw)
	if err != nil {
		return ids.JobID{Workload: "", Job: ids.JobName(raw)}
	}
	return id
}
