// Package server implements the orchestrator at the heart of the
// simulation: a single-threaded event loop that owns logical time,
// receives every inter-actor message through one mailbox, batches
// outbound events between EDC request/reply round trips, and detects
// global termination.
package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/oar-team/batsim-go/internal/exec"
	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/machine"
	"github.com/oar-team/batsim-go/internal/periodic"
	"github.com/oar-team/batsim-go/internal/protocol"
	"github.com/oar-team/batsim-go/internal/sim"
	"github.com/oar-team/batsim-go/internal/trace"
	"github.com/oar-team/batsim-go/internal/workload"
	"github.com/oar-team/batsim-go/pkg/analytics"
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
	"github.com/oar-team/batsim-go/pkg/logging"
	"github.com/oar-team/batsim-go/pkg/metrics"
)

// Options wires a Server to its collaborators.
type Options struct {
	Clock     *sim.Clock
	Client    protocol.Client
	Machines  *machine.Registry
	Jobs      *job.Registry
	Workloads *workload.Registry
	Platform  exec.Platform
	Tracers   *trace.Set
	Logger    logging.Logger
	Metrics   metrics.Collector

	// SharingCompute/SharingStorage allow multiple jobs per compute or
	// storage host.
	SharingCompute bool
	SharingStorage bool
	// EnergyEnabled turns on consumed_energy.csv rows.
	EnergyEnabled bool
	// Config is forwarded verbatim inside SimulationBegins.
	Config map[string]any
}

// Server coordinates submitters, job executors, switchers, periodic
// triggers, killers, and the EDC.
type Server struct {
	clock     *sim.Clock
	client    protocol.Client
	machines  *machine.Registry
	jobs      *job.Registry
	workloads *workload.Registry
	platform  exec.Platform
	tracers   *trace.Set
	logger    logging.Logger
	metrics   metrics.Collector

	engine        *exec.Engine
	periodicEng   *periodic.Engine
	periodicActor *periodic.Actor
	switches      *machine.CurrentSwitches

	mailbox  Mailbox
	draining bool

	pending []protocol.Event

	edcReady       bool
	endSent        bool
	endAckReceived bool
	forcedStop     bool
	failure        error

	sharingCompute bool
	sharingStorage bool
	energyEnabled  bool
	config         map[string]any

	ackRegistration      bool
	dynamicEnabled       bool
	registrationFinished bool

	nbActiveSubmitters int
	nbJobSubmitters    int
	nbEventSubmitters  int
	nbSubmitted        int
	nbCompleted        int
	nbKillers          int
	nbWaiters          int

	jobsToDelete    []ids.JobID
	workflowWaiting map[ids.JobID][]*workflowDependent

	aggregator    *analytics.ScheduleAggregator
	lastStateTime float64

	wattmin        float64
	totalJoules    float64
	lastEnergyTime float64

	runStart       time.Time
	schedulingWall time.Duration

	unavailablePrev map[int]machine.State

	ctx context.Context
}

// New builds a Server from opts. Nil Logger/Metrics/Tracers default to
// no-op implementations.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	tracers := opts.Tracers
	if tracers == nil {
		tracers = trace.NewMemorySet()
	}

	s := &Server{
		clock:           opts.Clock,
		client:          opts.Client,
		machines:        opts.Machines,
		jobs:            opts.Jobs,
		workloads:       opts.Workloads,
		platform:        opts.Platform,
		tracers:         tracers,
		logger:          logger.With("component", "server"),
		metrics:         collector,
		switches:        machine.NewCurrentSwitches(),
		periodicEng:     periodic.NewEngine(),
		sharingCompute:  opts.SharingCompute,
		sharingStorage:  opts.SharingStorage,
		energyEnabled:   opts.EnergyEnabled,
		config:          opts.Config,
		edcReady:        true,
		aggregator:      analytics.NewScheduleAggregator(),
		unavailablePrev: make(map[int]machine.State),
		workflowWaiting: make(map[ids.JobID][]*workflowDependent),
	}
	s.engine = exec.NewEngine(opts.Clock, opts.Platform, logger, func(id ids.JobID, payload string) {
		s.deliver(Message{Type: MsgFromJobMessage, JobID: id, Payload: payload})
	})
	s.periodicActor = periodic.NewActor(s.periodicEng, opts.Clock, func(now float64, fires []periodic.Fire, retired []string) {
		s.deliver(Message{Type: MsgPeriodicTrigger, PeriodicFires: fires, PeriodicRetired: retired})
	})
	return s
}

// AddStaticWorkload registers a loaded workload and schedules a job
// submitter actor for its jobs.
func (s *Server) AddStaticWorkload(w *workload.Workload, jobs []*job.Job) error {
	if err := s.workloads.Add(w); err != nil {
		return err
	}
	for _, j := range jobs {
		if err := s.jobs.Add(j); err != nil {
			return err
		}
	}
	s.scheduleJobSubmitter(string(w.Name), jobs)
	return nil
}

// AddExternalEvents schedules an event submitter actor for a loaded
// external-event list.
func (s *Server) AddExternalEvents(name string, events []workload.Event) {
	s.scheduleEventSubmitter(name, events)
}

// Run drives the simulation to completion: greets the EDC, replays
// submitters, and loops until the termination predicate holds and the
// EDC acknowledged SimulationEnds. It returns the first fatal error, nil
// on a clean run.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	s.runStart = time.Now()
	s.initEnergyBaseline()

	s.pending = append(s.pending,
		protocol.NewEvent(0, protocol.EventBatsimHello, nil),
		protocol.NewEvent(0, protocol.EventSimulationBegins, s.simulationBeginsPayload()),
	)
	s.writeMachineStates(0)

	// Kick the first round trip even if no submitter posts at t=0.
	s.clock.At(0, func(now float64) {
		s.drain()
	})

	s.clock.Run(func(now float64) bool {
		return s.failure != nil || s.forcedStop || s.endAckReceived
	})

	s.finalize()
	return s.failure
}

func (s *Server) simulationBeginsPayload() protocol.SimulationBeginsPayload {
	var computeIDs, storageIDs []int
	for _, m := range s.machines.All() {
		switch m.Role {
		case machine.RoleComputeNode:
			computeIDs = append(computeIDs, m.ID)
		case machine.RoleStorage:
			storageIDs = append(storageIDs, m.ID)
		}
	}
	return protocol.SimulationBeginsPayload{
		NbResources:      len(computeIDs),
		ComputeResources: computeIDs,
		StorageResources: storageIDs,
		Config:           s.config,
	}
}

// deliver posts msg and drains the mailbox unless a drain is already in
// progress higher up the stack.
func (s *Server) deliver(msg Message) {
	s.mailbox.Post(msg)
	if s.draining {
		return
	}
	s.drain()
}

func (s *Server) drain() {
	if s.failure != nil || s.forcedStop {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()

	for {
		msg, ok := s.mailbox.Take()
		if !ok {
			break
		}
		if err := s.handle(msg); err != nil {
			s.fail(err)
			return
		}
	}
	s.maybeSendToEDC()
}

// maybeSendToEDC applies the loop contract: once the handler finished and
// the mailbox is empty, either ship the buffered events or, if nothing is
// buffered and the simulation is finished, ship SimulationEnds.
func (s *Server) maybeSendToEDC() {
	if !s.edcReady || s.endSent || !s.mailbox.Empty() {
		return
	}
	if len(s.pending) == 0 {
		if !s.isSimulationFinished() {
			return
		}
		s.pending = append(s.pending, protocol.NewEvent(s.clock.Now(), protocol.EventSimulationEnds, nil))
		s.endSent = true
	}
	s.roundTrip()
}

func (s *Server) roundTrip() {
	req := protocol.Message{Now: s.clock.Now(), Events: s.pending}
	s.pending = nil
	s.edcReady = false

	start := time.Now()
	reply, err := s.client.RoundTrip(s.ctx, req)
	elapsed := time.Since(start)
	s.schedulingWall += elapsed
	s.metrics.RecordEDCRoundTrip(elapsed)

	if err != nil {
		s.metrics.RecordEDCFailure()
		s.fail(err)
		return
	}
	s.processReply(reply)
}

// processReply decodes the EDC reply in order. Actions are materialized
// as mailbox messages at their respective event timestamps; a SchedReady
// closes the round trip once the last action landed.
func (s *Server) processReply(reply protocol.Message) {
	now := s.clock.Now()
	lastTs := now
	for _, ev := range reply.Events {
		ts := ev.Timestamp
		if ts < now {
			s.fail(batsimerrors.NewProtocolError(batsimerrors.ErrorCodeInvalidMessageOrder,
				"EDC reply event %s has timestamp %v before now=%v", ev.Type, ts, now))
			return
		}
		if ts > lastTs {
			lastTs = ts
		}

		if ev.Type == protocol.EventEdcHello {
			if err := s.handleEdcHello(ev); err != nil {
				s.fail(err)
				return
			}
			continue
		}

		msg, err := s.decodeAction(ev)
		if err != nil {
			s.fail(err)
			return
		}
		s.clock.At(ts, func(float64) {
			s.deliver(msg)
		})
	}
	s.clock.At(lastTs, func(float64) {
		s.deliver(Message{Type: MsgSchedReady})
	})
}

func (s *Server) decodeAction(ev protocol.Event) (Message, error) {
	switch ev.Type {
	case protocol.EventRejectJob:
		var p protocol.RejectJobPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		id, err := ids.ParseJobID(p.JobID)
		if err != nil {
			return Message{}, batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag, "REJECT_JOB: %v", err)
		}
		return Message{Type: MsgRejectJob, JobID: id}, nil

	case protocol.EventExecuteJob:
		var p protocol.ExecuteJobPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		id, err := ids.ParseJobID(p.JobID)
		if err != nil {
			return Message{}, batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag, "EXECUTE_JOB: %v", err)
		}
		return Message{Type: MsgExecuteJob, JobID: id, Execute: &p}, nil

	case protocol.EventKillJobs:
		var p protocol.KillJobsPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgKillJobs, Kill: &p}, nil

	case protocol.EventRegisterJob:
		var p protocol.RegisterJobPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgRegisterJob, RegisterJob: &p}, nil

	case protocol.EventRegisterProfile:
		var p protocol.RegisterProfilePayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgRegisterProfile, RegisterProfile: &p}, nil

	case protocol.EventSetJobMetadata:
		var p protocol.SetJobMetadataPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgSetJobMetadata, SetMetadata: &p}, nil

	case protocol.EventChangeJobState:
		var p protocol.ChangeJobStatePayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgChangeJobState, ChangeState: &p}, nil

	case protocol.EventCallMeLater:
		var p protocol.CallMeLaterPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgCallMeLater, CallMeLater: &p}, nil

	case protocol.EventStopCallMeLater:
		var p protocol.StopCallMeLaterPayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgStopCallMeLater, StopID: p.ID}, nil

	case protocol.EventCreateProbe:
		var p protocol.CreateProbePayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgCreateProbe, CreateProbe: &p}, nil

	case protocol.EventStopProbe:
		var p protocol.StopProbePayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgStopProbe, StopID: p.ID}, nil

	case protocol.EventChangeHostPstate:
		var p protocol.ChangeHostPstatePayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgPStateModification, PStateChange: &p}, nil

	case protocol.EventToJobMessage:
		var p protocol.ToJobMessagePayload
		if err := ev.Decode(&p); err != nil {
			return Message{}, err
		}
		return Message{Type: MsgToJobMessage, ToJob: &p}, nil

	case protocol.EventFinishRegistration:
		return Message{Type: MsgFinishRegistration}, nil

	case protocol.EventForceSimulationStop:
		var p protocol.ForceSimulationStopPayload
		_ = ev.Decode(&p)
		return Message{Type: MsgForceSimulationStop, Payload: p.Reason}, nil

	default:
		return Message{}, batsimerrors.NewProtocolError(batsimerrors.ErrorCodeUnknownEventTag,
			"unknown inbound event tag %q", ev.Type)
	}
}

// isSimulationFinished is the global termination predicate. Finite
// periodic entities count as waiters.
func (s *Server) isSimulationFinished() bool {
	return s.nbActiveSubmitters == 0 &&
		(!s.dynamicEnabled || s.registrationFinished) &&
		s.nbSubmitted == s.nbCompleted &&
		s.jobs.CountRunning() == 0 &&
		s.switches.NbSwitchingMachines() == 0 &&
		s.nbWaiters+s.periodicEng.NbFinite() == 0 &&
		s.nbKillers == 0
}

func (s *Server) fail(err error) {
	if s.failure != nil {
		return
	}
	s.failure = err
	fmt.Fprintf(os.Stderr, "Aborting: %v\n", err)
	s.logger.Error("simulation aborted", "error", err)
	_ = s.tracers.Flush()
}

// finalize writes the schedule summary and closes every tracer,
// best-effort even when aborting.
func (s *Server) finalize() {
	now := s.clock.Now()
	s.accountMachineStates(now)
	s.tickEnergy(now)

	stats := s.metrics.GetStats()
	timings := trace.RunTimings{
		SchedulingWallSeconds: s.schedulingWall.Seconds(),
		SimulationWallSeconds: time.Since(s.runStart).Seconds(),
		ConsumedJoules:        s.totalJoules,
	}
	if stats != nil {
		timings.NbSwitchesStarted = stats.PStateSwitchesDone + stats.PStateSwitchesInFlight
		timings.NbSwitchesCompleted = stats.PStateSwitchesDone
	}
	if err := s.tracers.Schedule.WriteSummary(s.aggregator.Summary(now), timings); err != nil {
		s.logger.Warn("writing schedule summary", "error", err)
	}
	if err := s.tracers.Close(); err != nil {
		s.logger.Warn("closing tracers", "error", err)
	}
	_ = s.client.Close()
}

// --- machine-state and energy accounting ---

func (s *Server) initEnergyBaseline() {
	if s.platform == nil {
		return
	}
	var allIDs []int
	for _, m := range s.machines.All() {
		allIDs = append(allIDs, m.ID)
	}
	for _, w := range s.platform.EnergyWatts(allIDs) {
		s.wattmin += w
	}
}

// currentPowerW sums every machine's present draw.
func (s *Server) currentPowerW() float64 {
	if s.platform == nil {
		return 0
	}
	var allIDs []int
	for _, m := range s.machines.All() {
		allIDs = append(allIDs, m.ID)
	}
	var total float64
	for _, w := range s.platform.EnergyWatts(allIDs) {
		total += w
	}
	return total
}

// tickEnergy integrates consumed joules up to now.
func (s *Server) tickEnergy(now float64) {
	dt := now - s.lastEnergyTime
	if dt > 0 {
		s.totalJoules += s.currentPowerW() * dt
	}
	s.lastEnergyTime = now
}

func (s *Server) writeEnergySample(now float64, event trace.EnergyEventType) {
	if !s.energyEnabled {
		return
	}
	s.tickEnergy(now)
	if err := s.tracers.Energy.WriteSample(now, s.totalJoules, event, s.wattmin, s.currentPowerW()); err != nil {
		s.logger.Warn("writing energy sample", "error", err)
	}
}

// accountMachineStates charges the interval since the previous state
// change to each machine's current state class.
func (s *Server) accountMachineStates(now float64) {
	dt := now - s.lastStateTime
	s.lastStateTime = now
	if dt <= 0 {
		return
	}
	for _, m := range s.machines.All() {
		s.aggregator.RecordMachineStateDuration(stateClass(m.State), dt)
	}
}

func stateClass(st machine.State) string {
	switch st {
	case machine.StateSleeping:
		return "sleeping"
	case machine.StateTransitingFromSleepingToComputing:
		return "switching_on"
	case machine.StateTransitingFromComputingToSleeping:
		return "switching_off"
	case machine.StateIdle:
		return "idle"
	case machine.StateComputing:
		return "computing"
	default:
		return "unavailable"
	}
}

// writeMachineStates snapshots the per-state machine counts, charging the
// elapsed interval first.
func (s *Server) writeMachineStates(now float64) {
	s.accountMachineStates(now)
	if err := s.tracers.MachineStates.WriteCounts(now, trace.CountMachineStates(s.machines)); err != nil {
		s.logger.Warn("writing machine states", "error", err)
	}
}
