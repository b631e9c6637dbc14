package exec

import (
	"regexp"

	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/profile"
	"github.com/oar-team/batsim-go/internal/sim"
	"github.com/oar-team/batsim-go/pkg/logging"
)

// ProfileResolver looks up a named profile within the owning workload, the
// way a Sequence's sub-profiles or a SchedulerRecv's on_success/on_failure
// branches need to.
type ProfileResolver func(name string) (*profile.Profile, error)

// MessageSink is invoked with an EDC-bound message a SchedulerSend
// sub-task emits. The engine itself does not know how to deliver it; the
// server wires this to its outbound event batch.
type MessageSink func(id ids.JobID, payload string)

// run tracks one job's in-flight execution.
type run struct {
	job       *job.Job
	resolve   ProfileResolver
	placement Placement
	root      *BatTask
	deadline  float64 // absolute sim time the job's walltime expires, or -1
	cancelled bool
	onDone    func(returnCode int)
}

// Engine builds and drives a job's BatTask tree against its profile and
// walltime budget.
type Engine struct {
	clock    *sim.Clock
	platform Platform
	logger   logging.Logger
	onSend   MessageSink

	runs map[ids.JobID]*run
}

// NewEngine creates an Engine. onSend may be nil if no profile in use ever
// emits scheduler_send.
func NewEngine(clock *sim.Clock, platform Platform, logger logging.Logger, onSend MessageSink) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		clock:    clock,
		platform: platform,
		logger:   logger,
		onSend:   onSend,
		runs:     make(map[ids.JobID]*run),
	}
}

// Start builds j's BatTask tree from its resolved profile and begins
// driving it. onDone is called at most once, synchronously within a clock
// continuation, with the terminal return code (0 success, >0 failure,
// <0 walltime reached); job.TerminalStateFromReturnCode maps it back to a
// job State. A run cancelled through Kill never calls onDone.
func (e *Engine) Start(j *job.Job, resolve ProfileResolver, placement Placement, onDone func(returnCode int)) error {
	p, err := resolve(j.ProfileName)
	if err != nil {
		return err
	}
	root, err := buildTask(p, resolve)
	if err != nil {
		return err
	}

	deadline := -1.0
	if j.Walltime != -1 {
		deadline = e.clock.Now() + j.Walltime
	}

	r := &run{job: j, resolve: resolve, placement: placement, root: root, deadline: deadline, onDone: onDone}
	e.runs[j.ID] = r

	e.runNode(r, root, func(code int) {
		delete(e.runs, j.ID)
		onDone(code)
	})
	return nil
}

// Kill cancels id's in-flight run (a no-op if it already finished),
// returning the root task's progress ratio (see BatTask.Progress) at the
// instant of cancellation, for the kill progress snapshot.
func (e *Engine) Kill(id ids.JobID) (progress float64, found bool) {
	r, ok := e.runs[id]
	if !ok {
		return 0, false
	}
	now := e.clock.Now()
	progress = r.root.Progress(now)
	r.cancelled = true
	r.root.Kill()
	delete(e.runs, id)
	return progress, true
}

// buildTask constructs the BatTask tree for p, recursing into Sequence
// sub-profiles (Repeat copies, in order). Every other profile type is a
// single leaf.
func buildTask(p *profile.Profile, resolve ProfileResolver) (*BatTask, error) {
	t := &BatTask{ProfileName: p.Name, ProfileType: p.Type, State: TaskPending, ReturnCode: p.ReturnCode}
	if p.Type != profile.TypeSequence {
		return t, nil
	}
	for i := 0; i < p.Sequence.Repeat; i++ {
		for _, name := range p.Sequence.Sequence {
			sub, err := resolve(name)
			if err != nil {
				return nil, err
			}
			child, err := buildTask(sub, resolve)
			if err != nil {
				return nil, err
			}
			t.Children = append(t.Children, child)
		}
	}
	return t, nil
}

// runNode drives task to completion and calls done with its return code.
// It is re-entered recursively for Sequence children and SchedulerRecv's
// branch targets.
func (e *Engine) runNode(r *run, task *BatTask, done func(code int)) {
	if r.cancelled {
		return
	}
	task.State = TaskRunning

	switch task.ProfileType {
	case profile.TypeDelay:
		p := mustProfile(r, task)
		e.sleepLeaf(r, task, p.Delay.Seconds, done)

	case profile.TypeParallelTask:
		p := mustProfile(r, task)
		hosts := r.placement.Machines
		duration := e.platform.ComputeDuration(hosts, p.ParallelTask.Cpu, p.ParallelTask.Com)
		e.sleepLeaf(r, task, duration, done)

	case profile.TypeHomogeneousParallel:
		p := mustProfile(r, task)
		hosts := r.placement.Machines
		n := len(hosts)
		cpu := spread(p.HomogeneousParallel.Cpu, n, p.HomogeneousParallel.Strategy)
		com := spread(p.HomogeneousParallel.Com, n*n, p.HomogeneousParallel.Strategy)
		duration := e.platform.ComputeDuration(hosts, cpu, com)
		e.sleepLeaf(r, task, duration, done)

	case profile.TypeHomogeneousPfs:
		p := mustProfile(r, task)
		hosts := r.placement.Machines
		bytes := float64(p.HomogeneousPfs.BytesToRead + p.HomogeneousPfs.BytesToWrite)
		duration := e.platform.ComputeDuration(hosts, nil, []float64{bytes})
		e.sleepLeaf(r, task, duration, done)

	case profile.TypeDataStaging:
		p := mustProfile(r, task)
		duration := e.platform.ComputeDuration(r.placement.Machines, nil, []float64{float64(p.DataStaging.Bytes)})
		e.sleepLeaf(r, task, duration, done)

	case profile.TypeMpiReplay:
		// Trace replay timing is owned by the platform/physics engine;
		// this core only orchestrates rank placement and the completion
		// barrier, so the leaf resolves as soon as it is scheduled.
		e.sleepLeaf(r, task, 0, done)

	case profile.TypeSchedulerSend:
		p := mustProfile(r, task)
		if e.onSend != nil {
			e.onSend(r.job.ID, p.SchedulerSend.MessagePayload)
		}
		e.sleepLeaf(r, task, p.SchedulerSend.Sleeptime, done)

	case profile.TypeSchedulerRecv:
		e.runSchedulerRecv(r, task, done)

	case profile.TypeSequence:
		e.runSequence(r, task, done)

	default:
		done(1)
	}
}

func mustProfile(r *run, task *BatTask) *profile.Profile {
	p, err := r.resolve(task.ProfileName)
	if err != nil {
		// resolve already succeeded once while building the tree; a
		// failure here means the workload's profile table mutated
		// mid-run, which is an invariant violation, not a user error.
		panic(err)
	}
	return p
}

// sleepLeaf schedules task's completion delay seconds from now, truncating
// against r's walltime deadline and reporting a negative return code if
// the deadline is hit first.
func (e *Engine) sleepLeaf(r *run, task *BatTask, delay float64, done func(code int)) {
	now := e.clock.Now()
	task.StartedAt = now
	task.RequiredTime = delay

	effective := delay
	walltimeHit := false
	if r.deadline != -1 {
		remaining := r.deadline - now
		if remaining <= 0 {
			effective, walltimeHit = 0, true
		} else if delay > remaining {
			effective, walltimeHit = remaining, true
		}
	}

	e.clock.After(effective, func(now float64) {
		if r.cancelled || task.State == TaskKilled {
			return
		}
		if walltimeHit {
			task.State = TaskKilled
			done(-1)
			return
		}
		task.State = TaskCompleted
		done(task.ReturnCode)
	})
}

func (e *Engine) runSequence(r *run, task *BatTask, done func(code int)) {
	var step func(idx int)
	step = func(idx int) {
		if r.cancelled {
			return
		}
		task.childIdx = idx
		if idx >= len(task.Children) {
			task.State = TaskCompleted
			done(0)
			return
		}
		e.runNode(r, task.Children[idx], func(code int) {
			if code != 0 {
				task.State = TaskKilled
				if code < 0 {
					done(-1)
				} else {
					done(code)
				}
				return
			}
			step(idx + 1)
		})
	}
	step(0)
}

// runSchedulerRecv drives a poll/match loop against the job's incoming
// message FIFO: a present message is
// classified immediately (regex match -> on_success, else on_failure); an
// empty buffer either polls again (on_timeout == "") or waits one
// polltime and takes on_timeout.
func (e *Engine) runSchedulerRecv(r *run, task *BatTask, done func(code int)) {
	p := mustProfile(r, task)
	data := p.SchedulerRecv

	var re *regexp.Regexp
	if data.Regex != "" {
		var err error
		re, err = regexp.Compile(data.Regex)
		if err != nil {
			done(1)
			return
		}
	}

	var branch func(target string)
	branch = func(target string) {
		if target == "" {
			task.State = TaskCompleted
			done(0)
			return
		}
		sub, err := r.resolve(target)
		if err != nil {
			done(1)
			return
		}
		child, err := buildTask(sub, r.resolve)
		if err != nil {
			done(1)
			return
		}
		task.Children = []*BatTask{child}
		task.childIdx = 0
		e.runNode(r, child, done)
	}

	var poll func()
	poll = func() {
		if r.cancelled {
			return
		}
		if msg, ok := r.job.PopMessage(); ok {
			if re != nil && re.MatchString(msg) {
				branch(data.OnSuccess)
			} else {
				branch(data.OnFailure)
			}
			return
		}
		if r.deadline != -1 && e.clock.Now() >= r.deadline {
			task.State = TaskKilled
			done(-1)
			return
		}
		delay := data.Polltime
		if r.deadline != -1 {
			if remaining := r.deadline - e.clock.Now(); remaining < delay {
				delay = remaining
			}
		}
		e.clock.After(delay, func(now float64) {
			if r.cancelled {
				return
			}
			if data.OnTimeout != "" {
				if r.deadline != -1 && now >= r.deadline {
					task.State = TaskKilled
					done(-1)
					return
				}
				if msg, ok := r.job.PopMessage(); ok {
					if re != nil && re.MatchString(msg) {
						branch(data.OnSuccess)
					} else {
						branch(data.OnFailure)
					}
					return
				}
				branch(data.OnTimeout)
				return
			}
			poll()
		})
	}
	poll()
}

// spread expands a HomogeneousParallel scalar into an n-length vector,
// per its Strategy: defined_amounts_used_for_each_value repeats the
// scalar for every entry, total_amount_spread_evenly divides it across
// them.
func spread(amount float64, n int, strategy profile.HomogeneousStrategy) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	v := amount
	if strategy == profile.StrategySpreadEvenly {
		v = amount / float64(n)
	}
	for i := range out {
		out[i] = v
	}
	return out
}
