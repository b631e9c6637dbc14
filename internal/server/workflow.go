package server

import (
	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/profile"
	"github.com/oar-team/batsim-go/internal/workload"
)

// workflowDependent is a job whose submission waits on predecessors.
type workflowDependent struct {
	job        *job.Job
	earliestAt float64
	deps       map[ids.JobID]struct{}
}

// AddWorkflow expands a parsed task DAG into a workload of delay jobs.
// Root tasks are replayed by an ordinary job submitter; every dependent
// task is held back until its predecessors complete, then submitted at
// the later of that instant and its own start_time.
func (s *Server) AddWorkflow(name string, tasks []workload.ExpandedJob) error {
	wl := workload.NewStatic(ids.WorkloadName(name), maxProcs(tasks))
	if err := s.workloads.Add(wl); err != nil {
		return err
	}

	var roots []*job.Job
	byName := make(map[string]ids.JobID, len(tasks))
	for _, task := range tasks {
		seconds := task.Execution
		if seconds <= 0 {
			seconds = 1e-6
		}
		if err := wl.RegisterProfile(ids.ProfileName(task.Name), &profile.Profile{
			Name:  task.Name,
			Type:  profile.TypeDelay,
			Delay: &profile.DelayData{Seconds: seconds},
		}); err != nil {
			return err
		}

		res := task.NumProcs
		if res <= 0 {
			res = 1
		}
		id, err := ids.NewJobID(ids.WorkloadName(name), ids.JobName(task.Name))
		if err != nil {
			return err
		}
		j, err := job.New(id, task.Name, task.EarliestAt, -1, res)
		if err != nil {
			return err
		}
		if err := s.jobs.Add(j); err != nil {
			return err
		}
		if _, err := wl.ResolveProfile(ids.ProfileName(task.Name)); err != nil {
			return err
		}
		byName[task.Name] = id

		if len(task.DependsOn) == 0 {
			roots = append(roots, j)
			continue
		}

		dep := &workflowDependent{
			job:        j,
			earliestAt: task.EarliestAt,
			deps:       make(map[ids.JobID]struct{}, len(task.DependsOn)),
		}
		for _, parent := range task.DependsOn {
			parentID := ids.JobID{Workload: ids.WorkloadName(name), Job: ids.JobName(parent)}
			dep.deps[parentID] = struct{}{}
			s.workflowWaiting[parentID] = append(s.workflowWaiting[parentID], dep)
		}
		// A held-back job is a waiter: the simulation must not end while
		// it has not been submitted.
		s.nbWaiters++
	}

	s.scheduleJobSubmitter(name, roots)
	return nil
}

// resolveWorkflowDeps releases dependents of a completed job, submitting
// any that became free.
func (s *Server) resolveWorkflowDeps(completed ids.JobID, now float64) {
	dependents := s.workflowWaiting[completed]
	if len(dependents) == 0 {
		return
	}
	delete(s.workflowWaiting, completed)

	for _, dep := range dependents {
		delete(dep.deps, completed)
		if len(dep.deps) > 0 {
			continue
		}
		at := now
		if dep.earliestAt > at {
			at = dep.earliestAt
		}
		j := dep.job
		s.clock.At(at, func(float64) {
			s.nbWaiters--
			s.deliver(Message{Type: MsgJobSubmitted, Job: j})
		})
	}
}

func maxProcs(tasks []workload.ExpandedJob) int {
	max := 1
	for _, t := range tasks {
		if t.NumProcs > max {
			max = t.NumProcs
		}
	}
	return max
}
