package workload

import (
	"encoding/json"
	"fmt"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// WorkflowTask is one node of a task DAG, expanded at load time into an
// ordinary delay job whose submission is delayed until every
// predecessor has completed.
type WorkflowTask struct {
	Name        string   `json:"name"`
	NumProcs    int      `json:"num_procs"`
	Execution   float64  `json:"execution_time"`
	StartTime   float64  `json:"start_time"`
	Parents     []string `json:"parents,omitempty"`
}

type workflowFile struct {
	Name  string         `json:"name"`
	Tasks []WorkflowTask `json:"tasks"`
}

// ExpandedJob is a WorkflowTask's job-level projection: a job name plus
// the predecessor job names it must wait for before becoming submittable.
type ExpandedJob struct {
	Name       string
	NumProcs   int
	Execution  float64
	EarliestAt float64
	DependsOn  []string
}

// ParseWorkflow decodes a workflow JSON document and topologically
// validates it (no cycles, no dangling parent references), returning the
// task set ready for expansion into delay jobs.
func ParseWorkflow(data []byte) ([]ExpandedJob, error) {
	var wf workflowFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
			"workflow: invalid JSON: %v", err)
	}

	byName := make(map[string]WorkflowTask, len(wf.Tasks))
	for _, task := range wf.Tasks {
		if _, dup := byName[task.Name]; dup {
			return nil, batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodeDuplicateJobID,
				fmt.Sprintf("task=%s", task.Name), "workflow %q: duplicate task name %q", wf.Name, task.Name)
		}
		byName[task.Name] = task
	}
	for _, task := range wf.Tasks {
		for _, parent := range task.Parents {
			if _, ok := byName[parent]; !ok {
				return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeMalformedWorkload,
					"workflow %q: task %q references unknown parent %q", wf.Name, task.Name, parent)
			}
		}
	}
	if err := detectCycle(wf.Tasks); err != nil {
		return nil, err
	}

	out := make([]ExpandedJob, 0, len(wf.Tasks))
	for _, task := range wf.Tasks {
		out = append(out, ExpandedJob{
			Name:       task.Name,
			NumProcs:   task.NumProcs,
			Execution:  task.Execution,
			EarliestAt: task.StartTime,
			DependsOn:  task.Parents,
		})
	}
	return out, nil
}

func detectCycle(tasks []WorkflowTask) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byName := make(map[string]WorkflowTask, len(tasks))
	color := make(map[string]int, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t
		color[t.Name] = white
	}

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, parent := range byName[name].Parents {
			switch color[parent] {
			case gray:
				return batsimerrors.NewInvariantViolation(batsimerrors.ErrorCodePStateContradiction,
					fmt.Sprintf("task=%s", name), "workflow has a dependency cycle through task %q", name)
			case white:
				if err := visit(parent); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for _, t := range tasks {
		if color[t.Name] == white {
			if err := visit(t.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
