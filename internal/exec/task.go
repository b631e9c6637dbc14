package exec

import (
	"github.com/oar-team/batsim-go/internal/profile"
)

// TaskState mirrors a BatTask's lifecycle within one job's execution.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskKilled    TaskState = "killed"
)

// BatTask is one node of the execution tree built from a job's profile: a
// Sequence's sub-profiles become children, everything else is a leaf.
type BatTask struct {
	ProfileName string
	ProfileType profile.Type
	State       TaskState
	ReturnCode  int

	// Leaf bookkeeping for kill-time progress reporting: a running leaf's
	// progress ratio is (now-StartedAt)/RequiredTime, computed on demand
	// since the engine never polls a leaf while it sleeps.
	StartedAt    float64
	RequiredTime float64

	Children []*BatTask
	childIdx int // index of the currently-running child, for Sequence
}

// Progress returns the task's completion ratio as of now: a leaf reports
// elapsed/required; a Sequence reports its
// active child's progress folded into the overall repeat/sequence
// position.
func (t *BatTask) Progress(now float64) float64 {
	if t.State == TaskCompleted {
		return 1
	}
	if len(t.Children) == 0 {
		if t.RequiredTime <= 0 {
			return 0
		}
		ratio := (now - t.StartedAt) / t.RequiredTime
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		return ratio
	}
	if t.childIdx >= len(t.Children) {
		return 1
	}
	completed := float64(t.childIdx)
	current := t.Children[t.childIdx].Progress(now)
	return (completed + current) / float64(len(t.Children))
}

// Kill marks t and every descendant as killed.
func (t *BatTask) Kill() {
	if t.State == TaskCompleted || t.State == TaskKilled {
		return
	}
	t.State = TaskKilled
	for _, c := range t.Children {
		c.Kill()
	}
}
