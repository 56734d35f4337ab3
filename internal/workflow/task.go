package workflow

import (
	"sort"

	"orchd/pkg/types"
)

// Status is the lifecycle state of a task within a plan.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusReady    Status = "Ready"
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

// Task is one node of the plan graph. Mutated only by the Executor.
type Task struct {
	ID           int
	Role         string
	Description  string
	Dependencies map[int]struct{}
	Status       Status
}

// snapshot deep-copies a task into its wire form.
func (t *Task) snapshot() types.TaskSnapshot {
	deps := make([]int, 0, len(t.Dependencies))
	for d := range t.Dependencies {
		deps = append(deps, d)
	}
	sort.Ints(deps)
	return types.TaskSnapshot{
		ID:           t.ID,
		Role:         t.Role,
		Description:  t.Description,
		Status:       string(t.Status),
		Dependencies: deps,
	}
}

// newTask builds a Task from a plan entry. Entries with no dependencies
// start Ready, the rest Pending.
func newTask(e types.PlanEntry) *Task {
	t := &Task{
		ID:           e.ID,
		Role:         e.Role,
		Description:  e.Description,
		Dependencies: make(map[int]struct{}, len(e.Dependencies)),
		Status:       StatusReady,
	}
	if len(e.Dependencies) > 0 {
		t.Status = StatusPending
		for _, d := range e.Dependencies {
			t.Dependencies[d] = struct{}{}
		}
	}
	return t
}
