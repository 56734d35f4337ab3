// Package workflow tracks a mutable set of interdependent tasks, dispatches
// every task whose dependencies are satisfied, detects completion, and
// escalates failures with a deep-copied snapshot of plan state.
package workflow

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"orchd/pkg/types"
)

// Executor owns the task map exclusively. External components interact only
// through LoadPlan / ReportTask* / ApplyCorrection, never by direct
// mutation.
type Executor struct {
	mu      sync.Mutex
	tasks   map[int]*Task
	running bool
	sink    Sink
}

// New constructs an Executor. A nil sink is replaced with NoopSink.
func New(sink Sink) *Executor {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Executor{tasks: make(map[int]*Task), sink: sink}
}

// LoadPlan parses {"plan":[{id,role,description,dependencies}]} and begins
// dispatch. Empty or malformed plans are rejected with no partial state
// mutation.
func (e *Executor) LoadPlan(data []byte) error {
	var req types.PlanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrPlanInvalid("not valid JSON: " + err.Error())
	}
	parsed, err := parseEntries(req.Plan)
	if err != nil {
		return err
	}
	if len(parsed) == 0 {
		return ErrPlanInvalid("plan is empty")
	}

	e.mu.Lock()
	e.tasks = parsed
	e.running = true
	log.Printf("workflow event=plan_loaded tasks=%d", len(parsed))
	e.mu.Unlock()

	e.evaluate()
	return nil
}

// parseEntries validates plan entries into a fresh task map. Nothing is
// mutated on error.
func parseEntries(entries []types.PlanEntry) (map[int]*Task, error) {
	out := make(map[int]*Task, len(entries))
	for _, entry := range entries {
		if entry.ID == 0 {
			return nil, ErrPlanInvalid("task id missing or zero")
		}
		if entry.Role == "" {
			return nil, ErrPlanInvalid("task role missing")
		}
		if _, dup := out[entry.ID]; dup {
			return nil, ErrPlanInvalid("duplicate task id")
		}
		out[entry.ID] = newTask(entry)
	}
	return out, nil
}

// ReportTaskSuccess marks a task Complete and re-runs the dispatch loop.
// Reporting an already-complete task is a no-op.
func (e *Executor) ReportTaskSuccess(id int) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return ErrTaskNotFound(id)
	}
	if t.Status == StatusComplete {
		e.mu.Unlock()
		return nil
	}
	t.Status = StatusComplete
	role := t.Role
	log.Printf("workflow event=task_complete id=%d role=%s", id, role)
	e.mu.Unlock()

	e.sink.TaskCompleted(id, role)
	e.evaluate()
	return nil
}

// ReportTaskFailure marks a task Failed, halts further automatic dispatch,
// and escalates with a full plan snapshot for a corrective pass.
func (e *Executor) ReportTaskFailure(id int, reason string) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return ErrTaskNotFound(id)
	}
	t.Status = StatusFailed
	e.running = false
	snapshot := e.snapshotLocked()
	log.Printf("workflow event=task_failed id=%d role=%s reason=%q", id, t.Role, reason)
	e.mu.Unlock()

	escalationsTotal.Inc()
	e.sink.Escalated(id, reason, snapshot)
	return nil
}

// ApplyCorrection merges new tasks and/or resets failed tasks to Pending,
// then resumes automatic dispatch.
func (e *Executor) ApplyCorrection(data []byte) error {
	var req types.CorrectionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrPlanInvalid("not valid JSON: " + err.Error())
	}
	return e.applyModification(req.Modification)
}

// ApplyModification applies an already-decoded plan modification.
func (e *Executor) ApplyModification(mod types.Modification) error {
	return e.applyModification(mod)
}

func (e *Executor) applyModification(mod types.Modification) error {
	added, err := parseEntries(mod.AddTasks)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for id := range added {
		if _, exists := e.tasks[id]; exists {
			e.mu.Unlock()
			return ErrPlanInvalid("add_tasks id already in plan")
		}
	}
	for id, t := range added {
		e.tasks[id] = t
	}
	for _, id := range mod.RetryTasks {
		if t, ok := e.tasks[id]; ok {
			t.Status = StatusPending
			log.Printf("workflow event=task_requeued id=%d", id)
		}
	}
	e.running = true
	e.mu.Unlock()

	e.evaluate()
	return nil
}

// Active reports whether a plan is loaded and dispatching.
func (e *Executor) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Snapshot returns a deep copy of every task, sorted by id.
func (e *Executor) Snapshot() []types.TaskSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Executor) snapshotLocked() []types.TaskSnapshot {
	out := make([]types.TaskSnapshot, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StatusCounts returns task counts keyed by status name.
func (e *Executor) StatusCounts() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range e.tasks {
		counts[string(t.Status)]++
	}
	return counts
}

// evaluate runs the scan-promote-dispatch cycle to a fixpoint, then fires
// assignment and completion events outside the lock so sinks may safely call
// back into the executor.
func (e *Executor) evaluate() {
	type assignment struct {
		id          int
		role, descr string
	}
	var assigned []assignment
	completed := false

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	for {
		progressed := false
		// Deterministic scan order; ties among simultaneously-ready tasks
		// carry no contract.
		ids := make([]int, 0, len(e.tasks))
		for id := range e.tasks {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			t := e.tasks[id]
			if t.Status == StatusPending && e.depsMetLocked(t) {
				t.Status = StatusReady
			}
			if t.Status == StatusReady {
				t.Status = StatusRunning
				progressed = true
				assigned = append(assigned, assignment{id: t.ID, role: t.Role, descr: t.Description})
			}
		}
		if !progressed {
			break
		}
	}

	// Completion only counts once every task is Complete and the set is
	// non-empty.
	if len(e.tasks) > 0 {
		allComplete := true
		for _, t := range e.tasks {
			if t.Status != StatusComplete {
				allComplete = false
				break
			}
		}
		if allComplete {
			completed = true
			e.running = false
			e.tasks = make(map[int]*Task)
		}
	}
	e.mu.Unlock()

	for _, a := range assigned {
		log.Printf("workflow event=task_dispatch id=%d role=%s", a.id, a.role)
		dispatchedTotal.Inc()
		e.sink.TaskAssigned(a.id, a.role, a.descr)
	}
	if completed {
		log.Printf("workflow event=plan_complete")
		e.sink.PlanCompleted()
	}
}

// depsMetLocked reports whether every dependency exists and is Complete.
// A dependency on a missing task id never resolves; the task stays Pending.
func (e *Executor) depsMetLocked(t *Task) bool {
	for dep := range t.Dependencies {
		d, ok := e.tasks[dep]
		if !ok || d.Status != StatusComplete {
			return false
		}
	}
	return true
}
