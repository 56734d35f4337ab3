// Package orchestrator wires the workflow executor to the model-slot
// scheduler: dispatched tasks become inference requests, inference results
// become task reports, and escalations become corrective re-planning
// requests to the manager role.
package orchestrator

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"orchd/internal/events"
	"orchd/internal/inference"
	"orchd/internal/scheduler"
	"orchd/internal/workflow"
	"orchd/pkg/types"
)

// correctionPrefix marks scheduler task ids that belong to a corrective
// re-planning request rather than a plan task.
const correctionPrefix = "correction-"

// Config tunes the orchestrator.
type Config struct {
	// CorrectionRole is the role asked to repair a failed plan. Empty
	// disables the automatic correction pass; escalations are still
	// published for external correction via the API.
	CorrectionRole string
}

// Orchestrator is the glue between the workflow and scheduling layers.
type Orchestrator struct {
	cfg      Config
	wf       *workflow.Executor
	sched    *scheduler.Scheduler
	bus      *events.Bus
	pub      events.Publisher
	registry []types.Model
	started  atomic.Bool
}

// New constructs an Orchestrator around an executor-less workflow: it
// installs itself as the workflow sink and the scheduler's result handlers.
func New(cfg Config, sched *scheduler.Scheduler, registry []types.Model) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		sched:    sched,
		bus:      events.NewBus(),
		registry: registry,
	}
	o.pub = o.bus
	o.wf = workflow.New(o)
	sched.SetHandlers(o.onResult, o.onFailure)
	sched.SetPublisher(o.pub)
	return o
}

// TeeEvents mirrors every published event into p alongside the live bus.
// Must be called before the scheduler loop starts.
func (o *Orchestrator) TeeEvents(p events.Publisher) {
	o.pub = events.Tee{p, o.bus}
	o.sched.SetPublisher(o.pub)
}

// Started marks the orchestrator ready; called once the scheduler loop runs.
func (o *Orchestrator) Started() { o.started.Store(true) }

// Ready reports whether the orchestration core is serving.
func (o *Orchestrator) Ready() bool { return o.started.Load() }

// Workflow exposes the executor for tests.
func (o *Orchestrator) Workflow() *workflow.Executor { return o.wf }

// LoadPlan implements the plan intake operation.
func (o *Orchestrator) LoadPlan(data []byte) error {
	return o.wf.LoadPlan(data)
}

// ApplyCorrection applies an externally supplied plan modification.
func (o *Orchestrator) ApplyCorrection(data []byte) error {
	return o.wf.ApplyCorrection(data)
}

// ReportTaskResult lets an external handler report a dispatched task's
// outcome.
func (o *Orchestrator) ReportTaskResult(id int, ok bool, reason string) error {
	if ok {
		return o.wf.ReportTaskSuccess(id)
	}
	return o.wf.ReportTaskFailure(id, reason)
}

// PlanSnapshot returns a deep copy of the current plan state.
func (o *Orchestrator) PlanSnapshot() []types.TaskSnapshot {
	return o.wf.Snapshot()
}

// ListModels returns the model registry.
func (o *Orchestrator) ListModels() []types.Model {
	out := make([]types.Model, len(o.registry))
	copy(out, o.registry)
	return out
}

// Status composes scheduler and workflow state for /status.
func (o *Orchestrator) Status() types.StatusResponse {
	return types.StatusResponse{
		Scheduler: o.sched.Status(),
		Workflow: types.WorkflowStatus{
			Active: o.wf.Active(),
			Tasks:  o.wf.StatusCounts(),
		},
		Models: o.ListModels(),
	}
}

// Subscribe returns a live event stream and its cancel func.
func (o *Orchestrator) Subscribe() (<-chan events.Event, func()) {
	return o.bus.Subscribe()
}

// --- workflow.Sink ---

// TaskAssigned forwards a dispatched task to the scheduler as an inference
// request for its role.
func (o *Orchestrator) TaskAssigned(id int, role, description string) {
	o.pub.Publish(events.Event{Name: "task_assigned", Fields: map[string]any{"id": id, "role": role, "description": description}})
	o.sched.SendRequest(strconv.Itoa(id), role, description)
}

func (o *Orchestrator) TaskCompleted(id int, role string) {
	o.pub.Publish(events.Event{Name: "task_completed", Fields: map[string]any{"id": id, "role": role}})
}

// Escalated publishes the escalation and, when a correction role is
// configured, asks it to repair the plan with the snapshot as context.
func (o *Orchestrator) Escalated(id int, reason string, snapshot []types.TaskSnapshot) {
	o.pub.Publish(events.Event{Name: "escalation", Fields: map[string]any{"id": id, "reason": reason, "snapshot": snapshot}})
	if o.cfg.CorrectionRole == "" {
		return
	}
	state, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("orchestrator event=snapshot_marshal_error err=%v", err)
		return
	}
	prompt := "Task " + strconv.Itoa(id) + " failed: " + reason + "\n" +
		"Current plan state:\n" + string(state) + "\n" +
		"Reply with a JSON object {\"modification\":{\"add_tasks\":[...],\"retry_tasks\":[...]}} that repairs the plan."
	o.sched.SendRequest(correctionPrefix+uuid.NewString(), o.cfg.CorrectionRole, prompt)
}

func (o *Orchestrator) PlanCompleted() {
	o.pub.Publish(events.Event{Name: "plan_completed", Fields: nil})
}

// --- scheduler handlers ---

func (o *Orchestrator) onResult(res inference.Result) {
	if strings.HasPrefix(res.TaskID, correctionPrefix) {
		o.applyCorrectionReply(res)
		return
	}
	id, err := strconv.Atoi(res.TaskID)
	if err != nil {
		log.Printf("orchestrator event=result_unknown_task task=%q", res.TaskID)
		return
	}
	if err := o.wf.ReportTaskSuccess(id); err != nil {
		log.Printf("orchestrator event=result_report_error task=%d err=%v", id, err)
	}
}

func (o *Orchestrator) onFailure(taskID, role string, err error) {
	if strings.HasPrefix(taskID, correctionPrefix) {
		log.Printf("orchestrator event=correction_failed role=%s err=%v", role, err)
		o.pub.Publish(events.Event{Name: "correction_failed", Fields: map[string]any{"role": role, "error": err.Error()}})
		return
	}
	id, convErr := strconv.Atoi(taskID)
	if convErr != nil {
		log.Printf("orchestrator event=failure_unknown_task task=%q err=%v", taskID, err)
		return
	}
	if repErr := o.wf.ReportTaskFailure(id, err.Error()); repErr != nil {
		log.Printf("orchestrator event=failure_report_error task=%d err=%v", id, repErr)
	}
}

// applyCorrectionReply extracts the modification object from the manager's
// reply and applies it. Replies that do not contain a parseable modification
// are published for operator attention instead of silently dropped.
func (o *Orchestrator) applyCorrectionReply(res inference.Result) {
	mod, ok := extractModification(res.Content)
	if !ok {
		log.Printf("orchestrator event=correction_unparsed role=%s", res.Role)
		o.pub.Publish(events.Event{Name: "correction_unparsed", Fields: map[string]any{"role": res.Role, "content": res.Content}})
		return
	}
	if err := o.wf.ApplyModification(mod); err != nil {
		log.Printf("orchestrator event=correction_rejected err=%v", err)
		o.pub.Publish(events.Event{Name: "correction_rejected", Fields: map[string]any{"error": err.Error()}})
		return
	}
	o.pub.Publish(events.Event{Name: "correction_applied", Fields: map[string]any{"role": res.Role}})
}

// extractModification finds the outermost JSON object in a model reply and
// decodes its modification key. Models often wrap JSON in prose or fences.
func extractModification(content string) (types.Modification, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return types.Modification{}, false
	}
	var req types.CorrectionRequest
	if err := json.Unmarshal([]byte(content[start:end+1]), &req); err != nil {
		return types.Modification{}, false
	}
	if len(req.Modification.AddTasks) == 0 && len(req.Modification.RetryTasks) == 0 {
		return types.Modification{}, false
	}
	return req.Modification, true
}
