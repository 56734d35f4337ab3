package types

import "encoding/json"

// PlanEntry is one task in a submitted plan.
type PlanEntry struct {
	// Numeric task identifier, unique within the plan.
	// example: 1
	ID int `json:"id" example:"1"`
	// Role tag selecting the handler (and, indirectly, the model).
	// example: Coder
	Role string `json:"role" example:"Coder"`
	// Human-readable description of the work.
	// example: Write the terrain generation script.
	Description string `json:"description" example:"Write the terrain generation script."`
	// IDs of tasks that must complete before this one may run.
	// example: [1,2]
	Dependencies []int `json:"dependencies"`
}

// PlanRequest is the body of POST /v1/plan.
type PlanRequest struct {
	Plan []PlanEntry `json:"plan"`
}

// Modification carries plan edits applied after an escalation.
type Modification struct {
	// New tasks merged into the plan.
	AddTasks []PlanEntry `json:"add_tasks,omitempty"`
	// IDs of tasks reset to Pending for another attempt.
	RetryTasks []int `json:"retry_tasks,omitempty"`
}

// CorrectionRequest is the body of POST /v1/plan/correction.
type CorrectionRequest struct {
	Modification Modification `json:"modification"`
}

// TaskResultRequest is the body of POST /v1/tasks/{id}/result. It is how an
// external handler reports the outcome of a dispatched task.
type TaskResultRequest struct {
	// Whether the task succeeded.
	// example: true
	OK bool `json:"ok" example:"true"`
	// Failure reason when ok is false.
	// example: render job exited with status 2
	Reason string `json:"reason,omitempty" example:"render job exited with status 2"`
}

// TaskSnapshot mirrors one task's state in a plan snapshot or escalation.
type TaskSnapshot struct {
	ID           int    `json:"id"`
	Role         string `json:"role"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Dependencies []int  `json:"dependencies"`
}

// SchedulerStatus summarizes the model-slot scheduler for /status.
type SchedulerStatus struct {
	// Scheduler state: idle or swapping.
	// example: idle
	State string `json:"state" example:"idle"`
	// Currently resident model id, empty when none.
	ActiveModel string `json:"active_model,omitempty"`
	// Port of the resident model's server.
	ActivePort int `json:"active_port,omitempty"`
	// Target model of an in-flight swap, empty when idle.
	SwapTarget string `json:"swap_target,omitempty"`
	// Number of requests waiting for a swap to finish.
	QueueLen int `json:"queue_len"`
}

// WorkflowStatus summarizes the workflow executor for /status.
type WorkflowStatus struct {
	// Whether a plan is loaded and dispatching.
	Active bool `json:"active"`
	// Task counts keyed by status name.
	Tasks map[string]int `json:"tasks"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Scheduler SchedulerStatus `json:"scheduler"`
	Workflow  WorkflowStatus  `json:"workflow"`
	// Models known to the registry.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// OrchestratorEvent is one entry on the /events stream.
type OrchestratorEvent struct {
	// Event name, e.g. task_assigned, swap_start, escalation.
	Name string `json:"name"`
	// Event payload; shape depends on the event name.
	Fields json.RawMessage `json:"fields,omitempty"`
}
