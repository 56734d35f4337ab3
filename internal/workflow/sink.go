package workflow

import (
	"sync"

	"orchd/pkg/types"
)

// Sink receives workflow lifecycle events. Implementations must not call
// back into the Executor from within a callback on the same goroutine only
// if the call would block; Report/Apply re-entry is safe because callbacks
// fire outside the executor's lock.
type Sink interface {
	// TaskAssigned fires when a task transitions Ready -> Running.
	TaskAssigned(id int, role, description string)
	// TaskCompleted fires when a task is marked Complete.
	TaskCompleted(id int, role string)
	// Escalated fires when a task failure halts the plan. snapshot is a deep
	// copy of every task at the moment of failure.
	Escalated(id int, reason string, snapshot []types.TaskSnapshot)
	// PlanCompleted fires once when every task reaches Complete.
	PlanCompleted()
}

// NoopSink drops all events.
type NoopSink struct{}

func (NoopSink) TaskAssigned(int, string, string)            {}
func (NoopSink) TaskCompleted(int, string)                   {}
func (NoopSink) Escalated(int, string, []types.TaskSnapshot) {}
func (NoopSink) PlanCompleted()                              {}

// MemorySink records events for tests.
type MemorySink struct {
	mu          sync.Mutex
	Assigned    []int
	Completed   []int
	Escalations []Escalation
	PlanDone    int
}

// Escalation is one recorded escalation event.
type Escalation struct {
	TaskID   int
	Reason   string
	Snapshot []types.TaskSnapshot
}

func (s *MemorySink) TaskAssigned(id int, role, description string) {
	s.mu.Lock()
	s.Assigned = append(s.Assigned, id)
	s.mu.Unlock()
}

func (s *MemorySink) TaskCompleted(id int, role string) {
	s.mu.Lock()
	s.Completed = append(s.Completed, id)
	s.mu.Unlock()
}

func (s *MemorySink) Escalated(id int, reason string, snapshot []types.TaskSnapshot) {
	s.mu.Lock()
	s.Escalations = append(s.Escalations, Escalation{TaskID: id, Reason: reason, Snapshot: snapshot})
	s.mu.Unlock()
}

func (s *MemorySink) PlanCompleted() {
	s.mu.Lock()
	s.PlanDone++
	s.mu.Unlock()
}

// AssignedIDs returns a copy of the assigned task ids.
func (s *MemorySink) AssignedIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.Assigned))
	copy(out, s.Assigned)
	return out
}
