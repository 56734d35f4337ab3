package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"orchd/internal/events"
	"orchd/internal/health"
	"orchd/internal/inference"
	"orchd/internal/scheduler"
	"orchd/pkg/types"
)

type nopSup struct{}

func (nopSup) StartServer(modelID string, port int) error { return nil }
func (nopSup) StopServer(port int) error                  { return nil }
func (nopSup) StopAll()                                   {}

// autoGate reports readiness immediately, skipping the polling delay.
type autoGate struct{}

func (autoGate) WaitUntilReady(port int, onReady func(), onTimeout func(error)) *health.Watch {
	onReady()
	return nil
}

// scriptedClient answers each request through a role-keyed script.
type scriptedClient struct {
	mu       sync.Mutex
	script   func(req inference.Request) (string, error)
	requests []inference.Request
}

func (c *scriptedClient) Send(ctx context.Context, req inference.Request) (inference.Result, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	script := c.script
	c.mu.Unlock()
	content, err := script(req)
	if err != nil {
		return inference.Result{}, &inference.RequestError{TaskID: req.TaskID, Role: req.Role, Err: err}
	}
	return inference.Result{TaskID: req.TaskID, Role: req.Role, Model: req.Model, Content: content}, nil
}

func (c *scriptedClient) recorded() []inference.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]inference.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

func testBindings() types.Bindings {
	return types.Bindings{
		Roles:        map[string]string{"coder": "coder.gguf", "manager": "manager.gguf"},
		Ports:        map[string]int{"coder.gguf": 8081, "manager.gguf": 8082},
		DefaultModel: "coder.gguf",
	}
}

func newOrchestrator(t *testing.T, cfg Config, client *scriptedClient) *Orchestrator {
	t.Helper()
	sched := scheduler.New(testBindings(), nopSup{}, autoGate{}, client, scheduler.Config{Stagger: time.Millisecond})
	o := New(cfg, sched, []types.Model{{ID: "coder.gguf", Port: 8081}, {ID: "manager.gguf", Port: 8082}})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)
	o.Started()
	return o
}

func awaitEvent(t *testing.T, ch <-chan events.Event, name string) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %q never arrived", name)
			return events.Event{}
		}
	}
}

func TestPlanRunsToCompletion(t *testing.T) {
	client := &scriptedClient{script: func(req inference.Request) (string, error) {
		return "output for " + req.TaskID, nil
	}}
	o := newOrchestrator(t, Config{}, client)
	ch, cancel := o.Subscribe()
	defer cancel()

	planJSON := []byte(`{"plan":[
		{"id":1,"role":"coder","description":"write it","dependencies":[]},
		{"id":2,"role":"coder","description":"test it","dependencies":[1]}
	]}`)
	if err := o.LoadPlan(planJSON); err != nil {
		t.Fatalf("load plan: %v", err)
	}
	awaitEvent(t, ch, "plan_completed")

	reqs := client.recorded()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 inference requests, got %d", len(reqs))
	}
	if reqs[0].TaskID != "1" || reqs[1].TaskID != "2" {
		t.Fatalf("dependency order violated: %+v", reqs)
	}
	if o.Workflow().Active() {
		t.Fatal("workflow still active after completion")
	}
}

func TestTeeEventsMirrorsBus(t *testing.T) {
	client := &scriptedClient{script: func(req inference.Request) (string, error) {
		return "ok", nil
	}}
	sched := scheduler.New(testBindings(), nopSup{}, autoGate{}, client, scheduler.Config{Stagger: time.Millisecond})
	o := New(Config{}, sched, nil)
	mirror := events.NewMemory()
	o.TeeEvents(mirror)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)
	o.Started()

	ch, cancelSub := o.Subscribe()
	defer cancelSub()
	planJSON := []byte(`{"plan":[{"id":1,"role":"coder","description":"write it","dependencies":[]}]}`)
	if err := o.LoadPlan(planJSON); err != nil {
		t.Fatalf("load plan: %v", err)
	}
	awaitEvent(t, ch, "plan_completed")

	seen := map[string]bool{}
	for _, ev := range mirror.Events() {
		seen[ev.Name] = true
	}
	for _, want := range []string{"swap_start", "task_assigned", "task_completed", "plan_completed"} {
		if !seen[want] {
			t.Fatalf("event %q missing from mirror, got %v", want, mirror.Events())
		}
	}
}

func TestFailureEscalatesToCorrectionRole(t *testing.T) {
	var once sync.Once
	client := &scriptedClient{}
	client.script = func(req inference.Request) (string, error) {
		switch req.Role {
		case "manager":
			if !strings.Contains(req.Prompt, "failed") {
				return "", errors.New("correction prompt missing failure context")
			}
			return "Here is the fix:\n{\"modification\":{\"retry_tasks\":[1]}}", nil
		default:
			var failed bool
			once.Do(func() { failed = true })
			if failed {
				return "", errors.New("backend 500")
			}
			return "recovered output", nil
		}
	}
	o := newOrchestrator(t, Config{CorrectionRole: "manager"}, client)
	ch, cancel := o.Subscribe()
	defer cancel()

	if err := o.LoadPlan([]byte(`{"plan":[{"id":1,"role":"coder","description":"build","dependencies":[]}]}`)); err != nil {
		t.Fatalf("load plan: %v", err)
	}
	awaitEvent(t, ch, "escalation")
	awaitEvent(t, ch, "correction_applied")
	awaitEvent(t, ch, "plan_completed")

	var managerAsked bool
	for _, req := range client.recorded() {
		if req.Role == "manager" {
			managerAsked = true
			if !strings.HasPrefix(req.TaskID, "correction-") {
				t.Fatalf("correction request has plan-task id %q", req.TaskID)
			}
		}
	}
	if !managerAsked {
		t.Fatal("manager was never asked to repair the plan")
	}
}

func TestUnparseableCorrectionReplyIsSurfaced(t *testing.T) {
	client := &scriptedClient{}
	client.script = func(req inference.Request) (string, error) {
		if req.Role == "manager" {
			return "I cannot help with that.", nil
		}
		return "", errors.New("backend down")
	}
	o := newOrchestrator(t, Config{CorrectionRole: "manager"}, client)
	ch, cancel := o.Subscribe()
	defer cancel()

	if err := o.LoadPlan([]byte(`{"plan":[{"id":1,"role":"coder","description":"build","dependencies":[]}]}`)); err != nil {
		t.Fatalf("load plan: %v", err)
	}
	awaitEvent(t, ch, "correction_unparsed")
	if o.Workflow().Active() {
		t.Fatal("plan must stay halted when the correction is unusable")
	}
}

func TestNoCorrectionRoleStillPublishesEscalation(t *testing.T) {
	client := &scriptedClient{script: func(req inference.Request) (string, error) {
		return "", errors.New("backend down")
	}}
	o := newOrchestrator(t, Config{}, client)
	ch, cancel := o.Subscribe()
	defer cancel()

	if err := o.LoadPlan([]byte(`{"plan":[{"id":1,"role":"coder","description":"build","dependencies":[]}]}`)); err != nil {
		t.Fatalf("load plan: %v", err)
	}
	ev := awaitEvent(t, ch, "escalation")
	if ev.Fields["id"] != 1 {
		t.Fatalf("unexpected escalation fields: %+v", ev.Fields)
	}
	for _, req := range client.recorded() {
		if strings.HasPrefix(req.TaskID, "correction-") {
			t.Fatal("correction requested despite no correction role")
		}
	}
}

func TestReportTaskResultExternal(t *testing.T) {
	// Block dispatch results so the external report path drives the plan.
	client := &scriptedClient{script: func(req inference.Request) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow output", nil
	}}
	o := newOrchestrator(t, Config{}, client)

	if err := o.LoadPlan([]byte(`{"plan":[{"id":1,"role":"coder","description":"build","dependencies":[]}]}`)); err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if err := o.ReportTaskResult(1, true, ""); err != nil {
		t.Fatalf("external success report: %v", err)
	}
	if err := o.ReportTaskResult(99, true, ""); err == nil {
		t.Fatal("expected error for unknown task id")
	}
}

func TestStatusComposes(t *testing.T) {
	client := &scriptedClient{script: func(req inference.Request) (string, error) { return "ok", nil }}
	o := newOrchestrator(t, Config{}, client)
	st := o.Status()
	if st.Scheduler.State == "" {
		t.Fatal("scheduler status missing")
	}
	if len(st.Models) != 2 {
		t.Fatalf("expected 2 models in status, got %d", len(st.Models))
	}
	if st.Workflow.Active {
		t.Fatal("workflow should be inactive before any plan")
	}
}

func TestExtractModification(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{`{"modification":{"retry_tasks":[1]}}`, true},
		{"prose before {\"modification\":{\"retry_tasks\":[2]}} prose after", true},
		{"```json\n{\"modification\":{\"add_tasks\":[{\"id\":5,\"role\":\"coder\"}]}}\n```", true},
		{`{"modification":{}}`, false},
		{"no json at all", false},
		{"{broken", false},
	}
	for _, tc := range cases {
		if _, ok := extractModification(tc.in); ok != tc.ok {
			t.Fatalf("extractModification(%q) ok=%v, want %v", tc.in, ok, tc.ok)
		}
	}
}
