// Package scheduler is the single authority over which model occupies the
// backend slot. It serializes swaps, gates dispatch behind readiness, and
// queues requests that arrive while the wrong model is resident.
//
// All scheduling state is owned by one control-loop goroutine; everything
// that can change it (request submission, gate readiness, process exit)
// arrives as a message on a single-consumer channel. That preserves the
// single-threaded-apparent semantics of the design without a literal single
// thread.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"orchd/internal/events"
	"orchd/internal/health"
	"orchd/internal/inference"
	"orchd/internal/supervisor"
	"orchd/pkg/types"
)

// ErrNoSupervisor is surfaced per-request when no process supervisor is
// configured. Fatal misconfiguration, never retried.
var ErrNoSupervisor = errors.New("no process supervisor configured")

// defaultStagger spaces dispatches to a freshly-started backend so it gets
// settle time between requests.
const defaultStagger = 500 * time.Millisecond

// ProcessSupervisor is the slice of supervisor behavior the scheduler needs.
type ProcessSupervisor interface {
	StartServer(modelID string, port int) error
	StopServer(port int) error
	StopAll()
}

// ReadyGate defers the swap continuation until the backend port is ready.
type ReadyGate interface {
	WaitUntilReady(port int, onReady func(), onTimeout func(error)) *health.Watch
}

// InferenceClient sends a single request to an active backend.
type InferenceClient interface {
	Send(ctx context.Context, req inference.Request) (inference.Result, error)
}

// ResultHandler receives successful inference results.
type ResultHandler func(inference.Result)

// FailureHandler receives per-request failures with enough identity for the
// caller to escalate.
type FailureHandler func(taskID, role string, err error)

// PendingRequest is a request parked while the required model is not active.
type PendingRequest struct {
	TaskID string
	Role   string
	Prompt string
	Model  string
	Port   int
}

// state is the explicit scheduler state. A second swap cannot start while
// one is in flight because beginSwap is only reachable from stateIdle.
type state int

const (
	stateIdle state = iota
	stateSwapping
)

func (s state) String() string {
	if s == stateSwapping {
		return "swapping"
	}
	return "idle"
}

// Config tunes the scheduler.
type Config struct {
	// Stagger is the minimum delay between dispatches while draining the
	// queue to a freshly-started backend.
	Stagger time.Duration
}

type message interface{ isMessage() }

type submitMsg struct {
	taskID, role, prompt string
}

type gateReadyMsg struct {
	model string
	port  int
}

type gateTimeoutMsg struct {
	model string
	port  int
	err   error
}

type exitMsg struct {
	ev supervisor.ExitEvent
}

type statusMsg struct {
	reply chan types.SchedulerStatus
}

type drainDoneMsg struct{}

func (submitMsg) isMessage()      {}
func (gateReadyMsg) isMessage()   {}
func (gateTimeoutMsg) isMessage() {}
func (exitMsg) isMessage()        {}
func (statusMsg) isMessage()      {}
func (drainDoneMsg) isMessage()   {}

// Scheduler maps roles to models and models to ports, and decides whether a
// request dispatches immediately or waits for a swap.
type Scheduler struct {
	bindings  types.Bindings
	sup       ProcessSupervisor
	gate      ReadyGate
	client    InferenceClient
	stagger   time.Duration
	publisher events.Publisher

	onResult  ResultHandler
	onFailure FailureHandler

	msgs chan message
	done chan struct{}

	// Loop-owned state. Touched only by the Run goroutine.
	state      state
	swapTarget string
	active     string
	activePort int
	draining   bool
	pending    []PendingRequest
	runCtx     context.Context
}

// New constructs a Scheduler. sup may be nil; submissions then fail with
// ErrNoSupervisor. Handlers must be set before Run.
func New(bindings types.Bindings, sup ProcessSupervisor, gate ReadyGate, client InferenceClient, cfg Config) *Scheduler {
	if cfg.Stagger <= 0 {
		cfg.Stagger = defaultStagger
	}
	return &Scheduler{
		bindings:  bindings,
		sup:       sup,
		gate:      gate,
		client:    client,
		stagger:   cfg.Stagger,
		publisher: events.Noop{},
		msgs:      make(chan message, 128),
		done:      make(chan struct{}),
	}
}

// SetHandlers installs the result and failure handlers. Both are invoked
// from dispatch goroutines, never from the control loop itself.
func (s *Scheduler) SetHandlers(onResult ResultHandler, onFailure FailureHandler) {
	s.onResult = onResult
	s.onFailure = onFailure
}

// SetPublisher installs an event publisher for swap lifecycle events.
func (s *Scheduler) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Noop{}
	}
	s.publisher = p
}

// NotifyExit feeds a supervisor exit event into the control loop.
func (s *Scheduler) NotifyExit(ev supervisor.ExitEvent) {
	s.post(exitMsg{ev: ev})
}

// SendRequest submits a request for role's model. It never blocks on the
// network; the outcome arrives through the handlers.
func (s *Scheduler) SendRequest(taskID, role, prompt string) {
	s.post(submitMsg{taskID: taskID, role: role, prompt: prompt})
}

// Status reports a snapshot of the scheduler state via the control loop.
func (s *Scheduler) Status() types.SchedulerStatus {
	reply := make(chan types.SchedulerStatus, 1)
	select {
	case s.msgs <- statusMsg{reply: reply}:
		select {
		case st := <-reply:
			return st
		case <-s.done:
		}
	case <-s.done:
	}
	return types.SchedulerStatus{State: stateIdle.String()}
}

func (s *Scheduler) post(m message) {
	select {
	case s.msgs <- m:
	case <-s.done:
		// Loop stopped; fail submissions instead of dropping them silently.
		if sub, ok := m.(submitMsg); ok {
			s.fail(sub.taskID, sub.role, errors.New("scheduler stopped"))
		}
	}
}

// Run consumes the message channel until ctx is canceled. It must be called
// exactly once.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCtx = ctx
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			for _, req := range s.pending {
				s.fail(req.TaskID, req.Role, ctx.Err())
			}
			s.pending = nil
			return
		case m := <-s.msgs:
			s.handle(m)
		}
	}
}

func (s *Scheduler) handle(m message) {
	switch msg := m.(type) {
	case submitMsg:
		s.handleSubmit(msg)
	case gateReadyMsg:
		s.handleGateReady(msg)
	case gateTimeoutMsg:
		s.handleGateTimeout(msg)
	case exitMsg:
		s.handleExit(msg.ev)
	case drainDoneMsg:
		s.handleDrainDone()
	case statusMsg:
		msg.reply <- types.SchedulerStatus{
			State:       s.state.String(),
			ActiveModel: s.active,
			ActivePort:  s.activePort,
			SwapTarget:  s.swapTarget,
			QueueLen:    len(s.pending),
		}
	}
}

func (s *Scheduler) handleSubmit(m submitMsg) {
	if s.sup == nil {
		s.fail(m.taskID, m.role, ErrNoSupervisor)
		return
	}
	model := s.bindings.ModelForRole(m.role)
	port, ok := s.bindings.PortForModel(model)
	if !ok {
		s.fail(m.taskID, m.role, fmt.Errorf("no port binding for model %q", model))
		return
	}
	req := PendingRequest{TaskID: m.taskID, Role: m.role, Prompt: m.prompt, Model: model, Port: port}

	// Correct model resident and no swap in flight: dispatch now.
	if s.state == stateIdle && s.active == model {
		s.dispatch(req)
		return
	}

	s.enqueue(req)
	if s.state == stateSwapping || s.draining {
		log.Printf("scheduler event=queued task=%s role=%s model=%q swap_target=%q", m.taskID, m.role, model, s.swapTarget)
		return
	}
	s.beginSwap(model, port)
}

// enqueue parks a request until a swap makes its model active.
func (s *Scheduler) enqueue(req PendingRequest) {
	s.pending = append(s.pending, req)
	queueDepth.Set(float64(len(s.pending)))
}

// beginSwap is reachable only from stateIdle, which is what serializes
// swaps: a second one cannot start while the first is in flight.
func (s *Scheduler) beginSwap(model string, port int) {
	log.Printf("scheduler event=swap_start from=%q to=%q port=%d", s.active, model, port)
	s.publisher.Publish(events.Event{Name: "swap_start", Fields: map[string]any{"from": s.active, "to": model, "port": port}})
	swapsTotal.Inc()
	s.state = stateSwapping
	s.swapTarget = model

	// Clear every slot first. One resident model at a time; killing rather
	// than draining is what releases VRAM promptly.
	s.sup.StopAll()

	s.active = model
	s.activePort = port
	if err := s.sup.StartServer(model, port); err != nil {
		log.Printf("scheduler event=swap_spawn_error model=%q err=%v", model, err)
		s.abortSwap(model, err)
		return
	}
	s.gate.WaitUntilReady(port,
		func() { s.post(gateReadyMsg{model: model, port: port}) },
		func(err error) { s.post(gateTimeoutMsg{model: model, port: port, err: err}) },
	)
}

// abortSwap returns to idle with no active model and fails every queued
// request that was waiting on the target.
func (s *Scheduler) abortSwap(model string, cause error) {
	s.state = stateIdle
	s.swapTarget = ""
	s.active = ""
	s.activePort = 0
	rest := s.pending[:0]
	for _, req := range s.pending {
		if req.Model == model {
			s.fail(req.TaskID, req.Role, cause)
		} else {
			rest = append(rest, req)
		}
	}
	s.pending = rest
	queueDepth.Set(float64(len(s.pending)))
	if len(s.pending) > 0 {
		next := s.pending[0]
		s.beginSwap(next.Model, next.Port)
	}
}

func (s *Scheduler) handleGateReady(m gateReadyMsg) {
	if s.state != stateSwapping || s.swapTarget != m.model {
		return // stale continuation from an abandoned swap
	}
	log.Printf("scheduler event=swap_ready model=%q port=%d", m.model, m.port)
	s.publisher.Publish(events.Event{Name: "swap_ready", Fields: map[string]any{"model": m.model, "port": m.port}})
	s.state = stateIdle
	s.swapTarget = ""
	s.drain()
}

func (s *Scheduler) handleGateTimeout(m gateTimeoutMsg) {
	if s.state != stateSwapping || s.swapTarget != m.model {
		return
	}
	log.Printf("scheduler event=swap_timeout model=%q port=%d err=%v", m.model, m.port, m.err)
	s.publisher.Publish(events.Event{Name: "swap_timeout", Fields: map[string]any{"model": m.model, "port": m.port}})
	s.abortSwap(m.model, m.err)
}

// handleExit clears active-model state when the resident backend dies so the
// next request triggers a fresh swap instead of talking to a dead endpoint.
func (s *Scheduler) handleExit(ev supervisor.ExitEvent) {
	if !ev.Abnormal() {
		return
	}
	if ev.Port != s.activePort {
		return
	}
	log.Printf("scheduler event=backend_crash model=%q port=%d err=%v", ev.Model, ev.Port, ev.Err)
	s.publisher.Publish(events.Event{Name: "backend_crash", Fields: map[string]any{"model": ev.Model, "port": ev.Port}})
	if s.state == stateSwapping && s.swapTarget == s.active {
		// Crash during its own warmup; the gate timeout or the next submit
		// recovers, but drop the dead binding immediately.
		s.abortSwap(s.active, fmt.Errorf("backend crashed during startup: %w", ev.Err))
		return
	}
	s.active = ""
	s.activePort = 0
}

// drain dispatches every queued request whose model is now active, in FIFO
// order, staggered so the fresh backend gets settle time. Requests for other
// models stay queued and trigger the next swap cycle.
func (s *Scheduler) drain() {
	if len(s.pending) == 0 {
		return
	}
	matched := make([]PendingRequest, 0, len(s.pending))
	rest := make([]PendingRequest, 0)
	for _, req := range s.pending {
		if req.Model == s.active {
			matched = append(matched, req)
		} else {
			rest = append(rest, req)
		}
	}
	s.pending = rest
	queueDepth.Set(float64(len(s.pending)))

	// The next swap would tear down the backend the matched requests need,
	// so it must wait until the staggered dispatch has finished. The drain
	// goroutine posts drainDoneMsg when the last send returns.
	if len(matched) > 0 {
		s.draining = true
		go s.dispatchStaggered(matched)
		return
	}
	if len(s.pending) > 0 {
		next := s.pending[0]
		s.beginSwap(next.Model, next.Port)
	}
}

// handleDrainDone chains the swap for whatever queued up while the drain
// was running.
func (s *Scheduler) handleDrainDone() {
	s.draining = false
	if s.state == stateIdle && len(s.pending) > 0 {
		next := s.pending[0]
		s.beginSwap(next.Model, next.Port)
	}
}

func (s *Scheduler) dispatchStaggered(reqs []PendingRequest) {
	defer s.post(drainDoneMsg{})
	var wg sync.WaitGroup
	defer wg.Wait()
	for i, req := range reqs {
		if i > 0 {
			select {
			case <-time.After(s.stagger):
			case <-s.runCtx.Done():
				for _, left := range reqs[i:] {
					s.fail(left.TaskID, left.Role, s.runCtx.Err())
				}
				return
			}
		}
		wg.Add(1)
		go func(r PendingRequest) {
			defer wg.Done()
			s.send(r)
		}(req)
	}
}

func (s *Scheduler) dispatch(req PendingRequest) {
	go s.send(req)
}

func (s *Scheduler) send(req PendingRequest) {
	dispatchTotal.Inc()
	res, err := s.client.Send(s.runCtx, inference.Request{
		TaskID: req.TaskID,
		Role:   req.Role,
		Prompt: req.Prompt,
		Model:  req.Model,
		Port:   req.Port,
	})
	if err != nil {
		s.fail(req.TaskID, req.Role, err)
		return
	}
	if s.onResult != nil {
		s.onResult(res)
	}
}

func (s *Scheduler) fail(taskID, role string, err error) {
	failureTotal.Inc()
	if s.onFailure != nil {
		s.onFailure(taskID, role, err)
	}
}
