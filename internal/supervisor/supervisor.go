package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"orchd/pkg/types"
)

// MaxResidentModels bounds how many backend processes callers should keep
// resident at once. The supervisor itself does not enforce it; the scheduler
// is expected to never request more concurrently-active slots than this.
const MaxResidentModels = 1

// killWait bounds how long StopServer waits for a killed process to exit.
const killWait = 3 * time.Second

// ExitEvent describes a backend process leaving the registry.
type ExitEvent struct {
	Port  int
	Model string
	PID   int
	Err   error
	// Requested is true when the exit was caused by StopServer/StopAll.
	Requested bool
}

// Abnormal reports whether the exit should be treated as a crash: any
// unrequested exit, clean or not, means the slot is no longer serving.
func (e ExitEvent) Abnormal() bool { return !e.Requested }

// Resolver maps a model id to its registry entry.
type Resolver func(id string) (types.Model, bool)

// Config holds launch parameters shared by every spawned server.
type Config struct {
	// Binary is the backend server executable (e.g. llama-server).
	Binary string
	// Host to bind, default 127.0.0.1.
	Host string
	// CtxSize is the context window passed via --ctx-size.
	CtxSize int
	// GPULayers is the GPU offload layer count passed via -ngl.
	GPULayers int
}

// Supervisor owns OS-level lifecycle of backend server processes, one per
// (model, port) binding. At most one process is registered per port.
type Supervisor struct {
	cfg     Config
	resolve Resolver

	mu     sync.Mutex
	procs  map[int]*proc
	onExit func(ExitEvent)
}

type proc struct {
	model     string
	cmd       *exec.Cmd
	stderr    *bytes.Buffer
	done      chan struct{}
	requested bool
}

// New constructs a Supervisor. resolve must not be nil.
func New(cfg Config, resolve Resolver) *Supervisor {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Supervisor{cfg: cfg, resolve: resolve, procs: make(map[int]*proc)}
}

// SetExitHandler installs a callback invoked whenever a process leaves the
// registry, for both requested and abnormal exits. Must be set before the
// first StartServer.
func (s *Supervisor) SetExitHandler(fn func(ExitEvent)) {
	s.mu.Lock()
	s.onExit = fn
	s.mu.Unlock()
}

// StartServer launches the server for modelID on port. If the port is
// occupied the occupant is force-terminated first so the slot is clean.
func (s *Supervisor) StartServer(modelID string, port int) error {
	mdl, ok := s.resolve(modelID)
	if !ok {
		return fmt.Errorf("start server: unknown model %q", modelID)
	}

	s.mu.Lock()
	if old := s.procs[port]; old != nil {
		s.stopLocked(port, old)
	}
	s.mu.Unlock()

	args := []string{
		"--model", mdl.Path,
		"--host", s.cfg.Host,
		"--port", fmt.Sprint(port),
	}
	if s.cfg.CtxSize > 0 {
		args = append(args, "--ctx-size", fmt.Sprint(s.cfg.CtxSize))
	}
	if s.cfg.GPULayers > 0 {
		args = append(args, "-ngl", fmt.Sprint(s.cfg.GPULayers))
	}

	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Dir = filepath.Dir(mdl.Path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start server %q on port %d: %w", modelID, port, err)
	}

	p := &proc{model: modelID, cmd: cmd, stderr: &stderr, done: make(chan struct{})}
	s.mu.Lock()
	s.procs[port] = p
	s.mu.Unlock()
	log.Printf("supervisor event=start model=%q port=%d pid=%d", modelID, port, cmd.Process.Pid)

	go s.watch(port, p)
	return nil
}

// watch reaps the process and removes the registry entry whether it exited
// cleanly, crashed, or was killed.
func (s *Supervisor) watch(port int, p *proc) {
	werr := p.cmd.Wait()
	close(p.done)

	s.mu.Lock()
	if s.procs[port] == p {
		delete(s.procs, port)
	}
	requested := p.requested
	onExit := s.onExit
	s.mu.Unlock()

	ev := ExitEvent{Port: port, Model: p.model, PID: p.cmd.Process.Pid, Err: werr, Requested: requested}
	if !requested {
		tail := p.stderr.String()
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		log.Printf("supervisor event=exit_abnormal model=%q port=%d pid=%d err=%v stderr=%q",
			p.model, port, ev.PID, werr, tail)
	} else {
		log.Printf("supervisor event=exit model=%q port=%d pid=%d", p.model, port, ev.PID)
	}
	if onExit != nil {
		onExit(ev)
	}
}

// StopServer force-terminates the process bound to port, if any, and waits a
// bounded time for it to exit. Kill rather than a graceful handshake: the
// goal is prompt release of GPU memory, not clean shutdown.
func (s *Supervisor) StopServer(port int) error {
	s.mu.Lock()
	p := s.procs[port]
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopLocked(port, p)
	s.mu.Unlock()
	return nil
}

// stopLocked marks p requested, kills it and waits for the watcher to reap
// it. Caller holds s.mu; the lock is released during the wait.
func (s *Supervisor) stopLocked(port int, p *proc) {
	p.requested = true
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	s.mu.Unlock()
	select {
	case <-p.done:
	case <-time.After(killWait):
		log.Printf("supervisor event=stop_timeout model=%q port=%d", p.model, port)
	}
	s.mu.Lock()
}

// StopAll force-terminates every registered process.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ports := make([]int, 0, len(s.procs))
	for port := range s.procs {
		ports = append(ports, port)
	}
	s.mu.Unlock()
	for _, port := range ports {
		_ = s.StopServer(port)
	}
}

// Occupant returns the model id bound to port, if any.
func (s *Supervisor) Occupant(port int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[port]; p != nil {
		return p.model, true
	}
	return "", false
}

// ResidentCount returns the number of registered processes.
func (s *Supervisor) ResidentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// ErrNoBinary is returned by Validate when the server binary is unset.
var ErrNoBinary = errors.New("supervisor: server binary not configured")

// Validate checks the launch configuration without spawning anything.
func (s *Supervisor) Validate() error {
	if s.cfg.Binary == "" {
		return ErrNoBinary
	}
	return nil
}
