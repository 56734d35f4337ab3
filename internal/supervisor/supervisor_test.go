package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"orchd/pkg/types"
)

// writeFakeServer creates a shell script that ignores its arguments and
// blocks until killed (or exits immediately with the given code).
func writeFakeServer(t *testing.T, dir string, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fake backend requires a POSIX shell")
	}
	script := "#!/bin/sh\nwhile true; do sleep 0.1; done\n"
	if exitCode >= 0 {
		script = "#!/bin/sh\nexit " + strconv.Itoa(exitCode) + "\n"
	}
	path := filepath.Join(dir, "fake-server")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake server: %v", err)
	}
	return path
}

func testResolver(dir string) Resolver {
	return func(id string) (types.Model, bool) {
		if id == "missing.gguf" {
			return types.Model{}, false
		}
		return types.Model{ID: id, Name: id, Path: filepath.Join(dir, id)}, true
	}
}

func waitExit(t *testing.T, ch <-chan ExitEvent) ExitEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit event")
		return ExitEvent{}
	}
}

func TestStartServer_RegistersOccupant(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeServer(t, dir, -1)
	s := New(Config{Binary: bin}, testResolver(dir))
	defer s.StopAll()

	if err := s.StartServer("coder.gguf", 18081); err != nil {
		t.Fatalf("start: %v", err)
	}
	model, ok := s.Occupant(18081)
	if !ok || model != "coder.gguf" {
		t.Fatalf("occupant = %q, %v", model, ok)
	}
	if s.ResidentCount() != 1 {
		t.Fatalf("resident count = %d", s.ResidentCount())
	}
}

func TestStartServer_UnknownModel(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Binary: writeFakeServer(t, dir, -1)}, testResolver(dir))
	if err := s.StartServer("missing.gguf", 18081); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestStartServer_ReplacesOccupant(t *testing.T) {
	dir := t.TempDir()
	bin := writeFakeServer(t, dir, -1)
	s := New(Config{Binary: bin}, testResolver(dir))
	defer s.StopAll()
	exits := make(chan ExitEvent, 4)
	s.SetExitHandler(func(ev ExitEvent) { exits <- ev })

	if err := s.StartServer("coder.gguf", 18081); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := s.StartServer("manager.gguf", 18081); err != nil {
		t.Fatalf("start second: %v", err)
	}

	ev := waitExit(t, exits)
	if ev.Model != "coder.gguf" || !ev.Requested {
		t.Fatalf("expected requested exit of first occupant, got %+v", ev)
	}
	model, ok := s.Occupant(18081)
	if !ok || model != "manager.gguf" {
		t.Fatalf("occupant after replace = %q, %v", model, ok)
	}
	if s.ResidentCount() != 1 {
		t.Fatalf("resident count after replace = %d", s.ResidentCount())
	}
}

func TestStopServer_RequestedExit(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Binary: writeFakeServer(t, dir, -1)}, testResolver(dir))
	exits := make(chan ExitEvent, 1)
	s.SetExitHandler(func(ev ExitEvent) { exits <- ev })

	if err := s.StartServer("coder.gguf", 18081); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.StopServer(18081); err != nil {
		t.Fatalf("stop: %v", err)
	}
	ev := waitExit(t, exits)
	if !ev.Requested || ev.Abnormal() {
		t.Fatalf("stop must produce a requested exit, got %+v", ev)
	}
	if s.ResidentCount() != 0 {
		t.Fatal("registry entry not removed after stop")
	}
}

func TestStopServer_UnknownPortIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Binary: writeFakeServer(t, dir, -1)}, testResolver(dir))
	if err := s.StopServer(19999); err != nil {
		t.Fatalf("stop of empty slot should be a no-op: %v", err)
	}
}

func TestCrashIsAbnormalAndDeregisters(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Binary: writeFakeServer(t, dir, 3)}, testResolver(dir))
	exits := make(chan ExitEvent, 1)
	s.SetExitHandler(func(ev ExitEvent) { exits <- ev })

	if err := s.StartServer("coder.gguf", 18081); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitExit(t, exits)
	if ev.Requested || !ev.Abnormal() {
		t.Fatalf("crash must be abnormal, got %+v", ev)
	}
	if ev.Err == nil {
		t.Fatal("nonzero exit should carry an error")
	}
	if s.ResidentCount() != 0 {
		t.Fatal("crashed process still registered")
	}
}

func TestStopAll(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Binary: writeFakeServer(t, dir, -1)}, testResolver(dir))
	for i, id := range []string{"a.gguf", "b.gguf"} {
		if err := s.StartServer(id, 18081+i); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	s.StopAll()
	if s.ResidentCount() != 0 {
		t.Fatalf("resident count after StopAll = %d", s.ResidentCount())
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{}, testResolver(dir))
	if err := s.Validate(); !errors.Is(err, ErrNoBinary) {
		t.Fatalf("expected ErrNoBinary, got %v", err)
	}
	s = New(Config{Binary: "/usr/bin/true"}, testResolver(dir))
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
}
