//go:build !windows

package process

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func waitUntil(t *testing.T, timeout, step time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return fn()
}

func shSpec(name, script string) Spec {
	return Spec{Name: name, Command: "/bin/sh", Args: []string{"-c", script}}
}

func TestLaunchReportsExitCode(t *testing.T) {
	h, err := NewLauncher(nil).Launch(shSpec("exit3", "exit 3"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Code != 3 || st.Signaled || st.Success() {
		t.Fatalf("unexpected exit: %+v", st)
	}
	if st.OOMKilled() {
		t.Fatalf("exit code 3 is not an OOM kill")
	}
}

func TestLaunchReportsSIGKILL(t *testing.T) {
	h, err := NewLauncher(nil).Launch(shSpec("oom", "kill -9 $$"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	st := h.ExitStatus()
	if !st.OOMKilled() || !st.Crashed() {
		t.Fatalf("expected SIGKILL exit, got %s", st)
	}
}

func TestLaunchErrorForMissingBinary(t *testing.T) {
	_, err := NewLauncher(nil).Launch(Spec{Name: "ghost", Command: filepath.Join(t.TempDir(), "missing")})
	var le *LaunchError
	if !errors.As(err, &le) || le.Name != "ghost" {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if _, err := NewLauncher(nil).Launch(Spec{Name: "empty"}); !errors.As(err, &le) {
		t.Fatalf("empty command should be a LaunchError, got %v", err)
	}
}

func TestStopTerminatesAndIsIdempotent(t *testing.T) {
	h, err := NewLauncher(nil).Launch(shSpec("sleeper", "sleep 30"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	ctx := context.Background()
	if err := h.Stop(ctx, 2*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !h.Exited() {
		t.Fatalf("process should be reaped after Stop")
	}
	if err := h.Stop(ctx, time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate after exit: %v", err)
	}
	if Alive(h.PID()) {
		t.Fatalf("pid %d still alive", h.PID())
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	h, err := NewLauncher(nil).Launch(shSpec("stubborn", "trap '' TERM; while :; do sleep 0.05; done"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := h.Stop(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st := h.ExitStatus(); !st.Signaled {
		t.Fatalf("expected signal exit, got %s", st)
	}
}

func TestChildPIDs(t *testing.T) {
	h, err := NewLauncher(nil).Launch(shSpec("parent", "sleep 30 & sleep 30 & wait"))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer func() { _ = h.Stop(context.Background(), time.Second) }()

	var kids []int
	ok := waitUntil(t, 3*time.Second, 50*time.Millisecond, func() bool {
		kids, _ = ChildPIDs(h.PID())
		return len(kids) >= 2
	})
	if !ok {
		t.Fatalf("expected 2 children, got %v", kids)
	}
	for _, k := range kids {
		_ = TerminatePID(k)
	}
	if got, err := ChildPIDs(1 << 22); err != nil || len(got) != 0 {
		t.Fatalf("missing pid should have no children: %v %v", got, err)
	}
}

func TestIsListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if !IsListening(os.Getpid(), port) {
		t.Fatalf("expected current process to listen on %d", port)
	}
	_ = ln.Close()
	if IsListening(os.Getpid(), port) {
		t.Fatalf("closed listener still reported on %d", port)
	}
}

func TestTerminatePIDMissingProcess(t *testing.T) {
	if err := TerminatePID(1 << 22); err != nil {
		t.Fatalf("missing process should be ignored: %v", err)
	}
}

func TestPIDFileWrittenAndRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "jobs.pid")
	spec := shSpec("jobs", "sleep 30")
	spec.PIDFile = path
	h, err := NewLauncher(nil).Launch(spec)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	pid, meta, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if pid != h.PID() || meta == nil || meta.Service != "jobs" {
		t.Fatalf("unexpected pid file: %d %+v", pid, meta)
	}
	_ = h.Stop(context.Background(), time.Second)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed after exit: %v", err)
	}
}

func TestLaunchWritesServiceLogs(t *testing.T) {
	spec := shSpec("mcp", "echo ready; echo oops 1>&2")
	spec.Log.Dir = t.TempDir()
	h, err := NewLauncher(nil).Launch(spec)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	h.ExitStatus()
	b, err := os.ReadFile(filepath.Join(spec.Log.Dir, "mcp.stdout.log"))
	if err != nil || !strings.Contains(string(b), "ready") {
		t.Fatalf("stdout log: %q %v", b, err)
	}
	b, err = os.ReadFile(filepath.Join(spec.Log.Dir, "mcp.stderr.log"))
	if err != nil || !strings.Contains(string(b), "oops") {
		t.Fatalf("stderr log: %q %v", b, err)
	}
}
