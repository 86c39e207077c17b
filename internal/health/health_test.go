package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitReadySkipsPortless(t *testing.T) {
	var calls atomic.Int32
	g := NewGate(ProberFunc(func(int, int) bool { calls.Add(1); return false }), time.Second, 10*time.Millisecond, nil)
	res := g.AwaitReady(context.Background(), Target{Name: "jobs", PID: 1})
	if !res.Ready || calls.Load() != 0 {
		t.Fatalf("portless target should be ready without probing: %+v calls=%d", res, calls.Load())
	}
}

func TestAwaitReadyBecomesReady(t *testing.T) {
	var calls atomic.Int32
	g := NewGate(ProberFunc(func(pid, port int) bool {
		return calls.Add(1) >= 3
	}), time.Second, 5*time.Millisecond, nil)
	res := g.AwaitReady(context.Background(), Target{Name: "http", PID: 10, Port: 47334})
	if !res.Ready || res.Err != nil {
		t.Fatalf("expected ready, got %+v", res)
	}
}

func TestAwaitReadyTimeout(t *testing.T) {
	g := NewGate(ProberFunc(func(int, int) bool { return false }), 50*time.Millisecond, 5*time.Millisecond, nil)
	res := g.AwaitReady(context.Background(), Target{Name: "mysql", PID: 10, Port: 47335})
	if res.Ready || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestAwaitReadyCancelled(t *testing.T) {
	g := NewGate(ProberFunc(func(int, int) bool { return false }), time.Minute, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res := g.AwaitReady(ctx, Target{Name: "mcp", PID: 10, Port: 47337})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancellation not observed promptly")
	}
}

func TestAwaitAllCompletionOrder(t *testing.T) {
	readyAt := map[int]time.Time{
		1: time.Now().Add(150 * time.Millisecond),
		2: time.Now().Add(10 * time.Millisecond),
	}
	g := NewGate(ProberFunc(func(pid, port int) bool {
		return time.Now().After(readyAt[pid])
	}), 2*time.Second, 5*time.Millisecond, nil)

	targets := []Target{
		{Name: "slow", PID: 1, Port: 1},
		{Name: "fast", PID: 2, Port: 2},
		{Name: "worker", PID: 3},
	}
	var order []string
	for r := range g.AwaitAll(context.Background(), targets) {
		if !r.Ready {
			t.Fatalf("%s not ready: %v", r.Name, r.Err)
		}
		order = append(order, r.Name)
	}
	if len(order) != 3 {
		t.Fatalf("expected 3 results, got %v", order)
	}
	if order[2] != "slow" {
		t.Fatalf("slow target should complete last, got %v", order)
	}
}
