package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.events = append(m.events, e)
	return nil
}

func TestRecorderFansOutAndFlushesOnClose(t *testing.T) {
	a, b := &memSink{}, &memSink{fail: true}
	r := NewRecorder(nil, a, b)
	r.Record(Event{Type: EventLaunch, Service: "http", PID: 10})
	r.Record(Event{Type: EventExit, Service: "http", PID: 10, ExitCode: -1, Signal: "killed"})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(a.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(a.events))
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatalf("OccurredAt should be filled in")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRecorderWithoutSinks(t *testing.T) {
	r := NewRecorder(nil)
	r.Record(Event{Type: EventLaunch})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	var nilRec *Recorder
	nilRec.Record(Event{})
	if err := nilRec.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestSQLSinkSQLite(t *testing.T) {
	s, err := NewSQLSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	for _, typ := range []EventType{EventLaunch, EventExit, EventRestart} {
		if err := s.Send(ctx, Event{Type: typ, OccurredAt: time.Now(), Service: "mysql", PID: 42}); err != nil {
			t.Fatalf("send %s: %v", typ, err)
		}
	}
	n, err := s.Count(ctx, "mysql")
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
	if _, err := NewSQLSinkFromDSN(" "); err == nil {
		t.Fatalf("empty DSN should fail")
	}
}
