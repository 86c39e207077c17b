package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType is the kind of lifecycle event.
type EventType string

const (
	EventLaunch        EventType = "launch"
	EventExit          EventType = "exit"
	EventRestart       EventType = "restart"
	EventRestartDenied EventType = "restart_denied"
	EventHealthTimeout EventType = "health_timeout"
)

// Event is a service lifecycle event exported to analytics systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Signal     string    `json:"signal,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to sinks on a background goroutine so a slow
// sink never delays supervision.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	ch     chan Event
	wg     sync.WaitGroup
	closed sync.Once
}

// NewRecorder starts a recorder. With no sinks Record is a no-op.
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{sinks: sinks, log: log, timeout: 5 * time.Second, ch: make(chan Event, 256)}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.ch {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("history sink", "event", e.Type, "service", e.Service, "error", err)
			}
			cancel()
		}
	}
}

// Record queues e, dropping it when the queue is full.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	select {
	case r.ch <- e:
	default:
		r.log.Warn("history queue full, dropping event", "event", e.Type, "service", e.Service)
	}
}

// Close flushes queued events and closes sinks that hold resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	r.closed.Do(func() {
		close(r.ch)
		r.wg.Wait()
		for _, s := range r.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	})
	return errors.Join(errs...)
}
