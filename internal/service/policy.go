package service

import (
	"errors"
	"time"
)

// Default restart limits applied when the configuration leaves them unset.
const (
	DefaultMaxRestartCount    = 3
	DefaultMaxRestartInterval = 60 * time.Second
)

// ErrRestartDenied is reported when the restart rate limit is exhausted.
var ErrRestartDenied = errors.New("restart denied")

// RestartPolicy is a sliding-window restart limiter.
// MaxCount == 0 admits every attempt. MaxInterval == 0 never expires history.
type RestartPolicy struct {
	Enabled     bool
	MaxCount    int
	MaxInterval time.Duration

	history []time.Time
}

// Admit records an attempt at now and reports whether it is within limits.
func (p *RestartPolicy) Admit(now time.Time) bool {
	if p.MaxCount == 0 {
		return true
	}
	p.history = append(p.history, now)
	if p.MaxInterval > 0 {
		cutoff := now.Add(-p.MaxInterval)
		kept := p.history[:0]
		for _, t := range p.history {
			if !t.Before(cutoff) {
				kept = append(kept, t)
			}
		}
		p.history = kept
	}
	return len(p.history) <= p.MaxCount
}

// Attempts returns the restart attempts still inside the window.
func (p *RestartPolicy) Attempts() []time.Time {
	out := make([]time.Time, len(p.history))
	copy(out, p.history)
	return out
}
