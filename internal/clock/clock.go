// Package clock converts wall-clock time into musical cycle position.
// One Clock instance exists per session and is passed explicitly to
// everything that needs temporal position.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTempo is returned when a tempo of zero or less is requested.
var ErrInvalidTempo = errors.New("invalid tempo")

// NowFunc supplies wall-clock time. Tests substitute a fake.
type NowFunc func() time.Time

// Clock maps wall-clock time to cycle position at a settable tempo
// (cycles per minute). Position advances continuously while running
// and freezes across Pause/Resume. Changing tempo rescales future
// advancement without a discontinuity at the instant of change.
type Clock struct {
	mu      sync.Mutex
	nowFn   NowFunc
	tempo   float64 // cycles per minute
	origin  time.Time
	base    float64 // cycle position at origin
	running bool
}

type Option func(*Clock)

// WithNowFunc replaces the wall-clock source.
func WithNowFunc(fn NowFunc) Option {
	return func(c *Clock) { c.nowFn = fn }
}

// New returns a paused clock at cycle position 0.
func New(cpm float64, opts ...Option) (*Clock, error) {
	if cpm <= 0 {
		return nil, fmt.Errorf("%w: %v cycles/min", ErrInvalidTempo, cpm)
	}
	c := &Clock{nowFn: time.Now, tempo: cpm}
	for _, opt := range opts {
		opt(c)
	}
	c.origin = c.nowFn()
	return c, nil
}

// Now returns the current cycle position.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked(c.nowFn())
}

func (c *Clock) positionLocked(at time.Time) float64 {
	if !c.running {
		return c.base
	}
	return c.base + at.Sub(c.origin).Seconds()*c.tempo/60.0
}

// SetTempo changes cycles per minute. Position is continuous at the
// instant of change; only the rate of advancement changes.
func (c *Clock) SetTempo(cpm float64) error {
	if cpm <= 0 {
		return fmt.Errorf("%w: %v cycles/min", ErrInvalidTempo, cpm)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	c.base = c.positionLocked(now)
	c.origin = now
	c.tempo = cpm
	return nil
}

// Tempo returns the current tempo in cycles per minute.
func (c *Clock) Tempo() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempo
}

// Resume starts (or restarts) advancement from the held position.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.origin = c.nowFn()
	c.running = true
}

// Pause freezes cycle position. Safe to call when already paused.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.base = c.positionLocked(c.nowFn())
	c.running = false
}

// Running reports whether position is advancing.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// WallTimeAt converts a cycle position to wall-clock time under the
// current tempo. Scheduling hand-off calls this as late as possible so
// a tempo change mid-lookahead re-derives onset times from cycle units.
func (c *Clock) WallTimeAt(cycle float64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := c.origin
	if !c.running {
		ref = c.nowFn()
	}
	dt := (cycle - c.base) * 60.0 / c.tempo
	return ref.Add(time.Duration(dt * float64(time.Second)))
}

// CyclesIn converts a wall-clock duration to cycles at the current tempo.
func (c *Clock) CyclesIn(d time.Duration) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return d.Seconds() * c.tempo / 60.0
}
