package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/store"
)

// Backend plays materialized events. Implementations receive onsets as
// wall-clock times computed against the tempo in force at hand-off.
type Backend interface {
	Schedule(onset time.Time, duration time.Duration, sound string, params map[string]float64)
}

// Config tunes the running scheduler.
type Config struct {
	// LookaheadCycles is how far ahead of the clock events are
	// materialized. Wide enough to absorb audio buffering latency.
	LookaheadCycles float64
	// GraceMargin is how far past an onset an event may still be
	// handed off late. Older events are pruned and counted.
	GraceMargin time.Duration
	// DispatchAhead is how close to its onset an event must be before
	// it is converted to wall-clock and handed to the backend.
	DispatchAhead time.Duration
	// PassBudget is the soft time budget for one scheduling pass.
	// Exceeding it is counted and logged, never dropped.
	PassBudget time.Duration
}

func DefaultConfig() Config {
	return Config{
		LookaheadCycles: 2,
		GraceMargin:     120 * time.Millisecond,
		DispatchAhead:   100 * time.Millisecond,
		PassBudget:      10 * time.Millisecond,
	}
}

// Scheduler keeps the lookahead window of the active pattern
// materialized and hands events to the backend shortly before their
// onsets. Pass is driven from the audio render activity; clock
// position is the sole progress signal, so pausing the clock stops
// dispatch while in-flight audio finishes.
type Scheduler struct {
	clk     *clock.Clock
	st      *store.Store
	backend Backend
	cfg     Config
	log     zerolog.Logger

	mu      sync.Mutex
	version uint64
	horizon float64 // cycles materialized so far
	pending []Event

	overruns atomic.Uint64
	missed   atomic.Uint64
}

func New(clk *clock.Clock, st *store.Store, backend Backend, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.LookaheadCycles <= 0 {
		cfg.LookaheadCycles = DefaultConfig().LookaheadCycles
	}
	if cfg.GraceMargin <= 0 {
		cfg.GraceMargin = DefaultConfig().GraceMargin
	}
	if cfg.DispatchAhead <= 0 {
		cfg.DispatchAhead = DefaultConfig().DispatchAhead
	}
	return &Scheduler{clk: clk, st: st, backend: backend, cfg: cfg, log: log}
}

// SetLookahead adjusts the materialization window. A narrower window
// takes effect as already-materialized events drain.
func (s *Scheduler) SetLookahead(cycles float64) {
	if cycles <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.LookaheadCycles = cycles
	s.mu.Unlock()
}

// Pass runs one scheduling pass: top up the lookahead window, hand off
// due events, prune stale ones. Cheap when the clock is paused.
func (s *Scheduler) Pass() {
	started := time.Now()
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	spec := s.st.Active()
	if spec == nil {
		s.pending = s.pending[:0]
		return
	}
	if spec.Version != s.version {
		// New pattern: drop events of the old version that have not
		// been handed off and re-materialize from the clock position.
		s.version = spec.Version
		s.pending = s.pending[:0]
		s.horizon = now
	}
	if s.horizon < now {
		s.horizon = now
	}
	target := now + s.cfg.LookaheadCycles
	if target > s.horizon {
		s.pending = append(s.pending, Materialize(spec, s.horizon, target)...)
		s.horizon = target
	}

	graceCycles := s.clk.CyclesIn(s.cfg.GraceMargin)
	aheadCycles := s.clk.CyclesIn(s.cfg.DispatchAhead)
	kept := s.pending[:0]
	for _, ev := range s.pending {
		onset := ev.CycleOnset.Float()
		switch {
		case onset < now-graceCycles:
			s.missed.Add(1)
			s.log.Warn().
				Uint64("pattern_version", ev.PatternVersion).
				Str("cycle_onset", ev.CycleOnset.String()).
				Str("sound", ev.Sound).
				Msg("event missed grace margin; pruned")
		case onset < now+aheadCycles:
			onsetAt := s.clk.WallTimeAt(onset)
			dur := s.clk.WallTimeAt(onset + ev.DurationCycles.Float()).Sub(onsetAt)
			s.backend.Schedule(onsetAt, dur, ev.Sound, ev.ParamMap())
		default:
			kept = append(kept, ev)
		}
	}
	s.pending = kept

	if s.cfg.PassBudget > 0 {
		if elapsed := time.Since(started); elapsed > s.cfg.PassBudget {
			s.overruns.Add(1)
			s.log.Warn().
				Dur("elapsed", elapsed).
				Dur("budget", s.cfg.PassBudget).
				Uint64("pattern_version", s.version).
				Float64("from_cycle", now).
				Float64("to_cycle", target).
				Msg("scheduling pass overran budget")
		}
	}
}

// Overruns returns how many passes exceeded the time budget.
func (s *Scheduler) Overruns() uint64 { return s.overruns.Load() }

// Missed returns how many events were pruned past the grace margin.
func (s *Scheduler) Missed() uint64 { return s.missed.Load() }

// PendingCount reports materialized events not yet handed off.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
