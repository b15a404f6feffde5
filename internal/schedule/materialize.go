// Package schedule materializes pattern specs into concrete audio
// events over cycle ranges and keeps a lookahead window of them handed
// off to the audio backend ahead of the clock.
package schedule

import (
	"fmt"
	"math"

	"github.com/soluna-audio/soluna/internal/pattern"
)

// Rat is a rational cycle position. Onsets are exact fractions of a
// cycle so re-materializing a range reproduces identical events
// regardless of tempo or float accumulation.
type Rat struct {
	Num, Den int64
}

func NewRat(num, den int64) Rat {
	if den == 0 {
		panic("schedule: zero denominator")
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	return Rat{Num: num / g, Den: den / g}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (r Rat) Add(o Rat) Rat { return NewRat(r.Num*o.Den+o.Num*r.Den, r.Den*o.Den) }

func (r Rat) Mul(o Rat) Rat { return NewRat(r.Num*o.Num, r.Den*o.Den) }

func (r Rat) Float() float64 { return float64(r.Num) / float64(r.Den) }

func (r Rat) Less(o Rat) bool { return r.Num*o.Den < o.Num*r.Den }

func (r Rat) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// Event is one materialized audio event. Onset and duration stay in
// cycle units; conversion to wall-clock happens only at hand-off.
type Event struct {
	CycleOnset     Rat
	DurationCycles Rat
	Sound          string
	Note           int
	Param          int
	PatternVersion uint64
}

// ParamMap builds the parameter map handed to the audio backend.
func (e Event) ParamMap() map[string]float64 {
	m := map[string]float64{"index": float64(e.Param)}
	if e.Note >= 0 {
		m["note"] = float64(e.Note)
	}
	return m
}

// Materialize expands spec over the half-open cycle range [from, to).
// It is a pure function of (spec, from, to): calling it twice with the
// same arguments yields identical event sequences, which makes
// re-scheduling a recomputed lookahead window idempotent.
func Materialize(spec *pattern.Spec, from, to float64) []Event {
	if spec == nil || to <= from {
		return nil
	}
	var out []Event
	first := int64(math.Floor(from))
	for c := first; float64(c) < to; c++ {
		expandSteps(spec, spec.Steps, NewRat(c, 1), NewRat(1, 1), c, &out)
	}
	// Trim to the half-open range; whole cycles were expanded above.
	kept := out[:0]
	for _, ev := range out {
		onset := ev.CycleOnset.Float()
		if onset >= from && onset < to {
			kept = append(kept, ev)
		}
	}
	return kept
}

func expandSteps(spec *pattern.Spec, steps []pattern.Node, start, width Rat, cycle int64, out *[]Event) {
	n := int64(len(steps))
	if n == 0 {
		return
	}
	slot := width.Mul(NewRat(1, n))
	for i, node := range steps {
		slotStart := start.Add(slot.Mul(NewRat(int64(i), 1)))
		expandNode(spec, node, slotStart, slot, cycle, out)
	}
}

func expandNode(spec *pattern.Spec, node pattern.Node, start, width Rat, cycle int64, out *[]Event) {
	if node.Repeat > 1 {
		sub := width.Mul(NewRat(1, int64(node.Repeat)))
		single := node
		single.Repeat = 1
		for r := int64(0); r < int64(node.Repeat); r++ {
			expandNode(spec, single, start.Add(sub.Mul(NewRat(r, 1))), sub, cycle, out)
		}
		return
	}
	switch node.Kind {
	case pattern.KindRest:
	case pattern.KindSound:
		*out = append(*out, Event{
			CycleOnset:     start,
			DurationCycles: width,
			Sound:          node.Sound,
			Note:           node.Note,
			Param:          node.Param,
			PatternVersion: spec.Version,
		})
	case pattern.KindGroup:
		expandSteps(spec, node.Steps, start, width, cycle, out)
	case pattern.KindAlt:
		idx := cycle % int64(len(node.Steps))
		if idx < 0 {
			idx += int64(len(node.Steps))
		}
		expandNode(spec, node.Steps[idx], start, width, cycle, out)
	}
}
