// Package vismap turns feature vectors into visual parameter sets
// according to a user-editable rule table. The mapping is a pure
// function of (vector, config, carried smoothing state), which makes
// record/replay testing of the visual side deterministic.
package vismap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/soluna-audio/soluna/internal/feature"
)

// ParameterSet is the per-frame output consumed once by the render
// bridge and superseded next tick. Targets without a configured rule
// are absent; the bridge supplies its own defaults.
type ParameterSet map[string]float64

// Mapper applies the mapping config. The per-target smoothing state is
// the only state carried between ticks.
type Mapper struct {
	cfg      *Config
	smoothed map[string]float64
	lastAt   time.Time
	hasLast  bool
}

func NewMapper(cfg *Config) *Mapper {
	return &Mapper{cfg: cfg, smoothed: map[string]float64{}}
}

// SetConfig replaces the rule table. Smoothing state for targets that
// survive the swap is kept so values glide rather than jump.
func (m *Mapper) SetConfig(cfg *Config) {
	m.cfg = cfg
	alive := map[string]bool{}
	for _, r := range cfg.Rules {
		alive[r.Target] = true
	}
	for target := range m.smoothed {
		if !alive[target] {
			delete(m.smoothed, target)
		}
	}
}

func (m *Mapper) Config() *Config { return m.cfg }

// Map produces the parameter set for one tick. dt for smoothing is
// derived from successive vector timestamps.
func (m *Mapper) Map(v feature.Vector) ParameterSet {
	var dt float64
	if m.hasLast {
		dt = v.Timestamp.Sub(m.lastAt).Seconds()
	}
	m.lastAt = v.Timestamp
	m.hasLast = true

	out := make(ParameterSet, len(m.cfg.Rules))
	for _, r := range m.cfg.Rules {
		src, ok := sourceValue(v, r.Source)
		if !ok {
			continue
		}
		gain := r.Gain
		if gain == 0 {
			gain = 1
		}
		raw := applyCurve(r, src) * gain
		raw = clampRule(r, raw)

		val := raw
		if r.HalfLife > 0 && dt >= 0 {
			prev, seen := m.smoothed[r.Target]
			if seen {
				// Exponential decay toward raw with the configured
				// half-life: remaining = 2^(-dt/halfLife).
				val = raw + (prev-raw)*math.Exp2(-dt/r.HalfLife)
			}
		}
		m.smoothed[r.Target] = val
		out[r.Target] = val
	}
	return out
}

func applyCurve(r Rule, x float64) float64 {
	switch r.Curve {
	case CurveExp:
		k := r.Exponent
		if k <= 0 {
			k = 2
		}
		return math.Pow(math.Abs(x), k) * sign(x)
	case CurveStep:
		n := r.Steps
		if n < 2 {
			n = 4
		}
		return math.Floor(x*float64(n)) / float64(n)
	default:
		return x
	}
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func clampRule(r Rule, x float64) float64 {
	if r.Min != nil && x < *r.Min {
		x = *r.Min
	}
	if r.Max != nil && x > *r.Max {
		x = *r.Max
	}
	return x
}

// sourceValue reads a named feature from the vector. Band sources are
// "band0".."bandN"; onset maps to 1/0.
func sourceValue(v feature.Vector, source string) (float64, bool) {
	switch source {
	case "overallLevel":
		return v.OverallLevel, true
	case "cyclePhase":
		return v.CyclePhase, true
	case "onset":
		if v.OnsetDetected {
			return 1, true
		}
		return 0, true
	}
	if idx, ok := strings.CutPrefix(source, "band"); ok {
		n, err := strconv.Atoi(idx)
		if err == nil && n >= 0 && n < len(v.BandEnergies) {
			return v.BandEnergies[n], true
		}
	}
	return 0, false
}

// KnownSources lists valid source names for a band count, for config
// validation surfaces.
func KnownSources(bands int) []string {
	out := []string{"overallLevel", "cyclePhase", "onset"}
	for i := 0; i < bands; i++ {
		out = append(out, fmt.Sprintf("band%d", i))
	}
	return out
}
