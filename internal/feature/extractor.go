// Package feature samples live audio output into compact per-frame
// feature vectors: overall level, band energies, onset flag and cycle
// phase. It reads already-rendered samples from the ring buffer and
// never calls into the audio path, so a tick can never block audio.
package feature

import (
	"math"
	"math/cmplx"
	"sync/atomic"
	"time"

	"github.com/madelynnblue/go-dsp/fft"
	"github.com/rs/zerolog"

	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/ring"
)

// Vector is one extraction tick's result. Created fresh per tick and
// never mutated; Held marks a repeated vector after an audio underrun.
type Vector struct {
	Timestamp     time.Time
	OverallLevel  float64
	BandEnergies  []float64
	OnsetDetected bool
	CyclePhase    float64
	Held          bool
}

type Config struct {
	Window     int     // analysis window in samples
	Bands      int     // fixed band count of the spectrum partition
	OnsetRatio float64 // level must exceed trailing average by this factor
	OnsetFloor float64 // and this absolute level
	AvgDecay   float64 // trailing average retention per tick
	Refractory time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:     1024,
		Bands:      8,
		OnsetRatio: 1.5,
		OnsetFloor: 0.02,
		AvgDecay:   0.9,
		Refractory: 80 * time.Millisecond,
	}
}

// Extractor is the single consumer of the audio ring buffer. One
// instance per session; Tick is called from the visual frame activity.
type Extractor struct {
	rb  *ring.Buffer
	clk *clock.Clock
	cfg Config
	log zerolog.Logger

	window    []float64
	edges     []int
	lastPos   uint64
	avg       float64
	lastOnset time.Time
	armed     bool
	prev      Vector
	hasPrev   bool
	lastWarn  time.Time

	underruns atomic.Uint64
}

func New(rb *ring.Buffer, clk *clock.Clock, cfg Config, log zerolog.Logger) *Extractor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Bands <= 0 {
		cfg.Bands = DefaultConfig().Bands
	}
	if cfg.OnsetRatio <= 1 {
		cfg.OnsetRatio = DefaultConfig().OnsetRatio
	}
	if cfg.AvgDecay <= 0 || cfg.AvgDecay >= 1 {
		cfg.AvgDecay = DefaultConfig().AvgDecay
	}
	return &Extractor{
		rb:     rb,
		clk:    clk,
		cfg:    cfg,
		log:    log,
		window: make([]float64, cfg.Window),
		edges:  bandEdges(cfg.Window/2, cfg.Bands),
	}
}

// Tick produces the feature vector for one visual frame. If no new
// samples arrived since the last tick the previous vector is repeated
// with the onset flag forced false; the condition is counted, not
// fabricated over.
func (e *Extractor) Tick(now time.Time) Vector {
	pos := e.rb.Snapshot(e.window)
	if pos == e.lastPos && e.hasPrev {
		e.underruns.Add(1)
		// One warn per second at most; a stalled audio thread would
		// otherwise spam every frame.
		if now.Sub(e.lastWarn) >= time.Second {
			e.lastWarn = now
			e.log.Warn().
				Uint64("underruns", e.underruns.Load()).
				Msg("no new audio since last tick; holding feature vector")
		}
		held := e.prev
		held.Timestamp = now
		held.OnsetDetected = false
		held.Held = true
		held.BandEnergies = append([]float64(nil), e.prev.BandEnergies...)
		return held
	}
	e.lastPos = pos

	level := rms(e.window)
	onset := false
	if level > e.avg*e.cfg.OnsetRatio && level > e.cfg.OnsetFloor {
		if !e.armed || now.Sub(e.lastOnset) >= e.cfg.Refractory {
			onset = true
			e.armed = true
			e.lastOnset = now
		}
	}
	e.avg = e.avg*e.cfg.AvgDecay + level*(1-e.cfg.AvgDecay)

	phase := e.clk.Now()
	phase -= math.Floor(phase)

	v := Vector{
		Timestamp:     now,
		OverallLevel:  math.Min(level, 1),
		BandEnergies:  e.bands(),
		OnsetDetected: onset,
		CyclePhase:    phase,
	}
	e.prev = v
	e.hasPrev = true
	return v
}

// Underruns reports how many ticks found no new audio.
func (e *Extractor) Underruns() uint64 { return e.underruns.Load() }

func rms(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(w)))
}

// bands computes mean spectral magnitude over a fixed geometric
// partition of the FFT bins.
func (e *Extractor) bands() []float64 {
	spectrum := fft.FFTReal(e.window)
	out := make([]float64, e.cfg.Bands)
	norm := 2.0 / float64(len(e.window))
	for b := 0; b < e.cfg.Bands; b++ {
		lo, hi := e.edges[b], e.edges[b+1]
		if hi <= lo {
			continue
		}
		var sum float64
		for i := lo; i < hi; i++ {
			sum += cmplx.Abs(spectrum[i]) * norm
		}
		out[b] = sum / float64(hi-lo)
	}
	return out
}

// bandEdges returns bands+1 geometric bin boundaries over [1, half).
// Each band spans at least one bin.
func bandEdges(half, bands int) []int {
	edges := make([]int, bands+1)
	edges[0] = 1
	for i := 1; i <= bands; i++ {
		e := int(math.Floor(math.Pow(float64(half), float64(i)/float64(bands))))
		if e <= edges[i-1] {
			e = edges[i-1] + 1
		}
		if e > half {
			e = half
		}
		edges[i] = e
	}
	return edges
}
