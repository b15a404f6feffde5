// Package synth is the built-in audio backend: a voice-capped sine
// engine driven by scheduled events. Pitched events are quantized to a
// pentatonic scale; five macro controls (brilliance, motion, space,
// warmth, purity) shape the timbre.
package synth

import (
	"math"
	"sync"
	"time"
)

const (
	maxVoices      = 16
	releaseSeconds = 0.1
	attackSeconds  = 0.005
)

type Params struct {
	MasterGain float64
	Scale      Scale
	Brilliance float64 // harmonic tilt toward upper partials
	Motion     float64 // vibrato depth/rate
	Space      float64 // stereo spread
	Warmth     float64 // one-pole lowpass amount
	Purity     float64 // partial count reduction
}

func DefaultParams() Params {
	return Params{
		MasterGain: 0.5,
		Scale:      ScaleJapaneseYo,
		Brilliance: 0.5,
		Motion:     0.3,
		Space:      0.4,
		Warmth:     0.6,
		Purity:     0.8,
	}
}

type trigger struct {
	at   int64 // absolute sample position
	dur  int64
	freq float64
	gain float64
	pan  float64
}

type voice struct {
	active    bool
	freq      float64
	phase     float64
	gain      float64
	pan       float64
	age       int64
	remaining int64 // sustain samples left; release follows
	released  int64 // samples into release, -1 while sustaining
}

// Engine renders scheduled triggers to interleaved stereo float32.
// Schedule may be called from the scheduling pass; Render runs on the
// audio thread.
type Engine struct {
	mu         sync.Mutex
	sampleRate int
	params     Params
	nowFn      func() time.Time

	queue  []trigger
	voices [maxVoices]voice
	pos    int64 // samples rendered so far

	lfoPhase float64
	lpL, lpR float64
}

type Option func(*Engine)

// WithNowFunc replaces the wall-clock used to place onsets. Tests pin it.
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = fn }
}

func New(sampleRate int, params Params, opts ...Option) *Engine {
	e := &Engine{sampleRate: sampleRate, params: params, nowFn: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schedule queues one event. Onsets in the past start immediately;
// future onsets are placed relative to the current render position.
func (e *Engine) Schedule(onset time.Time, duration time.Duration, sound string, params map[string]float64) {
	delay := onset.Sub(e.nowFn())
	if delay < 0 {
		delay = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	at := e.pos + int64(delay.Seconds()*float64(e.sampleRate))
	dur := int64(duration.Seconds() * float64(e.sampleRate))
	if dur < 1 {
		dur = 1
	}
	freq, gain := e.eventVoicing(sound, params)
	pan := panFor(len(e.queue)+int(at), e.params.Space)
	e.queue = append(e.queue, trigger{at: at, dur: dur, freq: freq, gain: gain, pan: pan})
}

func (e *Engine) eventVoicing(sound string, params map[string]float64) (freq, gain float64) {
	if n, ok := params["note"]; ok {
		note := QuantizeNote(int(n), e.params.Scale)
		return noteFreq(note), 0.8
	}
	return drumVoicing(sound)
}

// drumVoicing maps unpitched sample names onto fixed sine bursts.
func drumVoicing(sound string) (freq, gain float64) {
	switch sound {
	case "bd", "kick":
		return 55, 1.0
	case "sn", "snare", "cp", "clap":
		return 220, 0.8
	case "hh", "hat", "oh":
		return 6000, 0.4
	case "lt":
		return 110, 0.9
	case "mt":
		return 165, 0.9
	case "ht":
		return 250, 0.9
	}
	// Unknown names still sound: hash into a mid-range pitch.
	var h uint32
	for i := 0; i < len(sound); i++ {
		h = h*31 + uint32(sound[i])
	}
	return 200 + float64(h%1600), 0.6
}

func panFor(seed int, space float64) float64 {
	if space <= 0 {
		return 0
	}
	// Deterministic alternating spread scaled by the space macro.
	side := float64(seed%5-2) / 2.0
	return side * space
}

// SetParams replaces the macro set. Takes effect on the next block.
func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p
}

func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// ActiveVoiceCount returns voices still sounding, release tails included.
func (e *Engine) ActiveVoiceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

// Render fills an interleaved stereo block.
func (e *Engine) Render(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frames := len(dst) / 2
	sr := float64(e.sampleRate)
	release := int64(releaseSeconds * sr)
	attack := attackSeconds * sr
	partials := 1 + int(math.Round(3*(1-e.params.Purity)))
	tilt := e.params.Brilliance
	lfoRate := 0.5 + 6*e.params.Motion
	lfoDepth := 0.01 * e.params.Motion
	warmthCoef := 1 - 0.9*e.params.Warmth

	for f := 0; f < frames; f++ {
		e.startDue()

		vib := 1 + lfoDepth*math.Sin(2*math.Pi*e.lfoPhase)
		e.lfoPhase += lfoRate / sr
		if e.lfoPhase >= 1 {
			e.lfoPhase -= 1
		}

		var l, r float64
		for i := range e.voices {
			v := &e.voices[i]
			if !v.active {
				continue
			}
			env := 1.0
			if fa := float64(v.age); fa < attack {
				env = fa / attack
			}
			if v.released >= 0 {
				env *= 1 - float64(v.released)/float64(release)
			}

			var s float64
			for p := 0; p < partials; p++ {
				amp := math.Pow(tilt+0.25, float64(p))
				s += amp * math.Sin(2*math.Pi*v.phase*float64(p+1))
			}
			s *= v.gain * env / float64(partials)

			gl := math.Min(1, 1-v.pan)
			gr := math.Min(1, 1+v.pan)
			l += s * gl
			r += s * gr

			v.phase += v.freq * vib / sr
			v.phase -= math.Floor(v.phase)
			v.age++
			if v.released >= 0 {
				v.released++
				if v.released >= release {
					v.active = false
				}
			} else {
				v.remaining--
				if v.remaining <= 0 {
					v.released = 0
				}
			}
		}

		// Warmth lowpass, then master gain.
		e.lpL += warmthCoef * (l - e.lpL)
		e.lpR += warmthCoef * (r - e.lpR)
		dst[f*2] = float32(e.lpL * e.params.MasterGain)
		dst[f*2+1] = float32(e.lpR * e.params.MasterGain)

		e.pos++
	}
}

// startDue activates queued triggers whose sample position has come,
// stealing the oldest voice when all are busy.
func (e *Engine) startDue() {
	kept := e.queue[:0]
	for _, tr := range e.queue {
		if tr.at > e.pos {
			kept = append(kept, tr)
			continue
		}
		slot := -1
		var oldest int64 = -1
		for i := range e.voices {
			if !e.voices[i].active {
				slot = i
				break
			}
			if e.voices[i].age > oldest {
				oldest = e.voices[i].age
				slot = i
			}
		}
		e.voices[slot] = voice{
			active:    true,
			freq:      tr.freq,
			gain:      tr.gain,
			pan:       tr.pan,
			remaining: tr.dur,
			released:  -1,
		}
	}
	e.queue = kept
}
