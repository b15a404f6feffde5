package soluna

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/pattern"
	"github.com/soluna-audio/soluna/internal/schedule"
	"github.com/soluna-audio/soluna/internal/store"
	"github.com/soluna-audio/soluna/internal/synth"
)

const offlineBlockFrames = 512

// renderClock advances by rendered samples instead of wall time, so
// offline output is byte-identical across runs.
type renderClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *renderClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *renderClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// RenderSamples renders seconds of a pattern offline through the same
// scheduler and synth as live playback, driven by a sample-counting
// clock. Output is interleaved stereo float32.
func RenderSamples(source string, cfg Config, seconds float64) ([]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := pattern.NewParser(pattern.DefaultConfig()).Parse("offline", source)
	if err != nil {
		return nil, err
	}

	rc := &renderClock{now: time.Unix(0, 0)}
	clk, err := clock.New(cfg.Tempo, clock.WithNowFunc(rc.Now))
	if err != nil {
		return nil, err
	}
	st := store.New()
	st.SetPattern(spec)
	engine := synth.New(cfg.SampleRate, cfg.synthParams(), synth.WithNowFunc(rc.Now))

	schedCfg := schedule.DefaultConfig()
	schedCfg.LookaheadCycles = cfg.LookaheadCycles
	schedCfg.GraceMargin = time.Duration(cfg.GraceMarginMs) * time.Millisecond
	sched := schedule.New(clk, st, engine, schedCfg, zerolog.Nop())

	clk.Resume()
	frames := int(float64(cfg.SampleRate) * seconds)
	out := make([]float32, 0, frames*2)
	block := make([]float32, offlineBlockFrames*2)
	blockDur := time.Duration(float64(offlineBlockFrames) / float64(cfg.SampleRate) * float64(time.Second))
	for len(out) < frames*2 {
		sched.Pass()
		engine.Render(block)
		out = append(out, block...)
		rc.Advance(blockDur)
	}
	return out[:frames*2], nil
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV
// container (format 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
