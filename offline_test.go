package soluna

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestRenderSamplesDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a, err := RenderSamples("bd sn hh sn", cfg, 1.0)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := RenderSamples("bd sn hh sn", cfg, 1.0)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(a) != cfg.SampleRate*2 {
		t.Fatalf("len = %d, want %d", len(a), cfg.SampleRate*2)
	}
	if !bytes.Equal(EncodeWAVFloat32LE(a, cfg.SampleRate, 2), EncodeWAVFloat32LE(b, cfg.SampleRate, 2)) {
		t.Fatal("two renders of the same pattern differ")
	}

	var energy float64
	for _, s := range a {
		energy += float64(s) * float64(s)
	}
	if energy == 0 {
		t.Fatal("rendered pattern is silent")
	}
}

func TestRenderSamplesRejectsBadPattern(t *testing.T) {
	if _, err := RenderSamples("bd [sn", DefaultConfig(), 0.5); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRenderSamplesRestIsSilent(t *testing.T) {
	samples, err := RenderSamples("~", DefaultConfig(), 0.5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for i, s := range samples {
		if s != 0 {
			t.Fatalf("sample %d = %v, want silence", i, s)
		}
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAVFloat32LE(samples, 48000, 2)

	if len(wav) != 44+len(samples)*4 {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(samples)*4)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatal("malformed WAV chunks")
	}
	if format := binary.LittleEndian.Uint16(wav[20:22]); format != 3 {
		t.Fatalf("format = %d, want 3 (IEEE float)", format)
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 48000 {
		t.Fatalf("rate = %d, want 48000", rate)
	}
	got := math.Float32frombits(binary.LittleEndian.Uint32(wav[48:52]))
	if got != 0.5 {
		t.Fatalf("sample = %v, want 0.5", got)
	}
}
