package soluna

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/pattern"
	"github.com/soluna-audio/soluna/internal/translate"
)

type fakeTime struct {
	now time.Time
}

func (f *fakeTime) Now() time.Time { return f.now }

func newTestSession(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	ft := &fakeTime{now: time.Unix(100, 0)}
	opts = append([]SessionOption{WithNowFunc(ft.Now)}, opts...)
	s, err := NewSession(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestSetPatternSource(t *testing.T) {
	s := newTestSession(t)

	v, err := s.SetPatternSource("bd sn hh sn")
	if err != nil {
		t.Fatalf("set pattern: %v", err)
	}
	if v != 1 || s.Version() != 1 {
		t.Fatalf("version = %d / %d, want 1", v, s.Version())
	}
}

func TestParseErrorLeavesActivePattern(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.SetPatternSource("bd sn"); err != nil {
		t.Fatalf("set pattern: %v", err)
	}

	_, err := s.SetPatternSource("bd [sn hh")
	var perr *pattern.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *pattern.ParseError", err)
	}
	if s.Version() != 1 {
		t.Fatalf("version = %d after failed install, want 1", s.Version())
	}
}

func TestSetTempoRejectsNonPositive(t *testing.T) {
	s := newTestSession(t)

	if err := s.SetTempo(0); !errors.Is(err, clock.ErrInvalidTempo) {
		t.Fatalf("error = %v, want ErrInvalidTempo", err)
	}
	if got := s.Tempo(); got != 120 {
		t.Fatalf("tempo = %v after rejected change, want 120", got)
	}
}

func TestFrameCoversMappingTargets(t *testing.T) {
	s := newTestSession(t)

	params := s.Frame()
	for _, target := range []string{"bloom", "pulse", "shimmer", "flash", "orbit"} {
		if _, ok := params[target]; !ok {
			t.Fatalf("frame missing target %q: %v", target, params)
		}
	}
	// Silence in, darkness out.
	if params["bloom"] != 0 {
		t.Fatalf("bloom = %v for silent input, want 0", params["bloom"])
	}
}

func TestTranslateWithoutBackend(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Translate(context.Background(), "gentle rain", nil)
	var terr *translate.TranslationError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *translate.TranslationError", err)
	}
}

type cannedBackend struct {
	pattern string
}

func (b cannedBackend) Complete(ctx context.Context, req translate.Request) (translate.Response, error) {
	return translate.Response{Pattern: b.pattern, Confidence: 0.8}, nil
}

func TestTranslateThenInstall(t *testing.T) {
	s := newTestSession(t, WithTranslateBackend(cannedBackend{pattern: "c4 e4 g4"}))

	res, err := s.Translate(context.Background(), "calm arpeggio", nil)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if s.Version() != 0 {
		t.Fatalf("version = %d before install, want 0", s.Version())
	}
	if v := s.InstallCandidate(res); v != 1 {
		t.Fatalf("install version = %d, want 1", v)
	}
}

func TestTranslateGrammarFailureKeepsActive(t *testing.T) {
	s := newTestSession(t, WithTranslateBackend(cannedBackend{pattern: "bd [sn"}))
	if _, err := s.SetPatternSource("bd sn"); err != nil {
		t.Fatalf("set pattern: %v", err)
	}

	_, err := s.Translate(context.Background(), "anything", nil)
	var perr *pattern.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *pattern.ParseError", err)
	}
	if s.Version() != 1 {
		t.Fatalf("version = %d, want 1", s.Version())
	}
}

func TestApplyConfig(t *testing.T) {
	s := newTestSession(t)

	cfg := DefaultConfig()
	cfg.Tempo = 90
	cfg.LookaheadCycles = 4
	if err := s.ApplyConfig(cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if got := s.Tempo(); got != 90 {
		t.Fatalf("tempo = %v, want 90", got)
	}

	bad := DefaultConfig()
	bad.Tempo = -1
	if err := s.ApplyConfig(bad); err == nil {
		t.Fatal("expected error for negative tempo")
	}
	if got := s.Tempo(); got != 90 {
		t.Fatalf("tempo = %v after rejected config, want 90", got)
	}
}

func TestApplyConfigSwitchesTickSource(t *testing.T) {
	ft := &fakeTime{now: time.Unix(100, 0)}
	s, err := NewSession(DefaultConfig(), WithNowFunc(ft.Now))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.Resume()
	ft.now = ft.now.Add(500 * time.Millisecond) // one cycle at 120 cpm

	cfg := DefaultConfig()
	cfg.TickSource = TickSourceTimer
	cfg.TimerFPS = 30
	if err := s.ApplyConfig(cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if got := s.TickSource(); got != TickSourceTimer {
		t.Fatalf("tick source = %q after reload, want %q", got, TickSourceTimer)
	}
	if got := s.TimerFPS(); got != 30 {
		t.Fatalf("timer fps = %d after reload, want 30", got)
	}
	// The reload must not restart the clock: still running, position kept.
	if !s.Stats().Running {
		t.Fatal("clock stopped by config reload")
	}
	if got := s.CyclePosition(); got != 1 {
		t.Fatalf("cycle position = %v across reload, want 1", got)
	}
}

func TestStatsBeforeStart(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.SetPatternSource("bd sn"); err != nil {
		t.Fatalf("set pattern: %v", err)
	}

	stats := s.Stats()
	if stats.Running {
		t.Fatal("running before Start")
	}
	if stats.PatternVersion != 1 || stats.Tempo != 120 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"negative tempo", func(c *Config) { c.Tempo = -10 }},
		{"unknown tick source", func(c *Config) { c.TickSource = "vblank" }},
		{"unknown scale", func(c *Config) { c.Scale = "dorian" }},
		{"zero bands", func(c *Config) { c.Bands = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if _, err := NewSession(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
