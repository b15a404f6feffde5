// Package soluna turns text-described musical patterns into
// synchronized audio and visual parameter frames. A Session owns the
// cycle clock, the active pattern, the event scheduler, the built-in
// synth and the audio feature pipeline; callers feed it pattern text
// and pull visual frames.
package soluna

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soluna-audio/soluna/internal/audio"
	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/feature"
	"github.com/soluna-audio/soluna/internal/pattern"
	"github.com/soluna-audio/soluna/internal/ring"
	"github.com/soluna-audio/soluna/internal/schedule"
	"github.com/soluna-audio/soluna/internal/server"
	"github.com/soluna-audio/soluna/internal/store"
	"github.com/soluna-audio/soluna/internal/synth"
	"github.com/soluna-audio/soluna/internal/translate"
	"github.com/soluna-audio/soluna/internal/vismap"
)

type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger  zerolog.Logger
	nowFn   func() time.Time
	backend translate.Backend
}

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.logger = logger
	}
}

// WithNowFunc substitutes the wall clock, for tests and offline
// rendering.
func WithNowFunc(fn func() time.Time) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.nowFn = fn
	}
}

// WithTranslateBackend overrides the HTTP translation backend derived
// from Config.TranslateURL.
func WithTranslateBackend(backend translate.Backend) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.backend = backend
	}
}

// Session is the live pipeline. Install patterns with
// SetPatternSource, start audio with Start, pull visual frames with
// Frame (or RunFrames when the config asks for a timer tick source).
type Session struct {
	cfg    Config
	log    zerolog.Logger
	nowFn  func() time.Time
	parser *pattern.Parser

	clk     *clock.Clock
	st      *store.Store
	engine  *synth.Engine
	sched   *schedule.Scheduler
	rb      *ring.Buffer
	extract *feature.Extractor
	trans   *translate.Translator

	mu     sync.Mutex
	mapper *vismap.Mapper
	player *audio.Player
}

func NewSession(cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := sessionConfig{logger: zerolog.Nop(), nowFn: time.Now}
	for _, opt := range opts {
		opt(&sc)
	}

	clk, err := clock.New(cfg.Tempo, clock.WithNowFunc(sc.nowFn))
	if err != nil {
		return nil, err
	}
	st := store.New()
	engine := synth.New(cfg.SampleRate, cfg.synthParams(), synth.WithNowFunc(sc.nowFn))

	schedCfg := schedule.DefaultConfig()
	schedCfg.LookaheadCycles = cfg.LookaheadCycles
	schedCfg.GraceMargin = time.Duration(cfg.GraceMarginMs) * time.Millisecond
	sched := schedule.New(clk, st, engine, schedCfg, sc.logger)

	rb := ring.New(1 << 14)
	featCfg := feature.DefaultConfig()
	featCfg.Bands = cfg.Bands
	extract := feature.New(rb, clk, featCfg, sc.logger)

	mapping := cfg.Mapping
	s := &Session{
		cfg:     cfg,
		log:     sc.logger,
		nowFn:   sc.nowFn,
		parser:  pattern.NewParser(pattern.DefaultConfig()),
		clk:     clk,
		st:      st,
		engine:  engine,
		sched:   sched,
		rb:      rb,
		extract: extract,
		mapper:  vismap.NewMapper(&mapping),
	}
	if sc.backend != nil {
		s.trans = translate.New(sc.backend)
	} else if cfg.TranslateURL != "" {
		s.trans = translate.New(translate.NewHTTPBackend(cfg.TranslateURL))
	}
	return s, nil
}

// SetPatternSource parses and installs pattern text. On a parse error
// the active pattern and its version are untouched.
func (s *Session) SetPatternSource(source string) (uint64, error) {
	spec, err := s.parser.Parse("live", source)
	if err != nil {
		return 0, err
	}
	version := s.st.SetPattern(spec)
	s.log.Info().Uint64("version", version).Str("source", source).Msg("pattern installed")
	return version, nil
}

// Translate asks the configured backend for a pattern matching the
// prompt. The result is a validated candidate; nothing is installed
// until InstallCandidate.
func (s *Session) Translate(ctx context.Context, prompt string, hints map[string]string) (*translate.Result, error) {
	if s.trans == nil {
		return nil, &translate.TranslationError{Backend: "none", Reason: "no translation backend configured"}
	}
	return s.trans.Translate(ctx, prompt, hints)
}

// InstallCandidate installs a translated candidate as the active
// pattern.
func (s *Session) InstallCandidate(res *translate.Result) uint64 {
	return s.st.SetPattern(res.Spec)
}

// Start opens the audio device on first use, starts the clock and
// begins playback.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		player, err := audio.NewPlayer(s.cfg.SampleRate, sessionSource{s}, s.rb.WriteStereoF32)
		if err != nil {
			return err
		}
		s.player = player
	}
	s.clk.Resume()
	s.player.Play()
	return nil
}

// Pause freezes the clock. In-flight audio drains; no further events
// are handed off until Resume.
func (s *Session) Pause() {
	s.clk.Pause()
	s.mu.Lock()
	if s.player != nil {
		s.player.Pause()
	}
	s.mu.Unlock()
}

func (s *Session) Resume() {
	s.clk.Resume()
	s.mu.Lock()
	if s.player != nil {
		s.player.Play()
	}
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.clk.Pause()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Stop()
	s.player = nil
	return err
}

// SetTempo changes the tempo without disturbing the current cycle
// position.
func (s *Session) SetTempo(cyclesPerMinute float64) error {
	return s.clk.SetTempo(cyclesPerMinute)
}

func (s *Session) Tempo() float64 { return s.clk.Tempo() }

// CyclePosition returns the clock position in cycles.
func (s *Session) CyclePosition() float64 { return s.clk.Now() }

// Version returns the active pattern version, zero before any install.
func (s *Session) Version() uint64 { return s.st.Version() }

// Frame runs one feature extraction tick and maps it to visual
// parameters. Call once per rendered visual frame.
func (s *Session) Frame() vismap.ParameterSet {
	v := s.extract.Tick(s.nowFn())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapper.Map(v)
}

// RunFrames drives Frame from an internal fixed-rate timer until ctx
// is done, for hosts without a display refresh loop.
func (s *Session) RunFrames(ctx context.Context, fps int, fn func(vismap.ParameterSet)) {
	if fps <= 0 {
		fps = DefaultConfig().TimerFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(s.Frame())
		}
	}
}

// MappingConfig returns the active mapping table.
func (s *Session) MappingConfig() *vismap.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapper.Config()
}

// SetMappingConfig replaces the mapping table. Smoothing state of
// targets present in both tables carries over.
func (s *Session) SetMappingConfig(cfg *vismap.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapper.SetConfig(cfg)
	return nil
}

// ApplyConfig applies the hot-reloadable parts of a config to the
// running session: tempo, lookahead window, mapping table, synth
// macros and extraction tick source. Structural settings (sample
// rate, band count) are ignored.
func (s *Session) ApplyConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.clk.SetTempo(cfg.Tempo); err != nil {
		return err
	}
	s.sched.SetLookahead(cfg.LookaheadCycles)
	s.engine.SetParams(cfg.synthParams())
	mapping := cfg.Mapping
	s.mu.Lock()
	s.mapper.SetConfig(&mapping)
	s.cfg.Tempo = cfg.Tempo
	s.cfg.LookaheadCycles = cfg.LookaheadCycles
	s.cfg.Mapping = mapping
	s.cfg.TickSource = cfg.TickSource
	s.cfg.TimerFPS = cfg.TimerFPS
	s.mu.Unlock()
	s.log.Info().
		Float64("tempo", cfg.Tempo).
		Float64("lookahead", cfg.LookaheadCycles).
		Str("tick_source", cfg.TickSource).
		Msg("config applied")
	return nil
}

// TickSource reports what should drive extraction ticks, reflecting
// the latest applied config. Hosts driving Frame themselves consult
// it when reloading.
func (s *Session) TickSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TickSource
}

// TimerFPS reports the tick rate for the timer tick source.
func (s *Session) TimerFPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TimerFPS
}

// Stats reports pipeline health counters.
func (s *Session) Stats() server.Stats {
	return server.Stats{
		PatternVersion: s.st.Version(),
		Tempo:          s.clk.Tempo(),
		Running:        s.clk.Running(),
		Overruns:       s.sched.Overruns(),
		Missed:         s.sched.Missed(),
		Underruns:      s.extract.Underruns(),
	}
}

// sessionSource renders audio for the device: one scheduling pass,
// then the synth fills the block. The player's tap copies the block
// into the feature ring buffer off the same callback.
type sessionSource struct {
	s *Session
}

func (src sessionSource) Render(dst []float32) {
	src.s.sched.Pass()
	src.s.engine.Render(dst)
}
