package soluna

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soluna-audio/soluna/internal/synth"
	"github.com/soluna-audio/soluna/internal/vismap"
)

// TickSource selects what drives feature extraction ticks.
const (
	TickSourceFrame = "frame" // caller-driven, e.g. a display refresh loop
	TickSourceTimer = "timer" // internal fixed-rate timer
)

// Macros are the five timbre controls of the built-in synth.
type Macros struct {
	Brilliance float64 `yaml:"brilliance"`
	Motion     float64 `yaml:"motion"`
	Space      float64 `yaml:"space"`
	Warmth     float64 `yaml:"warmth"`
	Purity     float64 `yaml:"purity"`
}

// Config is the session configuration. Tempo, lookahead, mapping and
// tick source may be replaced at runtime via Session.ApplyConfig.
type Config struct {
	SampleRate      int           `yaml:"sample_rate"`
	Tempo           float64       `yaml:"tempo"` // cycles per minute
	LookaheadCycles float64       `yaml:"lookahead_cycles"`
	GraceMarginMs   int           `yaml:"grace_margin_ms"`
	TickSource      string        `yaml:"tick_source"`
	TimerFPS        int           `yaml:"timer_fps"`
	Bands           int           `yaml:"bands"`
	Scale           string        `yaml:"scale"`
	MasterGain      float64       `yaml:"master_gain"`
	Macros          Macros        `yaml:"macros"`
	TranslateURL    string        `yaml:"translate_url"`
	Mapping         vismap.Config `yaml:"mapping"`
}

func DefaultConfig() Config {
	p := synth.DefaultParams()
	return Config{
		SampleRate:      48000,
		Tempo:           120,
		LookaheadCycles: 2,
		GraceMarginMs:   120,
		TickSource:      TickSourceFrame,
		TimerFPS:        60,
		Bands:           8,
		Scale:           string(p.Scale),
		MasterGain:      p.MasterGain,
		Macros: Macros{
			Brilliance: p.Brilliance,
			Motion:     p.Motion,
			Space:      p.Space,
			Warmth:     p.Warmth,
			Purity:     p.Purity,
		},
		Mapping: DefaultMapping(),
	}
}

// DefaultMapping covers the common visual targets so a fresh session
// produces usable frames before any mapping file is loaded.
func DefaultMapping() vismap.Config {
	halfLife := 0.08
	return vismap.Config{Rules: []vismap.Rule{
		{Source: "overallLevel", Target: "bloom", Curve: vismap.CurveLinear, Gain: 1.5, HalfLife: halfLife},
		{Source: "band0", Target: "pulse", Curve: vismap.CurveExp, Exponent: 2, Gain: 4, HalfLife: 0.05},
		{Source: "band6", Target: "shimmer", Curve: vismap.CurveLinear, Gain: 6, HalfLife: 0.12},
		{Source: "onset", Target: "flash", Curve: vismap.CurveLinear, Gain: 1},
		{Source: "cyclePhase", Target: "orbit", Curve: vismap.CurveLinear, Gain: 1},
	}}
}

// LoadConfig reads a YAML config file over the defaults, so absent
// keys keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config as YAML.
func SaveConfig(path string, cfg Config) error {
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Tempo <= 0 {
		return fmt.Errorf("tempo must be positive, got %v", c.Tempo)
	}
	if c.LookaheadCycles <= 0 {
		return fmt.Errorf("lookahead_cycles must be positive, got %v", c.LookaheadCycles)
	}
	if c.TickSource != TickSourceFrame && c.TickSource != TickSourceTimer {
		return fmt.Errorf("unknown tick_source %q", c.TickSource)
	}
	if c.Bands <= 0 {
		return fmt.Errorf("bands must be positive, got %d", c.Bands)
	}
	if !synth.ValidScale(synth.Scale(c.Scale)) {
		return fmt.Errorf("unknown scale %q", c.Scale)
	}
	return c.Mapping.Validate()
}

func (c *Config) synthParams() synth.Params {
	return synth.Params{
		MasterGain: c.MasterGain,
		Scale:      synth.Scale(c.Scale),
		Brilliance: c.Macros.Brilliance,
		Motion:     c.Macros.Motion,
		Space:      c.Macros.Space,
		Warmth:     c.Macros.Warmth,
		Purity:     c.Macros.Purity,
	}
}
