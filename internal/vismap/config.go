package vismap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Curve names the response curve applied to a source feature before
// gain and smoothing.
type Curve string

const (
	CurveLinear Curve = "linear"
	CurveExp    Curve = "exp"
	CurveStep   Curve = "step"
)

// Rule maps one source feature to one visual parameter.
type Rule struct {
	Source   string   `yaml:"source"` // overallLevel | band0..bandN | onset | cyclePhase
	Target   string   `yaml:"target"`
	Curve    Curve    `yaml:"curve"`
	Exponent float64  `yaml:"exponent,omitempty"` // exp curve shape, default 2
	Steps    int      `yaml:"steps,omitempty"`    // step curve levels, default 4
	Gain     float64  `yaml:"gain"` // 0 (unset) means 1; to silence a target set max: 0
	HalfLife float64  `yaml:"half_life"` // smoothing half-life in seconds, 0 = immediate
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
}

// Config is the user-editable mapping table. Rules are ordered; later
// rules for the same target overwrite earlier ones within a tick.
// The mapping layer reads it and never mutates it.
type Config struct {
	Rules []Rule `yaml:"rules"`
}

func (c *Config) Validate() error {
	for i, r := range c.Rules {
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("rule %d: source and target are required", i)
		}
		switch r.Curve {
		case "", CurveLinear, CurveExp, CurveStep:
		default:
			return fmt.Errorf("rule %d: unknown curve %q", i, r.Curve)
		}
		if r.HalfLife < 0 {
			return fmt.Errorf("rule %d: negative half-life", i)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
