package soluna

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
tempo: 90
scale: celtic
mapping:
  rules:
    - source: overallLevel
      target: glow
      curve: exp
      exponent: 2
      gain: 1
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tempo != 90 || cfg.Scale != "celtic" {
		t.Fatalf("unexpected config: tempo=%v scale=%q", cfg.Tempo, cfg.Scale)
	}
	// Unset keys keep defaults.
	if cfg.SampleRate != 48000 || cfg.Bands != 8 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if len(cfg.Mapping.Rules) != 1 || cfg.Mapping.Rules[0].Target != "glow" {
		t.Fatalf("mapping not replaced: %+v", cfg.Mapping)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	want := DefaultConfig()
	want.Tempo = 75
	if err := SaveConfig(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Tempo != 75 || got.Scale != want.Scale || len(got.Mapping.Rules) != len(want.Mapping.Rules) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tempo: [oops"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
