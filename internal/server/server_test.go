package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/pattern"
	"github.com/soluna-audio/soluna/internal/translate"
	"github.com/soluna-audio/soluna/internal/vismap"
)

type fakeController struct {
	parser   *pattern.Parser
	version  uint64
	tempo    float64
	mapping  *vismap.Config
	lastSrc  string
	translat *translate.Result
}

func newFakeController() *fakeController {
	return &fakeController{
		parser:  pattern.NewParser(pattern.DefaultConfig()),
		version: 0,
		tempo:   120,
		mapping: &vismap.Config{Rules: []vismap.Rule{
			{Source: "overallLevel", Target: "bloom", Curve: vismap.CurveLinear, Gain: 1},
		}},
	}
}

func (f *fakeController) SetPatternSource(source string) (uint64, error) {
	spec, err := f.parser.Parse("live", source)
	if err != nil {
		return 0, err
	}
	f.version++
	f.lastSrc = spec.Source
	return f.version, nil
}

func (f *fakeController) Translate(ctx context.Context, prompt string, hints map[string]string) (*translate.Result, error) {
	if f.translat == nil {
		return nil, &translate.TranslationError{Backend: "test", Reason: "backend down"}
	}
	return f.translat, nil
}

func (f *fakeController) InstallCandidate(res *translate.Result) uint64 {
	f.version++
	f.lastSrc = res.Spec.Source
	return f.version
}

func (f *fakeController) SetTempo(cpm float64) error {
	if cpm <= 0 {
		return fmt.Errorf("%w: %v", clock.ErrInvalidTempo, cpm)
	}
	f.tempo = cpm
	return nil
}

func (f *fakeController) Tempo() float64 { return f.tempo }

func (f *fakeController) Frame() vismap.ParameterSet {
	return vismap.ParameterSet{"bloom": 0.5}
}

func (f *fakeController) MappingConfig() *vismap.Config { return f.mapping }

func (f *fakeController) SetMappingConfig(cfg *vismap.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mapping = cfg
	return nil
}

func (f *fakeController) Stats() Stats {
	return Stats{PatternVersion: f.version, Tempo: f.tempo, Running: true}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeController) {
	t.Helper()
	ctrl := newFakeController()
	srv := New(Config{Addr: ":0"}, ctrl, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ctrl
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestPatternInstall(t *testing.T) {
	ts, ctrl := newTestServer(t)

	resp := postJSON(t, ts.URL+"/pattern", map[string]string{"source": "bd sn hh sn"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out patternResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Version != 1 {
		t.Fatalf("version = %d, want 1", out.Version)
	}
	if ctrl.lastSrc != "bd sn hh sn" {
		t.Fatalf("installed source = %q", ctrl.lastSrc)
	}
}

func TestPatternParseErrorKeepsVersion(t *testing.T) {
	ts, ctrl := newTestServer(t)

	resp := postJSON(t, ts.URL+"/pattern", map[string]string{"source": "bd [sn hh"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var out struct {
		Error  string `json:"error"`
		Offset int    `json:"offset"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error == "" {
		t.Fatal("expected error message")
	}
	if ctrl.version != 0 {
		t.Fatalf("version advanced to %d on bad pattern", ctrl.version)
	}
}

func TestTranslateApply(t *testing.T) {
	ts, ctrl := newTestServer(t)
	spec, err := pattern.NewParser(pattern.DefaultConfig()).Parse("candidate", "c4 e4 g4")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctrl.translat = &translate.Result{Spec: spec, Confidence: 0.9}

	resp := postJSON(t, ts.URL+"/translate", translateRequest{Prompt: "calm arpeggio", Apply: true})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Pattern != "c4 e4 g4" || out.Version != 1 {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestTranslateBackendFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/translate", translateRequest{Prompt: "anything"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestTempoRejectsNonPositive(t *testing.T) {
	ts, ctrl := newTestServer(t)

	resp := postJSON(t, ts.URL+"/tempo", tempoRequest{CyclesPerMinute: -10})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ctrl.tempo != 120 {
		t.Fatalf("tempo changed to %v", ctrl.tempo)
	}

	resp2 := postJSON(t, ts.URL+"/tempo", tempoRequest{CyclesPerMinute: 90})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
	if ctrl.tempo != 90 {
		t.Fatalf("tempo = %v, want 90", ctrl.tempo)
	}
}

func TestMappingRoundTrip(t *testing.T) {
	ts, ctrl := newTestServer(t)

	resp, err := http.Get(ts.URL + "/config/mapping")
	if err != nil {
		t.Fatalf("get mapping: %v", err)
	}
	defer resp.Body.Close()
	var cfg vismap.Config
	if err := yaml.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Target != "bloom" {
		t.Fatalf("unexpected mapping: %+v", cfg)
	}

	cfg.Rules = append(cfg.Rules, vismap.Rule{
		Source: "band0", Target: "pulse", Curve: vismap.CurveExp, Exponent: 2, Gain: 1,
	})
	payload, err := yaml.Marshal(&cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/config/mapping", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	put, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put mapping: %v", err)
	}
	defer put.Body.Close()
	if put.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", put.StatusCode)
	}
	if len(ctrl.mapping.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(ctrl.mapping.Rules))
	}
}

func TestMappingRejectsUnknownCurve(t *testing.T) {
	ts, _ := newTestServer(t)

	body := strings.NewReader("rules:\n  - source: overallLevel\n    target: bloom\n    curve: wobble\n")
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/config/mapping", body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put mapping: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Tempo != 120 || !stats.Running {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
