// Package translate turns natural-language prompts into candidate
// pattern specs. A candidate is validated against the pattern grammar
// before it is returned and is never installed into the store here;
// making a translation active is always an explicit caller decision.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soluna-audio/soluna/internal/pattern"
)

// Request is the outbound translation contract: a plain prompt plus
// optional style hints.
type Request struct {
	Prompt string            `json:"prompt"`
	Hints  map[string]string `json:"hints,omitempty"`
}

// Response is the inbound contract: pattern source text plus a
// confidence indicator, or a structured failure reason.
type Response struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Result is a validated candidate. Spec carries version 0 until the
// caller installs it.
type Result struct {
	Spec       *pattern.Spec
	Confidence float64
}

// TranslationError reports a backend failure (network, non-2xx or a
// backend-declared error). Grammar failures surface separately as
// *pattern.ParseError.
type TranslationError struct {
	Backend string
	Status  int
	Reason  string
	Cause   error
}

func (e *TranslationError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("translation backend %s failed: %s", e.Backend, e.Reason)
	case e.Status != 0:
		return fmt.Sprintf("translation backend %s returned status %d", e.Backend, e.Status)
	default:
		return fmt.Sprintf("translation backend %s unreachable: %v", e.Backend, e.Cause)
	}
}

func (e *TranslationError) Unwrap() error { return e.Cause }

// Backend produces pattern source text for a prompt.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// HTTPBackend posts the request as JSON to a single endpoint.
type HTTPBackend struct {
	URL    string
	Client *http.Client
}

func NewHTTPBackend(url string) *HTTPBackend {
	return &HTTPBackend{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (b *HTTPBackend) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, &TranslationError{Backend: b.URL, Cause: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, &TranslationError{Backend: b.URL, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return Response{}, &TranslationError{Backend: b.URL, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Response{}, &TranslationError{Backend: b.URL, Status: resp.StatusCode}
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &TranslationError{Backend: b.URL, Cause: err}
	}
	return out, nil
}

// Translator validates backend output against the grammar.
type Translator struct {
	backend Backend
	parser  *pattern.Parser
}

func New(backend Backend) *Translator {
	return &Translator{
		backend: backend,
		parser:  pattern.NewParser(pattern.DefaultConfig()),
	}
}

// Translate returns a validated candidate or fails. Retry policy is
// the caller's; the translator makes exactly one backend call.
func (t *Translator) Translate(ctx context.Context, prompt string, hints map[string]string) (*Result, error) {
	resp, err := t.backend.Complete(ctx, Request{Prompt: prompt, Hints: hints})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &TranslationError{Backend: "translate", Reason: resp.Error}
	}
	spec, err := t.parser.Parse("translated", resp.Pattern)
	if err != nil {
		return nil, err
	}
	return &Result{Spec: spec, Confidence: resp.Confidence}, nil
}
