package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/soluna-audio/soluna/internal/clock"
	"github.com/soluna-audio/soluna/internal/pattern"
	"github.com/soluna-audio/soluna/internal/translate"
	"github.com/soluna-audio/soluna/internal/vismap"
)

// Controller is the slice of the session surface the HTTP layer needs.
type Controller interface {
	SetPatternSource(source string) (uint64, error)
	Translate(ctx context.Context, prompt string, hints map[string]string) (*translate.Result, error)
	InstallCandidate(res *translate.Result) uint64
	SetTempo(cyclesPerMinute float64) error
	Tempo() float64
	Frame() vismap.ParameterSet
	MappingConfig() *vismap.Config
	SetMappingConfig(cfg *vismap.Config) error
	Stats() Stats
}

// Stats is the health snapshot reported by /healthz.
type Stats struct {
	PatternVersion uint64  `json:"pattern_version"`
	Tempo          float64 `json:"tempo"`
	Running        bool    `json:"running"`
	Overruns       uint64  `json:"scheduler_overruns"`
	Missed         uint64  `json:"missed_events"`
	Underruns      uint64  `json:"feature_underruns"`
}

// Config holds server configuration.
type Config struct {
	Addr     string
	FrameFPS int
}

// Server exposes pattern control and pushes visual frames over websocket.
type Server struct {
	config  Config
	router  *chi.Mux
	ctrl    Controller
	logger  zerolog.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New creates a new server around a session controller.
func New(cfg Config, ctrl Controller, logger zerolog.Logger) *Server {
	if cfg.FrameFPS <= 0 {
		cfg.FrameFPS = 60
	}
	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		ctrl:    ctrl,
		logger:  logger,
		clients: map[*websocket.Conn]bool{},
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/pattern", s.handlePattern)
	r.Post("/translate", s.handleTranslate)
	r.Post("/tempo", s.handleTempo)
	r.Get("/config/mapping", s.handleGetMapping)
	r.Put("/config/mapping", s.handlePutMapping)
	r.Get("/ws/frames", s.handleFramesWS)
}

// Run starts the server and the frame broadcast loop, blocking until
// SIGINT/SIGTERM or listener failure.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	go s.runFrameLoop(loopCtx)

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		s.logger.Info().Msg("shutting down server")
		stopLoop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("shutdown error")
		}
		close(done)
	}()

	s.logger.Info().Str("addr", s.config.Addr).Int("fps", s.config.FrameFPS).Msg("server starting")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		stopLoop()
		return err
	}
	<-done
	return nil
}

type frameMessage struct {
	Type   string              `json:"type"`
	AtMs   int64               `json:"at_ms"`
	Params vismap.ParameterSet `json:"params"`
}

func (s *Server) runFrameLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.config.FrameFPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if len(s.clients) == 0 {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		msg := frameMessage{
			Type:   "frame",
			AtMs:   time.Now().UnixMilli(),
			Params: s.ctrl.Frame(),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		s.broadcast(payload)
	}
}

func (s *Server) broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
}

func (s *Server) handleFramesWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

type patternRequest struct {
	Source string `json:"source"`
}

type patternResponse struct {
	Version uint64 `json:"version"`
}

func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	version, err := s.ctrl.SetPatternSource(req.Source)
	if err != nil {
		var perr *pattern.ParseError
		if errors.As(err, &perr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  perr.Msg,
				"offset": perr.Offset,
				"token":  perr.Token,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info().Uint64("version", version).Msg("pattern installed")
	writeJSON(w, http.StatusOK, patternResponse{Version: version})
}

type translateRequest struct {
	Prompt string            `json:"prompt"`
	Hints  map[string]string `json:"hints,omitempty"`
	Apply  bool              `json:"apply,omitempty"`
}

type translateResponse struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
	Version    uint64  `json:"version,omitempty"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}
	res, err := s.ctrl.Translate(r.Context(), req.Prompt, req.Hints)
	if err != nil {
		var perr *pattern.ParseError
		if errors.As(err, &perr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "translated pattern failed to parse: " + perr.Msg,
				"offset": perr.Offset,
				"token":  perr.Token,
			})
			return
		}
		var terr *translate.TranslationError
		if errors.As(err, &terr) {
			writeError(w, http.StatusBadGateway, terr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := translateResponse{Pattern: res.Spec.Source, Confidence: res.Confidence}
	if req.Apply {
		resp.Version = s.ctrl.InstallCandidate(res)
		s.logger.Info().Uint64("version", resp.Version).Float64("confidence", res.Confidence).Msg("translated pattern installed")
	}
	writeJSON(w, http.StatusOK, resp)
}

type tempoRequest struct {
	CyclesPerMinute float64 `json:"cycles_per_minute"`
}

func (s *Server) handleTempo(w http.ResponseWriter, r *http.Request) {
	var req tempoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if err := s.ctrl.SetTempo(req.CyclesPerMinute); err != nil {
		if errors.Is(err, clock.ErrInvalidTempo) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"cycles_per_minute": s.ctrl.Tempo()})
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	out, err := yaml.Marshal(s.ctrl.MappingConfig())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}

func (s *Server) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var cfg vismap.Config
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode mapping: %v", err))
		return
	}
	if err := s.ctrl.SetMappingConfig(&cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.logger.Info().Int("rules", len(cfg.Rules)).Msg("mapping config replaced")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
