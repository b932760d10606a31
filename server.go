package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bodul/wordgrid/internal/generation"
	"github.com/bodul/wordgrid/internal/grid"
)

const recentGenerations = 20

// rateLimiter is a per-IP limiter for the HTTP API.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(limit rate.Limit, burst int) *rateLimiter {
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     limit,
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (rl *rateLimiter) allow(addr string) bool {
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		ip = addr
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > time.Minute {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > 5*time.Minute {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// Server is the authority: it owns the allocator, the generation pipeline and
// the hub of connected clients.
type Server struct {
	mux       *http.ServeMux
	cfg       *Config
	store     grid.Store
	allocator *grid.Allocator
	pipeline  *generation.Pipeline
	hub       *Hub
	logger    *zap.Logger
	apiRL     *rateLimiter

	// publishMu orders word broadcasts against initial-state snapshots.
	publishMu sync.Mutex
}

// NewServer creates a configured server. generator may be nil to run with
// image generation disabled.
func NewServer(cfg *Config, store grid.Store, generator generation.ImageGenerator, logger *zap.Logger) *Server {
	return newServer(cfg, store, grid.DefaultLayout, generator, logger)
}

func newServer(cfg *Config, store grid.Store, layout grid.Layout, generator generation.ImageGenerator, logger *zap.Logger) *Server {
	hub := NewHub(logger)
	allocator := grid.NewAllocator(store, layout)
	s := &Server{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		store:     store,
		allocator: allocator,
		hub:       hub,
		logger:    logger,
		apiRL:     newRateLimiter(rate.Every(6*time.Second), 5),
		pipeline: generation.NewPipeline(store, generator, hub, allocator, generation.Config{
			PromptWords: cfg.Generation.PromptWords,
			Cooldown:    cfg.Generation.Cooldown,
			Timeout:     cfg.Generation.Timeout,
		}, logger.Named("generation")),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws", s.handleWS)

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/cells", s.handleCells)
	s.mux.HandleFunc("GET /api/generations", s.handleGenerations)
	s.mux.HandleFunc("GET /api/prompt", s.handlePrompt)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)

	s.mux.Handle("GET /images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.cfg.Generation.ImagesDir))))
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	s.mux.ServeHTTP(w, r)
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "wordgrid")
}

// Shutdown waits for in-flight generations.
func (s *Server) Shutdown() {
	s.pipeline.Wait()
}

// GET /api/state — allocator state and presence.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	alloc, err := s.allocator.State(r.Context())
	if err != nil {
		s.internalError(w, "read allocator state", err)
		return
	}
	st, err := s.store.State(r.Context())
	if err != nil {
		s.internalError(w, "read authority state", err)
		return
	}
	count, err := s.store.CellCount(r.Context())
	if err != nil {
		s.internalError(w, "count cells", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nextPosition": alloc.NextPosition,
		"capacity":     alloc.Capacity,
		"remaining":    alloc.Remaining,
		"currentImage": st.CurrentImage,
		"wordCount":    count,
		"onlineCount":  s.hub.Count(),
		"generating":   s.pipeline.State() == generation.Generating,
	})
}

// GET /api/cells — every committed cell by position.
func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	cells, err := s.store.AllCells(r.Context())
	if err != nil {
		s.internalError(w, "list cells", err)
		return
	}
	if cells == nil {
		cells = []grid.Cell{}
	}
	writeJSON(w, http.StatusOK, cells)
}

// GET /api/generations — most recent generation records.
func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentGenerations(r.Context(), recentGenerations)
	if err != nil {
		s.internalError(w, "list generations", err)
		return
	}
	if recs == nil {
		recs = []grid.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GET /api/prompt — the whole prompt, oldest word first.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.store.FullPrompt(r.Context())
	if err != nil {
		s.internalError(w, "read prompt", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

// POST /api/generate — start an image generation.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.apiRL.allow(r.RemoteAddr) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}

	rec, err := s.pipeline.Request(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, generation.ErrAlreadyInProgress), errors.Is(err, generation.ErrCooldown):
			code = http.StatusConflict
		case errors.Is(err, generation.ErrNoWords):
			code = http.StatusBadRequest
		case errors.Is(err, generation.ErrDisabled):
			code = http.StatusServiceUnavailable
		default:
			s.logger.Error("generation request failed", zap.Error(err))
		}
		jsonError(w, generationErrorMessage(err), code)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	jsonError(w, "Internal error", http.StatusInternalServerError)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
