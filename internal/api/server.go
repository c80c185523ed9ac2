package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/config"
	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/orchestrator"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// Cycles is the orchestrator surface exposed over HTTP.
type Cycles interface {
	RunCycle(ctx context.Context, maxZones int) (orchestrator.CycleStats, error)
	Last() (orchestrator.CycleStats, bool)
	Running() bool
}

// Deps are the collaborators behind the routes. Nil members disable their routes
// with 503.
type Deps struct {
	Analyzer prospect.Analyzer
	Cycles   Cycles
	Zones    prospect.ZoneStore
	Attempts prospect.AttemptStore
	Leads    prospect.LeadStore
}

// Server wires HTTP handlers to the analyzer, orchestrator and stores.
type Server struct {
	router chi.Router
	deps   Deps
	zones  *ZoneHandler
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		deps:   deps,
		zones:  NewZoneHandler(deps.Zones, deps.Attempts, logger),
		cfg:    cfg,
		logger: logger,
	}
	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(timeoutMiddleware(timeout))

		r.Post("/analyze", s.analyze)
		r.Route("/cycles", func(r chi.Router) {
			r.Post("/", s.startCycle)
			r.Get("/last", s.lastCycle)
		})
		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.zones.ListZones)
			r.Post("/", s.zones.CreateZone)
			r.Route("/{zone_id}", func(r chi.Router) {
				r.Get("/", s.zones.GetZone)
				r.Get("/attempts", s.zones.ListAttempts)
			})
		})
		r.Get("/attempts", s.zones.ListAttempts)
		r.Get("/leads/{key}", s.getLead)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Analyzer == nil || s.deps.Zones == nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type analyzeRequest struct {
	URL string `json:"url"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyzer unavailable")
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	a, err := s.deps.Analyzer.Analyze(r.Context(), req.URL)
	if err != nil {
		s.logger.Warn("analyze failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type cycleRequest struct {
	MaxZones *int `json:"max_zones"`
	Wait     bool `json:"wait"`
}

// startCycle runs a cycle in the background and answers 202, or runs it
// inline when wait is set. A cycle in flight answers 409.
func (s *Server) startCycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator unavailable")
		return
	}
	var req cycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	maxZones := s.cfg.Orchestrator.MaxZones
	if req.MaxZones != nil {
		maxZones = *req.MaxZones
	}
	if maxZones <= 0 {
		writeError(w, http.StatusBadRequest, "max_zones must be positive")
		return
	}
	if s.deps.Cycles.Running() {
		writeError(w, http.StatusConflict, orchestrator.ErrCycleRunning.Error())
		return
	}

	if req.Wait {
		stats, err := s.deps.Cycles.RunCycle(r.Context(), maxZones)
		if err != nil {
			s.writeCycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := s.deps.Cycles.RunCycle(ctx, maxZones); err != nil && !errors.Is(err, orchestrator.ErrCycleRunning) {
			s.logger.Error("triggered cycle failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "max_zones": maxZones})
}

func (s *Server) writeCycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrCycleRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Error("cycle failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "cycle failed")
}

func (s *Server) lastCycle(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator unavailable")
		return
	}
	stats, ok := s.deps.Cycles.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle completed yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": stats, "running": s.deps.Cycles.Running()})
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leads == nil {
		writeError(w, http.StatusServiceUnavailable, "lead store unavailable")
		return
	}
	key := chi.URLParam(r, "key")
	lead, err := s.deps.Leads.GetByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, prospect.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		s.logger.Error("get lead failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead": lead})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
