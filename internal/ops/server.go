package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Probes supplies the live signals the endpoints report. A nil Healthy is
// treated as always healthy; a nil Stats reports an empty object.
type Probes struct {
	Healthy func() bool
	Stats   func() any
}

// Handler exposes the operational endpoints of a pipeline binary.
type Handler struct {
	probes Probes
	logger *zap.Logger
	router chi.Router
}

// NewHandler constructs the handler and wires routes.
func NewHandler(probes Probes, logger *zap.Logger) *Handler {
	h := &Handler{
		probes: probes,
		logger: logger,
	}
	h.buildRouter()
	return h
}

func (h *Handler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Get("/api/v1/stats", h.handleStats)

	h.router = r
}

// Router exposes the configured chi router.
func (h *Handler) Router() http.Handler {
	return h.router
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.probes.Healthy != nil && !h.probes.Healthy() {
		writeError(w, http.StatusServiceUnavailable, "broker disconnected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.probes.Stats == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.probes.Stats())
}

// Options configures the listening side of the ops server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server runs the handler on its own listener. An empty Addr disables the
// server: Start and Shutdown become no-ops.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(opts Options, probes Probes, logger *zap.Logger) *Server {
	s := &Server{logger: logger}
	if opts.Addr == "" {
		return s
	}
	handler := NewHandler(probes, logger)
	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	if s.srv == nil {
		return
	}
	go func() {
		s.logger.Info("ops server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("ops server shutdown failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
