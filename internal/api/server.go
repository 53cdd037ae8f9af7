package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/config"
	"github.com/JakeFAU/keyword-watcher/internal/controller"
	"github.com/JakeFAU/keyword-watcher/internal/logging"
	"github.com/JakeFAU/keyword-watcher/internal/metrics"
	"github.com/JakeFAU/keyword-watcher/internal/policy/ratelimit"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Controller is the run-control surface the handlers drive.
type Controller interface {
	Start(ctx context.Context, targetID string, cfg watch.WatchConfig) (watch.ScheduleHandle, error)
	Stop(ctx context.Context, targetID string) error
	UpdateConfig(ctx context.Context, targetID string, cfg watch.WatchConfig) error
	Status(ctx context.Context, targetID string) (controller.Status, error)
	CheckNow(ctx context.Context, targetID string) (watch.TickResult, error)
	Targets() []string
	KnownTargets(ctx context.Context) ([]string, error)
}

// ReadyFunc reports whether downstream dependencies are reachable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the controller.
type Server struct {
	router     chi.Router
	controller Controller
	limiter    *ratelimit.Limiter
	ready      ReadyFunc
	known      []string
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Known lists
// target IDs from configuration so they appear in listings even when not
// scheduled.
func NewServer(
	ctrl Controller,
	limiter *ratelimit.Limiter,
	ready ReadyFunc,
	known []string,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	logger = logging.OrNop(logger).Named("api")
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Server.CheckRPS, Burst: cfg.Server.CheckBurst})
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	metrics.Init()

	s := &Server{
		controller: ctrl,
		limiter:    limiter,
		ready:      ready,
		known:      known,
		logger:     logger,
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
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Route("/{target_id}", func(r chi.Router) {
				r.Get("/", s.getTarget)
				r.Put("/config", s.updateConfig)
				r.Post("/start", s.startTarget)
				r.Post("/stop", s.stopTarget)
				r.Post("/check", s.checkTarget)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	indexed, err := s.controller.KnownTargets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ids := mergeIDs(s.known, indexed, s.controller.Targets())
	statuses := make([]controller.Status, 0, len(ids))
	for _, id := range ids {
		st, err := s.controller.Status(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		statuses = append(statuses, st)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"targets": statuses})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	st, err := s.controller.Status(r.Context(), targetParam(r))
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeConfig(w, r, true)
	if !ok {
		return
	}
	id := targetParam(r)
	if err := s.controller.UpdateConfig(r.Context(), id, cfg); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.respondStatus(w, r, id, http.StatusOK)
}

func (s *Server) startTarget(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeConfig(w, r, false)
	if !ok {
		return
	}
	id := targetParam(r)
	if _, err := s.controller.Start(r.Context(), id, cfg); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.respondStatus(w, r, id, http.StatusAccepted)
}

func (s *Server) stopTarget(w http.ResponseWriter, r *http.Request) {
	id := targetParam(r)
	if err := s.controller.Stop(r.Context(), id); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.respondStatus(w, r, id, http.StatusOK)
}

func (s *Server) checkTarget(w http.ResponseWriter, r *http.Request) {
	id := targetParam(r)
	if !s.limiter.Allow(id) {
		w.Header().Set("Retry-After", "60")
		s.writeError(w, http.StatusTooManyRequests, "check rate limit exceeded")
		return
	}
	result, err := s.controller.CheckNow(r.Context(), id)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newTickResponse(result))
}

func (s *Server) respondStatus(w http.ResponseWriter, r *http.Request, id string, code int) {
	st, err := s.controller.Status(r.Context(), id)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, code, st)
}

// decodeConfig reads a {"url","word"} body. An empty body is allowed for
// start, which then resumes with the stored config.
func (s *Server) decodeConfig(w http.ResponseWriter, r *http.Request, required bool) (watch.WatchConfig, bool) {
	var req configRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return watch.WatchConfig{}, false
		}
	}
	cfg := watch.WatchConfig{TargetURL: req.URL, Keyword: req.Word}
	if required && !cfg.Executable() {
		s.writeError(w, http.StatusBadRequest, "url and word are required")
		return watch.WatchConfig{}, false
	}
	if !required && cfg != (watch.WatchConfig{}) && !cfg.Executable() {
		s.writeError(w, http.StatusBadRequest, "url and word must be provided together")
		return watch.WatchConfig{}, false
	}
	return cfg, true
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, controller.ErrInvalidTarget):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	s.writeError(w, status, err.Error())
}

type configRequest struct {
	URL  string `json:"url"`
	Word string `json:"word"`
}

type tickResponse struct {
	watch.TickResult
	Error string `json:"error,omitempty"`
}

func newTickResponse(result watch.TickResult) tickResponse {
	return tickResponse{TickResult: result, Error: result.ErrorText()}
}

// targetParam returns the decoded {target_id} path segment.
func targetParam(r *http.Request) string {
	raw := chi.URLParam(r, "target_id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func mergeIDs(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range lists {
		for _, raw := range list {
			id, err := controller.NormalizeTarget(raw)
			if err != nil {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeJSON(logger, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeJSON(nil, w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(s.logger, w, status, map[string]string{"error": msg})
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.OrNop(logger).Error("write JSON failed", zap.Error(err))
	}
}
