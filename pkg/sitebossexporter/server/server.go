// Package server is the exporter's HTTP surface:
//
//	GET /                      landing page
//	GET /metrics               Prometheus exposition
//	GET /healthz               loop health as JSON
//	GET /api/siteboss/latest   last published record as JSON
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	fmtjson "github.com/vpbank/siteboss_exporter/format/json"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/publisher"
)

// ─────────────────────────────────────────────────────────────────────────────
// Dependencies
// ─────────────────────────────────────────────────────────────────────────────

// StateReader is the subset of publisher.State the handlers read.
type StateReader interface {
	Snapshot() publisher.PollState
}

// ErrorCounter reports the pull-error counter.
type ErrorCounter interface {
	PullErrors() uint64
}

// Config controls the Server.
type Config struct {
	// ShutdownTimeout bounds graceful shutdown. Default 5s.
	ShutdownTimeout time.Duration
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Gatherer prometheus.Gatherer
	State    StateReader
	Errors   ErrorCounter
	Now      func() time.Time

	// StaleAfter marks the exporter unhealthy when no cycle has succeeded
	// for this long. It is read on every /healthz request so that an
	// interval change takes effect immediately.
	StaleAfter func() time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────────────────────

// Server serves the exporter's HTTP endpoints.
type Server struct {
	cfg     Config
	deps    Deps
	compact *fmtjson.JSONFormatter
	pretty  *fmtjson.JSONFormatter
	router  chi.Router
	http    *http.Server
	logger  *slog.Logger
}

// defaultStaleAfter applies when Deps.StaleAfter is nil.
const defaultStaleAfter = time.Minute

// New builds the router. It does not listen until Serve.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StaleAfter == nil {
		deps.StaleAfter = func() time.Duration { return defaultStaleAfter }
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		compact: fmtjson.New(fmtjson.Config{}, logger),
		pretty:  fmtjson.New(fmtjson.Config{PrettyPrint: true}, logger),
		logger:  logger,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("server: shutdown error", "error", err.Error())
		return err
	}
	s.logger.Info("server: stopped")
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/siteboss/latest", s.handleLatest)
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

const indexHTML = `<html>
<head><title>SiteBoss Exporter</title></head>
<body>
<h1>SiteBoss Exporter</h1>
<p><a href="/metrics">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
<p><a href="/api/siteboss/latest">Latest record</a></p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// Health is the /healthz response body.
type Health struct {
	Status              string     `json:"status"`
	Enabled             bool       `json:"enabled"`
	Stale               bool       `json:"stale"`
	LastSuccess         *time.Time `json:"lastSuccess"`
	LastError           string     `json:"lastError,omitempty"`
	LastFailedStage     string     `json:"lastFailedStage,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	PullErrors          uint64     `json:"pullErrors"`
	Cycles              uint64     `json:"cycles"`
}

// Health statuses.
const (
	StatusOK       = "ok"
	StatusStale    = "stale"
	StatusDisabled = "disabled"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.State.Snapshot()
	h := Health{
		Enabled:             st.Enabled,
		Stale:               st.Stale(s.deps.Now(), s.deps.StaleAfter()),
		LastError:           st.LastError,
		LastFailedStage:     st.LastFailedStage,
		ConsecutiveFailures: st.ConsecutiveFailures,
		Cycles:              st.Cycles,
	}
	if s.deps.Errors != nil {
		h.PullErrors = s.deps.Errors.PullErrors()
	}
	if st.HasSnapshot {
		last := st.LastSuccess
		h.LastSuccess = &last
	}

	code := http.StatusOK
	switch {
	case !h.Enabled:
		h.Status, code = StatusDisabled, http.StatusServiceUnavailable
	case h.Stale:
		h.Status, code = StatusStale, http.StatusServiceUnavailable
	default:
		h.Status = StatusOK
	}
	writeJSON(w, code, h)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.deps.State.Snapshot().Record()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no successful pull yet"})
		return
	}

	f := s.compact
	if r.URL.Query().Has("pretty") {
		f = s.pretty
	}
	data, err := f.Format(&rec)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

// requestLogger logs one debug line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
