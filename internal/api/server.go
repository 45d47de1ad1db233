package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"codeexec/internal/config"
	"codeexec/internal/monitor"
	"codeexec/internal/storage"
)

// Server is the HTTP front end of the execution engine.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
	stop       context.CancelFunc
}

// NewServer creates and configures the HTTP server with all routes and
// middleware. store and auditWriter may be nil when auditing is disabled.
func NewServer(cfg *config.Config, executor Executor, store storage.Store, auditWriter *storage.AuditWriter, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(executor, store, auditWriter)
	bg, stop := context.WithCancel(context.Background())

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
		stop:      stop,
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		if cfg.Security.AllowUnauthenticated {
			log.Warn().Msg("no API keys configured and allow_unauthenticated is true, all requests will be accepted")
		} else {
			log.Warn().Msg("no API keys configured and allow_unauthenticated is false, all requests will be rejected")
		}
	}

	handler := chain(s.routes(handlers, executor, store, metrics),
		RecoveryMiddleware,
		RequestIDMiddleware,
		LoggingMiddleware,
		SecurityHeadersMiddleware,
		MaxBodyMiddleware(cfg.Server.MaxRequestBody),
		RateLimitMiddleware(bg, cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst),
		MetricsMiddleware(metrics),
	)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// routes registers the API behind auth. Health and metrics bypass it.
func (s *Server) routes(h *Handlers, executor Executor, store storage.Store, metrics *monitor.Metrics) http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("POST /execute", h.HandleExecute)
	authed.HandleFunc("POST /execute/stream", h.HandleExecuteStream)
	authed.HandleFunc("GET /executions", h.HandleListExecutions)
	authed.HandleFunc("GET /executions/{id}", h.HandleGetExecution)
	authed.HandleFunc("DELETE /executions/{id}", h.HandleKillExecution)
	authed.HandleFunc("GET /languages", h.HandleLanguages)

	sec := s.cfg.Security
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(executor, store))
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", AuthMiddleware(sec.APIKeyHeader, sec.AllowedKeys, sec.AllowUnauthenticated)(authed))
	return mux
}

// chain wraps h so that the first middleware listed is the outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	s.stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(executor Executor, store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := store == nil || store.Healthy(r.Context())

		resp := HealthResponse{
			Status:   "ok",
			Database: dbOK,
			Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		}
		if executor != nil {
			resp.Languages = len(executor.Languages())
			resp.ActiveExecutions = executor.ActiveCount()
		}

		if !dbOK || executor == nil {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
