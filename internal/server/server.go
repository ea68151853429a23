package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/voightkampff/vk/internal/handler"
	"github.com/voightkampff/vk/internal/metrics"
	"github.com/voightkampff/vk/internal/openapi"
	"github.com/voightkampff/vk/internal/server/middleware"
	"github.com/voightkampff/vk/internal/service"
	"github.com/voightkampff/vk/internal/session"
	"github.com/voightkampff/vk/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// AdminServices names the services only admin credentials may reach.
	AdminServices []string

	// ServiceHeader overrides the header the verifier reads the service name
	// from; empty selects X-Forwarded-Service.
	ServiceHeader string

	// ProtectManagement requires an authenticated admin on the /keys API.
	// Off by default: the expected deployment keeps the management plane off
	// the proxy's public routes entirely.
	ProtectManagement bool

	// LoginRatePerMinute bounds login attempts per client IP.
	LoginRatePerMinute int

	// SecureCookies marks session cookies Secure.
	SecureCookies bool
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		LoginRatePerMinute: 10,
	}
}

// Server is the top-level HTTP server. It owns the Chi router and the
// services behind the verification and management endpoints.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	sessions   session.Store
	authSvc    *service.AuthService
	keySvc     *service.KeyService
	sessionSvc *service.SessionService
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, sessions session.Store, authSvc *service.AuthService, keySvc *service.KeyService, sessionSvc *service.SessionService, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		sessions:   sessions,
		authSvc:    authSvc,
		keySvc:     keySvc,
		sessionSvc: sessionSvc,
		metrics:    m,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	verifyHandler := handler.NewVerifyHandler(s.authSvc, s.keySvc, s.cfg.AdminServices, s.cfg.ServiceHeader, s.metrics, s.logger)
	keysHandler := handler.NewKeysHandler(s.keySvc, s.metrics, s.logger)
	sessionHandler := handler.NewSessionHandler(s.sessionSvc, s.cfg.SecureCookies, s.metrics, s.logger)

	// Health checks. / and /health carry the legacy body some deployments
	// probe for; /healthz and /readyz follow the usual liveness/readiness
	// split.
	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)

	// The forward-auth decision point. One GET per proxied request.
	r.Get("/verify", verifyHandler.Verify)

	r.Route("/keys", func(r chi.Router) {
		if s.cfg.ProtectManagement {
			r.Use(middleware.Authenticate(s.authSvc))
			r.Use(middleware.RequireAdmin())
		}
		r.Post("/", keysHandler.Create)
		r.Get("/", keysHandler.List)
		r.Delete("/{id}", keysHandler.Delete)
		r.Patch("/{id}/toggle", keysHandler.Toggle)
	})

	r.Group(func(r chi.Router) {
		if s.cfg.LoginRatePerMinute > 0 {
			r.Use(middleware.RateLimit(s.cfg.LoginRatePerMinute))
		}
		r.Post("/session", sessionHandler.Login)
	})
	r.Delete("/session", sessionHandler.Logout)

	s.router = r
}

// handleHealth mirrors the response shape long-lived deployments already
// monitor. Do not change the body without coordinating with probe owners.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"operational","test":"positive"}`))
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// is reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := openapi.BuildDocument()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the session store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.sessions.Close(); err != nil {
		s.logger.Warn("session store close failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
