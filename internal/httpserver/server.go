package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/formy/core/internal/telemetry"
)

// Server holds the HTTP server dependencies and the mounted chi router.
// The infra handles exist only for the health and readiness checks; domain
// handlers get their dependencies injected separately.
type Server struct {
	Router *chi.Mux

	logger  *slog.Logger
	db      *pgxpool.Pool
	redis   *redis.Client
	metrics *telemetry.Registry
}

// Config configures the Server's cross-cutting concerns.
type Config struct {
	CORSAllowedOrigins []string
}

// NewServer creates an HTTP server with the standard middleware stack
// (request ID, structured logging, Prometheus timing, panic recovery,
// session identity, CORS) plus health/metrics endpoints. Domain handlers are
// mounted by the caller via Router.Mount after NewServer returns.
//
// sessionMiddleware attaches the caller's identity to the request context;
// it is accepted as a plain http middleware (rather than this package
// importing internal/auth directly) to avoid a dependency cycle, since
// internal/auth itself depends on this package's response helpers.
func NewServer(cfg Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *telemetry.Registry, sessionMiddleware func(http.Handler) http.Handler) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		logger:  logger,
		db:      db,
		redis:   rdb,
		metrics: metricsReg,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics(metricsReg))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(sessionMiddleware)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg.Gatherer, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
