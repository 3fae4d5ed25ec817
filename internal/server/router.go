package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/internal/metrics"
)

// Dependencies are the collaborators of the HTTP service.
type Dependencies struct {
	Bridge *ldapauth.Bridge
	Store  Store

	// Limiter throttles attempts per username and client address. Optional.
	Limiter *ldapauth.RateLimiter

	// Metrics records local fallback results. Optional.
	Metrics *metrics.Metrics

	// Gatherer serves /metrics. When nil the endpoint is not mounted.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewRouter creates the chi router with middleware and routes.
//
// Routes:
//   - POST /v1/authenticate
//   - GET /healthz
//   - GET /metrics
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &AuthHandler{
		bridge:  deps.Bridge,
		store:   deps.Store,
		limiter: deps.Limiter,
		metrics: deps.Metrics,
		logger:  logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Post("/v1/authenticate", h.Authenticate)
	r.Get("/healthz", h.Health)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs request completion. Bodies are never logged.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http_request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
