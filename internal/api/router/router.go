package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/agenda-platform/internal/appointments"
	"github.com/wolfman30/agenda-platform/internal/calendarsync"
	httpmiddleware "github.com/wolfman30/agenda-platform/internal/http/middleware"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Appointments       *appointments.Handler
	Calendar           *calendarsync.Handler
	StaffJWTSecret     string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
	HealthChecks       map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Appointments != nil {
			public.Route("/v1/tenants", func(r chi.Router) {
				if cfg.RateLimiter != nil {
					r.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
				}
				r.Mount("/", cfg.Appointments.PublicRoutes())
			})
		}
		// The provider redirects the browser here without our bearer token;
		// the signed state carries the tenant.
		if cfg.Calendar != nil {
			public.Get("/oauth/google/callback", cfg.Calendar.Callback)
		}
	})

	r.Route("/v1/staff", func(staff chi.Router) {
		staff.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
		if cfg.Calendar != nil {
			staff.Mount("/calendar", cfg.Calendar.Routes())
		}
		if cfg.Appointments != nil {
			staff.Mount("/", cfg.Appointments.StaffRoutes())
		}
	})

	return otelhttp.NewHandler(r, "agenda.http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		failures := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failures[name] = err.Error()
			}
		}
		if len(failures) > 0 {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["checks"] = failures
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
