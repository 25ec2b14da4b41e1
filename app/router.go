package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pettrack-auth/internal/auth"
	"pettrack-auth/internal/maintenance"
	"pettrack-auth/internal/member"
	"pettrack-auth/internal/observability"
	"pettrack-auth/internal/token"
)

type HealthCheck func(ctx context.Context) error

type Routes struct {
	Auth        *auth.Handler
	Members     *member.Handler
	Gate        auth.Gate
	Cleanup     *maintenance.CleanupHandler
	Tokens      *token.Service
	Revocations auth.Revocations
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	Checks      map[string]HealthCheck
}

func NewRouter(routes Routes) http.Handler {
	logger := routes.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return observability.RecoverMiddleware(logger, next) })
	r.Use(func(next http.Handler) http.Handler {
		return observability.RequestLoggingMiddleware(logger, routes.Metrics, next)
	})
	r.Use(auth.Authenticate(routes.Tokens, routes.Revocations, logger))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/social-login", routes.Auth.SocialLogin)
		r.Post("/logout", routes.Auth.Logout)
		r.Post("/reissue", routes.Auth.Reissue)
		r.Group(func(r chi.Router) {
			r.Use(auth.Throttle(routes.Gate, logger))
			r.Post("/email-verification", routes.Auth.SendVerification)
			r.Post("/email-verification/confirm", routes.Auth.ConfirmVerification)
		})
		r.With(auth.RequireRoles(token.RoleGuest)).Post("/register", routes.Auth.Register)
		r.With(auth.RequireRoles(token.RoleUser, token.RoleAdmin, token.RoleDevice)).Get("/me", routes.Auth.Me)
	})

	r.With(auth.RequireRoles(token.RoleAdmin)).Patch("/internal/members/{id}/status", routes.Members.UpdateStatus)
	r.Get("/internal/maintenance/cleanup", routes.Cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", routes.Cleanup.Handle)
	r.Get("/health", healthHandler(routes.Checks))
	if routes.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", routes.Metrics.Handler())
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		components := make(map[string]string, len(names))
		for _, name := range names {
			components[name] = "ok"
			if err := checks[name](ctx); err != nil {
				components[name] = "down"
				status = http.StatusServiceUnavailable
			}
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     overall,
			"components": components,
			"time":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}
