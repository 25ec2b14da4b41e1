package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"pettrack-auth/internal/observability"
	"pettrack-auth/internal/ratelimit"
	"pettrack-auth/internal/token"
)

type contextKey struct {
	name string
}

var (
	principalKey = &contextKey{"principal"}
	rawTokenKey  = &contextKey{"bearer"}
)

func WithPrincipal(ctx context.Context, principal token.Principal, rawToken string) context.Context {
	ctx = context.WithValue(ctx, principalKey, principal)
	return context.WithValue(ctx, rawTokenKey, rawToken)
}

func PrincipalFrom(ctx context.Context) (token.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(token.Principal)
	return principal, ok
}

// tokenFrom returns the bearer token the authentication context was built from.
func tokenFrom(ctx context.Context) string {
	raw, _ := ctx.Value(rawTokenKey).(string)
	return raw
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate attaches a principal to the request context when the bearer
// token is valid and not revoked. Anything else leaves the request
// unauthenticated so route guards reject it uniformly.
func Authenticate(tokens *token.Service, revocations Revocations, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !tokens.Validate(raw) {
				logger.Debug("bearer_token_rejected", map[string]any{"path": r.URL.Path})
				next.ServeHTTP(w, r)
				return
			}

			revoked, err := revocations.IsRevoked(r.Context(), raw)
			if err != nil {
				sentry.CaptureException(err)
				logger.Error("revocation_check_failed", map[string]any{"error": err.Error()})
				next.ServeHTTP(w, r)
				return
			}
			if revoked {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := tokens.AuthenticationContext(raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal, raw)))
		})
	}
}

// RequireRoles rejects requests without an authentication context (401) or
// without one of the given roles (403).
func RequireRoles(roles ...token.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if principal.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// Throttle counts every request against the client IP's attempt budget and
// rejects it with 429 once the IP is banned.
func Throttle(gate Gate, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := gate.CheckAndEnforce(r.Context(), ratelimit.ClientIP(r)); err != nil {
				writeServiceError(w, r, logger, err, "request_throttled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
