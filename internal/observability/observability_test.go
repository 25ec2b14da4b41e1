package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, false)

	logger.Info("social_login_succeeded", map[string]any{"provider": "GOOGLE", "status": 200})

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	require.Equal(t, "INFO", payload["level"])
	require.Equal(t, "social_login_succeeded", payload["msg"])
	require.Equal(t, "GOOGLE", payload["provider"])
	require.EqualValues(t, 200, payload["status"])
}

func TestLogger_ProductionSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, false)

	logger.Debug("noisy", nil)
	require.Zero(t, buf.Len())
}

func TestLogger_DevelopmentWritesDebugText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, true)

	logger.Debug("bearer_token_rejected", map[string]any{"path": "/auth/me"})
	require.Contains(t, buf.String(), "level=DEBUG")
	require.Contains(t, buf.String(), "msg=bearer_token_rejected")
	require.Contains(t, buf.String(), "path=/auth/me")
}

func TestRequestLoggingMiddleware_RecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, false)
	metrics := NewMetrics()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return RequestLoggingMiddleware(logger, metrics, next) })
	r.Get("/members/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/members/42", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/members/{id}", "418")))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	require.Equal(t, "/members/{id}", payload["route"])
	require.Equal(t, "203.0.113.7", payload["ip"])
	require.EqualValues(t, 418, payload["status"])
}

func TestRecoverMiddleware_Returns500(t *testing.T) {
	handler := RecoverMiddleware(Discard(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestMetricsHandler_ExposesAuthCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.SocialLogins.WithLabelValues("existing_member").Inc()
	metrics.RateLimitBans.Inc()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	require.True(t, strings.Contains(body, `auth_social_logins_total{outcome="existing_member"} 1`))
	require.True(t, strings.Contains(body, "rate_limit_bans_total 1"))
}

func TestScrubCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Headers: map[string]string{"Authorization": "Bearer secret", "Accept": "application/json"},
		Data:    `{"refreshToken":"secret"}`,
	}}

	scrubbed := scrubCredentials(event, nil)
	require.Equal(t, "[redacted]", scrubbed.Request.Headers["Authorization"])
	require.Equal(t, "application/json", scrubbed.Request.Headers["Accept"])
	require.Empty(t, scrubbed.Request.Data)
}
