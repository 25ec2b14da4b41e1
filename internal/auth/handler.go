package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"pettrack-auth/internal/observability"
	"pettrack-auth/internal/ratelimit"
	"pettrack-auth/internal/verification"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service      *Service
	verification *verification.Service
	logger       *observability.Logger
}

func NewHandler(service *Service, verifier *verification.Service, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Handler{service: service, verification: verifier, logger: logger}
}

type socialLoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type registerRequest struct {
	Name string `json:"name"`
}

type verificationRequest struct {
	Email string `json:"email"`
}

type verificationConfirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type loginResponse struct {
	Message              string `json:"message"`
	ProfileURL           string `json:"profileUrl"`
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"`
}

type registrationRequiredResponse struct {
	Message           string `json:"message"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	RegistrationToken string `json:"registrationToken"`
	TokenExpiresIn    int64  `json:"tokenExpiresIn"`
}

type tokenPairResponse struct {
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"`
}

func (h *Handler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	var body socialLoginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Provider = strings.TrimSpace(body.Provider)
	body.Code = strings.TrimSpace(body.Code)
	if body.Provider == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "provider and code are required")
		return
	}

	outcome, err := h.service.SocialLogin(r.Context(), ratelimit.ClientIP(r), body.Provider, body.Code)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "social_login_failed")
		return
	}

	switch o := outcome.(type) {
	case *NewMember:
		writeJSON(w, http.StatusAccepted, registrationRequiredResponse{
			Message:           "registration required",
			Email:             o.Email,
			Name:              o.Name,
			RegistrationToken: o.RegistrationToken,
			TokenExpiresIn:    seconds(o.ExpiresIn),
		})
	case *ExistingMember:
		writeJSON(w, http.StatusOK, existingMemberResponse(o))
	}
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshTokenRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.RefreshToken = strings.TrimSpace(body.RefreshToken)
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken, BearerToken(r)); err != nil {
		writeServiceError(w, r, h.logger, err, "logout_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Reissue(w http.ResponseWriter, r *http.Request) {
	var body refreshTokenRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	pair, err := h.service.Reissue(r.Context(), strings.TrimSpace(body.RefreshToken))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "reissue_failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:          pair.AccessToken,
		RefreshToken:         pair.RefreshToken,
		AccessTokenExpiresIn: seconds(pair.AccessTokenExpiresIn),
	})
}

// Register completes signup for the GUEST principal carried by a
// registration token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len([]rune(body.Name)) > 50 {
		writeError(w, http.StatusBadRequest, "name must be 1 to 50 characters")
		return
	}

	existing, err := h.service.CompleteRegistration(r.Context(), tokenFrom(r.Context()), body.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "registration_failed")
		return
	}

	resp := existingMemberResponse(existing)
	resp.Message = "registration completed"
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"principalId": principal.ID,
		"roles":       principal.Roles,
	})
}

func (h *Handler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var body verificationRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.verification.Send(r.Context(), body.Email); err != nil {
		writeServiceError(w, r, h.logger, err, "verification_send_failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "verification code sent"})
}

func (h *Handler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var body verificationConfirmRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.verification.Confirm(r.Context(), body.Email, body.Code); err != nil {
		writeServiceError(w, r, h.logger, err, "verification_confirm_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type errorMapping struct {
	target  error
	status  int
	message string
}

var errorMappings = []errorMapping{
	{ErrUnsupportedProvider, http.StatusBadRequest, "unsupported provider"},
	{ErrUpstreamAuth, http.StatusInternalServerError, "social provider authentication failed"},
	{ErrAccountRestricted, http.StatusForbidden, "account is restricted"},
	{ErrRateLimited, http.StatusTooManyRequests, "too many requests"},
	{ErrTokenNotFound, http.StatusConflict, "refresh token not found"},
	{ErrExpiredOrInvalidRefresh, http.StatusBadRequest, "expired or invalid refresh token"},
	{ErrInvalidRegistration, http.StatusUnauthorized, "invalid registration token"},
	{ErrAlreadyRegistered, http.StatusConflict, "member already registered"},
	{ErrMemberNotFound, http.StatusNotFound, "member not found"},
	{verification.ErrCooldownActive, http.StatusTooManyRequests, "verification mail recently sent"},
	{verification.ErrInvalidCode, http.StatusBadRequest, "invalid verification code"},
	{verification.ErrInvalidEmail, http.StatusBadRequest, "invalid email"},
	{verification.ErrAttemptsExceeded, http.StatusTooManyRequests, "too many verification attempts"},
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error, event string) {
	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		retryAfter := int(limited.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.status >= http.StatusInternalServerError {
			sentry.CaptureException(err)
			logger.Error(event, map[string]any{"error": err.Error(), "path": r.URL.Path})
		} else {
			logger.Info(event, map[string]any{"reason": m.message, "path": r.URL.Path})
		}
		writeError(w, m.status, m.message)
		return
	}

	sentry.CaptureException(err)
	logger.Error(event, map[string]any{"error": err.Error(), "path": r.URL.Path})
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func existingMemberResponse(m *ExistingMember) loginResponse {
	return loginResponse{
		Message:              "login succeeded",
		ProfileURL:           m.AvatarURL,
		AccessToken:          m.Tokens.AccessToken,
		RefreshToken:         m.Tokens.RefreshToken,
		AccessTokenExpiresIn: seconds(m.Tokens.AccessTokenExpiresIn),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
