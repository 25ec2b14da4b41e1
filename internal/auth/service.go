package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pettrack-auth/internal/identity"
	"pettrack-auth/internal/member"
	"pettrack-auth/internal/observability"
	"pettrack-auth/internal/ratelimit"
	"pettrack-auth/internal/session"
	"pettrack-auth/internal/token"
)

var (
	ErrUnsupportedProvider     = identity.ErrUnsupportedProvider
	ErrUpstreamAuth            = identity.ErrUpstreamAuth
	ErrRateLimited             = ratelimit.ErrRateLimited
	ErrAccountRestricted       = errors.New("account is restricted")
	ErrTokenNotFound           = errors.New("refresh token not found")
	ErrExpiredOrInvalidRefresh = errors.New("expired or invalid refresh token")
	ErrInvalidRegistration     = errors.New("invalid registration token")
	ErrAlreadyRegistered       = member.ErrAlreadyRegistered
	ErrMemberNotFound          = member.ErrNotFound
)

type Gate interface {
	CheckAndEnforce(ctx context.Context, ip string) error
}

type ProviderResolver interface {
	Resolve(provider string) (identity.Provider, identity.Client, error)
}

type Directory interface {
	FindOrProvision(ctx context.Context, provider identity.Provider, profile identity.Profile) (member.Member, error)
	CompleteRegistration(ctx context.Context, email, name string) (member.Member, error)
}

type Sessions interface {
	Save(ctx context.Context, principalID, refreshToken string, role token.Role, ttl time.Duration) error
	FindByValue(ctx context.Context, refreshToken string) (*session.Record, error)
	Delete(ctx context.Context, record *session.Record) error
}

type Revocations interface {
	IsRevoked(ctx context.Context, accessToken string) (bool, error)
	Revoke(ctx context.Context, accessToken string, remaining time.Duration) error
}

type Dependencies struct {
	Gate        Gate
	Providers   ProviderResolver
	Directory   Directory
	Tokens      *token.Service
	Sessions    Sessions
	Revocations Revocations
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

type Service struct {
	gate        Gate
	providers   ProviderResolver
	directory   Directory
	tokens      *token.Service
	sessions    Sessions
	revocations Revocations
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	return &Service{
		gate:        deps.Gate,
		providers:   deps.Providers,
		directory:   deps.Directory,
		tokens:      deps.Tokens,
		sessions:    deps.Sessions,
		revocations: deps.Revocations,
		logger:      logger,
		metrics:     deps.Metrics,
		tracer:      otel.Tracer("pettrack-auth/internal/auth"),
	}
}

func (s *Service) SocialLogin(ctx context.Context, clientIP, provider, code string) (LoginOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "auth.SocialLogin", trace.WithAttributes(
		attribute.String("auth.provider", strings.ToUpper(provider)),
	))
	defer span.End()

	outcome, err := s.socialLogin(ctx, span, clientIP, provider, code)
	s.metrics.CountSocialLogin(loginLabel(outcome, err))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return outcome, nil
}

func (s *Service) socialLogin(ctx context.Context, span trace.Span, clientIP, provider, code string) (LoginOutcome, error) {
	span.AddEvent(string(stateRateCheck))
	if err := s.gate.CheckAndEnforce(ctx, clientIP); err != nil {
		return nil, err
	}

	parsed, client, err := s.providers.Resolve(provider)
	if err != nil {
		return nil, err
	}

	span.AddEvent(string(stateProviderExchange))
	providerToken, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	span.AddEvent(string(stateProfileFetch))
	profile, err := client.FetchProfile(ctx, providerToken)
	if err != nil {
		return nil, err
	}

	span.AddEvent(string(stateIdentityResolution))
	m, err := s.directory.FindOrProvision(ctx, parsed, profile)
	if err != nil {
		return nil, fmt.Errorf("resolve member: %w", err)
	}
	if m.Status.Restricted() {
		s.logger.Warn("restricted_member_login", map[string]any{"member_id": m.ID, "status": string(m.Status)})
		return nil, ErrAccountRestricted
	}

	if m.Pending() {
		span.AddEvent(string(stateNewMember))
		span.AddEvent(string(stateTokenIssuance))
		registration, err := s.tokens.IssueRegistration(m.Email)
		if err != nil {
			return nil, err
		}
		return &NewMember{
			Email:             m.Email,
			Name:              m.Name,
			RegistrationToken: registration,
			ExpiresIn:         token.RegistrationTTL,
		}, nil
	}

	span.AddEvent(string(stateExistingMember))
	span.AddEvent(string(stateTokenIssuance))
	pair, err := s.issuePair(ctx, m.ID, m.Role)
	if err != nil {
		return nil, err
	}
	return &ExistingMember{
		PrincipalID: m.ID,
		Role:        m.Role,
		AvatarURL:   m.AvatarURL,
		Tokens:      pair,
	}, nil
}

// Logout drops the refresh record and denylists the access token for the
// rest of its natural lifetime. A refresh token can only be logged out once.
func (s *Service) Logout(ctx context.Context, refreshToken, accessToken string) error {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	err := s.logout(ctx, refreshToken, accessToken)
	s.metrics.CountLogout(sessionLabel(err))
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

func (s *Service) logout(ctx context.Context, refreshToken, accessToken string) error {
	record, err := s.sessions.FindByValue(ctx, refreshToken)
	if err != nil {
		return sessionError(err)
	}
	if err := s.sessions.Delete(ctx, record); err != nil {
		return sessionError(err)
	}

	remaining := s.tokens.RemainingValidity(accessToken)
	if remaining <= 0 {
		return nil
	}
	// Only the session owner's access token may be denylisted.
	if subject, err := s.tokens.ParsePrincipal(accessToken); err != nil || subject != record.PrincipalID {
		s.logger.Warn("logout_access_token_mismatch", map[string]any{"member_id": record.PrincipalID})
		return nil
	}
	return s.revocations.Revoke(ctx, accessToken, remaining)
}

// Reissue rotates a refresh token. Concurrent reissues of the same token are
// resolved by the session store's one-wins delete: exactly one caller gets a
// new pair, every other caller gets ErrTokenNotFound.
func (s *Service) Reissue(ctx context.Context, refreshToken string) (TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Reissue")
	defer span.End()

	pair, err := s.reissue(ctx, refreshToken)
	s.metrics.CountReissue(sessionLabel(err))
	if err != nil {
		recordSpanError(span, err)
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) reissue(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !s.tokens.Validate(refreshToken) {
		return TokenPair{}, ErrExpiredOrInvalidRefresh
	}

	record, err := s.sessions.FindByValue(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, sessionError(err)
	}
	if err := s.sessions.Delete(ctx, record); err != nil {
		return TokenPair{}, sessionError(err)
	}

	return s.issuePair(ctx, record.PrincipalID, record.Role)
}

// CompleteRegistration activates the pending member named by a registration
// token and logs them in. The registration token is revoked afterwards.
func (s *Service) CompleteRegistration(ctx context.Context, registrationToken, name string) (*ExistingMember, error) {
	ctx, span := s.tracer.Start(ctx, "auth.CompleteRegistration")
	defer span.End()

	principal, err := s.tokens.AuthenticationContext(registrationToken)
	if err != nil || !principal.HasRole(token.RoleGuest) || principal.ID == "" {
		recordSpanError(span, ErrInvalidRegistration)
		return nil, ErrInvalidRegistration
	}

	m, err := s.directory.CompleteRegistration(ctx, principal.ID, name)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	pair, err := s.issuePair(ctx, m.ID, m.Role)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if err := s.revocations.Revoke(ctx, registrationToken, s.tokens.RemainingValidity(registrationToken)); err != nil {
		s.logger.Error("revoke_registration_token_failed", map[string]any{"member_id": m.ID, "error": err.Error()})
	}

	return &ExistingMember{
		PrincipalID: m.ID,
		Role:        m.Role,
		AvatarURL:   m.AvatarURL,
		Tokens:      pair,
	}, nil
}

func (s *Service) issuePair(ctx context.Context, principalID string, role token.Role) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(principalID, role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(principalID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.Save(ctx, principalID, refresh, role, s.tokens.RefreshTTL()); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:          access,
		RefreshToken:         refresh,
		AccessTokenExpiresIn: s.tokens.AccessTTL(),
	}, nil
}

func sessionError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return ErrTokenNotFound
	}
	return err
}

func loginLabel(outcome LoginOutcome, err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, ErrUpstreamAuth):
		return "upstream_error"
	case errors.Is(err, ErrAccountRestricted):
		return "restricted"
	case err != nil:
		return "error"
	}
	if _, ok := outcome.(*NewMember); ok {
		return "new_member"
	}
	return "existing_member"
}

func sessionLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrExpiredOrInvalidRefresh):
		return "invalid_refresh"
	default:
		return "error"
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
