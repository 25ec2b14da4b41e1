package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// RegisterProcessSubject marks a registration token: the principal is
	// still identified only by the email claim.
	RegisterProcessSubject = "register-process"

	RegistrationTTL = 30 * time.Minute

	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 14 * 24 * time.Hour
)

type Role string

const (
	RoleUser   Role = "USER"
	RoleAdmin  Role = "ADMIN"
	RoleDevice Role = "DEVICE"
	RoleGuest  Role = "GUEST"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	Role  Role   `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authentication context derived from a valid token.
type Principal struct {
	ID    string
	Roles []Role
}

func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(secret string) *Service {
	return &Service{
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithValidity(accessTTL, refreshTTL time.Duration) *Service {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	return s
}

func (s *Service) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Service) IssueAccess(principalID string, role Role) (string, error) {
	return s.sign(principalID, role, "", s.accessTTL)
}

func (s *Service) IssueRefresh(principalID string) (string, error) {
	return s.sign(principalID, "", "", s.refreshTTL)
}

func (s *Service) IssueRegistration(email string) (string, error) {
	return s.sign(RegisterProcessSubject, RoleGuest, email, RegistrationTTL)
}

// Validate reports whether the token has a valid signature and has not
// expired. Every failure cause is collapsed to false.
func (s *Service) Validate(raw string) bool {
	_, err := s.parse(raw)
	return err == nil
}

func (s *Service) ParsePrincipal(raw string) (string, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ParseRole returns the role claim, or "" when the token carries none.
func (s *Service) ParseRole(raw string) (Role, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}

func (s *Service) ParseEmail(raw string) (string, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Email, nil
}

// RemainingValidity is exp minus now, clamped to zero. Tokens that do not
// parse have no remaining validity.
func (s *Service) RemainingValidity(raw string) time.Duration {
	claims, err := s.parse(raw)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Service) AuthenticationContext(raw string) (Principal, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return Principal{}, err
	}

	if claims.Subject == RegisterProcessSubject {
		return Principal{ID: claims.Email, Roles: []Role{RoleGuest}}, nil
	}

	principal := Principal{ID: claims.Subject}
	if claims.Role != "" {
		principal.Roles = []Role{claims.Role}
	}
	return principal, nil
}

func (s *Service) sign(subject string, role Role, email string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

func (s *Service) parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
