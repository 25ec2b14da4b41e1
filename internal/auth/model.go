package auth

import (
	"time"

	"pettrack-auth/internal/token"
)

type TokenPair struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresIn time.Duration
}

// LoginOutcome is either *NewMember or *ExistingMember.
type LoginOutcome interface {
	loginOutcome()
}

// NewMember means signup is not finished; only a registration token is issued.
type NewMember struct {
	Email             string
	Name              string
	RegistrationToken string
	ExpiresIn         time.Duration
}

type ExistingMember struct {
	PrincipalID string
	Role        token.Role
	AvatarURL   string
	Tokens      TokenPair
}

func (*NewMember) loginOutcome()      {}
func (*ExistingMember) loginOutcome() {}

type loginState string

const (
	stateRateCheck          loginState = "RATE_CHECK"
	stateProviderExchange   loginState = "PROVIDER_EXCHANGE"
	stateProfileFetch       loginState = "PROFILE_FETCH"
	stateIdentityResolution loginState = "IDENTITY_RESOLUTION"
	stateNewMember          loginState = "NEW_MEMBER"
	stateExistingMember     loginState = "EXISTING_MEMBER"
	stateTokenIssuance      loginState = "TOKEN_ISSUANCE"
)
