package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const maxProfileBytes = 1 << 20

type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

type normalizer func(body []byte) (Profile, error)

// Profiles are only linked to members through a provider-verified email.
var errUnverifiedEmail = errors.New("email not verified by provider")

// OAuthClient runs the authorization-code exchange and the userinfo call
// for one provider.
type OAuthClient struct {
	provider    Provider
	config      oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	normalize   normalizer
}

func NewGoogle(creds Credentials, endpoints Endpoints, httpClient *http.Client) *OAuthClient {
	return newOAuthClient(ProviderGoogle, creds, endpoints, httpClient, []string{"openid", "email", "profile"}, normalizeGoogle)
}

func NewNaver(creds Credentials, endpoints Endpoints, httpClient *http.Client) *OAuthClient {
	return newOAuthClient(ProviderNaver, creds, endpoints, httpClient, nil, normalizeNaver)
}

func NewKakao(creds Credentials, endpoints Endpoints, httpClient *http.Client) *OAuthClient {
	return newOAuthClient(ProviderKakao, creds, endpoints, httpClient, []string{"account_email", "profile_nickname", "profile_image"}, normalizeKakao)
}

func newOAuthClient(provider Provider, creds Credentials, endpoints Endpoints, httpClient *http.Client, scopes []string, normalize normalizer) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OAuthClient{
		provider: provider,
		config: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.AuthURL,
				TokenURL:  endpoints.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: endpoints.UserInfoURL,
		httpClient:  httpClient,
		normalize:   normalize,
	}
}

func (c *OAuthClient) Supports(provider Provider) bool {
	return provider == c.provider
}

func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %s code exchange: %w", ErrUpstreamAuth, c.provider, err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", fmt.Errorf("%w: %s returned no access token", ErrUpstreamAuth, c.provider)
	}
	return tok.AccessToken, nil
}

func (c *OAuthClient) FetchProfile(ctx context.Context, providerAccessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build %s profile request: %w", c.provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+providerAccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %s profile request: %w", ErrUpstreamAuth, c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: %s profile status %d", ErrUpstreamAuth, c.provider, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: read %s profile: %w", ErrUpstreamAuth, c.provider, err)
	}

	profile, err := c.normalize(body)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %s profile: %w", ErrUpstreamAuth, c.provider, err)
	}
	return profile, nil
}

func normalizeGoogle(body []byte) (Profile, error) {
	var payload struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Profile{}, err
	}
	if !payload.EmailVerified {
		return Profile{}, errUnverifiedEmail
	}
	return newProfile(payload.Email, payload.Picture, payload.Name)
}

func normalizeNaver(body []byte) (Profile, error) {
	var payload struct {
		ResultCode string `json:"resultcode"`
		Message    string `json:"message"`
		Response   struct {
			Email        string `json:"email"`
			Name         string `json:"name"`
			Nickname     string `json:"nickname"`
			ProfileImage string `json:"profile_image"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Profile{}, err
	}
	if payload.ResultCode != "00" {
		return Profile{}, fmt.Errorf("result code %q: %s", payload.ResultCode, payload.Message)
	}
	r := payload.Response
	return newProfile(r.Email, r.ProfileImage, r.Name, r.Nickname)
}

func normalizeKakao(body []byte) (Profile, error) {
	var payload struct {
		KakaoAccount struct {
			Email           string `json:"email"`
			IsEmailValid    bool   `json:"is_email_valid"`
			IsEmailVerified bool   `json:"is_email_verified"`
			Profile         struct {
				Nickname        string `json:"nickname"`
				ProfileImageURL string `json:"profile_image_url"`
			} `json:"profile"`
		} `json:"kakao_account"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Profile{}, err
	}
	account := payload.KakaoAccount
	if !account.IsEmailValid || !account.IsEmailVerified {
		return Profile{}, errUnverifiedEmail
	}
	return newProfile(account.Email, account.Profile.ProfileImageURL, account.Profile.Nickname)
}

// newProfile lower-cases the email and takes the first non-empty name,
// falling back to the email's local part.
func newProfile(email, avatarURL string, names ...string) (Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Profile{}, errors.New("missing email")
	}
	local, _, _ := strings.Cut(email, "@")
	return Profile{
		Email:     email,
		Name:      firstNonEmpty(append(names, local)...),
		AvatarURL: strings.TrimSpace(avatarURL),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
