package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrUpstreamAuth        = errors.New("social provider authentication failed")
)

type Provider string

const (
	ProviderGoogle Provider = "GOOGLE"
	ProviderNaver  Provider = "NAVER"
	ProviderKakao  Provider = "KAKAO"
)

// Providers lists every provider the service knows how to speak to.
func Providers() []Provider {
	return []Provider{ProviderGoogle, ProviderNaver, ProviderKakao}
}

func ParseProvider(value string) (Provider, error) {
	switch p := Provider(strings.ToUpper(strings.TrimSpace(value))); p {
	case ProviderGoogle, ProviderNaver, ProviderKakao:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, value)
	}
}

// Profile is the provider-independent view of a social account.
type Profile struct {
	Email     string
	Name      string
	AvatarURL string
}

type Client interface {
	Supports(provider Provider) bool
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, providerAccessToken string) (Profile, error)
}

// Resolver dispatches on the provider enum to the client registered for it.
type Resolver struct {
	clients map[Provider]Client
}

func NewResolver(clients ...Client) *Resolver {
	r := &Resolver{clients: make(map[Provider]Client, len(clients))}
	for _, client := range clients {
		for _, provider := range Providers() {
			if client.Supports(provider) {
				r.clients[provider] = client
			}
		}
	}
	return r
}

func (r *Resolver) Resolve(provider string) (Provider, Client, error) {
	parsed, err := ParseProvider(provider)
	if err != nil {
		return "", nil, err
	}
	client, ok := r.clients[parsed]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s is not configured", ErrUnsupportedProvider, parsed)
	}
	return parsed, client, nil
}

func (r *Resolver) Enabled() []Provider {
	enabled := make([]Provider, 0, len(r.clients))
	for _, provider := range Providers() {
		if _, ok := r.clients[provider]; ok {
			enabled = append(enabled, provider)
		}
	}
	return enabled
}
