package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	tokenStatus   int
	tokenBody     string
	profileStatus int
	profileBody   string
	gotCode       string
	gotBearer     string
}

func (f *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.gotCode = r.PostForm.Get("code")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.gotBearer = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.profileStatus)
		_, _ = w.Write([]byte(f.profileBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func endpointsFor(srv *httptest.Server) Endpoints {
	return Endpoints{
		AuthURL:     srv.URL + "/authorize",
		TokenURL:    srv.URL + "/token",
		UserInfoURL: srv.URL + "/userinfo",
	}
}

var testCreds = Credentials{ClientID: "client", ClientSecret: "secret", RedirectURL: "https://app.example/callback"}

func TestParseProvider(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"GOOGLE", "google", " Naver ", "KAKAO"} {
		_, err := ParseProvider(in)
		require.NoError(t, err, in)
	}

	_, err := ParseProvider("APPLE")
	require.ErrorIs(t, err, ErrUnsupportedProvider)
	_, err = ParseProvider("")
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestResolver_DispatchesOnEnum(t *testing.T) {
	t.Parallel()
	google := NewGoogle(testCreds, Endpoints{}, nil)
	naver := NewNaver(testCreds, Endpoints{}, nil)
	r := NewResolver(google, naver)

	provider, client, err := r.Resolve("google")
	require.NoError(t, err)
	require.Equal(t, ProviderGoogle, provider)
	require.Same(t, google, client)

	_, client, err = r.Resolve("NAVER")
	require.NoError(t, err)
	require.Same(t, naver, client)

	_, _, err = r.Resolve("KAKAO")
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	_, _, err = r.Resolve("FACEBOOK")
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	require.Equal(t, []Provider{ProviderGoogle, ProviderNaver}, r.Enabled())
}

func TestOAuthClient_ExchangeAndProfile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		build       func(Credentials, Endpoints, *http.Client) *OAuthClient
		profileBody string
		want        Profile
	}{
		{
			name:        "google picture",
			build:       NewGoogle,
			profileBody: `{"sub":"1","email":"A@B.com","email_verified":true,"name":"A","picture":"https://img/google.png"}`,
			want:        Profile{Email: "a@b.com", Name: "A", AvatarURL: "https://img/google.png"},
		},
		{
			name:        "naver profile_image",
			build:       NewNaver,
			profileBody: `{"resultcode":"00","message":"success","response":{"email":"n@naver.com","nickname":"nick","profile_image":"https://img/naver.png"}}`,
			want:        Profile{Email: "n@naver.com", Name: "nick", AvatarURL: "https://img/naver.png"},
		},
		{
			name:        "kakao nested profile",
			build:       NewKakao,
			profileBody: `{"id":7,"kakao_account":{"email":"k@kakao.com","is_email_valid":true,"is_email_verified":true,"profile":{"nickname":"kay","profile_image_url":"https://img/kakao.png"}}}`,
			want:        Profile{Email: "k@kakao.com", Name: "kay", AvatarURL: "https://img/kakao.png"},
		},
		{
			name:        "name falls back to email local part",
			build:       NewGoogle,
			profileBody: `{"email":"solo@b.com","email_verified":true}`,
			want:        Profile{Email: "solo@b.com", Name: "solo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeProvider{
				tokenStatus:   http.StatusOK,
				tokenBody:     `{"access_token":"provider-at","token_type":"bearer","expires_in":3600}`,
				profileStatus: http.StatusOK,
				profileBody:   tt.profileBody,
			}
			srv := fake.server(t)
			client := tt.build(testCreds, endpointsFor(srv), srv.Client())

			accessToken, err := client.ExchangeCode(context.Background(), "abc")
			require.NoError(t, err)
			require.Equal(t, "provider-at", accessToken)
			require.Equal(t, "abc", fake.gotCode)

			profile, err := client.FetchProfile(context.Background(), accessToken)
			require.NoError(t, err)
			require.Equal(t, "Bearer provider-at", fake.gotBearer)
			require.Equal(t, tt.want, profile)
		})
	}
}

func TestOAuthClient_UpstreamFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		build         func(Credentials, Endpoints, *http.Client) *OAuthClient
		tokenStatus   int
		tokenBody     string
		profileStatus int
		profileBody   string
		failExchange  bool
	}{
		{name: "token endpoint error", build: NewGoogle, tokenStatus: http.StatusBadRequest, tokenBody: `{"error":"invalid_grant"}`, failExchange: true},
		{name: "no access token", build: NewGoogle, tokenStatus: http.StatusOK, tokenBody: `{"token_type":"bearer"}`, failExchange: true},
		{name: "profile non-200", build: NewGoogle, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusUnauthorized, profileBody: `{}`},
		{name: "profile malformed", build: NewKakao, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{not json`},
		{name: "profile empty email", build: NewGoogle, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{"name":"A","email_verified":true}`},
		{name: "google unverified email", build: NewGoogle, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{"email":"alice@example.com","email_verified":false}`},
		{name: "google verified flag missing", build: NewGoogle, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{"email":"alice@example.com"}`},
		{name: "kakao unverified email", build: NewKakao, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{"kakao_account":{"email":"alice@example.com","is_email_valid":true,"is_email_verified":false}}`},
		{name: "kakao invalid email", build: NewKakao, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{"kakao_account":{"email":"alice@example.com","is_email_valid":false,"is_email_verified":true}}`},
		{name: "naver result code", build: NewNaver, tokenStatus: http.StatusOK, tokenBody: `{"access_token":"x"}`, profileStatus: http.StatusOK, profileBody: `{"resultcode":"024","message":"Authentication failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeProvider{
				tokenStatus:   tt.tokenStatus,
				tokenBody:     tt.tokenBody,
				profileStatus: tt.profileStatus,
				profileBody:   tt.profileBody,
			}
			srv := fake.server(t)
			client := tt.build(testCreds, endpointsFor(srv), srv.Client())

			accessToken, err := client.ExchangeCode(context.Background(), "abc")
			if tt.failExchange {
				require.ErrorIs(t, err, ErrUpstreamAuth)
				return
			}
			require.NoError(t, err)

			_, err = client.FetchProfile(context.Background(), accessToken)
			require.ErrorIs(t, err, ErrUpstreamAuth)
		})
	}
}

func TestOAuthClient_UnreachableProvider(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoints := endpointsFor(srv)
	srv.Close()

	client := NewGoogle(testCreds, endpoints, nil)
	_, err := client.ExchangeCode(context.Background(), "abc")
	require.ErrorIs(t, err, ErrUpstreamAuth)

	_, err = client.FetchProfile(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstreamAuth)
}
