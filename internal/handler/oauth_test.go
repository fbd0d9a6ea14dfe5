package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studysync/studysync-go/internal/middleware"
	"github.com/studysync/studysync-go/internal/oauth"
	"github.com/studysync/studysync-go/internal/otp"
	"github.com/studysync/studysync-go/internal/repository"
	"github.com/studysync/studysync-go/internal/service"
)

type stubOAuthProvider struct {
	profile *oauth.Profile
	err     error
	codes   []string
}

func (p *stubOAuthProvider) Name() string { return "google" }

func (p *stubOAuthProvider) AuthURL(state string) (string, error) {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state), nil
}

func (p *stubOAuthProvider) ExchangeCode(_ context.Context, code string) (*oauth.Profile, error) {
	p.codes = append(p.codes, code)
	return p.profile, p.err
}

type oauthTestServer struct {
	handler  http.Handler
	provider *stubOAuthProvider
	users    *repository.MemoryUserStore
}

func newOAuthTestServer(t *testing.T) *oauthTestServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	users := repository.NewMemoryUserStore()
	provider := &stubOAuthProvider{profile: &oauth.Profile{
		Provider:       "google",
		ProviderUserID: "1093",
		Email:          "ada@example.com",
		EmailVerified:  true,
		Name:           "Ada Lovelace",
	}}
	auth := service.NewAuthService(users, otp.NewMemoryStore(otp.DefaultMaxAttempts), &inbox{}, service.AuthConfig{
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
	})
	stats := service.NewStatsService(users)
	authHandler := NewAuthHandler(auth, false)

	h := NewRouter(ctx, RouterDeps{
		Auth:      authHandler,
		AI:        NewAIHandler(service.NewAIService(&stubProvider{}, stats)),
		Stats:     NewStatsHandler(stats),
		JWTSecret: testSecret,
		AuthRPS:   1000,
		AuthBurst: 1000,
		OAuth:     NewOAuthHandler(authHandler, provider, oauth.NewStateStore(time.Minute), "/dashboard", "/login"),
	})
	return &oauthTestServer{handler: h, provider: provider, users: users}
}

func (s *oauthTestServer) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// start begins a sign-in and returns the state and its cookie.
func (s *oauthTestServer) start(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	rec := s.get("/api/v1/auth/google")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	cookie := findCookie(rec, oauthStateCookie)
	require.NotNil(t, cookie)
	assert.Equal(t, state, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	return state, cookie
}

func TestGoogleSignInCreatesUserAndSetsSession(t *testing.T) {
	s := newOAuthTestServer(t)
	state, stateCookie := s.start(t)

	rec := s.get("/api/v1/auth/google/callback?code=auth-code&state="+state, stateCookie)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, []string{"auth-code"}, s.provider.codes)

	session := findCookie(rec, middleware.SessionCookie)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Value)
	assert.Equal(t, 3600, session.MaxAge)

	user, err := s.users.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.True(t, user.IsVerified)

	// The session cookie works for the session check.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(session)
	me := httptest.NewRecorder()
	s.handler.ServeHTTP(me, req)
	assert.Contains(t, me.Body.String(), `"authenticated":true`)
}

func TestGoogleCallbackRejectsForgedState(t *testing.T) {
	s := newOAuthTestServer(t)
	state, stateCookie := s.start(t)

	tests := []struct {
		name    string
		path    string
		cookies []*http.Cookie
	}{
		{"missing cookie", "/api/v1/auth/google/callback?code=c&state=" + state, nil},
		{"unknown state", "/api/v1/auth/google/callback?code=c&state=forged",
			[]*http.Cookie{{Name: oauthStateCookie, Value: "forged"}}},
		{"cookie mismatch", "/api/v1/auth/google/callback?code=c&state=" + state,
			[]*http.Cookie{{Name: oauthStateCookie, Value: "other"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(tt.path, tt.cookies...)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/login?error=invalid_state&provider=google", rec.Header().Get("Location"))
			assert.Nil(t, findCookie(rec, middleware.SessionCookie))
		})
	}
	assert.Empty(t, s.provider.codes)

	// The genuine state is still usable once.
	rec := s.get("/api/v1/auth/google/callback?code=c&state="+state, stateCookie)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	rec = s.get("/api/v1/auth/google/callback?code=c&state="+state, stateCookie)
	assert.Equal(t, "/login?error=invalid_state&provider=google", rec.Header().Get("Location"))
}

func TestGoogleCallbackErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *stubOAuthProvider)
		query string
		want  string
	}{
		{"user denied consent", nil, "error=access_denied", "access_denied"},
		{"missing code", nil, "", "invalid_request"},
		{"exchange failed", func(p *stubOAuthProvider) { p.err = errors.New("google down") }, "code=c", "oauth_failed"},
		{"unverified email", func(p *stubOAuthProvider) { p.profile.EmailVerified = false }, "code=c", "oauth_email_unverified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newOAuthTestServer(t)
			if tt.setup != nil {
				tt.setup(s.provider)
			}
			state, stateCookie := s.start(t)

			rec := s.get("/api/v1/auth/google/callback?state="+state+"&"+tt.query, stateCookie)
			require.Equal(t, http.StatusFound, rec.Code)
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "/login", loc.Path)
			assert.Equal(t, tt.want, loc.Query().Get("error"))
			assert.Nil(t, findCookie(rec, middleware.SessionCookie))
		})
	}
}

func TestGoogleRoutesDisabledWithoutProvider(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/auth/google", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
