package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studysync/studysync-go/internal/ai"
	"github.com/studysync/studysync-go/internal/mail"
	"github.com/studysync/studysync-go/internal/middleware"
	"github.com/studysync/studysync-go/internal/otp"
	"github.com/studysync/studysync-go/internal/repository"
	"github.com/studysync/studysync-go/internal/service"
)

const testSecret = "handler-test-secret"

var codePattern = regexp.MustCompile(`Your code: (\d{6})`)

type inbox struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (b *inbox) Send(_ context.Context, m mail.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, m)
	return nil
}

func (b *inbox) lastCode(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.msgs)
	m := codePattern.FindStringSubmatch(b.msgs[len(b.msgs)-1].Text)
	require.Len(t, m, 2)
	return m[1]
}

type stubProvider struct {
	deltas []string
	reply  string
	err    error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(context.Context, ai.CompletionRequest) (string, error) {
	return p.reply, p.err
}

func (p *stubProvider) Stream(_ context.Context, _ ai.CompletionRequest, emit func(string) error) error {
	for _, d := range p.deltas {
		if err := emit(d); err != nil {
			return err
		}
	}
	return p.err
}

type testServer struct {
	handler  http.Handler
	inbox    *inbox
	provider *stubProvider
	users    *repository.MemoryUserStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	users := repository.NewMemoryUserStore()
	box := &inbox{}
	provider := &stubProvider{}

	auth := service.NewAuthService(users, otp.NewMemoryStore(otp.DefaultMaxAttempts), box, service.AuthConfig{
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
		OTPTTL:     10 * time.Minute,
	})
	stats := service.NewStatsService(users)

	h := NewRouter(ctx, RouterDeps{
		Auth:      NewAuthHandler(auth, false),
		AI:        NewAIHandler(service.NewAIService(provider, stats)),
		Stats:     NewStatsHandler(stats),
		JWTSecret: testSecret,
		AuthRPS:   1000,
		AuthBurst: 1000,
	})
	return &testServer{handler: h, inbox: box, provider: provider, users: users}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", middleware.SessionCookie)
	return nil
}

// register runs the full OTP registration and returns the session cookie.
func (s *testServer) register(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", map[string]string{
		"email": email, "name": "Ada", "password": "secret123", "type": "register",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": email, "otp": s.inbox.lastCode(t), "type": "register",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestRegisterFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", map[string]string{
		"email": " Ada@Example.com ", "name": "Ada", "password": "secret123", "type": "register",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(600), body["expiresIn"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "ada@example.com", "otp": s.inbox.lastCode(t), "type": "register",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	user := body["user"].(map[string]any)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "passwordHash")

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "Ada", body["user"].(map[string]any)["name"])

	// The address is now taken.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/send-otp", map[string]string{
		"email": "ada@example.com", "name": "Ada", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "user_exists", decode(t, rec)["code"])
}

func TestSendOTPValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed json", `{"email":`, http.StatusBadRequest, "invalid_request"},
		{"missing email", map[string]string{"name": "A", "password": "secret123"}, http.StatusBadRequest, "invalid_email"},
		{"bad email", map[string]string{"email": "nope", "name": "A", "password": "secret123"}, http.StatusBadRequest, "invalid_email"},
		{"missing name", map[string]string{"email": "a@x.com", "password": "secret123"}, http.StatusBadRequest, "name_required"},
		{"short password", map[string]string{"email": "a@x.com", "name": "A", "password": "123"}, http.StatusBadRequest, "password_too_short"},
		{"bad type", map[string]string{"email": "a@x.com", "type": "reset"}, http.StatusBadRequest, "invalid_type"},
		{"unknown login", map[string]string{"email": "ghost@x.com", "type": "login"}, http.StatusNotFound, "user_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
	assert.Empty(t, s.inbox.msgs)
}

func TestVerifyOTPErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "a@x.com", "otp": "123456", "type": "register",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "otp_not_found", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "a@x.com", "otp": "12ab", "type": "register",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/send-otp", map[string]string{
		"email": "a@x.com", "name": "A", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	code := s.inbox.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "a@x.com", "otp": code, "type": "login",
	})
	assert.Equal(t, "otp_purpose_mismatch", decode(t, rec)["code"])

	for remaining := 2; remaining >= 0; remaining-- {
		rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
			"email": "a@x.com", "otp": wrong, "type": "register",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "otp_invalid", body["code"])
		assert.Equal(t, float64(remaining), body["remainingAttempts"])
	}

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "a@x.com", "otp": code, "type": "register",
	})
	assert.Equal(t, "otp_attempts_exceeded", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "a@x.com", "otp": code, "type": "register",
	})
	assert.Equal(t, "otp_not_found", decode(t, rec)["code"])
}

func TestEmailDispatchFailure(t *testing.T) {
	s := newTestServer(t)
	s.inbox.err = errors.New("smtp: 535 authentication failed")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", map[string]string{
		"email": "a@x.com", "name": "A", "password": "secret123",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "email_dispatch_failed", body["code"])
	assert.NotContains(t, body["error"], "535")
}

func TestLoginOTPAndPassword(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", map[string]string{"email": "a@x.com", "type": "login"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", map[string]string{
		"email": "a@x.com", "otp": s.inbox.lastCode(t), "type": "login",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Login successful", decode(t, rec)["message"])
	sessionCookie(t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionCookie(t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeAndLogout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["authenticated"])
	assert.Nil(t, body["user"])

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, &http.Cookie{Name: middleware.SessionCookie, Value: "forged"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["authenticated"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestChatStream(t *testing.T) {
	s := newTestServer(t)
	cookie := s.register(t, "a@x.com")
	s.provider.deltas = []string{"Hello", " there"}

	rec := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: {\"content\":\"Hello\"}\n\ndata: {\"content\":\" there\"}\n\ndata: [DONE]\n\n",
		rec.Body.String())

	u, err := s.users.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Stats.Conversations)
}

func TestChatErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "system", "content": "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.provider.err = ai.ErrProviderRateLimited
	rec = s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "ai_rate_limited", decode(t, rec)["code"])

	s.provider.err = errors.New("connection reset")
	s.provider.deltas = []string{"partial"}
	rec = s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data: {"content":"partial"}`)
	assert.Contains(t, rec.Body.String(), `"error":"stream interrupted"`)
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestSummarizeAndQuiz(t *testing.T) {
	s := newTestServer(t)
	cookie := s.register(t, "a@x.com")

	s.provider.reply = "A short summary."
	rec := s.do(t, http.MethodPost, "/api/v1/summarize", map[string]string{"content": "notes", "type": "voice"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A short summary.", decode(t, rec)["summary"])

	s.provider.reply = `[{"question":"Q?","options":["a","b","c","d"],"correct":1,"explanation":"e"}]`
	rec = s.do(t, http.MethodPost, "/api/v1/quiz", map[string]any{"content": "notes", "numQuestions": 1}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["quiz"], 1)
	assert.NotContains(t, body, "warning")

	s.provider.reply = "not json"
	rec = s.do(t, http.MethodPost, "/api/v1/quiz", map[string]any{"content": "notes"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["warning"])

	s.provider.err = errors.New("upstream 500")
	rec = s.do(t, http.MethodPost, "/api/v1/summarize", map[string]string{"content": "notes"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "ai_failed", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/quiz", map[string]any{"content": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	u, err := s.users.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Stats.VoiceNotes)
	assert.Equal(t, 1, u.Stats.QuizzesTaken)
}

func TestStatsEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := s.register(t, "a@x.com")

	rec = s.do(t, http.MethodPost, "/api/v1/stats", map[string]any{"delta": map[string]int{"studyStreak": 3}}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["stats"].(map[string]any)
	assert.Equal(t, float64(3), stats["studyStreak"])

	rec = s.do(t, http.MethodPost, "/api/v1/stats/quiz-result", map[string]int{"total": 5, "correct": 4}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decode(t, rec)["stats"].(map[string]any)
	assert.Equal(t, float64(5), stats["totalQuestions"])
	assert.Equal(t, float64(4), stats["correctAnswers"])

	rec = s.do(t, http.MethodPost, "/api/v1/stats/quiz-result", map[string]int{"total": 2, "correct": 4}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/stats", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decode(t, rec)["stats"].(map[string]any)
	assert.Equal(t, float64(3), stats["studyStreak"])
}

func TestRequestBodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	big := `{"content":"` + strings.Repeat("x", maxBodySize) + `"}`
	rec := s.do(t, http.MethodPost, "/api/v1/summarize", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCooldownResponse(t *testing.T) {
	users := repository.NewMemoryUserStore()
	auth := service.NewAuthService(users, otp.NewMemoryStore(otp.DefaultMaxAttempts), &inbox{}, service.AuthConfig{
		JWTSecret:      testSecret,
		ResendCooldown: time.Minute,
	})
	h := NewRouter(context.Background(), RouterDeps{
		Auth:      NewAuthHandler(auth, true),
		AI:        NewAIHandler(service.NewAIService(&stubProvider{}, nil)),
		Stats:     NewStatsHandler(service.NewStatsService(users)),
		JWTSecret: testSecret,
	})
	s := &testServer{handler: h}

	body := map[string]string{"email": "a@x.com", "name": "A", "password": "secret123"}
	rec := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(60), decode(t, rec)["resendAfter"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/send-otp", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "otp_resend_too_soon", decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
