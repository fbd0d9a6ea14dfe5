package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/studysync/studysync-go/internal/config"
)

func newTestGroq(t *testing.T, h http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := newGroqProvider(config.AIConfig{GroqAPIKey: "test-key", GroqBaseURL: srv.URL + "/", Model: "test-model"})
	require.NoError(t, err)
	return p
}

func TestGroqComplete(t *testing.T) {
	var got chatRequest
	p := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  a summary \n"}}]}`)
	})

	out, err := p.Complete(context.Background(), CompletionRequest{
		System:      "be brief",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.5,
		MaxTokens:   2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "a summary", out)

	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 2000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "hello"}, got.Messages[1])
}

func TestGroqStream(t *testing.T) {
	p := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	})

	var parts []string
	err := p.Stream(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, func(d string) error {
		parts = append(parts, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, parts)
}

func TestGroqStreamStopsOnEmitError(t *testing.T) {
	p := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	})

	stop := errors.New("client gone")
	calls := 0
	err := p.Stream(context.Background(), CompletionRequest{}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestGroqStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrProviderUnauthorized},
		{http.StatusTooManyRequests, ErrProviderRateLimited},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := p.Complete(context.Background(), CompletionRequest{})
			assert.ErrorIs(t, err, tt.want)

			err = p.Stream(context.Background(), CompletionRequest{}, func(string) error { return nil })
			assert.ErrorIs(t, err, tt.want)
		})
	}

	p := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})
	_, err := p.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.AIConfig{Provider: "groq"})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name())

	p, err = NewProvider(config.AIConfig{Provider: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name())

	p, err = NewProvider(config.AIConfig{Provider: "GROQ", GroqAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())

	_, err = NewProvider(config.AIConfig{Provider: "skynet"})
	assert.Error(t, err)
}

func TestDemoProviderStream(t *testing.T) {
	var b strings.Builder
	err := NewDemoProvider().Stream(context.Background(), CompletionRequest{}, func(d string) error {
		b.WriteString(d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, demoReply, b.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewDemoProvider().Stream(ctx, CompletionRequest{}, func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeminiRequest(t *testing.T) {
	contents, cfg := geminiRequest(CompletionRequest{
		System:      "tutor",
		Messages:    []Message{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}},
		Temperature: 0.8,
		TopP:        0.9,
		MaxTokens:   1000,
	})
	require.Len(t, contents, 2)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "a", contents[1].Parts[0].Text)

	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.8, *cfg.Temperature, 1e-6)
	require.NotNil(t, cfg.TopP)
	assert.Equal(t, int32(1000), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "tutor", cfg.SystemInstruction.Parts[0].Text)
}

func TestGeminiError(t *testing.T) {
	assert.ErrorIs(t, geminiError(genai.APIError{Code: 401}), ErrProviderUnauthorized)
	assert.ErrorIs(t, geminiError(fmt.Errorf("wrapped: %w", genai.APIError{Code: 429})), ErrProviderRateLimited)

	other := errors.New("boom")
	assert.Equal(t, other, geminiError(other))
}
