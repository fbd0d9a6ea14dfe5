package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/studysync/studysync-go/internal/config"
)

type geminiProvider struct {
	client *genai.Client
	model  string
}

func newGeminiProvider(cfg config.AIConfig) (Provider, error) {
	key := strings.TrimSpace(cfg.GeminiAPIKey)
	if key == "" {
		return nil, ErrUnavailable
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiProvider{client: client, model: model}, nil
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	contents, cfg := geminiRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", geminiError(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *geminiProvider) Stream(ctx context.Context, req CompletionRequest, emit func(string) error) error {
	contents, cfg := geminiRequest(req)
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
		if err != nil {
			return geminiError(err)
		}
		if text := resp.Text(); text != "" {
			if err := emit(text); err != nil {
				return err
			}
		}
	}
	return nil
}

func geminiRequest(req CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.TopP > 0 {
		cfg.TopP = ptr(float32(req.TopP))
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	return contents, cfg
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrProviderUnauthorized
		case http.StatusTooManyRequests:
			return ErrProviderRateLimited
		}
	}
	return err
}

func ptr[T any](v T) *T {
	return &v
}

func init() {
	Register("gemini", newGeminiProvider)
}
