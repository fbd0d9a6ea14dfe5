// Package ai talks to the language model providers behind the study
// assistant endpoints.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/studysync/studysync-go/internal/config"
)

var (
	// ErrUnavailable means the provider has no credentials configured.
	ErrUnavailable          = errors.New("ai provider unavailable")
	ErrProviderUnauthorized = errors.New("ai provider rejected the api key")
	ErrProviderRateLimited  = errors.New("ai provider rate limit exceeded")
)

// Message is one turn of a conversation. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// CompletionRequest describes a single generation.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Provider generates text from a conversation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream calls emit with each generated fragment in order. It stops at
	// the first error emit returns.
	Stream(ctx context.Context, req CompletionRequest, emit func(delta string) error) error
}

// Factory builds a provider from configuration. It returns ErrUnavailable
// when required credentials are missing.
type Factory func(cfg config.AIConfig) (Provider, error)

var registry = map[string]Factory{}

// Register makes a provider available under name.
func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

// NewProvider builds the provider named by cfg.Provider. A provider without
// credentials is replaced by the demo provider.
func NewProvider(cfg config.AIConfig) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if key == "" {
		key = "groq"
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	p, err := factory(cfg)
	if errors.Is(err, ErrUnavailable) {
		return NewDemoProvider(), nil
	}
	return p, err
}
