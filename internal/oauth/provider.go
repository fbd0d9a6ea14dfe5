// Package oauth signs users in through third-party identity providers using
// the authorization code flow.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotConfigured  = errors.New("oauth provider is not configured")
	ErrInvalidProfile = errors.New("oauth provider returned an incomplete profile")
)

// Profile is the identity a provider vouches for.
type Profile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// Provider drives one identity provider.
type Provider interface {
	Name() string
	AuthURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*Profile, error)
}

// Config holds the OAuth client registered with the provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// ProviderArgs are passed to a provider factory. Client defaults to one with
// a short timeout.
type ProviderArgs struct {
	Config Config
	Client *http.Client
}

type Factory func(args ProviderArgs) (Provider, error)

var registry = map[string]Factory{}

// Register makes a provider available to NewProvider under name.
func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

// NewProvider builds the provider registered under name.
func NewProvider(name string, args ProviderArgs) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, errors.New("oauth provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported oauth provider: %s", name)
	}
	args.Config.ClientID = strings.TrimSpace(args.Config.ClientID)
	args.Config.ClientSecret = strings.TrimSpace(args.Config.ClientSecret)
	args.Config.RedirectURL = strings.TrimSpace(args.Config.RedirectURL)
	return factory(args)
}
