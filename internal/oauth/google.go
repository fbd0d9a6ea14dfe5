package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoints are the Google URLs used by the flow.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleEndpoints are Google's production endpoints.
var GoogleEndpoints = Endpoints{
	AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:    "https://oauth2.googleapis.com/token",
	UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
}

var defaultGoogleScopes = []string{"openid", "email", "profile"}

// GoogleProvider implements Google sign-in.
type GoogleProvider struct {
	cfg       Config
	client    *http.Client
	endpoints Endpoints
}

// NewGoogleProvider returns a provider talking to the given endpoints.
func NewGoogleProvider(args ProviderArgs, endpoints Endpoints) *GoogleProvider {
	client := args.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if len(args.Config.Scopes) == 0 {
		args.Config.Scopes = defaultGoogleScopes
	}
	return &GoogleProvider{cfg: args.Config, client: client, endpoints: endpoints}
}

func (g *GoogleProvider) Name() string {
	return "google"
}

func (g *GoogleProvider) AuthURL(state string) (string, error) {
	if g.cfg.ClientID == "" || g.cfg.RedirectURL == "" {
		return "", ErrNotConfigured
	}
	params := url.Values{}
	params.Set("client_id", g.cfg.ClientID)
	params.Set("redirect_uri", g.cfg.RedirectURL)
	params.Set("scope", strings.Join(g.cfg.Scopes, " "))
	params.Set("state", state)
	params.Set("response_type", "code")
	params.Set("prompt", "select_account")
	return g.endpoints.AuthURL + "?" + params.Encode(), nil
}

func (g *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*Profile, error) {
	if g.cfg.ClientID == "" || g.cfg.ClientSecret == "" || g.cfg.RedirectURL == "" {
		return nil, ErrNotConfigured
	}
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)
	form.Set("redirect_uri", g.cfg.RedirectURL)
	form.Set("grant_type", "authorization_code")
	accessToken, err := g.token(ctx, form)
	if err != nil {
		return nil, err
	}
	user, err := g.user(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(user.Email)
	if user.Sub == "" || email == "" {
		return nil, ErrInvalidProfile
	}
	return &Profile{
		Provider:       g.Name(),
		ProviderUserID: user.Sub,
		Email:          email,
		EmailVerified:  user.EmailVerified,
		Name:           strings.TrimSpace(user.Name),
	}, nil
}

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (g *GoogleProvider) token(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("google token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("google token exchange failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out googleTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding google token: %w", err)
	}
	if out.AccessToken == "" {
		return "", ErrInvalidProfile
	}
	return out.AccessToken, nil
}

type googleUserResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *GoogleProvider) user(ctx context.Context, accessToken string) (*googleUserResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoints.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("google userinfo failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out googleUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding google userinfo: %w", err)
	}
	return &out, nil
}

func init() {
	Register("google", func(args ProviderArgs) (Provider, error) {
		return NewGoogleProvider(args, GoogleEndpoints), nil
	})
}
