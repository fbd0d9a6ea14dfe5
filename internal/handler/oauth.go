package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/oauth"
)

const oauthStateCookie = "oauth_state"

// OAuthHandler runs the browser redirects of provider sign-in and ends by
// setting the same session cookie as the OTP and password flows.
type OAuthHandler struct {
	auth       *AuthHandler
	provider   oauth.Provider
	states     *oauth.StateStore
	successURL string
	failureURL string
}

// NewOAuthHandler creates an OAuthHandler. The browser is sent to successURL
// once signed in and to failureURL with an error query parameter otherwise.
func NewOAuthHandler(auth *AuthHandler, provider oauth.Provider, states *oauth.StateStore, successURL, failureURL string) *OAuthHandler {
	if successURL == "" {
		successURL = "/"
	}
	if failureURL == "" {
		failureURL = "/login"
	}
	return &OAuthHandler{
		auth:       auth,
		provider:   provider,
		states:     states,
		successURL: successURL,
		failureURL: failureURL,
	}
}

// HandleStart handles GET /api/v1/auth/{provider} by redirecting to the
// provider's consent page.
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Create(h.provider.Name())
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := h.provider.AuthURL(state)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.auth.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallback handles GET /api/v1/auth/{provider}/callback.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	q := r.URL.Query()
	h.clearStateCookie(w)

	if e := q.Get("error"); e != "" {
		h.redirectError(w, r, "access_denied")
		return
	}
	state := q.Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value != state || !h.states.Consume(state, h.provider.Name()) {
		h.redirectError(w, r, "invalid_state")
		return
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		h.redirectError(w, r, "invalid_request")
		return
	}

	profile, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		logger.Warn("oauth code exchange failed", zap.String("provider", h.provider.Name()), zap.Error(err))
		h.redirectError(w, r, "oauth_failed")
		return
	}
	session, err := h.auth.service.OAuthLogin(r.Context(), profile)
	if err != nil {
		errCode := errorCode(err)
		if errCode == errInternal.code {
			logger.Error("oauth sign-in failed", zap.String("provider", h.provider.Name()), zap.Error(err))
		}
		h.redirectError(w, r, errCode)
		return
	}

	h.auth.setSessionCookie(w, session)
	http.Redirect(w, r, h.successURL, http.StatusFound)
}

func (h *OAuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.auth.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	params := url.Values{}
	params.Set("error", code)
	params.Set("provider", h.provider.Name())
	sep := "?"
	if strings.Contains(h.failureURL, "?") {
		sep = "&"
	}
	http.Redirect(w, r, h.failureURL+sep+params.Encode(), http.StatusFound)
}

// errorCode returns the response code err maps to.
func errorCode(err error) string {
	for _, k := range known {
		if errors.Is(err, k.target) {
			return k.code
		}
	}
	return errInternal.code
}
