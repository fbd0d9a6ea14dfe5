package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/studysync/studysync-go/internal/crypto"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "token"

type contextKey string

const sessionKey contextKey = "session"

// TokenFromRequest returns the session token from the cookie, falling back
// to a Bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireAuth returns middleware that rejects requests without a valid
// session token.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
				return
			}

			claims, err := crypto.ValidateToken(token, secret)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "not_authenticated", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims.Session())))
		})
	}
}

// OptionalAuth attaches the session to the context when a valid token is
// present and lets every request through.
func OptionalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := TokenFromRequest(r); token != "" {
				if claims, err := crypto.ValidateToken(token, secret); err == nil {
					r = r.WithContext(WithSession(r.Context(), claims.Session()))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying the signed-in user.
func WithSession(ctx context.Context, u crypto.SessionUser) context.Context {
	return context.WithValue(ctx, sessionKey, u)
}

// SessionFromContext returns the signed-in user, if any.
func SessionFromContext(ctx context.Context) (crypto.SessionUser, bool) {
	u, ok := ctx.Value(sessionKey).(crypto.SessionUser)
	return u, ok
}

// UserIDFromContext extracts the authenticated user ID from the request
// context. It is empty for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u, ok := SessionFromContext(ctx)
	if !ok || u.ID == "" {
		return "", false
	}
	return u.ID, true
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
