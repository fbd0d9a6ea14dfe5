package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/middleware"
)

// RouterDeps holds everything the HTTP routes need.
type RouterDeps struct {
	Auth        *AuthHandler
	AI          *AIHandler
	Stats       *StatsHandler
	JWTSecret   string
	CORSOrigins []string
	Logger      *zap.Logger

	// OAuth is nil when provider sign-in is not configured.
	OAuth *OAuthHandler

	// AuthRPS and AuthBurst limit the auth endpoints per client IP.
	AuthRPS   float64
	AuthBurst int
}

// NewRouter builds the API router. ctx bounds background work started by
// middleware.
func NewRouter(ctx context.Context, deps RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.AuthRPS <= 0 {
		deps.AuthRPS, deps.AuthBurst = 5, 10
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(deps.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(ctx, deps.AuthRPS, deps.AuthBurst))
				r.Post("/send-otp", deps.Auth.HandleSendOTP)
				r.Post("/verify-otp", deps.Auth.HandleVerifyOTP)
				r.Post("/login", deps.Auth.HandleLogin)

				if deps.OAuth != nil {
					name := deps.OAuth.provider.Name()
					r.Get("/"+name, deps.OAuth.HandleStart)
					r.Get("/"+name+"/callback", deps.OAuth.HandleCallback)
				}
			})
			r.Post("/logout", deps.Auth.HandleLogout)
			r.Get("/me", deps.Auth.HandleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(deps.JWTSecret))
			r.Post("/chat", deps.AI.HandleChat)
			r.Post("/summarize", deps.AI.HandleSummarize)
			r.Post("/quiz", deps.AI.HandleQuiz)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(deps.JWTSecret))
			r.Get("/stats", deps.Stats.HandleGet)
			r.Post("/stats", deps.Stats.HandleIncrement)
			r.Post("/stats/quiz-result", deps.Stats.HandleQuizResult)
		})
	})

	return r
}
