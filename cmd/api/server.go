package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/ai"
	"github.com/studysync/studysync-go/internal/config"
	"github.com/studysync/studysync-go/internal/handler"
	"github.com/studysync/studysync-go/internal/mail"
	"github.com/studysync/studysync-go/internal/oauth"
	"github.com/studysync/studysync-go/internal/repository"
	"github.com/studysync/studysync-go/internal/schedule"
	"github.com/studysync/studysync-go/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serve(parent context.Context, envFile string) error {
	cfg, logger, err := bootstrap(envFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.Warn("closing storage failed", zap.Error(err))
		}
	}()
	logger.Info("storage ready",
		zap.String("users", backend.Users.Name()),
		zap.Bool("fallback", backend.Fallback))

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	logger.Info("ai provider ready", zap.String("provider", provider.Name()))

	authService := service.NewAuthService(backend.Users, backend.OTP, mailer, service.AuthConfig{
		JWTSecret:      cfg.JWTSecret,
		SessionTTL:     cfg.SessionTTL,
		OTPTTL:         cfg.OTPTTL,
		ResendCooldown: cfg.OTPResendCooldown,
	})
	statsService := service.NewStatsService(backend.Users)
	aiService := service.NewAIService(provider, statsService)

	authHandler := handler.NewAuthHandler(authService, cfg.IsProduction())
	oauthHandler, err := newOAuthHandler(cfg, authHandler, logger)
	if err != nil {
		return err
	}

	router := handler.NewRouter(ctx, handler.RouterDeps{
		Auth:        authHandler,
		AI:          handler.NewAIHandler(aiService),
		Stats:       handler.NewStatsHandler(statsService),
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		OAuth:       oauthHandler,
	})

	scheduler := schedule.New()
	if err := scheduler.AddJob(schedule.NewOTPSweepJob(backend.OTP), cfg.OTPSweepSpec); err != nil {
		return fmt.Errorf("scheduling otp sweep: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newOAuthHandler enables Google sign-in when its client credentials are
// configured and returns nil otherwise.
func newOAuthHandler(cfg config.Config, auth *handler.AuthHandler, logger *zap.Logger) (*handler.OAuthHandler, error) {
	if !cfg.Google.Enabled() {
		logger.Info("google sign-in disabled, GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set")
		return nil, nil
	}
	provider, err := oauth.NewProvider("google", oauth.ProviderArgs{
		Config: oauth.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init google sign-in: %w", err)
	}
	logger.Info("google sign-in enabled", zap.String("redirect_url", cfg.Google.RedirectURL))
	return handler.NewOAuthHandler(auth, provider, oauth.NewStateStore(10*time.Minute),
		cfg.Google.SuccessURL, cfg.Google.FailureURL), nil
}

// newMailer builds the configured email dispatcher. Outside production an
// unconfigured provider falls back to logging the messages.
func newMailer(cfg config.Config, logger *zap.Logger) (mail.Dispatcher, error) {
	mailer, err := mail.New(cfg.Mail, logger)
	if err == nil {
		return mailer, nil
	}
	if errors.Is(err, mail.ErrNotConfigured) && !cfg.IsProduction() {
		logger.Warn("email provider not configured, codes will be logged", zap.Error(err))
		return mail.NewLogDispatcher(logger), nil
	}
	return nil, fmt.Errorf("init email provider: %w", err)
}
