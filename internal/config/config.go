package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const devJWTSecret = "dev-secret-change-in-production"

var ErrProductionSecret = errors.New("JWT_SECRET must be set in production environment")

// Config holds runtime settings read from the environment.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	StorageDriver  string
	MongoURI       string
	MongoDatabase  string
	DatabaseDSN    string
	ConnectTimeout time.Duration

	JWTSecret  string
	SessionTTL time.Duration

	OTPTTL            time.Duration
	OTPMaxAttempts    int
	OTPResendCooldown time.Duration
	OTPSweepSpec      string
	// OTPRetention keeps expired challenges around so late submissions
	// are reported as expired instead of missing.
	OTPRetention time.Duration

	Mail   MailConfig
	AI     AIConfig
	Google OAuthConfig

	CORSOrigins []string
}

// MailConfig selects and configures the OTP email provider.
type MailConfig struct {
	Provider       string
	Host           string
	Port           int
	Username       string
	Password       string
	From           string
	SendGridAPIKey string
	Timeout        time.Duration
}

// AIConfig selects and configures the LLM provider.
type AIConfig struct {
	Provider     string
	GroqAPIKey   string
	GroqBaseURL  string
	Model        string
	GeminiAPIKey string
	GeminiModel  string
	Timeout      time.Duration
}

// OAuthConfig holds the Google sign-in client. RedirectURL must match the
// callback registered with Google. The browser lands on SuccessURL after
// the session cookie is set, or on FailureURL with an error parameter.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	SuccessURL   string
	FailureURL   string
}

// Enabled reports whether both client credentials are present.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads the configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", "mongo")),
		MongoURI:       getEnv("MONGODB_URI", ""),
		MongoDatabase:  getEnv("MONGODB_DATABASE", "studysync"),
		DatabaseDSN:    getEnv("DATABASE_DSN", ""),
		ConnectTimeout: getDuration("DB_CONNECT_TIMEOUT", 10*time.Second),

		JWTSecret:  getEnv("JWT_SECRET", devJWTSecret),
		SessionTTL: getDuration("SESSION_TTL", 7*24*time.Hour),

		OTPTTL:            getDuration("OTP_TTL", 10*time.Minute),
		OTPMaxAttempts:    getInt("OTP_MAX_ATTEMPTS", 3),
		OTPResendCooldown: getDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
		OTPSweepSpec:      getEnv("OTP_SWEEP_SPEC", "@every 1m"),

		Mail: MailConfig{
			Provider:       strings.ToLower(getEnv("EMAIL_PROVIDER", "smtp")),
			Host:           getEnv("EMAIL_HOST", "smtp.gmail.com"),
			Port:           getInt("EMAIL_PORT", 587),
			Username:       getEnv("EMAIL_USER", ""),
			Password:       getEnv("EMAIL_PASS", ""),
			From:           getEnv("EMAIL_FROM", ""),
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			Timeout:        getDuration("EMAIL_TIMEOUT", 30*time.Second),
		},

		AI: AIConfig{
			Provider:     strings.ToLower(getEnv("AI_PROVIDER", "groq")),
			GroqAPIKey:   getEnv("GROQ_API_KEY", ""),
			GroqBaseURL:  getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:        getEnv("AI_MODEL", "llama-3.3-70b-versatile"),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout:      getDuration("AI_TIMEOUT", 60*time.Second),
		},

		Google: OAuthConfig{
			ClientID:     strings.TrimSpace(getEnv("GOOGLE_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(getEnv("GOOGLE_CLIENT_SECRET", "")),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),
			SuccessURL:   getEnv("OAUTH_SUCCESS_URL", "/"),
			FailureURL:   getEnv("OAUTH_FAILURE_URL", "/login"),
		},

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "")),
	}

	if cfg.Mail.From == "" && cfg.Mail.Username != "" {
		cfg.Mail.From = "StudySync AI <" + cfg.Mail.Username + ">"
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = 3
	}
	cfg.OTPRetention = getDuration("OTP_RETENTION", cfg.OTPTTL)

	if cfg.IsProduction() && cfg.JWTSecret == devJWTSecret {
		return cfg, ErrProductionSecret
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings ("90s", "10m") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
