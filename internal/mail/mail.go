// Package mail delivers one-time passcode emails through SMTP, SendGrid or,
// in development, the application log.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/config"
)

var ErrNotConfigured = errors.New("email provider is not configured")

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Dispatcher sends a single message. Implementations never retry.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the dispatcher selected by cfg.Provider.
func New(cfg config.MailConfig, logger *zap.Logger) (Dispatcher, error) {
	switch strings.ToLower(cfg.Provider) {
	case "smtp", "":
		if cfg.Host == "" || cfg.Username == "" {
			return nil, fmt.Errorf("%w: EMAIL_HOST and EMAIL_USER are required for smtp", ErrNotConfigured)
		}
		return NewSMTPDispatcher(cfg), nil
	case "sendgrid":
		if cfg.SendGridAPIKey == "" || cfg.From == "" {
			return nil, fmt.Errorf("%w: SENDGRID_API_KEY and EMAIL_FROM are required for sendgrid", ErrNotConfigured)
		}
		return NewSendGridDispatcher(cfg.SendGridAPIKey, cfg.From)
	case "log":
		return NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
