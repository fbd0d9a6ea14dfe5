package mail

import (
	"context"
	"fmt"
	netmail "net/mail"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridDispatcher sends mail through the SendGrid v3 API.
type SendGridDispatcher struct {
	from   *sgmail.Email
	client sendGridClient
}

// NewSendGridDispatcher returns a dispatcher sending as from, which may be
// a bare address or "Name <address>".
func NewSendGridDispatcher(apiKey, from string) (*SendGridDispatcher, error) {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parsing sender %q: %w", from, err)
	}
	return &SendGridDispatcher{
		from:   sgmail.NewEmail(addr.Name, addr.Address),
		client: sendgrid.NewSendClient(apiKey),
	}, nil
}

func (s *SendGridDispatcher) Send(ctx context.Context, msg Message) error {
	text := msg.Text
	if text == "" {
		text = msg.HTML
	}
	email := sgmail.NewSingleEmail(s.from, msg.Subject, sgmail.NewEmail("", msg.To), text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
