package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/studysync/studysync-go/internal/config"
)

const defaultSMTPTimeout = 30 * time.Second

type sendFunc func(m ...*gomail.Message) error

// SMTPDispatcher sends gomail messages over STARTTLS, or implicit TLS on
// port 465.
type SMTPDispatcher struct {
	from    string
	timeout time.Duration
	send    sendFunc
}

// NewSMTPDispatcher returns a dispatcher for the SMTP server in cfg.
func NewSMTPDispatcher(cfg config.MailConfig) *SMTPDispatcher {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	d := &smtpDialer{
		host:    cfg.Host,
		port:    cfg.Port,
		ssl:     cfg.Port == 465,
		tls:     &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		timeout: timeout,
	}
	if cfg.Username != "" {
		d.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPDispatcher{from: from, timeout: timeout, send: d.DialAndSend}
}

// Send delivers msg, giving up after the configured timeout or when ctx ends.
// An abandoned send keeps running in the background until the connection
// deadline, which is the same timeout.
func (s *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.send(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// smtpDialer opens one SMTP session per send. The whole session, dial
// included, must finish within timeout.
type smtpDialer struct {
	host    string
	port    int
	ssl     bool
	tls     *tls.Config
	auth    smtp.Auth
	timeout time.Duration
}

func (d *smtpDialer) DialAndSend(msgs ...*gomail.Message) error {
	addr := net.JoinHostPort(d.host, strconv.Itoa(d.port))
	conn, err := (&net.Dialer{Timeout: d.timeout}).Dial("tcp", addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
		conn.Close()
		return err
	}
	if d.ssl {
		conn = tls.Client(conn, d.tls)
	}

	c, err := smtp.NewClient(conn, d.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if !d.ssl {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(d.tls); err != nil {
				return err
			}
		}
	}
	if d.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(d.auth); err != nil {
				return err
			}
		}
	}

	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, addr := range to {
			if err := c.Rcpt(addr); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err := gomail.Send(sender, msgs...); err != nil {
		return err
	}
	return c.Quit()
}
