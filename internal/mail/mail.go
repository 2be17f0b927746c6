// Package mail sends the few transactional emails the hub produces:
// moderation outcomes and achievement unlocks. SMTPMailer delivers through
// github.com/wneessen/go-mail; LogMailer only logs and is used when no SMTP
// host is configured.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"

	"github.com/vnmodhub/modhub/internal/config"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the SMTP mailer when a host is configured, the log mailer otherwise.
func New(cfg config.MailConfig, log zerolog.Logger) (Mailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return LogMailer{Log: log}, nil
	}
	return NewSMTP(cfg)
}

// SMTPMailer sends through an SMTP relay. A new connection is dialed per
// message; volume is a handful of mails per moderation decision.
type SMTPMailer struct {
	from   string
	client *gomail.Client
}

// NewSMTP builds an SMTP mailer with opportunistic STARTTLS and PLAIN auth
// when credentials are set.
func NewSMTP(cfg config.MailConfig) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	c, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{from: cfg.From, client: c}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m, err := buildMsg(s.from, msg)
	if err != nil {
		return err
	}
	return s.client.DialAndSendWithContext(ctx, m)
}

func buildMsg(from string, msg Message) (*gomail.Msg, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, errors.New("mail: empty recipient")
	}
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Log zerolog.Logger
}

func (l LogMailer) Send(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: empty recipient")
	}
	l.Log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("mail (not sent, no SMTP host)")
	return nil
}
