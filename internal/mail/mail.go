// Package mail sends outgoing email over SMTP.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/tasks"
)

// TaskSendEmail is the task name registered by Mailer.Register.
const TaskSendEmail = "send_email"

const (
	defaultFrom    = "webmaster@localhost"
	defaultPort    = 25
	defaultTimeout = 15 * time.Second
)

// ErrDisabled is returned by New when no SMTP host is configured.
var ErrDisabled = errors.New("email is not configured")

// Message is an outgoing plain-text email.
type Message struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Sender delivers built messages.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// Mailer builds and sends messages.
type Mailer struct {
	from   string
	sender Sender
	logger *zap.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithSender replaces the SMTP client, primarily for tests.
func WithSender(s Sender) Option {
	return func(m *Mailer) {
		m.sender = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mailer) {
		m.logger = logger
	}
}

// New returns a Mailer for cfg or ErrDisabled when cfg has no host.
func New(cfg config.Email, opts ...Option) (*Mailer, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	m := &Mailer{
		from:   cfg.DefaultFrom,
		logger: zap.NewNop(),
	}
	if m.from == "" {
		m.from = defaultFrom
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sender == nil {
		client, err := newClient(cfg)
		if err != nil {
			return nil, err
		}
		m.sender = client
	}
	return m, nil
}

func newClient(cfg config.Email) (*gomail.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTimeout(defaultTimeout),
	}
	if cfg.UseTLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	if cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.User),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

// From returns the default sender address.
func (m *Mailer) From() string {
	return m.from
}

// Build converts msg into a go-mail message, filling in the default sender.
func (m *Mailer) Build(msg Message) (*gomail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("message has no recipients")
	}
	from := msg.From
	if from == "" {
		from = m.from
	}

	out := gomail.NewMsg()
	if err := out.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := out.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return out, nil
}

// Send builds and delivers msg.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	out, err := m.Build(msg)
	if err != nil {
		return err
	}
	if err := m.sender.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	m.logger.Info("email sent",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// Register installs the send_email task on reg.
func (m *Mailer) Register(reg *tasks.Registry) {
	reg.Register(TaskSendEmail, func(ctx context.Context, payload json.RawMessage) error {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode %s payload: %w", TaskSendEmail, err)
		}
		return m.Send(ctx, msg)
	})
}
