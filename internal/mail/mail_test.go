package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/tasks"
)

type recordingSender struct {
	sent []*gomail.Msg
	err  error
}

func (s *recordingSender) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, messages...)
	return nil
}

func render(t *testing.T, msg *gomail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo returned error: %v", err)
	}
	return buf.String()
}

func TestNewDisabledWithoutHost(t *testing.T) {
	if _, err := New(config.Email{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestNewBuildsSMTPClient(t *testing.T) {
	m, err := New(config.Email{Host: "smtp.example.com", Port: 587, UseTLS: true, User: "u", Password: "p"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if m.From() != defaultFrom {
		t.Fatalf("expected default sender %q, got %q", defaultFrom, m.From())
	}
	if _, ok := m.sender.(*gomail.Client); !ok {
		t.Fatalf("expected a go-mail client, got %T", m.sender)
	}
}

func TestSendUsesDefaultFrom(t *testing.T) {
	sender := &recordingSender{}
	m, err := New(config.Email{Host: "smtp.example.com", DefaultFrom: "noreply@example.com"},
		WithSender(sender), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	err = m.Send(context.Background(), Message{
		To:      []string{"ops@example.com"},
		Subject: "Hello",
		Body:    "body text",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}

	raw := render(t, sender.sent[0])
	for _, want := range []string{"noreply@example.com", "ops@example.com", "Subject: Hello", "body text"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("rendered message missing %q:\n%s", want, raw)
		}
	}
}

func TestSendErrors(t *testing.T) {
	boom := errors.New("dial failed")
	m, err := New(config.Email{Host: "smtp.example.com"}, WithSender(&recordingSender{err: boom}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := m.Send(context.Background(), Message{Subject: "no recipients"}); err == nil {
		t.Fatal("expected error for missing recipients")
	}
	if err := m.Send(context.Background(), Message{To: []string{"not an address"}}); err == nil {
		t.Fatal("expected error for invalid recipient")
	}
	if err := m.Send(context.Background(), Message{To: []string{"a@example.com"}}); !errors.Is(err, boom) {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestRegisterSendEmailTask(t *testing.T) {
	sender := &recordingSender{}
	m, err := New(config.Email{Host: "smtp.example.com"}, WithSender(sender))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	reg := tasks.NewRegistry()
	m.Register(reg)
	q := tasks.NewEagerQueue(reg, zaptest.NewLogger(t))

	_, err = q.Enqueue(context.Background(), TaskSendEmail, Message{
		To:      []string{"admin@example.com"},
		Subject: "queued",
	})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected the task to send one message, got %d", len(sender.sent))
	}
}
